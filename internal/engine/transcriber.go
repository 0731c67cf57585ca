package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mattjoyce/transcriptd/internal/log"
)

// Request describes one transcription run.
type Request struct {
	AudioPath string
	Model     string
	Device    string
	Language  string
	VADFilter bool
	BeamSize  int
}

// ProgressEvent is one progress update. Percent is nil for fragment
// deliveries that carry no new completion estimate.
type ProgressEvent struct {
	Percent  *float64
	Fragment Segment
}

// Result is a finished (or canceled-partial) transcription.
type Result struct {
	Text       string
	Segments   []Segment
	Elapsed    float64
	Duration   float64
	Device     string
	VADApplied bool
	Canceled   bool
}

// Transcriber executes runs end-to-end: model resolution, effective
// filter computation, duration probing, segment streaming, and text
// post-correction.
type Transcriber struct {
	provider  *Provider
	vad       *VADResolver
	prober    Prober
	corrector Corrector
}

// NewTranscriber wires the orchestrator. corrector may be nil.
func NewTranscriber(provider *Provider, vad *VADResolver, prober Prober, corrector Corrector) *Transcriber {
	if corrector == nil {
		corrector = NopCorrector{}
	}
	return &Transcriber{provider: provider, vad: vad, prober: prober, corrector: corrector}
}

// RunInfo carries diagnostic facts about how a run actually executed,
// recorded by the caller as job metadata.
type RunInfo struct {
	ActualDevice   string
	FallbackReason string
	VADApplied     bool
	VADMissing     []string
}

// Transcribe runs one job. Progress events are delivered in order on
// progress (may be nil); the channel is closed before Transcribe
// returns. Cancellation is cooperative: ctx is checked after each
// produced segment, and partial results up to that point are returned
// with Canceled set rather than discarded.
func (t *Transcriber) Transcribe(ctx context.Context, req Request, progress chan<- ProgressEvent) (*Result, *RunInfo, error) {
	if progress != nil {
		defer close(progress)
	}

	model, actualDevice, fallbackReason, err := t.provider.Get(req.Model, req.Device)
	if err != nil {
		return nil, nil, err
	}

	info := &RunInfo{ActualDevice: actualDevice, FallbackReason: fallbackReason}

	if req.VADFilter {
		t.vad.EnsureAvailable(ctx)
	}
	vadAvailable, vadMissing := t.vad.Detect()
	info.VADApplied = req.VADFilter && vadAvailable
	if req.VADFilter && !info.VADApplied {
		info.VADMissing = vadMissing
		log.WithComponent("engine").Warn("voice-activity filtering downgraded",
			"missing", vadMissing)
	}

	duration, err := t.prober.Probe(ctx, req.AudioPath)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return nil, info, err
		}
		// Any other probe problem only costs progress resolution.
		log.WithComponent("engine").Debug("duration probe failed", "error", err)
		duration = 0
	}

	opts := Options{Language: req.Language, BeamSize: req.BeamSize}
	if info.VADApplied {
		opts.VADModelPath = t.vad.ModelPath()
	}

	started := time.Now()
	stream, err := model.Transcribe(ctx, req.AudioPath, opts)
	if err != nil {
		return nil, info, fmt.Errorf("start transcription: %w", err)
	}
	defer stream.Close()

	res := &Result{Device: actualDevice, VADApplied: info.VADApplied, Duration: duration}
	var parts []string
	lastPercent := 0.0

	emit := func(pct *float64, frag Segment) {
		if progress == nil {
			return
		}
		if pct != nil {
			// Monotonic within one run: never report lower than before.
			clamped := max(lastPercent, min(100, *pct))
			lastPercent = clamped
			pct = &clamped
		}
		select {
		case progress <- ProgressEvent{Percent: pct, Fragment: frag}:
		case <-ctx.Done():
		}
	}

loop:
	for {
		seg, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// A canceled context kills the decoder process, which then
			// surfaces as a stream error. That is cancellation, not a
			// decode failure: keep the partial result.
			if ctx.Err() != nil {
				res.Canceled = true
				break
			}
			res.Elapsed = time.Since(started).Seconds()
			return nil, info, err
		}

		res.Segments = append(res.Segments, seg)
		parts = append(parts, seg.Text)

		emitted := false
		for _, w := range seg.Words {
			if ctx.Err() != nil {
				break
			}
			if duration > 0 {
				pct := w.End / duration * 100
				emit(&pct, Segment{Start: w.Start, End: w.End, Text: w.Text + " "})
				emitted = true
			}
		}
		if !emitted && duration > 0 {
			pct := seg.End / duration * 100
			emit(&pct, Segment{Start: seg.Start, End: seg.End, Text: seg.Text + "\n"})
		} else if emitted {
			emit(nil, Segment{Start: seg.Start, End: seg.End, Text: "\n"})
		} else {
			// No duration available: deliver the fragment without an estimate.
			emit(nil, Segment{Start: seg.Start, End: seg.End, Text: seg.Text + "\n"})
		}

		select {
		case <-ctx.Done():
			res.Canceled = true
			break loop
		default:
		}
	}

	res.Elapsed = time.Since(started).Seconds()
	res.Text = t.corrector.Correct(strings.TrimSpace(strings.Join(parts, "\n")))
	return res, info, nil
}
