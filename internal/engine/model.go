// Package engine drives transcription runs: it loads and caches speech
// models, resolves optional voice-activity assets, and streams timed
// segments with progress reporting and cooperative cancellation.
package engine

import (
	"context"
	"fmt"
)

// Segment is a timed span of audio with its recognized text. Words is
// populated when the backend produces word-level timing, nil otherwise.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

// Word is a single recognized token with fine-grained timing.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Options are per-run decoding parameters.
type Options struct {
	// Language hint; empty means auto-detect.
	Language string
	// BeamSize is the decoding breadth. Larger is slower and more accurate.
	BeamSize int
	// VADModelPath enables voice-activity filtering when non-empty.
	VADModelPath string
}

// SegmentStream is a pull-based iterator over produced segments. It is
// finite, forward-only, and not restartable. Next returns io.EOF after
// the last segment.
type SegmentStream interface {
	Next() (Segment, error)
	// Close releases the stream early. Safe after EOF.
	Close() error
}

// Model is a loaded, ready-to-use speech recognizer.
type Model interface {
	// Transcribe starts an inference run over the audio file and returns
	// the stream of segments. The stream honors ctx cancellation.
	Transcribe(ctx context.Context, audioPath string, opts Options) (SegmentStream, error)
	Close() error
}

// ResourceError reports that a model could not be constructed for the
// resolved device. It is fatal for the requesting job.
type ResourceError struct {
	Model  string
	Device string
	Err    error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("load model %q on %s: %v", e.Model, e.Device, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// DecodeError reports unreadable or corrupt input media.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unreadable audio %q: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
