// Package runner advances jobs through their lifecycle: it claims a
// queued job, drives the transcription engine, translates progress
// into store updates with a derived ETA, writes artifacts, and records
// the terminal status.
package runner

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/mattjoyce/transcriptd/internal/engine"
	"github.com/mattjoyce/transcriptd/internal/events"
	"github.com/mattjoyce/transcriptd/internal/jobs"
	"github.com/mattjoyce/transcriptd/internal/journal"
	"github.com/mattjoyce/transcriptd/internal/log"
)

// EventLog receives lifecycle events. Satisfied by *journal.Journal.
type EventLog interface {
	Append(ctx context.Context, e journal.Entry) error
}

// Runner executes one background task per submitted job. There is no
// internal concurrency cap; callers bound submission if they need one.
type Runner struct {
	store   *jobs.Store
	tr      *engine.Transcriber
	events  EventLog
	hub     *events.Hub
	wg      sync.WaitGroup
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New wires a runner. events and hub may be nil when no journal or
// event hub is configured.
func New(store *jobs.Store, tr *engine.Transcriber, eventLog EventLog, hub *events.Hub) *Runner {
	return &Runner{
		store:   store,
		tr:      tr,
		events:  eventLog,
		hub:     hub,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Submit starts background processing of a queued job and returns
// immediately. inputPath is the transient uploaded media file; it is
// always removed when the run finishes, regardless of outcome.
func (r *Runner) Submit(ctx context.Context, jobID, inputPath string) {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancels[jobID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.cancels, jobID)
			r.mu.Unlock()
			cancel()
		}()
		r.run(runCtx, jobID, inputPath)
	}()
}

// Cancel raises the cooperative cancellation signal for a running job.
// It reports whether the job was known to the runner.
func (r *Runner) Cancel(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancel, ok := r.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Wait blocks until all in-flight jobs finish.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, jobID, inputPath string) {
	logger := log.WithJob(jobID)

	// Input media is transient: delete it afterward no matter what.
	defer func() {
		if inputPath == "" {
			return
		}
		if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("input media cleanup failed", "path", inputPath, "error", err)
		}
	}()

	rec, err := r.store.Get(jobID)
	if err != nil {
		logger.Error("job vanished before start", "error", err)
		return
	}

	if err := r.store.Claim(jobID, "transcription in progress"); err != nil {
		logger.Error("claim failed", "error", err)
		return
	}
	r.journal(journal.Entry{JobID: jobID, Type: journal.EventStatus, Status: string(jobs.StatusProcessing)})

	r.store.AddMetadata(jobID, map[string]any{"requested_device": rec.Device})

	progress := make(chan engine.ProgressEvent, 64)
	consumerDone := make(chan struct{})
	started := time.Now()
	go func() {
		defer close(consumerDone)
		for ev := range progress {
			if ev.Percent == nil {
				continue
			}
			pct := *ev.Percent
			var eta *float64
			if pct > 0 {
				v := time.Since(started).Seconds() * (100/pct - 1)
				eta = &v
			}
			if err := r.store.SetProgress(jobID, pct, eta); err != nil {
				logger.Debug("progress update dropped", "error", err)
			}
			r.journal(journal.Entry{
				JobID: jobID, Type: journal.EventProgress,
				Status: string(jobs.StatusProcessing), Progress: &pct,
			})
			r.publish(events.JobProgress, jobID, map[string]any{"percent": pct})
		}
	}()

	res, info, err := r.tr.Transcribe(ctx, engine.Request{
		AudioPath: inputPath,
		Model:     rec.Model,
		Device:    rec.Device,
		Language:  rec.Language,
		VADFilter: rec.VAD,
		BeamSize:  rec.BeamSize,
	}, progress)
	<-consumerDone

	if info != nil {
		meta := map[string]any{
			"actual_device": info.ActualDevice,
			"vad_applied":   info.VADApplied,
		}
		if info.FallbackReason != "" {
			meta["fallback_reason"] = info.FallbackReason
		}
		if rec.VAD && !info.VADApplied {
			meta["vad_reason"] = "missing_vad_assets"
		}
		r.store.AddMetadata(jobID, meta)
	}

	if err != nil {
		r.fail(jobID, err)
		return
	}

	if res.Duration > 0 {
		d := res.Duration
		if err := r.store.MarkDuration(jobID, &d); err != nil {
			logger.Debug("duration update dropped", "error", err)
		}
	}
	r.store.AddMetadata(jobID, map[string]any{"elapsed_seconds": res.Elapsed})

	artifacts, err := writeArtifacts(r.store.JobDir(jobID), res.Text, res.Segments)
	if err != nil {
		// A finished transcription whose output cannot be saved is not
		// reported as success.
		r.fail(jobID, err)
		return
	}
	for key, art := range artifacts {
		if err := r.store.AttachArtifact(jobID, key, art); err != nil {
			r.fail(jobID, err)
			return
		}
		r.journal(journal.Entry{JobID: jobID, Type: journal.EventArtifact, Message: key})
	}

	if res.Canceled {
		if err := r.store.SetStatus(jobID, jobs.StatusCanceled, "canceled by request, partial transcript kept"); err != nil {
			logger.Error("terminal status update failed", "error", err)
		}
		r.journal(journal.Entry{JobID: jobID, Type: journal.EventStatus, Status: string(jobs.StatusCanceled)})
		r.publish(events.JobCanceled, jobID, map[string]any{"segments": len(res.Segments)})
		logger.Info("job canceled", "segments", len(res.Segments))
		return
	}

	if err := r.store.SetProgress(jobID, 100, nil); err != nil {
		logger.Debug("final progress update dropped", "error", err)
	}
	if err := r.store.SetStatus(jobID, jobs.StatusCompleted, "transcription complete"); err != nil {
		logger.Error("terminal status update failed", "error", err)
	}
	r.journal(journal.Entry{JobID: jobID, Type: journal.EventStatus, Status: string(jobs.StatusCompleted)})
	r.publish(events.JobCompleted, jobID, map[string]any{"elapsed_seconds": res.Elapsed})
	logger.Info("job completed", "elapsed_seconds", res.Elapsed, "segments", len(res.Segments))
}

// fail records a terminal FAILED status with a user-facing message.
func (r *Runner) fail(jobID string, cause error) {
	message := failureMessage(cause)
	if err := r.store.SetStatus(jobID, jobs.StatusFailed, message); err != nil {
		log.WithJob(jobID).Error("terminal status update failed", "error", err)
	}
	r.journal(journal.Entry{
		JobID: jobID, Type: journal.EventStatus,
		Status: string(jobs.StatusFailed), Message: message,
	})
	r.publish(events.JobFailed, jobID, map[string]any{"message": message})
	log.WithJob(jobID).Error("job failed", "error", cause)
}

// failureMessage maps engine errors onto explanations fit for end
// users.
func failureMessage(cause error) string {
	var de *engine.DecodeError
	if errors.As(cause, &de) {
		return "audio file is unreadable or corrupt"
	}
	var re *engine.ResourceError
	if errors.As(cause, &re) {
		return "transcription model could not be loaded: " + re.Err.Error()
	}
	return cause.Error()
}

func (r *Runner) publish(eventType, jobID string, data any) {
	if r.hub == nil {
		return
	}
	r.hub.Publish(eventType, jobID, data)
}

func (r *Runner) journal(e journal.Entry) {
	if r.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.events.Append(ctx, e); err != nil {
		log.WithComponent("runner").Warn("journal append failed", "error", err)
	}
}
