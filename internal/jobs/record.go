package jobs

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// TransitionError reports an illegal state machine edge.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// isValidTransition enforces the allowed job state machine edges.
// A runner claims a job exactly once, so processing -> processing is illegal.
func isValidTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing || to == StatusFailed || to == StatusCanceled
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed || to == StatusCanceled
	default:
		return false
	}
}

// Artifact is a downloadable output owned by exactly one job. It is stored
// alongside the manifest and deleted together with the job directory.
type Artifact struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
}

// Record is one transcription request and its tracked lifecycle. The on-disk
// manifest is the source of truth; the in-memory copy is a write-through cache.
type Record struct {
	ID              string                     `json:"id"`
	Filename        string                     `json:"filename"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
	Status          Status                     `json:"status"`
	Message         string                     `json:"message,omitempty"`
	Progress        float64                    `json:"progress"`
	ETASeconds      *float64                   `json:"eta_seconds,omitempty"`
	DurationSeconds *float64                   `json:"duration_seconds,omitempty"`
	Language        string                     `json:"language,omitempty"`
	Device          string                     `json:"device"`
	Model           string                     `json:"model"`
	VAD             bool                       `json:"vad"`
	BeamSize        int                        `json:"beam_size"`
	Artifacts       map[string]Artifact        `json:"artifacts,omitempty"`
	Metadata        map[string]any             `json:"metadata,omitempty"`
	Summaries       map[string]json.RawMessage `json:"summaries,omitempty"`
}

// Clone returns a deep copy safe to hand out across goroutines.
func (r *Record) Clone() *Record {
	out := *r
	if r.ETASeconds != nil {
		v := *r.ETASeconds
		out.ETASeconds = &v
	}
	if r.DurationSeconds != nil {
		v := *r.DurationSeconds
		out.DurationSeconds = &v
	}
	if r.Artifacts != nil {
		out.Artifacts = maps.Clone(r.Artifacts)
	}
	if r.Metadata != nil {
		out.Metadata = maps.Clone(r.Metadata)
	}
	if r.Summaries != nil {
		out.Summaries = maps.Clone(r.Summaries)
	}
	return &out
}
