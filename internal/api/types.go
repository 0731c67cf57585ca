package api

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/mattjoyce/transcriptd/internal/jobs"
)

// ArtifactInfo describes one downloadable job output.
type ArtifactInfo struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
}

// JobResponse is the wire form of a job record. Artifact filesystem
// paths stay server-side; clients fetch via /files/{jobID}/{artifact}.
type JobResponse struct {
	ID              string                  `json:"id"`
	Filename        string                  `json:"filename"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
	Status          string                  `json:"status"`
	Message         string                  `json:"message,omitempty"`
	Progress        float64                 `json:"progress"`
	ETASeconds      *float64                `json:"eta_seconds,omitempty"`
	DurationSeconds *float64                `json:"duration_seconds,omitempty"`
	Language        string                  `json:"language,omitempty"`
	Device          string                  `json:"device"`
	Model           string                  `json:"model"`
	VAD             bool                    `json:"vad"`
	BeamSize        int                     `json:"beam_size"`
	Artifacts       map[string]ArtifactInfo `json:"artifacts,omitempty"`
	Metadata        map[string]any          `json:"metadata,omitempty"`
	SummaryModes    []string                `json:"summary_modes,omitempty"`
}

func jobResponse(rec *jobs.Record) JobResponse {
	resp := JobResponse{
		ID:              rec.ID,
		Filename:        rec.Filename,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
		Status:          string(rec.Status),
		Message:         rec.Message,
		Progress:        rec.Progress,
		ETASeconds:      rec.ETASeconds,
		DurationSeconds: rec.DurationSeconds,
		Language:        rec.Language,
		Device:          rec.Device,
		Model:           rec.Model,
		VAD:             rec.VAD,
		BeamSize:        rec.BeamSize,
		Metadata:        rec.Metadata,
	}
	if len(rec.Artifacts) > 0 {
		resp.Artifacts = make(map[string]ArtifactInfo, len(rec.Artifacts))
		for key, art := range rec.Artifacts {
			resp.Artifacts[key] = ArtifactInfo{Name: art.Name, ContentType: art.ContentType}
		}
	}
	if len(rec.Summaries) > 0 {
		for key := range rec.Summaries {
			resp.SummaryModes = append(resp.SummaryModes, key)
		}
		sort.Strings(resp.SummaryModes)
	}
	return resp
}

// JobsEnvelope is returned by GET /jobs.
type JobsEnvelope struct {
	Jobs []JobResponse `json:"jobs"`
}

// CancelResponse is returned by POST /jobs/{jobID}/cancel.
type CancelResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SummaryResponse is returned by POST /summarize.
type SummaryResponse struct {
	JobID   string          `json:"job_id"`
	Cached  bool            `json:"cached"`
	Summary json.RawMessage `json:"summary"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string   `json:"status"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	JobsTracked   int      `json:"jobs_tracked"`
	Accelerated   bool     `json:"accelerated"`
	VADAvailable  bool     `json:"vad_available"`
	VADMissing    []string `json:"vad_missing,omitempty"`
}
