// Package summary produces and caches transcript summaries. Generated
// documents are cached on the job keyed by the full parameter set, so
// repeated requests with identical parameters never regenerate.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/transcriptd/internal/jobs"
	"github.com/mattjoyce/transcriptd/internal/license"
	"github.com/mattjoyce/transcriptd/internal/log"
)

var (
	// ErrNotReady means the job has not completed transcription yet.
	ErrNotReady = errors.New("transcription not finished")
	// ErrNoTranscript means the job completed without a transcript artifact.
	ErrNoTranscript = errors.New("no transcript available")
)

// Request identifies one summary generation.
type Request struct {
	JobID       string `json:"job_id"`
	Mode        string `json:"mode"`
	Template    string `json:"template"`
	Language    string `json:"language"`
	ClientName  string `json:"client_name"`
	MeetingDate string `json:"meeting_date"`
}

// CacheKey derives the summary-cache key from the generation
// parameters.
func (r Request) CacheKey() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", r.Mode, r.Template, r.Language, r.ClientName, r.MeetingDate)
}

// Document is a generated summary.
type Document struct {
	JobID    string   `json:"job_id"`
	Template string   `json:"template"`
	Mode     string   `json:"mode"`
	Language string   `json:"language"`
	Title    string   `json:"title"`
	Points   []string `json:"points"`
}

// Summarizer turns transcript text into a summary document. The
// premium "redactado" mode is downgraded to "extractivo" before the
// call when the license does not grant it.
type Summarizer interface {
	Generate(ctx context.Context, text string, req Request) (*Document, error)
}

// Service is a cache-through summary front. The underlying generator
// only runs on a cache miss.
type Service struct {
	store *jobs.Store
	gen   Summarizer
	gate  *license.Gate
}

// NewService wires the summary service.
func NewService(store *jobs.Store, gen Summarizer, gate *license.Gate) *Service {
	return &Service{store: store, gen: gen, gate: gate}
}

// Summarize returns the summary for the request, from cache when
// possible. The boolean reports a cache hit.
func (s *Service) Summarize(ctx context.Context, req Request) (json.RawMessage, bool, error) {
	rec, err := s.store.Get(req.JobID)
	if err != nil {
		return nil, false, err
	}
	if rec.Status != jobs.StatusCompleted {
		return nil, false, ErrNotReady
	}
	transcript, ok := rec.Artifacts["transcript"]
	if !ok {
		return nil, false, ErrNoTranscript
	}

	key := req.CacheKey()
	if cached, hit, err := s.store.Summary(req.JobID, key); err == nil && hit {
		return cached, true, nil
	}

	text, err := os.ReadFile(transcript.Path)
	if err != nil {
		return nil, false, fmt.Errorf("read transcript: %w", err)
	}

	effective := req
	if req.Mode == "redactado" && !s.gate.Allows("summary:redactado") {
		log.WithJob(req.JobID).Info("summary mode downgraded",
			"requested", req.Mode, "effective", "extractivo")
		effective.Mode = "extractivo"
	}

	doc, err := s.gen.Generate(ctx, string(text), effective)
	if err != nil {
		return nil, false, fmt.Errorf("generate summary: %w", err)
	}
	doc.JobID = req.JobID

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, false, fmt.Errorf("encode summary: %w", err)
	}
	if err := s.store.StoreSummary(req.JobID, key, payload); err != nil {
		log.WithJob(req.JobID).Warn("summary cache write failed", "error", err)
	}
	return payload, false, nil
}

// Extractive is the built-in summarizer: it keeps the leading
// sentences of the transcript as bullet points.
type Extractive struct {
	// MaxPoints caps the number of extracted sentences; 0 means 5.
	MaxPoints int
}

func (e Extractive) Generate(ctx context.Context, text string, req Request) (*Document, error) {
	limit := e.MaxPoints
	if limit <= 0 {
		limit = 5
	}

	var points []string
	for _, raw := range strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '\n' || r == '?' || r == '!'
	}) {
		sentence := strings.TrimSpace(raw)
		if sentence == "" {
			continue
		}
		points = append(points, sentence)
		if len(points) == limit {
			break
		}
	}

	title := "Resumen"
	if req.ClientName != "" {
		title = "Resumen: " + req.ClientName
	}

	mode := req.Mode
	if mode == "" {
		mode = "extractivo"
	}

	return &Document{
		Template: req.Template,
		Mode:     mode,
		Language: req.Language,
		Title:    title,
		Points:   points,
	}, nil
}
