// Package jobs implements the durable transcription job registry.
//
// Every job owns one directory under the storage root holding a manifest.json
// plus its artifacts. Mutators serialize on a store-wide lock and re-persist
// the manifest before returning, so the on-disk state can always rebuild an
// equivalent in-memory index at startup. Persistence failures are logged and
// non-fatal to in-memory correctness.
package jobs

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/transcriptd/internal/log"
)

// ManifestName is the per-job manifest filename under the job directory.
const ManifestName = "manifest.json"

// ErrNotFound is returned when a referenced job id does not exist.
var ErrNotFound = errors.New("job not found")

// ErrArtifactNotAttachable is returned when attaching an artifact to a job
// that is neither processing nor completed.
var ErrArtifactNotAttachable = errors.New("artifacts are only attachable while processing or completed")

// CreateRequest carries the parameters of a new job.
type CreateRequest struct {
	Filename string
	Model    string
	Device   string
	VAD      bool
	BeamSize int
	Language string
}

// Store is the thread-safe registry of transcription jobs.
type Store struct {
	mu     sync.Mutex
	root   string
	index  map[string]*Record
	logger *slog.Logger
}

// NewStore opens the registry rooted at root, creating the directory if
// needed and rebuilding the index from the manifests found on disk.
// Malformed manifests are skipped rather than aborting startup.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}

	s := &Store{
		root:   root,
		index:  make(map[string]*Record),
		logger: log.WithComponent("jobs"),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := s.readManifest(filepath.Join(root, entry.Name(), ManifestName))
		if err != nil {
			s.logger.Debug("skipping unreadable manifest", "dir", entry.Name(), "error", err)
			continue
		}
		s.dropMissingArtifacts(rec)
		s.index[rec.ID] = rec
	}

	s.logger.Info("job store opened", "root", root, "jobs", len(s.index))
	return s, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// JobDir returns the directory owned by the given job id.
func (s *Store) JobDir(id string) string { return filepath.Join(s.root, id) }

// Create allocates a fresh job in queued state and persists its manifest.
// A persistence failure is logged but does not fail the creation.
func (s *Store) Create(req CreateRequest) *Record {
	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.NewString(),
		Filename:  req.Filename,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    StatusQueued,
		Progress:  0,
		Language:  req.Language,
		Device:    req.Device,
		Model:     req.Model,
		VAD:       req.VAD,
		BeamSize:  req.BeamSize,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[rec.ID] = rec
	s.persistLocked(rec)
	return rec.Clone()
}

// Get returns a snapshot of the job, or ErrNotFound.
func (s *Store) Get(id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.index[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// List returns snapshots of all jobs, newest-created first. Creation time
// ties break deterministically by id.
func (s *Store) List() []*Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Record, 0, len(s.index))
	for _, rec := range s.index {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetStatus applies a state machine transition. The message is overwritten on
// every transition so stale errors never survive into a new state.
func (s *Store) SetStatus(id string, status Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	if !isValidTransition(rec.Status, status) {
		return &TransitionError{From: rec.Status, To: status}
	}

	rec.Status = status
	rec.Message = message
	rec.UpdatedAt = time.Now().UTC()
	s.persistLocked(rec)
	return nil
}

// Claim moves a queued job to processing. Exactly one caller can win.
func (s *Store) Claim(id, message string) error {
	return s.SetStatus(id, StatusProcessing, message)
}

// SetProgress records a progress percentage (clamped to [0,100]) and an
// optional ETA. Progress never regresses while a job is processing.
func (s *Store) SetProgress(id string, percent float64, etaSeconds *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}

	percent = min(100, max(0, percent))
	if rec.Status == StatusProcessing && percent < rec.Progress {
		percent = rec.Progress
	}
	rec.Progress = percent
	rec.ETASeconds = etaSeconds
	rec.UpdatedAt = time.Now().UTC()
	s.persistLocked(rec)
	return nil
}

// AttachArtifact registers a downloadable output under key.
func (s *Store) AttachArtifact(id, key string, artifact Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusProcessing && rec.Status != StatusCompleted {
		return ErrArtifactNotAttachable
	}

	if rec.Artifacts == nil {
		rec.Artifacts = make(map[string]Artifact)
	}
	rec.Artifacts[key] = artifact
	rec.UpdatedAt = time.Now().UTC()
	s.persistLocked(rec)
	return nil
}

// MarkDuration records the measured audio duration in seconds.
func (s *Store) MarkDuration(id string, seconds *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	rec.DurationSeconds = seconds
	rec.UpdatedAt = time.Now().UTC()
	s.persistLocked(rec)
	return nil
}

// AddMetadata merges diagnostic key/value facts into the job metadata.
func (s *Store) AddMetadata(id string, kv map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	for k, v := range kv {
		rec.Metadata[k] = v
	}
	rec.UpdatedAt = time.Now().UTC()
	s.persistLocked(rec)
	return nil
}

// StoreSummary caches a generated summary payload under cacheKey.
func (s *Store) StoreSummary(id, cacheKey string, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return ErrNotFound
	}
	if rec.Summaries == nil {
		rec.Summaries = make(map[string]json.RawMessage)
	}
	rec.Summaries[cacheKey] = payload
	rec.UpdatedAt = time.Now().UTC()
	s.persistLocked(rec)
	return nil
}

// Summary returns the cached summary payload for cacheKey, if present.
func (s *Store) Summary(id, cacheKey string) (json.RawMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.index[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	payload, ok := rec.Summaries[cacheKey]
	return payload, ok, nil
}

// Prune removes every job created before now minus retentionDays, deleting
// the index entry and the on-disk directory together. A directory scan then
// retries any orphaned directories a previous crash may have left behind.
func (s *Store) Prune(retentionDays int) int {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.index {
		if rec.CreatedAt.Before(cutoff) {
			if err := os.RemoveAll(s.JobDir(id)); err != nil {
				s.logger.Warn("failed to remove job directory", "job_id", id, "error", err)
				continue
			}
			delete(s.index, id)
			removed++
		}
	}

	// Orphan retry pass: directories without an index entry are leftovers
	// from a crashed prune or an overwritten manifest.
	entries, err := os.ReadDir(s.root)
	if err != nil {
		s.logger.Warn("prune directory scan failed", "root", s.root, "error", err)
		return removed
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if _, ok := s.index[entry.Name()]; ok {
			continue
		}
		dir := filepath.Join(s.root, entry.Name())
		rec, err := s.readManifest(filepath.Join(dir, ManifestName))
		if err == nil && !rec.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("failed to remove orphaned job directory", "dir", dir, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("pruned jobs", "removed", removed, "retention_days", retentionDays)
	}
	return removed
}

// persistLocked re-serializes the manifest via a temp file rename. The caller
// holds s.mu. Write errors are surfaced to logs only.
func (s *Store) persistLocked(rec *Record) {
	dir := s.JobDir(rec.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("failed to create job directory", "job_id", rec.ID, "error", err)
		return
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		s.logger.Warn("failed to marshal manifest", "job_id", rec.ID, "error", err)
		return
	}

	tmp := filepath.Join(dir, ManifestName+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Warn("failed to write manifest", "job_id", rec.ID, "error", err)
		return
	}
	if err := os.Rename(tmp, filepath.Join(dir, ManifestName)); err != nil {
		s.logger.Warn("failed to replace manifest", "job_id", rec.ID, "error", err)
	}
}

func (s *Store) readManifest(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, errors.New("manifest has no job id")
	}
	return &rec, nil
}

// dropMissingArtifacts guards against partial deletions: artifact entries
// whose files vanished are dropped, the job entry itself is kept.
func (s *Store) dropMissingArtifacts(rec *Record) {
	for key, art := range rec.Artifacts {
		if _, err := os.Stat(art.Path); err != nil {
			s.logger.Debug("dropping artifact with missing file", "job_id", rec.ID, "artifact", key, "path", art.Path)
			delete(rec.Artifacts, key)
		}
	}
}
