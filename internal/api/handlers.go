package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattjoyce/transcriptd/internal/events"
	"github.com/mattjoyce/transcriptd/internal/jobs"
	"github.com/mattjoyce/transcriptd/internal/summary"
)

// allowedUploadSuffixes are the media extensions kept on the stored
// input file. Anything else falls back to .wav.
var allowedUploadSuffixes = map[string]bool{
	".aac":  true,
	".flac": true,
	".m4a":  true,
	".mkv":  true,
	".mov":  true,
	".mp3":  true,
	".mp4":  true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
	".webm": true,
	".wma":  true,
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		JobsTracked:   len(s.store.List()),
		VADAvailable:  true,
	}
	if s.device != nil {
		resp.Accelerated = s.device.HasAcceleratedDevice()
		if !resp.Accelerated {
			resp.Status = "degraded"
		}
	}
	if s.assets != nil {
		ok, missing := s.assets.Detect()
		resp.VADAvailable = ok
		resp.VADMissing = missing
		if !ok {
			resp.Status = "degraded"
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleTranscribe handles POST /transcribe.
// Accepts a multipart upload, registers the job, and hands the stored
// input to the runner. The response is the queued job record.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		s.writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	if !acceptableUploadType(header) {
		s.writeError(w, http.StatusUnsupportedMediaType, "unsupported content type: "+header.Header.Get("Content-Type"))
		return
	}

	tmpPath, err := s.spoolUpload(file)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		s.logger.Error("failed to spool upload", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	if err := validateUploadContent(tmpPath); err != nil {
		os.Remove(tmpPath)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req := jobs.CreateRequest{
		Filename: header.Filename,
		Model:    formValue(r, "model", s.config.DefaultModel),
		Device:   formValue(r, "device", s.config.DefaultDevice),
		VAD:      formBool(r, "vad", true),
		BeamSize: formInt(r, "beam_size", s.config.DefaultBeamSize),
		Language: r.FormValue("language"),
	}
	if req.Filename == "" {
		req.Filename = "upload"
	}

	rec := s.store.Create(req)

	inputPath := filepath.Join(s.store.JobDir(rec.ID), "input"+normalizeSuffix(header.Filename))
	if err := os.Rename(tmpPath, inputPath); err != nil {
		os.Remove(tmpPath)
		s.logger.Error("failed to place upload in job directory", "job_id", rec.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	if s.hub != nil {
		s.hub.Publish(events.JobCreated, rec.ID, map[string]any{
			"filename": rec.Filename,
			"model":    rec.Model,
			"device":   rec.Device,
		})
	}

	s.logger.Info("job accepted", "job_id", rec.ID, "filename", rec.Filename, "model", rec.Model)

	// The request context dies with the response; the job outlives it.
	s.runner.Submit(context.Background(), rec.ID, inputPath)

	respondJSON(w, http.StatusAccepted, jobResponse(rec))
}

// spoolUpload copies the upload into a temp file under the storage
// root so the final placement is a same-filesystem rename.
func (s *Server) spoolUpload(file multipart.File) (string, error) {
	tmp, err := os.CreateTemp(s.store.Root(), "upload-*")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	return tmp.Name(), nil
}

// acceptableUploadType rejects declared content types that cannot be
// media. Absent or generic types pass; the content sniff catches lies.
func acceptableUploadType(header *multipart.FileHeader) bool {
	ct := strings.ToLower(header.Header.Get("Content-Type"))
	if ct == "" || ct == "application/octet-stream" {
		return true
	}
	return strings.HasPrefix(ct, "audio/") || strings.HasPrefix(ct, "video/")
}

// validateUploadContent rejects empty files and text masquerading as
// audio (HTML error pages, JSON bodies saved by broken clients).
func validateUploadContent(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errors.New("uploaded file is unreadable")
	}
	if info.Size() == 0 {
		return errors.New("uploaded file is empty")
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.New("uploaded file is unreadable")
	}
	defer f.Close()
	sample := make([]byte, 512)
	n, _ := io.ReadFull(f, sample)
	sample = bytes.TrimLeft(sample[:n], " \t\r\n")
	for _, prefix := range [][]byte{[]byte("<!"), []byte("<html"), []byte("{"), []byte("[")} {
		if bytes.HasPrefix(sample, prefix) {
			return errors.New("upload does not look like audio")
		}
	}
	if info.Size() < 128 {
		return errors.New("upload is too small to be audio")
	}
	return nil
}

func normalizeSuffix(filename string) string {
	suffix := strings.ToLower(filepath.Ext(filename))
	if allowedUploadSuffixes[suffix] {
		return suffix
	}
	return ".wav"
}

func formValue(r *http.Request, key, fallback string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return fallback
}

func formBool(r *http.Request, key string, fallback bool) bool {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func formInt(r *http.Request, key string, fallback int) int {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// handleListJobs handles GET /jobs.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	records := s.store.List()
	resp := JobsEnvelope{Jobs: make([]JobResponse, 0, len(records))}
	for _, rec := range records {
		resp.Jobs = append(resp.Jobs, jobResponse(rec))
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleGetJob handles GET /jobs/{jobID}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	rec, err := s.store.Get(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to retrieve job", "job_id", jobID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}

	respondJSON(w, http.StatusOK, jobResponse(rec))
}

// handleCancelJob handles POST /jobs/{jobID}/cancel.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	rec, err := s.store.Get(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}
	if rec.Status.Terminal() {
		s.writeError(w, http.StatusConflict, "job already finished")
		return
	}

	if !s.runner.Cancel(jobID) {
		s.writeError(w, http.StatusConflict, "job is not running")
		return
	}

	s.logger.Info("job cancel requested", "job_id", jobID)
	respondJSON(w, http.StatusAccepted, CancelResponse{ID: jobID, Status: "canceling"})
}

// handleDownload handles GET /files/{jobID}/{artifact}.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	key := chi.URLParam(r, "artifact")

	rec, err := s.store.Get(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to retrieve job")
		return
	}

	artifact, ok := rec.Artifacts[key]
	if !ok {
		s.writeError(w, http.StatusNotFound, "artifact not available")
		return
	}

	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(artifact.Path)+"\"")
	http.ServeFile(w, r, artifact.Path)
}

// handleSummarize handles POST /summarize.
func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summary.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.JobID == "" {
		s.writeError(w, http.StatusBadRequest, "job_id is required")
		return
	}

	payload, cached, err := s.summaries.Summarize(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, summary.ErrNotReady):
			s.writeError(w, http.StatusConflict, "job has not completed yet")
		case errors.Is(err, summary.ErrNoTranscript):
			s.writeError(w, http.StatusBadRequest, "no transcript available")
		default:
			s.logger.Error("summary generation failed", "job_id", req.JobID, "error", err)
			s.writeError(w, http.StatusInternalServerError, "summary generation failed")
		}
		return
	}

	respondJSON(w, http.StatusOK, SummaryResponse{
		JobID:   req.JobID,
		Cached:  cached,
		Summary: payload,
	})
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
