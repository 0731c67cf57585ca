package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mattjoyce/transcriptd/internal/events"
	"github.com/mattjoyce/transcriptd/internal/jobs"
	"github.com/mattjoyce/transcriptd/internal/summary"
)

type fakeRunner struct {
	mu        sync.Mutex
	submitted []string
	inputs    []string
	cancelOK  bool
}

func (f *fakeRunner) Submit(ctx context.Context, jobID, inputPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, jobID)
	f.inputs = append(f.inputs, inputPath)
}

func (f *fakeRunner) Cancel(jobID string) bool { return f.cancelOK }

type fakeSummaries struct {
	payload json.RawMessage
	cached  bool
	err     error
}

func (f *fakeSummaries) Summarize(ctx context.Context, req summary.Request) (json.RawMessage, bool, error) {
	return f.payload, f.cached, f.err
}

type fakeDevice struct{ accelerated bool }

func (f fakeDevice) HasAcceleratedDevice() bool { return f.accelerated }

type fakeAssets struct {
	ok      bool
	missing []string
}

func (f fakeAssets) Detect() (bool, []string) { return f.ok, f.missing }

type serverFixture struct {
	server *Server
	store  *jobs.Store
	runner *fakeRunner
	hub    *events.Hub
}

func newTestServer(t *testing.T, cfg Config, summaries SummaryService) *serverFixture {
	t.Helper()
	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	runner := &fakeRunner{cancelOK: true}
	hub := events.NewHub(16)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(cfg, store, runner, summaries, hub, fakeDevice{accelerated: true}, fakeAssets{ok: true}, logger)
	return &serverFixture{server: srv, store: store, runner: runner, hub: hub}
}

func (f *serverFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.server.setupRoutes().ServeHTTP(rr, req)
	return rr
}

// audioPayload is an opaque binary blob large enough to pass the
// upload content sniff.
func audioPayload() []byte {
	blob := make([]byte, 256)
	for i := range blob {
		blob[i] = byte(i * 7)
	}
	blob[0] = 0xFF
	blob[1] = 0xFB
	return blob
}

func multipartUpload(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestTranscribeAcceptsUpload(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})

	body, contentType := multipartUpload(t, "meeting.mp3", audioPayload(), map[string]string{
		"model":     "small",
		"device":    "cpu",
		"vad":       "false",
		"beam_size": "3",
		"language":  "es",
	})
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	rr := f.do(req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}

	var resp JobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != string(jobs.StatusQueued) {
		t.Errorf("status = %q, want queued", resp.Status)
	}
	if resp.Model != "small" || resp.Device != "cpu" || resp.BeamSize != 3 || resp.Language != "es" {
		t.Errorf("options not applied: %+v", resp)
	}
	if resp.VAD {
		t.Error("vad should be disabled")
	}

	if len(f.runner.submitted) != 1 || f.runner.submitted[0] != resp.ID {
		t.Fatalf("runner.submitted = %v, want [%s]", f.runner.submitted, resp.ID)
	}
	inputPath := f.runner.inputs[0]
	if filepath.Base(inputPath) != "input.mp3" {
		t.Errorf("input file = %s, want input.mp3", inputPath)
	}
	if _, err := os.Stat(inputPath); err != nil {
		t.Errorf("input file missing: %v", err)
	}
}

func TestTranscribeDefaults(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{DefaultModel: "large-v3", DefaultDevice: "auto", DefaultBeamSize: 5}, &fakeSummaries{})

	body, contentType := multipartUpload(t, "call.unknownext", audioPayload(), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	rr := f.do(req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	var resp JobResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Model != "large-v3" || resp.Device != "auto" || resp.BeamSize != 5 || !resp.VAD {
		t.Errorf("defaults not applied: %+v", resp)
	}
	// Unrecognized extensions are stored as .wav.
	if filepath.Base(f.runner.inputs[0]) != "input.wav" {
		t.Errorf("input file = %s, want input.wav", f.runner.inputs[0])
	}
}

func TestTranscribeRejectsEmptyFile(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})

	body, contentType := multipartUpload(t, "empty.wav", nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	rr := f.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if len(f.store.List()) != 0 {
		t.Error("no job should be created for a rejected upload")
	}
}

func TestTranscribeRejectsMasqueradingText(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})

	page := []byte("<!DOCTYPE html><html><body>" + strings.Repeat("error ", 40) + "</body></html>")
	body, contentType := multipartUpload(t, "page.mp3", page, nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
	req.Header.Set("Content-Type", contentType)

	rr := f.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rr.Code, rr.Body.String())
	}
	if len(f.runner.submitted) != 0 {
		t.Error("rejected upload must not reach the runner")
	}
}

func TestTranscribeRejectsDeclaredTextType(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="doc.mp3"`)
	h.Set("Content-Type", "text/html")
	fw, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	if _, err := fw.Write(audioPayload()); err != nil {
		t.Fatalf("write: %v", err)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := f.do(req)
	if rr.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", rr.Code)
	}
}

func TestTranscribeMissingFileField(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("model", "small")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/transcribe", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := f.do(req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestListJobs(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})
	f.store.Create(jobs.CreateRequest{Filename: "a.mp3", Model: "small", Device: "cpu", BeamSize: 5})
	f.store.Create(jobs.CreateRequest{Filename: "b.mp3", Model: "small", Device: "cpu", BeamSize: 5})

	rr := f.do(httptest.NewRequest(http.MethodGet, "/jobs", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var env JobsEnvelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(env.Jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(env.Jobs))
	}
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})

	rr := f.do(httptest.NewRequest(http.MethodGet, "/jobs/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestCancelJob(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})
	rec := f.store.Create(jobs.CreateRequest{Filename: "a.mp3", Model: "small", Device: "cpu", BeamSize: 5})

	rr := f.do(httptest.NewRequest(http.MethodPost, "/jobs/"+rec.ID+"/cancel", nil))
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}

	rr = f.do(httptest.NewRequest(http.MethodPost, "/jobs/nope/cancel", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestCancelFinishedJobConflicts(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})
	rec := f.store.Create(jobs.CreateRequest{Filename: "a.mp3", Model: "small", Device: "cpu", BeamSize: 5})
	if err := f.store.Claim(rec.ID, "working"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := f.store.SetStatus(rec.ID, jobs.StatusCompleted, "done"); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	rr := f.do(httptest.NewRequest(http.MethodPost, "/jobs/"+rec.ID+"/cancel", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
}

func TestDownloadArtifact(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})
	rec := f.store.Create(jobs.CreateRequest{Filename: "a.mp3", Model: "small", Device: "cpu", BeamSize: 5})
	if err := f.store.Claim(rec.ID, "working"); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	path := filepath.Join(f.store.JobDir(rec.ID), "transcript.txt")
	if err := os.WriteFile(path, []byte("hola mundo"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := f.store.AttachArtifact(rec.ID, "transcript", jobs.Artifact{
		Name:        "Transcript",
		Path:        path,
		ContentType: "text/plain; charset=utf-8",
	})
	if err != nil {
		t.Fatalf("AttachArtifact: %v", err)
	}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/files/"+rec.ID+"/transcript", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if got := rr.Body.String(); got != "hola mundo" {
		t.Errorf("body = %q", got)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}

	rr = f.do(httptest.NewRequest(http.MethodGet, "/files/"+rec.ID+"/captions", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for missing artifact", rr.Code)
	}
}

func TestSummarizeSuccess(t *testing.T) {
	t.Parallel()
	payload := json.RawMessage(`{"title":"Resumen","points":["uno"]}`)
	f := newTestServer(t, Config{}, &fakeSummaries{payload: payload, cached: true})

	body := strings.NewReader(`{"job_id":"abc","mode":"extractivo"}`)
	rr := f.do(httptest.NewRequest(http.MethodPost, "/summarize", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}
	var resp SummaryResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !resp.Cached {
		t.Error("cached flag lost")
	}
	if !bytes.Contains(resp.Summary, []byte("Resumen")) {
		t.Errorf("summary payload = %s", resp.Summary)
	}
}

func TestSummarizeErrorMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"job missing", jobs.ErrNotFound, http.StatusNotFound},
		{"not completed", summary.ErrNotReady, http.StatusConflict},
		{"no transcript", summary.ErrNoTranscript, http.StatusBadRequest},
		{"generator failure", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newTestServer(t, Config{}, &fakeSummaries{err: tc.err})
			body := strings.NewReader(`{"job_id":"abc"}`)
			rr := f.do(httptest.NewRequest(http.MethodPost, "/summarize", body))
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestSummarizeRequiresJobID(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})

	rr := f.do(httptest.NewRequest(http.MethodPost, "/summarize", strings.NewReader(`{}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})

	rr := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var resp HealthzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
}

func TestHealthzDegraded(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})
	f.server.device = fakeDevice{accelerated: false}
	f.server.assets = fakeAssets{ok: false, missing: []string{"silero_encoder_v5.onnx"}}

	rr := f.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var resp HealthzResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.VADAvailable || len(resp.VADMissing) != 1 {
		t.Errorf("vad fields wrong: %+v", resp)
	}
}

func TestEventsSnapshotForLateClient(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, Config{}, &fakeSummaries{})
	f.hub.Publish(events.JobCreated, "job-1", map[string]any{"filename": "a.mp3"})
	f.hub.Publish(events.JobCompleted, "job-1", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)

	rr := f.do(req)
	out := rr.Body.String()
	if !strings.Contains(out, "event: job.created") || !strings.Contains(out, "event: job.completed") {
		t.Fatalf("snapshot missing events:\n%s", out)
	}
	if !strings.Contains(out, `"job_id":"job-1"`) {
		t.Errorf("data envelope missing job_id:\n%s", out)
	}
}
