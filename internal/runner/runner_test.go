package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mattjoyce/transcriptd/internal/engine"
	"github.com/mattjoyce/transcriptd/internal/jobs"
	"github.com/mattjoyce/transcriptd/internal/journal"
)

type fakeStream struct {
	segs   []engine.Segment
	i      int
	onNext func(i int)
}

func (s *fakeStream) Next() (engine.Segment, error) {
	if s.onNext != nil {
		s.onNext(s.i)
	}
	if s.i >= len(s.segs) {
		return engine.Segment{}, io.EOF
	}
	seg := s.segs[s.i]
	s.i++
	return seg, nil
}

func (s *fakeStream) Close() error { return nil }

type fakeModel struct {
	segs   []engine.Segment
	onNext func(i int)
}

func (m *fakeModel) Transcribe(ctx context.Context, audioPath string, opts engine.Options) (engine.SegmentStream, error) {
	return &fakeStream{segs: m.segs, onNext: m.onNext}, nil
}

func (m *fakeModel) Close() error { return nil }

type fixedProber struct {
	duration float64
	err      error
}

func (p *fixedProber) Probe(ctx context.Context, path string) (float64, error) {
	return p.duration, p.err
}

func testSegments() []engine.Segment {
	return []engine.Segment{
		{Start: 0, End: 3, Text: "Primera parte"},
		{Start: 3, End: 7, Text: "segunda parte"},
		{Start: 7, End: 10, Text: "y final"},
	}
}

func newTestTranscriber(model engine.Model, prober engine.Prober) *engine.Transcriber {
	provider := engine.NewProvider(func(name, device string) (engine.Model, error) {
		return model, nil
	}, func() bool { return false })
	vad := engine.NewVADResolver("/nonexistent/vad-assets", "")
	return engine.NewTranscriber(provider, vad, prober, nil)
}

func writeInputMedia(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.wav")
	if err := os.WriteFile(path, []byte("RIFF-data"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestRunCompletesJob(t *testing.T) {
	t.Parallel()

	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tr := newTestTranscriber(&fakeModel{segs: testSegments()}, &fixedProber{duration: 10})
	r := New(store, tr, nil, nil)

	rec := store.Create(jobs.CreateRequest{Filename: "meeting.wav", Model: "medium", Device: "auto", VAD: false, BeamSize: 5})
	input := writeInputMedia(t)

	r.Submit(context.Background(), rec.ID, input)
	r.Wait()

	got, err := store.Get(rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", got.Status, got.Message)
	}
	if got.Progress != 100 {
		t.Fatalf("expected progress 100, got %v", got.Progress)
	}
	for _, key := range []string{"transcript", "captions", "segments"} {
		art, ok := got.Artifacts[key]
		if !ok {
			t.Fatalf("artifact %q missing", key)
		}
		if _, err := os.Stat(art.Path); err != nil {
			t.Fatalf("artifact %q not on disk: %v", key, err)
		}
	}
	if got.Metadata["actual_device"] != "cpu" {
		t.Fatalf("expected actual_device metadata, got %v", got.Metadata)
	}
	if got.DurationSeconds == nil || *got.DurationSeconds != 10 {
		t.Fatalf("duration not recorded: %v", got.DurationSeconds)
	}
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Fatal("input media not deleted after success")
	}

	text, err := os.ReadFile(got.Artifacts["transcript"].Path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !strings.Contains(string(text), "Primera parte") {
		t.Fatalf("transcript content wrong: %q", text)
	}
}

func TestRunDecodeFailure(t *testing.T) {
	t.Parallel()

	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tr := newTestTranscriber(&fakeModel{segs: testSegments()}, &fixedProber{
		err: &engine.DecodeError{Path: "upload.wav", Err: errors.New("file is empty")},
	})
	r := New(store, tr, nil, nil)

	rec := store.Create(jobs.CreateRequest{Filename: "empty.wav", Model: "medium", Device: "cpu"})
	input := writeInputMedia(t)

	r.Submit(context.Background(), rec.ID, input)
	r.Wait()

	got, _ := store.Get(rec.ID)
	if got.Status != jobs.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if !strings.Contains(got.Message, "unreadable") {
		t.Fatalf("message should mention unreadable audio: %q", got.Message)
	}
	if len(got.Artifacts) != 0 {
		t.Fatalf("expected no artifacts, got %v", got.Artifacts)
	}
	// Cleanup happens on failure too.
	if _, err := os.Stat(input); !os.IsNotExist(err) {
		t.Fatal("input media not deleted after failure")
	}
}

func TestRunCancelKeepsPartialTranscript(t *testing.T) {
	t.Parallel()

	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rec := store.Create(jobs.CreateRequest{Filename: "long.wav", Model: "medium", Device: "cpu"})

	model := &fakeModel{segs: testSegments()}
	tr := newTestTranscriber(model, &fixedProber{duration: 10})
	r := New(store, tr, nil, nil)
	model.onNext = func(i int) {
		if i == 1 {
			r.Cancel(rec.ID)
		}
	}

	r.Submit(context.Background(), rec.ID, writeInputMedia(t))
	r.Wait()

	got, _ := store.Get(rec.ID)
	if got.Status != jobs.StatusCanceled {
		t.Fatalf("expected canceled, got %s (%s)", got.Status, got.Message)
	}
	if _, ok := got.Artifacts["transcript"]; !ok {
		t.Fatal("partial transcript should be kept")
	}
	text, err := os.ReadFile(got.Artifacts["transcript"].Path)
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if strings.Contains(string(text), "y final") {
		t.Fatal("canceled run should not contain segments past the cancel point")
	}
}

func TestCancelUnknownJob(t *testing.T) {
	t.Parallel()

	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	r := New(store, newTestTranscriber(&fakeModel{}, &fixedProber{}), nil, nil)

	if r.Cancel("nope") {
		t.Fatal("expected false for unknown job")
	}
}

func TestRunRecordsJournalEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	j, err := journal.Open(ctx, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("journal.Open: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })

	tr := newTestTranscriber(&fakeModel{segs: testSegments()}, &fixedProber{duration: 10})
	r := New(store, tr, j, nil)

	rec := store.Create(jobs.CreateRequest{Filename: "meeting.wav", Model: "medium", Device: "cpu"})
	r.Submit(ctx, rec.ID, writeInputMedia(t))
	r.Wait()

	entries, err := j.Recent(ctx, rec.ID, 100)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	var sawProcessing, sawCompleted, sawArtifact bool
	for _, e := range entries {
		switch {
		case e.Type == journal.EventStatus && e.Status == string(jobs.StatusProcessing):
			sawProcessing = true
		case e.Type == journal.EventStatus && e.Status == string(jobs.StatusCompleted):
			sawCompleted = true
		case e.Type == journal.EventArtifact:
			sawArtifact = true
		}
	}
	if !sawProcessing || !sawCompleted || !sawArtifact {
		t.Fatalf("journal missing events: processing=%v completed=%v artifact=%v",
			sawProcessing, sawCompleted, sawArtifact)
	}
}

func TestRenderSRT(t *testing.T) {
	t.Parallel()

	got := renderSRT([]engine.Segment{
		{Start: 0, End: 2.5, Text: " Hola "},
		{Start: 3661.25, End: 3663, Text: "tarde"},
	})

	want := "1\n00:00:00,000 --> 00:00:02,500\nHola\n\n2\n01:01:01,250 --> 01:01:03,000\ntarde\n\n"
	if got != want {
		t.Fatalf("renderSRT mismatch:\n got %q\nwant %q", got, want)
	}
}
