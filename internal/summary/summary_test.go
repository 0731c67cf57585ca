package summary

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mattjoyce/transcriptd/internal/jobs"
	"github.com/mattjoyce/transcriptd/internal/license"
)

type recordingSummarizer struct {
	calls int
	mode  string
}

func (r *recordingSummarizer) Generate(ctx context.Context, text string, req Request) (*Document, error) {
	r.calls++
	r.mode = req.Mode
	return &Document{Template: req.Template, Mode: req.Mode, Title: "Resumen", Points: []string{"punto"}}, nil
}

func completedJob(t *testing.T, store *jobs.Store, transcript string) *jobs.Record {
	t.Helper()
	rec := store.Create(jobs.CreateRequest{Filename: "a.wav", Model: "medium", Device: "cpu"})
	if err := store.Claim(rec.ID, ""); err != nil {
		t.Fatalf("claim: %v", err)
	}
	path := filepath.Join(store.JobDir(rec.ID), "transcript.txt")
	if err := os.WriteFile(path, []byte(transcript), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	if err := store.AttachArtifact(rec.ID, "transcript", jobs.Artifact{
		Name: "Transcript", Path: path, ContentType: "text/plain",
	}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := store.SetStatus(rec.ID, jobs.StatusCompleted, "done"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	return rec
}

func TestSummarizeCachesResult(t *testing.T) {
	t.Parallel()

	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec := completedJob(t, store, "Hola mundo. Segunda frase.")

	gen := &recordingSummarizer{}
	svc := NewService(store, gen, license.NewGate(nil))
	req := Request{JobID: rec.ID, Mode: "extractivo", Template: "standard", Language: "es"}

	first, hit, err := svc.Summarize(context.Background(), req)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if hit {
		t.Fatal("first call must be a miss")
	}

	second, hit, err := svc.Summarize(context.Background(), req)
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if !hit {
		t.Fatal("second call must hit the cache")
	}
	if string(first) != string(second) {
		t.Fatal("cached payload differs")
	}
	if gen.calls != 1 {
		t.Fatalf("generator ran %d times, want 1", gen.calls)
	}
}

func TestSummarizeDowngradesUnlicensedMode(t *testing.T) {
	t.Parallel()

	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec := completedJob(t, store, "Hola mundo.")

	gen := &recordingSummarizer{}
	svc := NewService(store, gen, license.NewGate([]string{"summary:extractivo"}))

	_, _, err = svc.Summarize(context.Background(), Request{JobID: rec.ID, Mode: "redactado"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if gen.mode != "extractivo" {
		t.Fatalf("expected downgrade to extractivo, generator saw %q", gen.mode)
	}
}

func TestSummarizeLicensedModePassesThrough(t *testing.T) {
	t.Parallel()

	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec := completedJob(t, store, "Hola mundo.")

	gen := &recordingSummarizer{}
	svc := NewService(store, gen, license.NewGate([]string{"summary:redactado"}))

	_, _, err = svc.Summarize(context.Background(), Request{JobID: rec.ID, Mode: "redactado"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if gen.mode != "redactado" {
		t.Fatalf("expected redactado, generator saw %q", gen.mode)
	}
}

func TestSummarizeRequiresCompletedJob(t *testing.T) {
	t.Parallel()

	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec := store.Create(jobs.CreateRequest{Filename: "a.wav", Model: "medium", Device: "cpu"})

	svc := NewService(store, &recordingSummarizer{}, license.NewGate(nil))
	_, _, err = svc.Summarize(context.Background(), Request{JobID: rec.ID})
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestSummarizeUnknownJob(t *testing.T) {
	t.Parallel()

	store, err := jobs.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	svc := NewService(store, &recordingSummarizer{}, license.NewGate(nil))

	_, _, err = svc.Summarize(context.Background(), Request{JobID: "nope"})
	if !errors.Is(err, jobs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExtractivePointsLimit(t *testing.T) {
	t.Parallel()

	text := "Uno. Dos. Tres. Cuatro. Cinco. Seis. Siete."
	doc, err := Extractive{MaxPoints: 3}.Generate(context.Background(), text, Request{ClientName: "ACME"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(doc.Points) != 3 {
		t.Fatalf("expected 3 points, got %v", doc.Points)
	}
	if doc.Title != "Resumen: ACME" {
		t.Fatalf("unexpected title %q", doc.Title)
	}

	// Documents must stay JSON-serializable for the cache.
	if _, err := json.Marshal(doc); err != nil {
		t.Fatalf("marshal: %v", err)
	}
}
