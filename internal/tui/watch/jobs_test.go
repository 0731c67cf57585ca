package watch

import (
	"strings"
	"testing"

	"github.com/mattjoyce/transcriptd/internal/api"
)

func TestProgressBar(t *testing.T) {
	t.Parallel()
	if got := progressBar(0, 10); got != strings.Repeat("░", 10) {
		t.Errorf("empty bar = %q", got)
	}
	if got := progressBar(100, 10); got != strings.Repeat("█", 10) {
		t.Errorf("full bar = %q", got)
	}
	if got := progressBar(50, 10); got != strings.Repeat("█", 5)+strings.Repeat("░", 5) {
		t.Errorf("half bar = %q", got)
	}
	// Out-of-range values are clamped.
	if got := progressBar(150, 4); got != strings.Repeat("█", 4) {
		t.Errorf("clamped bar = %q", got)
	}
}

func TestJobRows(t *testing.T) {
	t.Parallel()
	eta := 42.0
	rows := jobRows([]api.JobResponse{
		{
			ID:         "0123456789abcdef",
			Filename:   "a-very-long-meeting-recording-name.mp3",
			Model:      "medium",
			Status:     "processing",
			Progress:   50,
			ETASeconds: &eta,
		},
		{ID: "short", Filename: "b.wav", Model: "small", Status: "queued"},
	})

	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0][0] != "01234567" {
		t.Errorf("id cell = %q, want truncated to 8", rows[0][0])
	}
	if !strings.HasSuffix(rows[0][1], "...") {
		t.Errorf("filename cell = %q, want truncated", rows[0][1])
	}
	if !strings.Contains(rows[0][4], "50%") {
		t.Errorf("progress cell = %q", rows[0][4])
	}
	if rows[0][5] != "42s" {
		t.Errorf("eta cell = %q, want 42s", rows[0][5])
	}
	if rows[1][4] != "-" || rows[1][5] != "-" {
		t.Errorf("queued job should have placeholder cells: %v", rows[1])
	}
}
