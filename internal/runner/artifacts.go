package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/transcriptd/internal/engine"
	"github.com/mattjoyce/transcriptd/internal/jobs"
)

// writeArtifacts renders the three standard outputs into dir and
// returns them keyed the way the store expects.
func writeArtifacts(dir, text string, segments []engine.Segment) (map[string]jobs.Artifact, error) {
	out := make(map[string]jobs.Artifact, 3)

	txtPath := filepath.Join(dir, "transcript.txt")
	if err := os.WriteFile(txtPath, []byte(text+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("write transcript: %w", err)
	}
	out["transcript"] = jobs.Artifact{Name: "Transcript", Path: txtPath, ContentType: "text/plain; charset=utf-8"}

	srtPath := filepath.Join(dir, "captions.srt")
	if err := os.WriteFile(srtPath, []byte(renderSRT(segments)), 0o644); err != nil {
		return nil, fmt.Errorf("write captions: %w", err)
	}
	out["captions"] = jobs.Artifact{Name: "Captions", Path: srtPath, ContentType: "application/x-subrip"}

	segPath := filepath.Join(dir, "segments.json")
	payload, err := json.MarshalIndent(segments, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode segments: %w", err)
	}
	if err := os.WriteFile(segPath, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write segments: %w", err)
	}
	out["segments"] = jobs.Artifact{Name: "Segments", Path: segPath, ContentType: "application/json"}

	return out, nil
}

// renderSRT formats segments as SubRip cues, one per segment.
func renderSRT(segments []engine.Segment) string {
	var b strings.Builder
	for i, seg := range segments {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1, srtTimestamp(seg.Start), srtTimestamp(seg.End), strings.TrimSpace(seg.Text))
	}
	return b.String()
}

// srtTimestamp renders seconds as HH:MM:SS,mmm per the SubRip format.
func srtTimestamp(value float64) string {
	if value < 0 {
		value = 0
	}
	hours := int(value) / 3600
	minutes := (int(value) % 3600) / 60
	seconds := int(value) % 60
	millis := int((value - float64(int(value))) * 1000)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}
