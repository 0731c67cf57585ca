// Package inspect builds operator-facing reports for a single job: the
// manifest, the artifacts actually present on disk, and the journal trail.
package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/mattjoyce/transcriptd/internal/jobs"
	"github.com/mattjoyce/transcriptd/internal/journal"
)

// Report is the structured JSON representation of a job report.
type Report struct {
	Job       *jobs.Record    `json:"job"`
	Artifacts []ArtifactEntry `json:"artifacts,omitempty"`
	Journal   []journal.Entry `json:"journal,omitempty"`
}

// ArtifactEntry is one produced artifact with its on-disk size. Size is -1
// when the file is missing or unreadable.
type ArtifactEntry struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// EventReader is the slice of the journal a report needs. A nil reader
// yields a report without journal entries.
type EventReader interface {
	Recent(ctx context.Context, jobID string, limit int) ([]journal.Entry, error)
}

// journalLimit caps how many entries a report includes.
const journalLimit = 50

// BuildReport renders a terminal-friendly report for a job.
func BuildReport(ctx context.Context, store *jobs.Store, events EventReader, jobID string) (string, error) {
	report, err := gatherReportData(ctx, store, events, jobID)
	if err != nil {
		return "", err
	}

	rec := report.Job
	var out strings.Builder
	fmt.Fprintf(&out, "Job Report\n")
	fmt.Fprintf(&out, "ID        : %s\n", rec.ID)
	fmt.Fprintf(&out, "File      : %s\n", rec.Filename)
	fmt.Fprintf(&out, "Status    : %s\n", rec.Status)
	if rec.Message != "" {
		fmt.Fprintf(&out, "Message   : %s\n", rec.Message)
	}
	fmt.Fprintf(&out, "Progress  : %.1f%%\n", rec.Progress)
	fmt.Fprintf(&out, "Model     : %s (device %s, beam %d, vad %t)\n", rec.Model, rec.Device, rec.BeamSize, rec.VAD)
	if rec.Language != "" {
		fmt.Fprintf(&out, "Language  : %s\n", rec.Language)
	}
	if rec.DurationSeconds != nil {
		fmt.Fprintf(&out, "Duration  : %.1fs\n", *rec.DurationSeconds)
	}
	fmt.Fprintf(&out, "Created   : %s\n", rec.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&out, "Updated   : %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&out, "\n")

	if len(report.Artifacts) == 0 {
		fmt.Fprintf(&out, "Artifacts : <none>\n")
	} else {
		fmt.Fprintf(&out, "Artifacts :\n")
		for _, art := range report.Artifacts {
			size := "<missing>"
			if art.SizeBytes >= 0 {
				size = fmt.Sprintf("%d bytes", art.SizeBytes)
			}
			fmt.Fprintf(&out, "  %-12s %s (%s)\n", art.Key, art.Path, size)
		}
	}

	if len(rec.Summaries) > 0 {
		modes := make([]string, 0, len(rec.Summaries))
		for mode := range rec.Summaries {
			modes = append(modes, mode)
		}
		sort.Strings(modes)
		fmt.Fprintf(&out, "Summaries : %s\n", strings.Join(modes, ", "))
	}

	if len(report.Journal) > 0 {
		fmt.Fprintf(&out, "\nJournal   :\n")
		for _, e := range report.Journal {
			line := fmt.Sprintf("  %s  %-10s", e.At.Format("15:04:05"), e.Type)
			if e.Progress != nil {
				line += fmt.Sprintf("  %.0f%%", *e.Progress)
			}
			if e.Message != "" {
				line += "  " + e.Message
			}
			fmt.Fprintf(&out, "%s\n", line)
		}
	}

	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// BuildJSONReport returns the machine-readable JSON job report.
func BuildJSONReport(ctx context.Context, store *jobs.Store, events EventReader, jobID string) (string, error) {
	report, err := gatherReportData(ctx, store, events, jobID)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json report: %w", err)
	}
	return string(data), nil
}

func gatherReportData(ctx context.Context, store *jobs.Store, events EventReader, jobID string) (*Report, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("job id is required")
	}

	rec, err := store.Get(jobID)
	if err != nil {
		return nil, err
	}

	report := &Report{Job: rec}

	keys := make([]string, 0, len(rec.Artifacts))
	for key := range rec.Artifacts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		art := rec.Artifacts[key]
		entry := ArtifactEntry{
			Key:         key,
			Name:        art.Name,
			Path:        art.Path,
			ContentType: art.ContentType,
			SizeBytes:   -1,
		}
		if info, err := os.Stat(art.Path); err == nil {
			entry.SizeBytes = info.Size()
		}
		report.Artifacts = append(report.Artifacts, entry)
	}

	if events != nil {
		entries, err := events.Recent(ctx, jobID, journalLimit)
		if err != nil {
			return nil, fmt.Errorf("load journal entries: %w", err)
		}
		report.Journal = entries
	}

	return report, nil
}
