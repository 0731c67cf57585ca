package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/transcriptd/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	var typeStyle lipgloss.Style
	switch e.Type {
	case events.JobCompleted:
		typeStyle = theme.StatusOK
	case events.JobFailed:
		typeStyle = theme.StatusFailed
	case events.JobProgress:
		typeStyle = theme.StatusRunning
	case events.JobCanceled:
		typeStyle = theme.StatusCanceled
	case events.SweepPruned:
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-14s", e.Type))

	return fmt.Sprintf("%s %s %s", ts, typeName, eventDesc(e))
}

// eventDesc builds a one-line description from the envelope and its
// payload.
func eventDesc(e events.Event) string {
	var parts []string

	if e.JobID != "" {
		id := e.JobID
		if len(id) > 8 {
			id = id[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	if filename, ok := data["filename"].(string); ok && filename != "" {
		parts = append(parts, filename)
	}
	if pct, ok := data["percent"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%.0f%%", pct))
	}
	if msg, ok := data["message"].(string); ok && msg != "" {
		parts = append(parts, msg)
	}
	if removed, ok := data["removed"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%.0f removed", removed))
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
