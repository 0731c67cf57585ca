package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/transcriptd/internal/api"
)

// newJobTable builds the jobs table with the watch column layout.
func newJobTable(theme Theme) table.Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 8},
			{Title: "File", Width: 24},
			{Title: "Model", Width: 9},
			{Title: "Status", Width: 10},
			{Title: "Progress", Width: 22},
			{Title: "ETA", Width: 8},
		}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)
	return t
}

// jobRows converts API records into table rows. The list endpoint
// already sorts newest first.
func jobRows(jobsList []api.JobResponse) []table.Row {
	rows := make([]table.Row, 0, len(jobsList))
	for _, j := range jobsList {
		id := j.ID
		if len(id) > 8 {
			id = id[:8]
		}
		file := j.Filename
		if len(file) > 24 {
			file = file[:21] + "..."
		}
		rows = append(rows, table.Row{
			id,
			file,
			j.Model,
			j.Status,
			progressCell(j),
			etaCell(j),
		})
	}
	return rows
}

func progressCell(j api.JobResponse) string {
	if j.Status == "queued" {
		return "-"
	}
	return fmt.Sprintf("%s %3.0f%%", progressBar(j.Progress, 14), j.Progress)
}

// progressBar renders a fixed-width unicode bar.
func progressBar(percent float64, width int) string {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(percent / 100 * float64(width))
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func etaCell(j api.JobResponse) string {
	if j.Status != "processing" || j.ETASeconds == nil {
		return "-"
	}
	d := time.Duration(*j.ETASeconds * float64(time.Second)).Round(time.Second)
	return formatDuration(d)
}

// renderJobs draws the bordered jobs panel around the table.
func renderJobs(t table.Model, count int, theme Theme, width int) string {
	innerWidth := width - 4

	title := theme.Title.Render(fmt.Sprintf("JOBS (%d)", count))
	body := t.View()
	if count == 0 {
		body = theme.Dim.Render("  No jobs yet. POST /transcribe to submit one.")
	}

	content := lipgloss.JoinVertical(lipgloss.Left, title, body)
	return theme.Border.Width(innerWidth).Render(content)
}
