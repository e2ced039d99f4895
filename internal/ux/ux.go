// Package ux renders terminal output for the atlas CLI.
package ux

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"codeatlas/internal/pipeline"
	"codeatlas/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	failStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// ResumeReport renders completed-versus-remaining counts for a session before
// any new work starts.
func ResumeReport(sess *store.Session, progress store.Progress, resume pipeline.Phase) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Resuming session " + sess.ID))
	b.WriteString("\n")
	b.WriteString(row("Project", sess.ProjectPath))
	b.WriteString(row("Resume phase", fmt.Sprintf("%d (%s)", resume, resume)))
	b.WriteString(row("Files analyzed", okStyle.Render(fmt.Sprintf("%d", progress.Done))+
		valueStyle.Render(fmt.Sprintf(" / %d", progress.Total))))

	remaining := progress.Total - progress.Done - progress.Failed
	if remaining > 0 {
		b.WriteString(row("Files remaining", warnStyle.Render(fmt.Sprintf("%d", remaining))))
	}
	if progress.Failed > 0 {
		b.WriteString(row("Files failed", failStyle.Render(fmt.Sprintf("%d", progress.Failed))))
	}

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// RunComplete renders the end-of-run summary.
func RunComplete(sess *store.Session, progress store.Progress, apiCalls int64) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Documentation run complete"))
	b.WriteString("\n")
	b.WriteString(row("Session", sess.ID))
	b.WriteString(row("Files analyzed", fmt.Sprintf("%d / %d", progress.Done, progress.Total)))
	if progress.Failed > 0 {
		b.WriteString(row("Files failed", failStyle.Render(fmt.Sprintf("%d (see atlas sessions)", progress.Failed))))
	}
	b.WriteString(row("API calls", fmt.Sprintf("%d", apiCalls)))

	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// SessionList renders all known sessions, most recent first.
func SessionList(sessions []store.Session) string {
	if len(sessions) == 0 {
		return labelStyle.Render("No sessions. Run 'atlas run <path>' to start one.")
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Sessions (%d)", len(sessions))))
	b.WriteString("\n")

	for _, sess := range sessions {
		phase := pipeline.Phase(sess.Phase)
		status := warnStyle.Render("in progress")
		if phase >= pipeline.PhaseRefinement {
			status = okStyle.Render("complete")
		}
		b.WriteString(fmt.Sprintf("%s  %s  %s  %s\n",
			valueStyle.Render(sess.ID),
			labelStyle.Render(sess.ProjectPath),
			labelStyle.Render(fmt.Sprintf("phase %d/%d", sess.Phase, int(pipeline.PhaseRefinement))),
			status))
	}
	return strings.TrimRight(b.String(), "\n")
}

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-16s", label)) + valueStyle.Render(value) + "\n"
}
