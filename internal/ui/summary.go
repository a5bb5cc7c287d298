package ui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/fleetrun/internal/run"
)

// SummaryRenderer formats run results for terminal display.
type SummaryRenderer struct {
	errorStyle   lipgloss.Style
	successStyle lipgloss.Style
	pathStyle    lipgloss.Style
	mutedStyle   lipgloss.Style
}

// NewSummaryRenderer creates a new summary renderer with default styles.
func NewSummaryRenderer() *SummaryRenderer {
	return &SummaryRenderer{
		errorStyle:   lipgloss.NewStyle().Foreground(ColorError),
		successStyle: lipgloss.NewStyle().Foreground(ColorSuccess),
		pathStyle:    lipgloss.NewStyle().Foreground(ColorInfo),
		mutedStyle:   lipgloss.NewStyle().Foreground(ColorMuted),
	}
}

// RenderRunSummary generates the end-of-run report.
func RenderRunSummary(res *run.Result) string {
	return NewSummaryRenderer().Render(res)
}

// Render generates the formatted summary string. Successful scripts get a
// single line; failures carry the first line of their error underneath.
func (r *SummaryRenderer) Render(res *run.Result) string {
	if res == nil {
		return ""
	}

	var sb strings.Builder

	for _, s := range res.Scripts {
		name := fmt.Sprintf("%s@%s", s.Script, s.Host.Hostname)
		timing := r.mutedStyle.Render(formatDuration(s.Duration()))
		if s.Success() {
			fmt.Fprintf(&sb, "%s %s %s\n", r.successStyle.Render(SymbolSuccess), name, timing)
			continue
		}
		fmt.Fprintf(&sb, "%s %s %s\n", r.errorStyle.Render(SymbolFail), name, timing)
		if msg := firstLine(s.Err.Error()); msg != "" {
			fmt.Fprintf(&sb, "    %s\n", r.mutedStyle.Render(msg))
		}
	}

	for _, d := range res.Downloads {
		target := r.pathStyle.Render(r.relative(res.OutputPath, d.Local))
		if d.Err == nil {
			fmt.Fprintf(&sb, "%s %s:%s → %s\n", r.successStyle.Render(SymbolSuccess), d.Host.Hostname, d.Remote, target)
			continue
		}
		fmt.Fprintf(&sb, "%s %s:%s → %s\n", r.errorStyle.Render(SymbolFail), d.Host.Hostname, d.Remote, target)
		fmt.Fprintf(&sb, "    %s\n", r.mutedStyle.Render(firstLine(d.Err.Error())))
	}

	for _, p := range res.Pending {
		fmt.Fprintf(&sb, "%s %s:%s %s\n", r.mutedStyle.Render(SymbolPending), p.Host.Hostname, p.Remote,
			r.mutedStyle.Render("(not downloaded)"))
	}

	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(r.footer(res))
	sb.WriteString("\n")
	return sb.String()
}

func (r *SummaryRenderer) footer(res *run.Result) string {
	if res.Phase == run.PhaseAborted {
		reason := res.AbortReason
		if reason == "" {
			reason = "unknown reason"
		}
		return r.errorStyle.Render(fmt.Sprintf("%s Aborted after %s: %s", SymbolSkipped, trimParens(formatDuration(res.Duration)), reason))
	}

	if failed := res.Failed(); failed > 0 {
		word := "failure"
		if failed != 1 {
			word = "failures"
		}
		return r.errorStyle.Render(fmt.Sprintf("%s Finished in %s with %d %s", SymbolFail, trimParens(formatDuration(res.Duration)), failed, word)) +
			r.atPath(res.OutputPath)
	}

	return r.successStyle.Render(fmt.Sprintf("%s Finished in %s", SymbolSuccess, trimParens(formatDuration(res.Duration)))) +
		r.atPath(res.OutputPath)
}

func (r *SummaryRenderer) atPath(path string) string {
	if path == "" {
		return ""
	}
	return " at " + r.pathStyle.Render(path)
}

// relative shortens local to a path under the output directory when possible.
func (r *SummaryRenderer) relative(base, local string) string {
	if base == "" {
		return local
	}
	rel, err := filepath.Rel(base, local)
	if err != nil || strings.HasPrefix(rel, "..") {
		return local
	}
	return rel
}

func trimParens(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
}
