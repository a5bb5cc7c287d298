package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// DividerWidth is the default width for divider lines.
const DividerWidth = 64

// Phase represents a distinct execution phase.
type Phase struct {
	Name      string
	StartTime time.Time
	EndTime   time.Time
	Success   bool
	Error     error
}

// Duration returns the phase duration.
func (p Phase) Duration() time.Duration {
	if p.EndTime.IsZero() {
		return time.Since(p.StartTime)
	}
	return p.EndTime.Sub(p.StartTime)
}

// PhaseDisplay prints one line per finished run phase. Lines are only
// written once a phase ends so they interleave cleanly with log output.
type PhaseDisplay struct {
	w   io.Writer
	now func() time.Time

	mu      sync.Mutex
	current *Phase
	phases  []Phase
}

// NewPhaseDisplay creates a new phase display writing to w.
func NewPhaseDisplay(w io.Writer) *PhaseDisplay {
	return &PhaseDisplay{w: w, now: time.Now}
}

// Enter ends the current phase successfully and starts name.
func (pd *PhaseDisplay) Enter(name string) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	now := pd.now()
	pd.endLocked(now, func(p *Phase) { p.Success = true })
	pd.current = &Phase{Name: name, StartTime: now}
}

// Succeed ends the current phase successfully.
func (pd *PhaseDisplay) Succeed() {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.endLocked(pd.now(), func(p *Phase) { p.Success = true })
}

// Fail ends the current phase with err.
func (pd *PhaseDisplay) Fail(err error) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.endLocked(pd.now(), func(p *Phase) { p.Error = err })
}

// Phases returns every finished phase in order.
func (pd *PhaseDisplay) Phases() []Phase {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return append([]Phase(nil), pd.phases...)
}

func (pd *PhaseDisplay) endLocked(now time.Time, mark func(*Phase)) {
	if pd.current == nil {
		return
	}
	p := *pd.current
	p.EndTime = now
	mark(&p)
	pd.current = nil
	pd.phases = append(pd.phases, p)

	if p.Success {
		pd.RenderSuccess(p.Name, p.Duration())
	} else {
		pd.RenderFailed(p.Name, p.Duration(), p.Error)
	}
}

// RenderSuccess renders a completed phase.
// Shows: ● Setting up (0.3s)
func (pd *PhaseDisplay) RenderSuccess(name string, duration time.Duration) {
	fmt.Fprintln(pd.w, FormatPhase(SymbolComplete, ColorSuccess, name, formatDuration(duration)))
}

// RenderFailed renders a failed phase.
// Shows: ✗ Running (2.3s)
func (pd *PhaseDisplay) RenderFailed(name string, duration time.Duration, err error) {
	fmt.Fprintln(pd.w, FormatPhase(SymbolFail, ColorError, name, formatDuration(duration)))
	if err != nil {
		style := lipgloss.NewStyle().Foreground(ColorMuted)
		fmt.Fprintf(pd.w, "  %s\n", style.Render(firstLine(err.Error())))
	}
}

// Divider renders a horizontal line between the phases and the summary.
func (pd *PhaseDisplay) Divider() {
	fmt.Fprintf(pd.w, "\n%s\n\n", FormatDivider(DividerWidth))
}

// FormatPhase returns a formatted phase line as a string.
func FormatPhase(symbol string, symbolColor lipgloss.Color, name string, timing string) string {
	symbolStyle := lipgloss.NewStyle().Foreground(symbolColor)
	timingStyle := lipgloss.NewStyle().Foreground(ColorMuted)

	if timing == "" {
		return fmt.Sprintf("%s %s", symbolStyle.Render(symbol), name)
	}
	return fmt.Sprintf("%s %s %s", symbolStyle.Render(symbol), name, timingStyle.Render(timing))
}

// FormatDivider returns a divider line as a string.
func FormatDivider(width int) string {
	style := lipgloss.NewStyle().Foreground(ColorMuted)
	return style.Render(strings.Repeat("━", width))
}

// formatDuration renders d in parentheses with a precision that suits its size.
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("(%dms)", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("(%.1fs)", d.Seconds())
	default:
		return fmt.Sprintf("(%s)", d.Round(time.Second))
	}
}

// firstLine returns the first non-empty line of s, skipping the ✗ marker
// structured errors start with.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), SymbolFail))
		if line != "" {
			return line
		}
	}
	return ""
}
