package ui

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/rileyhilliard/fleetrun/internal/dispatch"
	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/run"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	SetColor(false)
}

func fakeClock(times ...time.Time) func() time.Time {
	i := 0
	return func() time.Time {
		t := times[i]
		if i < len(times)-1 {
			i++
		}
		return t
	}
}

func TestPhaseDisplay(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	pd := NewPhaseDisplay(&buf)
	pd.now = fakeClock(base, base.Add(250*time.Millisecond), base.Add(3250*time.Millisecond))

	pd.Enter("Setting up")
	pd.Enter("Running")
	pd.Fail(fmt.Errorf("✗ node2 went away\n\n  check the network"))

	phases := pd.Phases()
	require.Len(t, phases, 2)
	assert.True(t, phases[0].Success)
	assert.Equal(t, 250*time.Millisecond, phases[0].Duration())
	assert.False(t, phases[1].Success)
	assert.Error(t, phases[1].Error)

	out := buf.String()
	assert.Contains(t, out, "● Setting up (250ms)")
	assert.Contains(t, out, "✗ Running (3.0s)")
	assert.Contains(t, out, "  node2 went away\n")
	assert.NotContains(t, out, "check the network")
}

func TestPhaseDisplay_NothingToEnd(t *testing.T) {
	var buf bytes.Buffer
	pd := NewPhaseDisplay(&buf)

	pd.Succeed()
	pd.Fail(nil)

	assert.Empty(t, pd.Phases())
	assert.Empty(t, buf.String())
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{15 * time.Millisecond, "(15ms)"},
		{1500 * time.Millisecond, "(1.5s)"},
		{90*time.Second + 400*time.Millisecond, "(1m30s)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}

func TestRenderRunSummary(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	node1 := host.Host{Username: "ops", Hostname: "node1"}
	node2 := host.Host{Username: "ops", Hostname: "node2"}

	t.Run("success", func(t *testing.T) {
		res := &run.Result{
			Phase:      run.PhaseDone,
			Duration:   2 * time.Second,
			OutputPath: "/tmp/out",
			Scripts: []dispatch.Result{
				{Script: "bench", Host: node1, StartTime: start, EndTime: start.Add(time.Second)},
			},
			Downloads: []run.DownloadResult{
				{PendingDownload: run.PendingDownload{Host: node1, Remote: "/var/log/bench.log", Local: "/tmp/out/node1/bench.log"}},
			},
		}

		out := RenderRunSummary(res)
		assert.Contains(t, out, "✓ bench@node1 (1.0s)")
		assert.Contains(t, out, "✓ node1:/var/log/bench.log → node1/bench.log")
		assert.Contains(t, out, "✓ Finished in 2.0s at /tmp/out")
	})

	t.Run("failures", func(t *testing.T) {
		res := &run.Result{
			Phase:    run.PhaseDone,
			Duration: time.Second,
			Scripts: []dispatch.Result{
				{Script: "bench", Host: node1, StartTime: start, EndTime: start},
				{Script: "bench", Host: node2, StartTime: start, EndTime: start, Err: fmt.Errorf("exit status 3")},
			},
			Downloads: []run.DownloadResult{
				{PendingDownload: run.PendingDownload{Host: node2, Remote: "/missing", Local: "/elsewhere/missing"}, Err: fmt.Errorf("no such file")},
			},
		}

		out := RenderRunSummary(res)
		assert.Contains(t, out, "✗ bench@node2")
		assert.Contains(t, out, "    exit status 3\n")
		assert.Contains(t, out, "✗ node2:/missing → /elsewhere/missing")
		assert.Contains(t, out, "    no such file\n")
		assert.Contains(t, out, "Finished in 1.0s with 2 failures")
		assert.NotContains(t, out, " at ")
	})

	t.Run("aborted", func(t *testing.T) {
		res := &run.Result{
			Phase:       run.PhaseAborted,
			Duration:    500 * time.Millisecond,
			AbortReason: "running failed to connect",
			Pending: []run.PendingDownload{
				{Host: node1, Remote: "/var/log/bench.log"},
			},
		}

		out := RenderRunSummary(res)
		assert.Contains(t, out, "○ node1:/var/log/bench.log (not downloaded)")
		assert.Contains(t, out, "⊘ Aborted after 500ms: running failed to connect")
	})

	t.Run("nil", func(t *testing.T) {
		assert.Empty(t, RenderRunSummary(nil))
	})
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "boom", firstLine("\n✗ boom\nmore"))
	assert.Equal(t, "", firstLine("  \n "))
}
