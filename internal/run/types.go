package run

import (
	"context"
	"time"

	"github.com/rileyhilliard/fleetrun/internal/dispatch"
	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/script"
)

// Phase is a step of the run state machine.
type Phase string

const (
	PhaseCreated    Phase = "created"
	PhaseValidating Phase = "validating"
	PhaseSettingUp  Phase = "setting-up"
	PhaseRunning    Phase = "running"
	PhaseCompleting Phase = "completing"
	PhaseDone       Phase = "done"
	PhaseAborted    Phase = "aborted"
)

// SessionOpener connects to a host. Every (script, host) execution gets
// its own session, closed when the script ends.
type SessionOpener func(ctx context.Context, h host.Host) (script.Session, error)

// PendingDownload is a file a script asked for, fetched after the run completes.
type PendingDownload struct {
	Host   host.Host
	Remote string
	Local  string
}

// DownloadResult is the outcome of one flushed download.
type DownloadResult struct {
	PendingDownload
	Err error
}

// Result summarizes a finished run.
type Result struct {
	ID          string
	Name        string
	Phase       Phase
	Duration    time.Duration
	OutputPath  string
	AbortReason string
	Scripts     []dispatch.Result
	Downloads   []DownloadResult
	Pending     []PendingDownload // queued but never fetched because the run aborted
}

// Failed returns the number of scripts and downloads that failed.
func (r *Result) Failed() int {
	n := 0
	for _, s := range r.Scripts {
		if !s.Success() {
			n++
		}
	}
	for _, d := range r.Downloads {
		if d.Err != nil {
			n++
		}
	}
	return n
}

// Success returns true if the run completed and nothing failed.
func (r *Result) Success() bool {
	return r.Phase == PhaseDone && r.Failed() == 0
}
