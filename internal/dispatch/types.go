package dispatch

import (
	"time"

	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/script"
)

// Observer receives dispatcher lifecycle notifications. Callbacks run on
// dispatcher goroutines but never while the dispatcher lock is held, so
// they may call back into the dispatcher.
//
// Implementations must be comparable (typically pointers) so they can be
// removed again.
type Observer interface {
	OnCmdStart(cc *script.Context, cmd script.Cmd)
	OnCmdStop(cc *script.Context, cmd script.Cmd, err error)
	OnStart()
	OnStop()
}

// BaseObserver implements Observer with no-ops for embedding.
type BaseObserver struct{}

func (BaseObserver) OnCmdStart(*script.Context, script.Cmd)       {}
func (BaseObserver) OnCmdStop(*script.Context, script.Cmd, error) {}
func (BaseObserver) OnStart()                                     {}
func (BaseObserver) OnStop()                                      {}

// Result is the outcome of one (script, host) execution.
type Result struct {
	Script    string
	Host      host.Host
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

// Success returns true if every node of the script completed.
func (r Result) Success() bool {
	return r.Err == nil
}

// Duration returns the wall-clock time the script took, queueing included.
func (r Result) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Config holds the pool sizes.
type Config struct {
	Workers   int // concurrent (script, host) executions
	Scheduled int // concurrent deferred nodes such as sleep
}

// DefaultConfig returns the default pool sizes.
func DefaultConfig() Config {
	return Config{
		Workers:   24,
		Scheduled: 4,
	}
}
