package dispatch

import (
	"context"

	"github.com/rileyhilliard/fleetrun/internal/script"
)

// Profiler phases recorded per (script, host).
const (
	PhaseExecute = "execute"
	PhaseWaiting = "waiting"
)

// walker runs the nodes of one job. It owns that job's worker slot and
// gives it up while a deferred node runs.
type walker struct {
	d     *Dispatcher
	held  bool
	phase string
}

func (w *walker) Walk(ctx context.Context, cc *script.Context, cmds []script.Cmd) error {
	for _, cmd := range cmds {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.step(ctx, cc, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) step(ctx context.Context, cc *script.Context, cmd script.Cmd) error {
	w.enter(cc, cmd)
	observers := w.d.snapshot()
	for _, o := range observers {
		o.OnCmdStart(cc, cmd)
	}

	var err error
	if deferred, ok := cmd.(script.Deferred); ok && deferred.Deferred() {
		err = w.deferred(ctx, cc, cmd)
	} else {
		err = cmd.Execute(ctx, cc, w)
	}

	for _, o := range observers {
		o.OnCmdStop(cc, cmd, err)
	}
	return err
}

// deferred moves cmd from the worker pool to the scheduled pool and back.
func (w *walker) deferred(ctx context.Context, cc *script.Context, cmd script.Cmd) error {
	if w.held {
		w.d.workers.Release(1)
		w.held = false
	}
	if err := w.d.scheduled.Acquire(ctx, 1); err != nil {
		return err
	}
	err := cmd.Execute(ctx, cc, w)
	w.d.scheduled.Release(1)
	if err != nil {
		return err
	}
	if err := w.d.workers.Acquire(ctx, 1); err != nil {
		return err
	}
	w.held = true
	return nil
}

// enter switches the profiler phase when the kind of work changes.
// Composite nodes keep the current phase; their children decide.
func (w *walker) enter(cc *script.Context, cmd script.Cmd) {
	p := cc.Profiler()
	if p == nil {
		return
	}
	phase := PhaseExecute
	switch cmd.Kind() {
	case script.KindWaitFor, script.KindSleep:
		phase = PhaseWaiting
	case script.KindIf, script.KindLoop, script.KindInvoke:
		if w.phase != "" {
			return
		}
	}
	if phase != w.phase {
		w.phase = phase
		p.Start(phase)
	}
}
