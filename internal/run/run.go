// Package run sequences a fleet run: it validates the signal graph, runs
// every host's setup scripts, then every run script, and finally fetches
// the files scripts queued for download.
package run

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rileyhilliard/fleetrun/internal/coord"
	"github.com/rileyhilliard/fleetrun/internal/dispatch"
	"github.com/rileyhilliard/fleetrun/internal/errors"
	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/logger"
	"github.com/rileyhilliard/fleetrun/internal/profile"
	"github.com/rileyhilliard/fleetrun/internal/script"
	"github.com/rileyhilliard/fleetrun/internal/state"
)

// Options configures a Run.
type Options struct {
	Name       string
	OutputPath string
	Opener     SessionOpener
	Dispatch   dispatch.Config
	Logger     logger.Logger
	// OnPhase, when set, is called after every phase change.
	OnPhase func(prev, next Phase)
}

// hostScripts is the work assigned to one host.
type hostScripts struct {
	state *state.State
	setup []*script.Script
	run   []*script.Script
}

// Run is one invocation against a fleet. Build it with hosts, roles and
// scripts, then call Execute once.
type Run struct {
	id      uuid.UUID
	name    string
	output  string
	opener  SessionOpener
	log     logger.Logger
	onPhase func(prev, next Phase)

	root       *state.State
	coord      *coord.Coordinator
	dispatcher *dispatch.Dispatcher
	profiles   *profile.Profiles
	latch      string

	mu      sync.Mutex
	hosts   *host.Set
	scripts map[host.Key]*hostScripts
	roles   map[string]*Role
	roleOrd []string

	phaseMu sync.Mutex
	phase   Phase

	aborted     atomic.Bool
	abortOnce   sync.Once
	abortReason string
	abortErr    error
	cancel      context.CancelFunc

	dlMu      sync.Mutex
	downloads map[host.Key][]PendingDownload
}

// New creates an empty run.
func New(opts Options) *Run {
	id := uuid.New()
	name := opts.Name
	if name == "" {
		name = "fleetrun"
	}
	log := opts.Logger
	if log == nil {
		log = logger.Noop()
	}
	log = log.With("run", name)

	cfg := opts.Dispatch
	r := &Run{
		id:         id,
		name:       name,
		output:     opts.OutputPath,
		opener:     opts.Opener,
		onPhase:    opts.OnPhase,
		log:        log,
		root:       state.New(),
		coord:      coord.New(),
		dispatcher: dispatch.New(dispatch.WithWorkers(cfg.Workers), dispatch.WithScheduled(cfg.Scheduled), dispatch.WithLogger(log)),
		profiles:   profile.NewProfiles(),
		latch:      "run-" + id.String(),
		hosts:      host.NewSet(),
		scripts:    make(map[host.Key]*hostScripts),
		roles:      make(map[string]*Role),
		phase:      PhaseCreated,
		downloads:  make(map[host.Key][]PendingDownload),
	}
	r.coord.AddObserver(func(name string) {
		if name != r.latch {
			r.log.Info("reached %s", name)
		}
	})
	return r
}

func (r *Run) ID() string                       { return r.id.String() }
func (r *Run) Name() string                     { return r.name }
func (r *Run) OutputPath() string               { return r.output }
func (r *Run) Coordinator() *coord.Coordinator  { return r.coord }
func (r *Run) Dispatcher() *dispatch.Dispatcher { return r.dispatcher }
func (r *Run) Profiles() *profile.Profiles      { return r.profiles }
func (r *Run) State() *state.State              { return r.root }
func (r *Run) Logger() logger.Logger            { return r.log }

// Phase returns the current state machine phase.
func (r *Run) Phase() Phase {
	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()
	return r.phase
}

// setPhase moves to next. Aborted is terminal.
func (r *Run) setPhase(next Phase) {
	r.phaseMu.Lock()
	prev := r.phase
	if prev == PhaseAborted || prev == next {
		r.phaseMu.Unlock()
		return
	}
	r.phase = next
	r.phaseMu.Unlock()
	r.log.Debug("phase %s -> %s", prev, next)
	if r.onPhase != nil {
		r.onPhase(prev, next)
	}
}

// AddHost registers h and reports whether it was new.
func (r *Run) AddHost(h host.Host) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addHostLocked(h)
}

func (r *Run) addHostLocked(h host.Host) bool {
	if !r.hosts.Add(h) {
		return false
	}
	r.scripts[h.Key()] = &hostScripts{state: r.root.NewHostState()}
	return true
}

// Hosts returns the registered hosts in insertion order.
func (r *Run) Hosts() []host.Host {
	return r.hosts.List()
}

// HostState returns the state scope of h, registering h if needed.
func (r *Run) HostState(h host.Host) *state.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addHostLocked(h)
	return r.scripts[h.Key()].state
}

// AddSetupScript schedules s on h during the setup phase.
// A script already scheduled for h is not added twice.
func (r *Run) AddSetupScript(h host.Host, s *script.Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addHostLocked(h)
	hs := r.scripts[h.Key()]
	hs.setup = appendUnique(hs.setup, s)
}

// AddRunScript schedules s on h during the run phase.
// A script already scheduled for h is not added twice.
func (r *Run) AddRunScript(h host.Host, s *script.Script) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.addHostLocked(h)
	hs := r.scripts[h.Key()]
	hs.run = appendUnique(hs.run, s)
}

func appendUnique(list []*script.Script, s *script.Script) []*script.Script {
	for _, existing := range list {
		if existing == s || existing.Name() == s.Name() {
			return list
		}
	}
	return append(list, s)
}

// SetupScripts returns the setup scripts scheduled for h.
func (r *Run) SetupScripts(h host.Host) []*script.Script {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hs, ok := r.scripts[h.Key()]; ok {
		return append([]*script.Script(nil), hs.setup...)
	}
	return nil
}

// RunScripts returns the run scripts scheduled for h.
func (r *Run) RunScripts(h host.Host) []*script.Script {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hs, ok := r.scripts[h.Key()]; ok {
		return append([]*script.Script(nil), hs.run...)
	}
	return nil
}

// Role returns the role called name, creating it on first use.
func (r *Run) Role(name string) *Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	if role, ok := r.roles[name]; ok {
		return role
	}
	role := &Role{Role: host.NewRole(name), run: r}
	r.roles[name] = role
	r.roleOrd = append(r.roleOrd, name)
	return role
}

// Roles returns every role in creation order.
func (r *Run) Roles() []*Role {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Role, 0, len(r.roleOrd))
	for _, name := range r.roleOrd {
		out = append(out, r.roles[name])
	}
	return out
}

// QueueDownload records a file to fetch from h once the run completes.
func (r *Run) QueueDownload(h host.Host, remotePath, localPath string) {
	r.dlMu.Lock()
	defer r.dlMu.Unlock()
	r.downloads[h.Key()] = append(r.downloads[h.Key()], PendingDownload{Host: h, Remote: remotePath, Local: localPath})
}

// Abort stops the run: running scripts are cancelled, queued ones dropped
// and Execute returns. Aborting a finished run does nothing.
func (r *Run) Abort(reason string) {
	r.abort(reason, errors.New(errors.ErrAbort, "Run aborted: "+reason, ""))
}

// abort records cause as the error Execute returns.
func (r *Run) abort(reason string, cause error) {
	if r.Phase() == PhaseDone {
		return
	}
	r.abortOnce.Do(func() {
		r.phaseMu.Lock()
		r.abortReason = reason
		r.abortErr = cause
		cancel := r.cancel
		r.phaseMu.Unlock()

		r.aborted.Store(true)
		r.log.Error("aborting: %s", reason)
		r.setPhase(PhaseAborted)
		if cancel != nil {
			cancel()
		}
		r.dispatcher.Stop()
		r.coord.Signal(r.latch)
	})
}

// AbortReason returns the reason given to Abort, if any.
func (r *Run) AbortReason() string {
	r.phaseMu.Lock()
	defer r.phaseMu.Unlock()
	return r.abortReason
}

// Aborted reports whether Abort was called.
func (r *Run) Aborted() bool {
	return r.aborted.Load()
}

func (r *Run) String() string {
	return fmt.Sprintf("%s (%s)", r.name, r.id)
}
