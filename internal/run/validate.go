package run

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rileyhilliard/fleetrun/internal/errors"
	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/script"
)

// Report is the static signal graph of a run.
type Report struct {
	// Emitters counts, per signal name, the (script, host) pairs that emit it.
	Emitters map[string]int
	// Waiters lists, per signal name, the script@host pairs that wait for it.
	Waiters map[string][]string
	// Warnings holds everything suspicious that does not stop the run.
	Warnings []string
	// Problems holds the reasons the run can't start. Empty when valid.
	Problems []string
}

// Valid reports whether the run may start.
func (r *Report) Valid() bool { return len(r.Problems) == 0 }

// Analyze summarizes every scheduled script on every host without
// touching the coordinator. Each waited name needs at least one emitter,
// and a name waited for during setup must be emitted by setup scripts only.
func (r *Run) Analyze() *Report {
	rep := &Report{Emitters: make(map[string]int), Waiters: make(map[string][]string)}
	setupEmit := make(map[string]int)
	setupWait := make(map[string][]string)
	waitingSetup, waitingRun := 0, 0

	for _, h := range r.Hosts() {
		hs := r.hostScripts(h)
		hostWaits := false
		for _, s := range hs.setup {
			sum := r.summarize(rep, h, s)
			for _, name := range sum.Signals {
				setupEmit[name]++
			}
			for _, name := range sum.Waits {
				setupWait[name] = append(setupWait[name], s.Name()+"@"+h.Hostname)
			}
			hostWaits = hostWaits || len(sum.Waits) > 0
		}
		if hostWaits {
			waitingSetup++
		}
		for _, s := range hs.run {
			if sum := r.summarize(rep, h, s); len(sum.Waits) > 0 {
				waitingRun++
			}
		}
	}

	for _, name := range sortedKeys(rep.Waiters) {
		if rep.Emitters[name] == 0 {
			rep.Problems = append(rep.Problems, fmt.Sprintf("'%s' is waited for by %s but nothing signals it",
				name, strings.Join(rep.Waiters[name], ", ")))
			continue
		}
		waiters, ok := setupWait[name]
		if !ok {
			continue
		}
		if setupEmit[name] == 0 {
			rep.Problems = append(rep.Problems, fmt.Sprintf("'%s' is waited for during setup by %s but only run scripts signal it",
				name, strings.Join(waiters, ", ")))
		} else if setupEmit[name] < rep.Emitters[name] {
			// The count includes run emitters, which start after setup ends.
			rep.Problems = append(rep.Problems, fmt.Sprintf("'%s' is waited for during setup by %s but run scripts also signal it",
				name, strings.Join(waiters, ", ")))
		}
	}
	for _, name := range sortedKeys(rep.Emitters) {
		if _, ok := rep.Waiters[name]; !ok {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("'%s' is signaled but nothing waits for it", name))
		}
	}

	workers := r.dispatcher.Config().Workers
	if waitingSetup >= workers {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf(
			"%d setup scripts wait for signals and the command pool has %d workers; raise --command-pool if the run stalls",
			waitingSetup, workers))
	}
	if waitingRun >= workers {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf(
			"%d run scripts wait for signals and the command pool has %d workers; raise --command-pool if the run stalls",
			waitingRun, workers))
	}
	return rep
}

func (r *Run) summarize(rep *Report, h host.Host, s *script.Script) script.Summary {
	sum := script.Summarize(s, r.HostState(h))
	for _, name := range sum.Signals {
		rep.Emitters[name]++
	}
	for _, name := range sum.Waits {
		rep.Waiters[name] = append(rep.Waiters[name], s.Name()+"@"+h.Hostname)
	}
	for _, w := range sum.Warnings {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s@%s: %s", s.Name(), h.Hostname, w))
	}
	return sum
}

// hostScripts returns a snapshot of the work assigned to h.
func (r *Run) hostScripts(h host.Host) hostScripts {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs, ok := r.scripts[h.Key()]
	if !ok {
		return hostScripts{}
	}
	return hostScripts{
		state: hs.state,
		setup: append([]*script.Script(nil), hs.setup...),
		run:   append([]*script.Script(nil), hs.run...),
	}
}

// Validate checks the signal graph and, when it holds, registers every
// emitted name with the coordinator. Nothing is contacted.
func (r *Run) Validate() error {
	r.setPhase(PhaseValidating)
	rep := r.Analyze()
	for _, w := range rep.Warnings {
		r.log.Warn("%s", w)
	}
	if !rep.Valid() {
		for _, p := range rep.Problems {
			r.log.Error("%s", p)
		}
		return errors.New(errors.ErrValidation,
			fmt.Sprintf("Signal graph is inconsistent:\n  %s", strings.Join(rep.Problems, "\n  ")),
			"Every wait-for needs a signal from a script scheduled in the same or an earlier phase")
	}

	for _, name := range sortedKeys(rep.Emitters) {
		if err := r.coord.Initialize(name, rep.Emitters[name]); err != nil {
			return err
		}
		r.log.Debug("signal %s expects %d emitter(s)", name, rep.Emitters[name])
	}
	return r.coord.Initialize(r.latch, 1)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
