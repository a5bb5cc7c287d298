package script

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/fleetrun/internal/state"
)

// Summary is the static signal footprint of a script on one host.
type Summary struct {
	// Signals holds every distinct name the script may emit, in first-seen order.
	Signals []string
	// Waits holds every distinct name the script may wait for, in first-seen order.
	Waits []string
	// Warnings describes names that could not be resolved and other
	// suspicious constructs. They never fail a run on their own.
	Warnings []string
}

// Emits reports whether name is among the script's signals.
func (s Summary) Emits(name string) bool { return contains(s.Signals, name) }

// WaitsFor reports whether name is among the script's waits.
func (s Summary) WaitsFor(name string) bool { return contains(s.Waits, name) }

func contains(list []string, name string) bool {
	for _, n := range list {
		if n == name {
			return true
		}
	}
	return false
}

// Summarize walks s without executing it. Signal and wait names holding
// ${{...}} references are resolved against st; both branches of every if
// and the body of every loop are considered reachable.
func Summarize(s *Script, st *state.State) Summary {
	w := &summarizer{st: st, firstSignal: map[string]int{}, firstWait: map[string]int{}}
	w.script(s, nil)
	for _, name := range w.sum.Waits {
		sig, ok := w.firstSignal[name]
		if ok && w.firstWait[name] < sig {
			w.warn("%s waits for '%s' before signaling it", s.Name(), name)
		}
	}
	return w.sum
}

type summarizer struct {
	st  *state.State
	sum Summary

	seq         int
	firstSignal map[string]int
	firstWait   map[string]int
}

func (w *summarizer) warn(format string, args ...interface{}) {
	w.sum.Warnings = append(w.sum.Warnings, fmt.Sprintf(format, args...))
}

func (w *summarizer) script(s *Script, path []string) {
	for _, p := range path {
		if p == s.Name() {
			w.warn("invoke cycle %s -> %s is not followed", strings.Join(path, " -> "), s.Name())
			return
		}
	}
	w.cmds(s.Name(), s.cmds, append(path, s.Name()))
}

func (w *summarizer) cmds(owner string, cmds []Cmd, path []string) {
	for _, cmd := range cmds {
		w.seq++
		switch c := cmd.(type) {
		case *SignalCmd:
			if name, ok := w.resolve(owner, c); ok && !contains(w.sum.Signals, name) {
				w.sum.Signals = append(w.sum.Signals, name)
				w.firstSignal[name] = w.seq
			}
		case *WaitForCmd:
			if name, ok := w.resolve(owner, c); ok && !contains(w.sum.Waits, name) {
				w.sum.Waits = append(w.sum.Waits, name)
				w.firstWait[name] = w.seq
			}
		case *InvokeCmd:
			w.script(c.Script, path)
		case Branches:
			for _, branch := range c.Branches() {
				w.cmds(owner, branch, path)
			}
		}
	}
}

func (w *summarizer) resolve(owner string, cmd Cmd) (string, bool) {
	var raw string
	switch c := cmd.(type) {
	case *SignalCmd:
		raw = c.Name
	case *WaitForCmd:
		raw = c.Name
	}
	name := raw
	if state.HasReferences(raw) {
		st := w.st
		if st == nil {
			st = state.New()
		}
		populated, err := st.Populate(raw)
		if err != nil {
			w.warn("%s: %s '%s' cannot be resolved: %v", owner, cmd.Kind(), raw, err)
			return "", false
		}
		name = populated
	}
	if strings.TrimSpace(name) == "" {
		w.warn("%s: %s has an empty name", owner, cmd.Kind())
		return "", false
	}
	return name, true
}
