// Package state implements the hierarchical variable scopes used while
// scripts execute: one global scope per run, one scope per host, and one
// scope per (script, host) execution.
//
// A child scope links one-way to its parent when it is created. Lookups walk
// from the receiver towards the root; writes only touch the receiver.
// Sibling scopes never see each other.
package state

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rileyhilliard/fleetrun/internal/errors"
)

// Level identifies where in the chain a scope sits.
type Level int

const (
	LevelRun Level = iota
	LevelHost
	LevelScript
)

func (l Level) String() string {
	switch l {
	case LevelRun:
		return "run"
	case LevelHost:
		return "host"
	case LevelScript:
		return "script"
	default:
		return "unknown"
	}
}

// State is one scope in the chain. It is safe for concurrent use.
type State struct {
	parent *State
	level  Level

	mu     sync.RWMutex
	values map[string]string
}

// New creates a root (run level) scope.
func New() *State {
	return &State{level: LevelRun, values: make(map[string]string)}
}

// NewHostState creates a host scope whose parent is s.
func (s *State) NewHostState() *State {
	return &State{parent: s, level: LevelHost, values: make(map[string]string)}
}

// NewScriptState creates a script scope whose parent is s.
func (s *State) NewScriptState() *State {
	return &State{parent: s, level: LevelScript, values: make(map[string]string)}
}

// Parent returns the enclosing scope, nil for the root.
func (s *State) Parent() *State { return s.parent }

// Level returns the scope level.
func (s *State) Level() Level { return s.level }

// Scope returns the nearest scope (s or an ancestor) at the given level.
func (s *State) Scope(level Level) *State {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.level == level {
			return cur
		}
	}
	return nil
}

// Set stores value under key in this scope only.
func (s *State) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

// SetAll stores every entry of values in this scope.
func (s *State) SetAll(values map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.values[k] = v
	}
}

// Get resolves key in this scope, then each ancestor in turn.
// The boolean is false when no scope in the chain has the key.
func (s *State) Get(key string) (string, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.local(key); ok {
			return v, true
		}
	}
	return "", false
}

// Has reports whether key resolves anywhere in the chain.
func (s *State) Has(key string) bool {
	_, ok := s.Get(key)
	return ok
}

func (s *State) local(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Keys returns the sorted keys set directly on this scope.
func (s *State) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Env flattens the visible chain into one map, nearest scope winning.
func (s *State) Env() map[string]string {
	var chain []*State
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	env := make(map[string]string)
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		for k, v := range chain[i].values {
			env[k] = v
		}
		chain[i].mu.RUnlock()
	}
	return env
}

// referencePattern matches ${{name}} and ${{name:default}}.
var referencePattern = regexp.MustCompile(`\$\{\{\s*([^}:\s]+)\s*(?::([^}]*))?\}\}`)

// HasReferences reports whether text contains any ${{...}} reference.
func HasReferences(text string) bool {
	return referencePattern.MatchString(text)
}

// References returns the names referenced in text, in order of appearance.
func References(text string) []string {
	var names []string
	for _, m := range referencePattern.FindAllStringSubmatch(text, -1) {
		names = append(names, m[1])
	}
	return names
}

// Populate replaces every ${{name}} in text with its value from the chain.
// ${{name:default}} uses default when name is unset. Any reference left
// unresolved is reported as an error listing the missing names.
func (s *State) Populate(text string) (string, error) {
	var missing []string
	out := referencePattern.ReplaceAllStringFunc(text, func(match string) string {
		m := referencePattern.FindStringSubmatch(match)
		if v, ok := s.Get(m[1]); ok {
			return v
		}
		if strings.Contains(match, ":") {
			return m[2]
		}
		missing = append(missing, m[1])
		return match
	})
	if len(missing) > 0 {
		return out, errors.New(errors.ErrExec,
			fmt.Sprintf("Unresolved state reference(s): %s", strings.Join(missing, ", ")),
			"Set them in the run file 'states' section or with -S key=value")
	}
	return out, nil
}
