package host

import "sync"

// Set is an insertion-ordered collection of hosts, unique by Key.
type Set struct {
	mu    sync.Mutex
	order []Key
	hosts map[Key]Host
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{hosts: make(map[Key]Host)}
}

// Add inserts h and reports whether it was new.
func (s *Set) Add(h Host) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := h.Key()
	if _, ok := s.hosts[k]; ok {
		return false
	}
	s.order = append(s.order, k)
	s.hosts[k] = h
	return true
}

// Get looks a host up by key.
func (s *Set) Get(k Key) (Host, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hosts[k]
	return h, ok
}

// Len returns the number of hosts.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// List returns the hosts in insertion order.
func (s *Set) List() []Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Host, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.hosts[k])
	}
	return out
}
