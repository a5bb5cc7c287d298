package host

import "sync"

// Role is a named group of hosts. Scripts assigned to a role run on every
// host in it.
type Role struct {
	name string

	mu    sync.Mutex
	hosts *Set
}

// NewRole creates an empty role.
func NewRole(name string) *Role {
	return &Role{name: name, hosts: NewSet()}
}

// Name returns the role name.
func (r *Role) Name() string { return r.name }

// Add puts h in the role. Adding the same host twice is a no-op.
func (r *Role) Add(h Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts.Add(h)
}

// Hosts returns the role members in insertion order.
func (r *Role) Hosts() []Host {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hosts.List()
}
