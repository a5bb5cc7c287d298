package testing

import (
	"context"
	"sync"

	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/script"
)

// Fleet hands out mock sessions by hostname. Its Open method has the
// shape of a run session opener.
type Fleet struct {
	mu       sync.Mutex
	hosts    map[string]*MockHost
	failures map[string]error
	opened   []string
}

// NewFleet creates a fleet with no hosts; hosts appear on first use.
func NewFleet() *Fleet {
	return &Fleet{
		hosts:    make(map[string]*MockHost),
		failures: make(map[string]error),
	}
}

// Host returns the mock for hostname, creating it.
func (f *Fleet) Host(hostname string) *MockHost {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hostLocked(hostname)
}

func (f *Fleet) hostLocked(hostname string) *MockHost {
	h, ok := f.hosts[hostname]
	if !ok {
		h = NewMockHost(hostname)
		f.hosts[hostname] = h
	}
	return h
}

// Fail makes every Open for hostname return err.
func (f *Fleet) Fail(hostname string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[hostname] = err
}

// Open opens a new session on h.
func (f *Fleet) Open(ctx context.Context, h host.Host) (script.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, h.Hostname)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.failures[h.Hostname]; ok {
		return nil, err
	}
	return f.hostLocked(h.Hostname).NewSession(), nil
}

// Opened returns the hostname of every Open call, failed ones included.
func (f *Fleet) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}
