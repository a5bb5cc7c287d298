// Package coord provides the named counting barriers scripts use to
// rendezvous across hosts.
//
// Each name is initialized once with the number of emitters expected. Every
// Signal counts down; when the count reaches zero all waiters on that name are
// released and every observer is told exactly once. Waiters may arrive before
// the name is initialized, and signals may arrive before it too: the barrier
// entry is created by whichever call comes first.
package coord

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rileyhilliard/fleetrun/internal/errors"
)

// Observer is called once for each name when it reaches zero.
type Observer func(name string)

type latch struct {
	initialized bool
	remaining   int
	early       int // signals received before initialization
	released    chan struct{}
	done        bool
}

// Coordinator holds every barrier for one run.
type Coordinator struct {
	mu        sync.Mutex
	latches   map[string]*latch
	observers []Observer
}

// New creates an empty coordinator.
func New() *Coordinator {
	return &Coordinator{latches: make(map[string]*latch)}
}

// ensure returns the latch for name, creating it. Caller holds mu.
func (c *Coordinator) ensure(name string) *latch {
	l, ok := c.latches[name]
	if !ok {
		l = &latch{released: make(chan struct{})}
		c.latches[name] = l
	}
	return l
}

// release closes the latch and returns the observers to notify. Caller holds mu.
func (c *Coordinator) release(l *latch) []Observer {
	l.done = true
	l.remaining = 0
	close(l.released)
	return append([]Observer(nil), c.observers...)
}

// Initialize registers count expected signals for name.
// A name can only be initialized once per coordinator.
func (c *Coordinator) Initialize(name string, count int) error {
	if count < 1 {
		return errors.New(errors.ErrValidation,
			fmt.Sprintf("Signal '%s' needs a positive count, got %d", name, count),
			"Only initialize names that have at least one emitter")
	}

	c.mu.Lock()
	l := c.ensure(name)
	if l.initialized {
		c.mu.Unlock()
		return errors.New(errors.ErrValidation,
			fmt.Sprintf("Signal '%s' is already initialized", name),
			"Each signal name is counted once per run")
	}
	l.initialized = true
	l.remaining = count - l.early
	var notify []Observer
	if l.remaining <= 0 && !l.done {
		notify = c.release(l)
	}
	c.mu.Unlock()

	for _, o := range notify {
		o(name)
	}
	return nil
}

// Signal counts down name by one. Signals after the count reached zero are ignored.
func (c *Coordinator) Signal(name string) {
	c.mu.Lock()
	l := c.ensure(name)
	if l.done {
		c.mu.Unlock()
		return
	}
	if !l.initialized {
		l.early++
		c.mu.Unlock()
		return
	}
	l.remaining--
	var notify []Observer
	if l.remaining <= 0 {
		notify = c.release(l)
	}
	c.mu.Unlock()

	for _, o := range notify {
		o(name)
	}
}

// WaitFor blocks until name reaches zero or ctx is done.
func (c *Coordinator) WaitFor(ctx context.Context, name string) error {
	c.mu.Lock()
	released := c.ensure(name).released
	c.mu.Unlock()

	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Released returns a channel closed when name reaches zero.
func (c *Coordinator) Released(name string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensure(name).released
}

// AddObserver registers o for every name that reaches zero from now on.
func (c *Coordinator) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Remaining reports the outstanding count for name.
// The boolean is false when name was never initialized.
func (c *Coordinator) Remaining(name string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.latches[name]
	if !ok || !l.initialized {
		return 0, false
	}
	return l.remaining, true
}

// Names returns every initialized name, sorted.
func (c *Coordinator) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.latches))
	for name, l := range c.latches {
		if l.initialized {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
