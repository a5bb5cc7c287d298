package dispatch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rileyhilliard/fleetrun/internal/errors"
	"github.com/rileyhilliard/fleetrun/internal/logger"
	"github.com/rileyhilliard/fleetrun/internal/script"
)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithWorkers sets the worker pool size. Values below one are ignored.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.config.Workers = n
		}
	}
}

// WithScheduled sets the scheduled pool size. Values below one are ignored.
func WithScheduled(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.config.Scheduled = n
		}
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

type job struct {
	script *script.Script
	cc     *script.Context
}

// Dispatcher runs scripts concurrently, each one sequentially on its own
// context. A batch starts with Start and ends when every script queued
// into it has finished, at which point observers get OnStop.
type Dispatcher struct {
	config    Config
	log       logger.Logger
	workers   *semaphore.Weighted
	scheduled *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	queue     []job
	active    int
	running   bool
	stopped   bool
	epoch     uint64
	observers []Observer
	idle      []chan struct{}
	results   []Result
}

// New creates a dispatcher with the default pool sizes unless overridden.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		config: DefaultConfig(),
		log:    logger.Noop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.workers = semaphore.NewWeighted(int64(d.config.Workers))
	d.scheduled = semaphore.NewWeighted(int64(d.config.Scheduled))
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Config returns the pool sizes in effect.
func (d *Dispatcher) Config() Config { return d.config }

// AddObserver registers o for all future notifications.
func (d *Dispatcher) AddObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// RemoveObserver unregisters o.
func (d *Dispatcher) RemoveObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, existing := range d.observers {
		if existing == o {
			d.observers = append(d.observers[:i:i], d.observers[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) snapshot() []Observer {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Observer(nil), d.observers...)
}

// AddScript queues s to run under cc on the next Start.
func (d *Dispatcher) AddScript(s *script.Script, cc *script.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return errors.New(errors.ErrAbort,
			"Can't queue '"+s.Name()+"' on "+cc.Host().String()+": dispatcher is stopped",
			"")
	}
	d.queue = append(d.queue, job{script: s, cc: cc})
	return nil
}

// Start runs everything queued. The first Start of a batch fires OnStart.
// Starting with nothing queued and nothing running fires OnStart then
// OnStop, so an empty batch still completes.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	jobs := d.queue
	d.queue = nil

	fireStart := !d.running
	if fireStart {
		d.running = true
		d.epoch++
	}
	epoch := d.epoch
	d.active += len(jobs)
	d.wg.Add(len(jobs))

	var idle []chan struct{}
	fireStop := d.active == 0
	if fireStop {
		d.running = false
		idle = d.idle
		d.idle = nil
	}
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	if fireStart {
		d.log.Debug("batch %d started with %d script(s)", epoch, len(jobs))
		for _, o := range observers {
			o.OnStart()
		}
	}
	if len(jobs) > 0 {
		go d.launch(jobs)
	}
	if fireStop {
		d.notifyStop(epoch, observers, idle)
	}
}

// Stop cancels running scripts, drops queued ones and fires OnStop, even
// when no batch was started. Calling Stop more than once is a no-op.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	dropped := d.queue
	d.queue = nil
	d.cancel()
	d.running = false
	idle := d.idle
	d.idle = nil
	epoch := d.epoch
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	d.log.Debug("dispatcher stopped, %d queued script(s) dropped", len(dropped))
	for _, j := range dropped {
		if sess := j.cc.Session(); sess != nil {
			_ = sess.Close()
		}
	}
	d.notifyStop(epoch, observers, idle)
}

// Stopped reports whether Stop has been called.
func (d *Dispatcher) Stopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// Wait blocks until every started script has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// NotifyIdle returns a channel closed on the next OnStop. After Stop the
// channel is already closed.
func (d *Dispatcher) NotifyIdle() <-chan struct{} {
	ch := make(chan struct{})
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		close(ch)
		return ch
	}
	d.idle = append(d.idle, ch)
	return ch
}

// Results returns the outcome of every finished script so far.
func (d *Dispatcher) Results() []Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Result(nil), d.results...)
}

func (d *Dispatcher) notifyStop(epoch uint64, observers []Observer, idle []chan struct{}) {
	d.log.Debug("batch %d finished", epoch)
	for _, o := range observers {
		o.OnStop()
	}
	for _, ch := range idle {
		close(ch)
	}
}

// launch hands out worker slots in queue order. Each job starts as soon as
// it holds a slot; after Stop the remaining jobs end without running.
func (d *Dispatcher) launch(jobs []job) {
	for _, j := range jobs {
		queued := time.Now()
		err := d.workers.Acquire(d.ctx, 1)
		go d.execute(j, queued, err)
	}
}

func (d *Dispatcher) execute(j job, queued time.Time, acquireErr error) {
	defer d.wg.Done()

	res := Result{Script: j.script.Name(), Host: j.cc.Host(), StartTime: queued}
	w := &walker{d: d}
	if acquireErr != nil {
		res.Err = errors.WrapWithCode(acquireErr, errors.ErrAbort, "Run stopped before the script started", "")
	} else {
		w.held = true
		j.cc.Logger().Debug("started")
		res.Err = w.Walk(d.ctx, j.cc, j.script.Cmds())
		if w.held {
			d.workers.Release(1)
		}
	}
	if p := j.cc.Profiler(); p != nil {
		p.Stop()
	}
	if sess := j.cc.Session(); sess != nil {
		if err := sess.Close(); err != nil {
			j.cc.Logger().Debug("closing session: %v", err)
		}
	}
	res.EndTime = time.Now()

	switch {
	case res.Err == nil:
		j.cc.Logger().Debug("finished in %s", res.Duration().Round(time.Millisecond))
	case d.ctx.Err() != nil:
		j.cc.Logger().Warn("cancelled: %v", res.Err)
	default:
		j.cc.Logger().Error("failed: %v", res.Err)
	}
	d.finish(res)
}

func (d *Dispatcher) finish(res Result) {
	d.mu.Lock()
	d.results = append(d.results, res)
	d.active--
	if d.active > 0 || !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	epoch := d.epoch
	idle := d.idle
	d.idle = nil
	observers := append([]Observer(nil), d.observers...)
	d.mu.Unlock()

	d.notifyStop(epoch, observers, idle)
}
