// Package profile records how long each (script, host) execution spends in
// its phases (connecting, waiting for the dispatcher, executing).
//
// Every finished phase is also observed into a Prometheus histogram on a
// registry private to the run, so the timings can be written out as a
// metrics artifact next to run.log.
package profile

import (
	"io"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Phase is one completed, named span of a profiler.
type Phase struct {
	Name      string
	StartTime time.Time
	EndTime   time.Time
}

// Duration returns the phase duration.
func (p Phase) Duration() time.Duration {
	return p.EndTime.Sub(p.StartTime)
}

// Profiles owns every profiler for a run.
type Profiles struct {
	mu        sync.Mutex
	profilers map[string]*Profiler
	registry  *prometheus.Registry
	durations *prometheus.HistogramVec
	now       func() time.Time
}

// NewProfiles creates an empty set with its own metrics registry.
func NewProfiles() *Profiles {
	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fleetrun",
		Name:      "phase_duration_seconds",
		Help:      "Time spent by a script on a host in each phase.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"profile", "phase"})

	registry := prometheus.NewRegistry()
	registry.MustRegister(durations)

	return &Profiles{
		profilers: make(map[string]*Profiler),
		registry:  registry,
		durations: durations,
		now:       time.Now,
	}
}

// Get returns the profiler called name, creating it on first use.
func (p *Profiles) Get(name string) *Profiler {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prof, ok := p.profilers[name]; ok {
		return prof
	}
	prof := &Profiler{name: name, owner: p}
	p.profilers[name] = prof
	return prof
}

// Names returns the profiler names, sorted.
func (p *Profiles) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.profilers))
	for name := range p.profilers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Registry exposes the metrics registry.
func (p *Profiles) Registry() *prometheus.Registry {
	return p.registry
}

// WriteMetrics writes every gathered metric family in the Prometheus text format.
func (p *Profiles) WriteMetrics(w io.Writer) error {
	families, err := p.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Profiler tracks the phases of one (script, host) execution.
// Starting a phase ends the one in progress.
type Profiler struct {
	name  string
	owner *Profiles

	mu      sync.Mutex
	current string
	started time.Time
	phases  []Phase
}

// Name returns the profiler name.
func (p *Profiler) Name() string { return p.name }

// Start ends the running phase, if any, and begins a new one.
func (p *Profiler) Start(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.owner.now()
	p.finish(now)
	p.current = phase
	p.started = now
}

// Stop ends the running phase.
func (p *Profiler) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finish(p.owner.now())
	p.current = ""
}

// finish records the running phase. Caller holds mu.
func (p *Profiler) finish(now time.Time) {
	if p.current == "" {
		return
	}
	phase := Phase{Name: p.current, StartTime: p.started, EndTime: now}
	p.phases = append(p.phases, phase)
	p.owner.durations.WithLabelValues(p.name, phase.Name).Observe(phase.Duration().Seconds())
}

// Phases returns the completed phases in order.
func (p *Profiler) Phases() []Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Phase(nil), p.phases...)
}

// Total returns the summed duration of the completed phases.
func (p *Profiler) Total() time.Duration {
	var total time.Duration
	for _, ph := range p.Phases() {
		total += ph.Duration()
	}
	return total
}
