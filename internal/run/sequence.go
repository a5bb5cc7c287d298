package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rileyhilliard/fleetrun/internal/errors"
	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/profile"
	"github.com/rileyhilliard/fleetrun/internal/script"
	"github.com/rileyhilliard/fleetrun/internal/state"
)

// PhaseConnect is the profiler phase spent opening a session.
const PhaseConnect = "connect"

// plannedJob is one (script, host) execution waiting for its session.
type plannedJob struct {
	host     host.Host
	script   *script.Script
	state    *state.State
	profiler *profile.Profiler
}

// Execute validates the run, runs the setup then the run phase, and
// fetches queued downloads. It blocks until the run is done or aborted.
// Cancelling ctx aborts the run.
//
// The returned error is nil only when the run reached Done. Script
// failures don't fail the run; they are reported in the Result.
func (r *Run) Execute(ctx context.Context) (*Result, error) {
	start := time.Now()
	if phase := r.Phase(); phase != PhaseCreated {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("Run %s can't be executed twice (phase %s)", r.name, phase), "")
	}
	if r.opener == nil {
		r.setPhase(PhaseDone)
		return r.result(start), errors.New(errors.ErrConfig, "Run "+r.name+" has no session opener", "")
	}

	if err := r.Validate(); err != nil {
		r.setPhase(PhaseDone)
		return r.result(start), err
	}

	seqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.phaseMu.Lock()
	r.cancel = cancel
	r.phaseMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		r.Abort(fmt.Sprintf("interrupted: %v", context.Cause(ctx)))
	})
	defer stop()

	r.log.Info("starting %d host(s)", len(r.Hosts()))
	var seq sync.WaitGroup
	seq.Add(1)
	go func() {
		defer seq.Done()
		r.sequence(seqCtx)
	}()

	// The latch is released either by the sequencer or by Abort.
	_ = r.coord.WaitFor(context.Background(), r.latch)
	seq.Wait()
	r.dispatcher.Wait()

	if r.Aborted() {
		res := r.result(start)
		res.Pending = r.takeDownloads()
		if len(res.Pending) > 0 {
			r.log.Warn("%d queued download(s) skipped because the run aborted", len(res.Pending))
		}
		r.phaseMu.Lock()
		err := r.abortErr
		r.phaseMu.Unlock()
		return res, err
	}

	downloads := r.flushDownloads(ctx)
	r.setPhase(PhaseDone)
	res := r.result(start)
	res.Downloads = downloads
	if r.Aborted() {
		r.phaseMu.Lock()
		err := r.abortErr
		r.phaseMu.Unlock()
		return res, err
	}
	r.log.Info("done in %s", res.Duration.Round(time.Millisecond))
	return res, nil
}

// sequence walks SettingUp, Running and Completing. Each phase starts once
// the dispatcher went idle on the previous one.
func (r *Run) sequence(ctx context.Context) {
	r.setPhase(PhaseSettingUp)
	if !r.runBatch(ctx, PhaseSettingUp, r.setupJobs()) {
		return
	}
	r.setPhase(PhaseRunning)
	if !r.runBatch(ctx, PhaseRunning, r.runJobs()) {
		return
	}
	r.setPhase(PhaseCompleting)
	r.coord.Signal(r.latch)
}

// setupJobs builds one <host>-setup script per host invoking every setup
// script of that host in order, so a host's setup runs on one session.
func (r *Run) setupJobs() []plannedJob {
	var jobs []plannedJob
	for _, h := range r.Hosts() {
		hs := r.hostScripts(h)
		if len(hs.setup) == 0 {
			continue
		}
		meta := script.New(h.Hostname + "-setup")
		for _, s := range hs.setup {
			meta.Invoke(s)
		}
		jobs = append(jobs, r.plan(h, hs.state, meta))
	}
	return jobs
}

// runJobs plans every (run script, host) pair.
func (r *Run) runJobs() []plannedJob {
	var jobs []plannedJob
	for _, h := range r.Hosts() {
		hs := r.hostScripts(h)
		for _, s := range hs.run {
			jobs = append(jobs, r.plan(h, hs.state, s))
		}
	}
	return jobs
}

func (r *Run) plan(h host.Host, hostState *state.State, s *script.Script) plannedJob {
	return plannedJob{
		host:     h,
		script:   s,
		state:    hostState.NewScriptState(),
		profiler: r.profiles.Get(s.Name() + "@" + h.Hostname),
	}
}

// runBatch opens a session per job, queues every job and starts the
// dispatcher, then blocks until the batch is idle. It returns false when
// the run aborted.
func (r *Run) runBatch(ctx context.Context, phase Phase, jobs []plannedJob) bool {
	r.log.Debug("%s: %d script(s)", phase, len(jobs))
	sessions, err := r.openSessions(ctx, jobs)
	if err != nil {
		r.abort(fmt.Sprintf("%s failed to connect", phase), err)
		return false
	}

	idle := r.dispatcher.NotifyIdle()
	for i, j := range jobs {
		cc := script.NewContext(j.script.Name(), j.host, sessions[i], j.state, r, j.profiler, r.log)
		if err := r.dispatcher.AddScript(j.script, cc); err != nil {
			closeSessions(sessions[i:])
			return false
		}
	}
	r.dispatcher.Start()
	<-idle
	return !r.Aborted()
}

// openSessions connects every job concurrently. On the first failure the
// sessions already opened are closed and the failure is returned.
func (r *Run) openSessions(ctx context.Context, jobs []plannedJob) ([]script.Session, error) {
	sessions := make([]script.Session, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.dispatcher.Config().Workers)
	for i, j := range jobs {
		g.Go(func() error {
			j.profiler.Start(PhaseConnect)
			sess, err := r.opener(gctx, j.host)
			if err == nil && !sess.IsOpen() {
				_ = sess.Close()
				err = fmt.Errorf("session closed right after the handshake")
			}
			if err != nil {
				j.profiler.Stop()
				return errors.WrapWithCode(err, errors.ErrSSH,
					fmt.Sprintf("Can't open a session to %s for %s", j.host, j.script.Name()),
					"Check that the host is reachable and accepts the configured key")
			}
			sessions[i] = sess
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeSessions(sessions)
		return nil, err
	}
	return sessions, nil
}

func closeSessions(sessions []script.Session) {
	for _, s := range sessions {
		if s != nil {
			_ = s.Close()
		}
	}
}

// takeDownloads empties the pending download map.
func (r *Run) takeDownloads() []PendingDownload {
	r.dlMu.Lock()
	queued := r.downloads
	r.downloads = make(map[host.Key][]PendingDownload)
	r.dlMu.Unlock()

	var out []PendingDownload
	for _, h := range r.Hosts() {
		out = append(out, queued[h.Key()]...)
	}
	return out
}

// flushDownloads fetches every queued download, one session per host.
// A failed download is reported in its result and doesn't stop the others.
func (r *Run) flushDownloads(ctx context.Context) []DownloadResult {
	pending := r.takeDownloads()
	if len(pending) == 0 {
		return nil
	}

	byHost := make(map[host.Key][]int)
	var order []host.Host
	for i, d := range pending {
		k := d.Host.Key()
		if _, ok := byHost[k]; !ok {
			order = append(order, d.Host)
		}
		byHost[k] = append(byHost[k], i)
	}

	results := make([]DownloadResult, len(pending))
	for i, d := range pending {
		results[i] = DownloadResult{PendingDownload: d}
	}

	var g errgroup.Group
	g.SetLimit(r.dispatcher.Config().Workers)
	for _, h := range order {
		idx := byHost[h.Key()]
		g.Go(func() error {
			prof := r.profiles.Get("download@" + h.Hostname)
			prof.Start(PhaseConnect)
			sess, err := r.opener(ctx, h)
			if err != nil {
				prof.Stop()
				for _, i := range idx {
					results[i].Err = errors.WrapWithCode(err, errors.ErrSSH,
						"Can't open a session to "+h.String()+" for downloads", "")
				}
				r.log.Error("downloads from %s: %v", h, err)
				return nil
			}
			defer sess.Close()
			prof.Start("download")
			defer prof.Stop()
			for _, i := range idx {
				d := pending[i]
				if err := sess.Download(ctx, d.Remote, d.Local); err != nil {
					results[i].Err = err
					r.log.Error("download %s:%s failed: %v", h, d.Remote, err)
					continue
				}
				r.log.Info("downloaded %s:%s to %s", h, d.Remote, d.Local)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Run) result(start time.Time) *Result {
	return &Result{
		ID:          r.ID(),
		Name:        r.name,
		Phase:       r.Phase(),
		Duration:    time.Since(start),
		OutputPath:  r.output,
		AbortReason: r.AbortReason(),
		Scripts:     r.dispatcher.Results(),
	}
}
