package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetrun/internal/config"
	"github.com/rileyhilliard/fleetrun/internal/dispatch"
	"github.com/rileyhilliard/fleetrun/internal/errors"
	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/logger"
	"github.com/rileyhilliard/fleetrun/internal/run"
	"github.com/rileyhilliard/fleetrun/internal/script"
	"github.com/rileyhilliard/fleetrun/internal/ui"
	"github.com/rileyhilliard/fleetrun/pkg/sshutil"
)

// Artifacts written to every output directory.
const (
	LogFile     = "run.log"
	MetricsFile = "metrics.prom"
)

// runner executes one invocation of the root command.
type runner struct {
	settings config.Settings
	color    bool
	debug    bool
	now      func() time.Time
	stdout   io.Writer
	stderr   io.Writer

	// open replaces the SSH opener when set.
	open run.SessionOpener
}

func runCommand(cmd *cobra.Command, files []string) error {
	s, v, err := loadSettings(cmd.Flags())
	if err != nil {
		return err
	}
	rn := &runner{
		settings: s,
		color:    applyColor(s, v),
		debug:    os.Getenv("FLEETRUN_DEBUG") != "",
		now:      time.Now,
		stdout:   cmd.OutOrStdout(),
		stderr:   cmd.ErrOrStderr(),
	}

	res, err := rn.execute(cmd.Context(), files)
	if err != nil {
		return err
	}
	if !res.Success() {
		return errors.NewExitError(1)
	}
	return nil
}

// compile loads, merges and validates the run files.
func (rn *runner) compile(files []string) (*config.RunConfig, *config.Plan, error) {
	rc, err := config.Load(files...)
	if err != nil {
		return nil, nil, err
	}
	rc.Settings = rn.settings

	resolver, err := sshutil.NewResolver(rn.settings.SSHConfig)
	if err != nil {
		return nil, nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't read the SSH config",
			"Fix the file or point ssh-config at another one")
	}

	plan, err := config.Compile(rc, resolver)
	if err != nil {
		return nil, nil, err
	}
	return rc, plan, nil
}

func (rn *runner) execute(ctx context.Context, files []string) (*run.Result, error) {
	rc, plan, err := rn.compile(files)
	if err != nil {
		return nil, err
	}

	out, err := outputPath(rn.settings, rn.now())
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(out, 0755); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't create the output directory "+out, "")
	}
	logFile, err := os.Create(filepath.Join(out, LogFile))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Couldn't create "+LogFile+" in "+out, "")
	}
	defer logFile.Close()

	log := logger.Tee(
		logger.New(rn.stderr, logger.Options{Debug: rn.debug, Color: rn.color}),
		logger.New(logFile, logger.Options{Debug: true, Timestamp: true}),
	)
	for _, w := range plan.Warnings {
		log.Warn("%s", w)
	}
	fmt.Fprintf(rn.stdout, "Starting %s with output path = %s\n", rc.DisplayName(), out)

	open := rn.open
	if open == nil {
		open = rn.sshOpener(log)
	}

	pd := ui.NewPhaseDisplay(rn.stdout)
	var r *run.Run
	r = run.New(run.Options{
		Name:       rc.DisplayName(),
		OutputPath: out,
		Opener:     open,
		Dispatch:   dispatchConfig(rn.settings),
		Logger:     log,
		OnPhase: func(_, next run.Phase) {
			switch next {
			case run.PhaseAborted:
				pd.Fail(fmt.Errorf("%s", r.AbortReason()))
			case run.PhaseDone:
				// reported once Execute returns
			default:
				pd.Enter(phaseLabel(next))
			}
		},
	})
	plan.Apply(r)

	res, err := r.Execute(ctx)
	if err != nil {
		pd.Fail(err)
	} else {
		pd.Succeed()
	}

	rn.writeProfiles(r, out, log)

	if res != nil && !errors.IsCode(err, errors.ErrValidation) && !errors.IsCode(err, errors.ErrConfig) {
		pd.Divider()
		fmt.Fprint(rn.stdout, ui.RenderRunSummary(res))
	}
	return res, err
}

// sshOpener dials a fresh SSH connection for every session.
func (rn *runner) sshOpener(log logger.Logger) run.SessionOpener {
	opts := sshutil.Options{
		Identity:   rn.settings.Identity,
		Passphrase: rn.settings.Passphrase,
		KnownHosts: rn.settings.KnownHosts,
		Timeout:    rn.settings.ConnectTimeout,
		Logger:     log,
	}
	return func(ctx context.Context, h host.Host) (script.Session, error) {
		c, err := sshutil.DialHost(ctx, h, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// writeProfiles writes metrics.prom and logs each profiler's timings.
func (rn *runner) writeProfiles(r *run.Run, out string, log logger.Logger) {
	profiles := r.Profiles()
	for _, name := range profiles.Names() {
		p := profiles.Get(name)
		for _, ph := range p.Phases() {
			log.Debug("profile %s %s %s", name, ph.Name, ph.Duration().Round(time.Millisecond))
		}
	}

	f, err := os.Create(filepath.Join(out, MetricsFile))
	if err != nil {
		log.Warn("couldn't write %s: %v", MetricsFile, err)
		return
	}
	defer f.Close()
	if err := profiles.WriteMetrics(f); err != nil {
		log.Warn("couldn't write %s: %v", MetricsFile, err)
	}
}

func dispatchConfig(s config.Settings) dispatch.Config {
	return dispatch.Config{Workers: s.CommandPool, Scheduled: s.ScheduledPool}
}

func phaseLabel(p run.Phase) string {
	switch p {
	case run.PhaseValidating:
		return "Validating"
	case run.PhaseSettingUp:
		return "Setting up"
	case run.PhaseRunning:
		return "Running"
	case run.PhaseCompleting:
		return "Downloading"
	default:
		return string(p)
	}
}
