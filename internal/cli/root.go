package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/rileyhilliard/fleetrun/internal/config"
	"github.com/rileyhilliard/fleetrun/internal/errors"
	"github.com/rileyhilliard/fleetrun/internal/ui"
)

// Root command flags. Most are bound into viper, so the global config file
// and FLEETRUN_* variables can supply them too.
var (
	basePathFlag      string
	fullPathFlag      string
	commandPoolFlag   int
	scheduledPoolFlag int
	stateFlags        []string
	knownHostsFlag    string
	identityFlag      string
	passphraseFlag    string
	colorFlag         bool
)

// settingFlags are the root flags whose names match a settings key.
var settingFlags = []string{
	"base-path",
	"full-path",
	"command-pool",
	"scheduled-pool",
	"known-hosts",
	"identity",
	"passphrase",
	"color",
}

var rootCmd = &cobra.Command{
	Use:   "fleetrun [flags] <run-file>...",
	Short: "Run coordinated scripts across a fleet of SSH hosts",
	Long: `fleetrun executes scripted steps on many hosts at once over SSH.

Run files declare hosts, roles and scripts. Every host runs its setup
scripts first; once all hosts are set up, every run script starts. Scripts
on different hosts coordinate with signal and wait-for steps, and files
queued with download are fetched into the output directory at the end.

Examples:
  fleetrun -b ./results bench.yaml
  fleetrun -B /tmp/bench-1 -S ITERATIONS=10 bench.yaml hosts.yaml
  fleetrun -c 48 -i ~/.ssh/lab_ed25519 bench.yaml`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd, args)
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&basePathFlag, "base-path", "b", "", "write output to a timestamped folder under this path")
	f.StringVarP(&fullPathFlag, "full-path", "B", "", "write output to exactly this path")
	f.IntVarP(&commandPoolFlag, "command-pool", "c", config.DefaultSettings().CommandPool, "number of scripts executing at once")
	f.IntVarP(&scheduledPoolFlag, "scheduled-pool", "s", config.DefaultSettings().ScheduledPool, "number of deferred steps (sleep) pending at once")
	f.StringArrayVarP(&stateFlags, "state", "S", nil, "set a state entry (key=value, repeatable)")
	f.StringVarP(&knownHostsFlag, "known-hosts", "k", "", "SSH known hosts file (default ~/.ssh/known_hosts)")
	f.StringVarP(&identityFlag, "identity", "i", "", "SSH private key (default: agent, then ~/.ssh/id_*)")
	f.StringVarP(&passphraseFlag, "passphrase", "p", "", "passphrase for the identity file")
	f.BoolVarP(&colorFlag, "color", "C", false, "force colored output")
	rootCmd.MarkFlagsMutuallyExclusive("base-path", "full-path")
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err == nil {
		return
	}

	code, ok := errors.GetExitCode(err)
	if !ok {
		code = 1
		fmt.Fprintln(os.Stderr, strings.TrimRight(err.Error(), "\n"))
	}
	if isUsageError(err) {
		fmt.Fprintln(os.Stderr, "Run 'fleetrun --help' for usage.")
	}
	os.Exit(code)
}

// isUsageError reports whether cobra rejected the command line itself.
func isUsageError(err error) bool {
	var rrErr *errors.Error
	if stderrors.As(err, &rrErr) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "unknown command") ||
		strings.Contains(msg, "unknown flag") ||
		strings.Contains(msg, "unknown shorthand flag") ||
		strings.Contains(msg, "requires at least") ||
		strings.Contains(msg, "if any flags in the group")
}

// loadSettings layers defaults, the global config file, FLEETRUN_* env
// and the command's flags. -S entries are merged over states from the
// config file.
func loadSettings(flags *pflag.FlagSet) (config.Settings, *viper.Viper, error) {
	v := config.NewViper()
	for _, name := range settingFlags {
		if fl := flags.Lookup(name); fl != nil {
			if err := v.BindPFlag(name, fl); err != nil {
				return config.Settings{}, nil, errors.WrapWithCode(err, errors.ErrConfig,
					"Couldn't bind --"+name, "")
			}
		}
	}

	s, err := config.LoadSettings(v)
	if err != nil {
		return config.Settings{}, nil, err
	}

	states, err := parseStateFlags(stateFlags)
	if err != nil {
		return config.Settings{}, nil, err
	}
	if len(states) > 0 {
		if s.States == nil {
			s.States = make(map[string]string, len(states))
		}
		for k, val := range states {
			s.States[k] = val
		}
	}
	return s, v, nil
}

// applyColor enables styling when asked for explicitly, or when nobody
// asked and stdout is a terminal.
func applyColor(s config.Settings, v *viper.Viper) bool {
	enabled := s.Color
	if !v.IsSet("color") {
		enabled = ui.StdoutIsTerminal()
	}
	ui.SetColor(enabled)
	return enabled
}
