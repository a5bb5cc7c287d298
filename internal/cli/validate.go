package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetrun/internal/config"
	"github.com/rileyhilliard/fleetrun/internal/errors"
	"github.com/rileyhilliard/fleetrun/internal/run"
	"github.com/rileyhilliard/fleetrun/internal/ui"
)

// validateCmd checks run files without contacting any host.
var validateCmd = &cobra.Command{
	Use:   "validate <run-file>...",
	Short: "Check run files and the signal graph without connecting",
	Long: `Load and merge the run files, resolve hosts and scripts, and check that
every wait-for has something that signals it.

Nothing is executed and no host is contacted.

Examples:
  fleetrun validate bench.yaml
  fleetrun validate -S ROLE=client bench.yaml hosts.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, v, err := loadSettings(cmd.Flags())
		if err != nil {
			return err
		}
		rn := &runner{settings: s, color: applyColor(s, v), stdout: cmd.OutOrStdout()}
		return rn.validate(args)
	},
}

func init() {
	f := validateCmd.Flags()
	f.StringArrayVarP(&stateFlags, "state", "S", nil, "set a state entry (key=value, repeatable)")
	f.IntVarP(&commandPoolFlag, "command-pool", "c", config.DefaultSettings().CommandPool, "number of scripts executing at once")
	rootCmd.AddCommand(validateCmd)
}

// validate compiles the files into a run and analyzes its signal graph.
func (rn *runner) validate(files []string) error {
	rc, plan, err := rn.compile(files)
	if err != nil {
		return err
	}

	r := run.New(run.Options{
		Name:     rc.DisplayName(),
		Dispatch: dispatchConfig(rn.settings),
	})
	plan.Apply(r)
	report := r.Analyze()

	muted := lipgloss.NewStyle().Foreground(ui.ColorMuted)
	warn := lipgloss.NewStyle().Foreground(ui.ColorWarning)
	fail := lipgloss.NewStyle().Foreground(ui.ColorError)
	ok := lipgloss.NewStyle().Foreground(ui.ColorSuccess)

	hosts := r.Hosts()
	fmt.Fprintf(rn.stdout, "%s: %d host(s), %d script(s)\n", rc.DisplayName(), len(hosts), len(plan.Scripts))
	for _, h := range hosts {
		fmt.Fprintf(rn.stdout, "  %s %s\n", h, muted.Render(fmt.Sprintf("setup %d, run %d",
			len(r.SetupScripts(h)), len(r.RunScripts(h)))))
	}
	writeSignals(rn.stdout, report, muted)

	for _, w := range plan.Warnings {
		fmt.Fprintf(rn.stdout, "%s %s\n", warn.Render("!"), w)
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(rn.stdout, "%s %s\n", warn.Render("!"), w)
	}
	for _, p := range report.Problems {
		fmt.Fprintf(rn.stdout, "%s %s\n", fail.Render(ui.SymbolFail), p)
	}

	if !report.Valid() {
		return errors.New(errors.ErrValidation,
			fmt.Sprintf("%s has %d signal problem(s)", rc.DisplayName(), len(report.Problems)),
			"Every wait-for needs at least one script that signals the same name")
	}
	fmt.Fprintf(rn.stdout, "%s %s is valid\n", ok.Render(ui.SymbolSuccess), rc.DisplayName())
	return nil
}

func writeSignals(w io.Writer, report *run.Report, muted lipgloss.Style) {
	if len(report.Emitters) == 0 && len(report.Waiters) == 0 {
		return
	}
	names := make(map[string]bool)
	for name := range report.Emitters {
		names[name] = true
	}
	for name := range report.Waiters {
		names[name] = true
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	fmt.Fprintln(w, "signals:")
	for _, name := range sorted {
		fmt.Fprintf(w, "  %s %s\n", name, muted.Render(fmt.Sprintf("signaled %d, waited by %d",
			report.Emitters[name], len(report.Waiters[name]))))
	}
}
