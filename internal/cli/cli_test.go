package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetrun/internal/config"
	"github.com/rileyhilliard/fleetrun/internal/errors"
	"github.com/rileyhilliard/fleetrun/internal/run"
	"github.com/rileyhilliard/fleetrun/internal/ui"
	sshtesting "github.com/rileyhilliard/fleetrun/pkg/sshutil/testing"
)

func init() {
	ui.SetColor(false)
}

func TestParseStateFlags(t *testing.T) {
	tests := []struct {
		name    string
		flags   []string
		want    map[string]string
		wantErr bool
	}{
		{
			name:  "none",
			flags: nil,
			want:  map[string]string{},
		},
		{
			name:  "pairs",
			flags: []string{"ITERATIONS=10", "MODE=fast"},
			want:  map[string]string{"ITERATIONS": "10", "MODE": "fast"},
		},
		{
			name:  "value with equals",
			flags: []string{"OPTS=--heap=4g"},
			want:  map[string]string{"OPTS": "--heap=4g"},
		},
		{
			name:  "later wins",
			flags: []string{"MODE=slow", "MODE=fast"},
			want:  map[string]string{"MODE": "fast"},
		},
		{
			name:  "empty value",
			flags: []string{"MODE="},
			want:  map[string]string{"MODE": ""},
		},
		{
			name:    "missing equals",
			flags:   []string{"MODE"},
			wantErr: true,
		},
		{
			name:    "missing key",
			flags:   []string{"=fast"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseStateFlags(tt.flags)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsCode(err, errors.ErrConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOutputPath(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

	got, err := outputPath(config.Settings{BasePath: "/data/results"}, now)
	require.NoError(t, err)
	assert.Equal(t, "/data/results/20260304_050607", got)

	got, err = outputPath(config.Settings{FullPath: "/data/run-1/"}, now)
	require.NoError(t, err)
	assert.Equal(t, "/data/run-1", got)

	got, err = outputPath(config.Settings{BasePath: "/data/results", FullPath: "/data/run-1"}, now)
	require.NoError(t, err)
	assert.Equal(t, "/data/run-1", got, "full path wins when both come from settings")

	_, err = outputPath(config.Settings{}, now)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestLoadSettings_Layers(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("FLEETRUN_SCHEDULED_POOL", "9")

	cfgDir := filepath.Join(home, config.GlobalConfigDir)
	require.NoError(t, os.MkdirAll(cfgDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, config.GlobalConfigFile), []byte(`
command-pool: 12
base-path: ~/results
states:
  MODE: slow
  KEEP: yes
`), 0644))

	saved := stateFlags
	defer func() { stateFlags = saved }()
	stateFlags = []string{"MODE=fast"}

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.IntP("command-pool", "c", 24, "")
	fs.StringP("identity", "i", "", "")
	require.NoError(t, fs.Parse([]string{"-c", "7", "-i", "~/.ssh/lab"}))

	s, v, err := loadSettings(fs)
	require.NoError(t, err)
	require.NotNil(t, v)

	assert.Equal(t, 7, s.CommandPool, "flag beats config file")
	assert.Equal(t, 9, s.ScheduledPool, "env beats default")
	assert.Equal(t, filepath.Join(home, "results"), s.BasePath)
	assert.Equal(t, filepath.Join(home, ".ssh", "lab"), s.Identity)
	assert.Equal(t, "fast", s.States["MODE"])
	assert.Equal(t, "yes", s.States["KEEP"])
}

func TestLoadSettings_BadState(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	saved := stateFlags
	defer func() { stateFlags = saved }()
	stateFlags = []string{"oops"}

	_, _, err := loadSettings(pflag.NewFlagSet("test", pflag.ContinueOnError))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestIsUsageError(t *testing.T) {
	assert.True(t, isUsageError(assertErr(`unknown flag: --foo`)))
	assert.True(t, isUsageError(assertErr(`requires at least 1 arg(s), only received 0`)))
	assert.False(t, isUsageError(assertErr("connection failed")))
	assert.False(t, isUsageError(errors.New(errors.ErrConfig, "unknown flag in run file", "")))
}

type stringErr string

func (e stringErr) Error() string { return string(e) }

func assertErr(msg string) error { return stringErr(msg) }

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "v1.2.3", formatVersion("v1.2.3"))
}

func TestVersionOutput(t *testing.T) {
	originalVersion, originalCommit, originalDate := version, commit, date
	defer SetVersionInfo(originalVersion, originalCommit, originalDate)
	SetVersionInfo("1.2.3", "abc1234", "2025-01-08T12:00:00Z")

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printVersion(cmd, false)
	out := buf.String()
	assert.Contains(t, out, "fleetrun v1.2.3")
	assert.Contains(t, out, "commit: abc1234")
	assert.Contains(t, out, "built: 2025-01-08T12:00:00Z")
	assert.Contains(t, out, "go: "+runtime.Version())

	buf.Reset()
	printVersion(cmd, true)
	assert.Equal(t, "1.2.3\n", buf.String())
	assert.Equal(t, "1.2.3", GetVersion())
}

const fleetFile = `
name: smoke
states:
  OUT: /data/result.txt
hosts:
  - ops@node1
  - ops@node2
roles:
  server:
    hosts: [ops@node1]
    run: [serve]
  client:
    hosts: [ops@node2]
    run: [probe]
scripts:
  serve:
    - sh: echo up > ${{OUT}}
    - signal: ready
    - download: ${{OUT}}
      to: result.txt
  probe:
    - wait-for: ready
    - sh: hostname
      capture: NAME
    - echo: probed from ${{NAME}}
`

func newTestRunner(t *testing.T, fleet *sshtesting.Fleet) (*runner, *bytes.Buffer, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	var stdout bytes.Buffer
	s := config.DefaultSettings()
	s.FullPath = out
	s.CommandPool = 4
	s.SSHConfig = filepath.Join(dir, "ssh_config")
	return &runner{
		settings: s,
		now:      time.Now,
		stdout:   &stdout,
		stderr:   &bytes.Buffer{},
		open:     fleet.Open,
	}, &stdout, out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunner_Execute(t *testing.T) {
	fleet := sshtesting.NewFleet()
	rn, stdout, out := newTestRunner(t, fleet)
	path := writeFile(t, "smoke.yaml", fleetFile)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := rn.execute(ctx, []string{path})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success())
	assert.Equal(t, run.PhaseDone, res.Phase)
	assert.Len(t, res.Scripts, 2)

	content, err := os.ReadFile(filepath.Join(out, "node1", "result.txt"))
	require.NoError(t, err)
	assert.Equal(t, "up\n", string(content))

	log, err := os.ReadFile(filepath.Join(out, LogFile))
	require.NoError(t, err)
	assert.Contains(t, string(log), "probed from node2")

	metrics, err := os.ReadFile(filepath.Join(out, MetricsFile))
	require.NoError(t, err)
	assert.Contains(t, string(metrics), "fleetrun_phase_duration_seconds")

	text := stdout.String()
	assert.Contains(t, text, "Starting smoke with output path = "+out)
	assert.Contains(t, text, "● Running")
	assert.Contains(t, text, "✓ serve@node1")
	assert.Contains(t, text, "✓ probe@node2")
	assert.Contains(t, text, "Finished in")
	assert.Contains(t, text, " at "+out)
}

func TestRunner_Execute_ValidationFailure(t *testing.T) {
	fleet := sshtesting.NewFleet()
	rn, stdout, _ := newTestRunner(t, fleet)
	path := writeFile(t, "bad.yaml", `
hosts: [ops@node1]
scripts:
  stuck:
    - wait-for: never
roles:
  all:
    hosts: [ops@node1]
    run: [stuck]
`)

	_, err := rn.execute(context.Background(), []string{path})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation))
	assert.Empty(t, fleet.Opened())
	assert.Contains(t, stdout.String(), "✗ Validating")
	assert.NotContains(t, stdout.String(), "Finished in")
}

func TestRunner_Execute_ConnectionFailure(t *testing.T) {
	fleet := sshtesting.NewFleet()
	fleet.Fail("node2", assertErr("connection refused"))
	rn, stdout, out := newTestRunner(t, fleet)
	path := writeFile(t, "smoke.yaml", fleetFile)

	res, err := rn.execute(context.Background(), []string{path})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrSSH))
	require.NotNil(t, res)
	assert.Equal(t, run.PhaseAborted, res.Phase)
	assert.Empty(t, res.Downloads)

	_, statErr := os.Stat(filepath.Join(out, "node1", "result.txt"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(out, LogFile))
	assert.NoError(t, statErr, "run.log is kept after an abort")
	assert.Contains(t, stdout.String(), "Aborted after")
}

func TestRunner_Execute_ConfigError(t *testing.T) {
	rn, _, out := newTestRunner(t, sshtesting.NewFleet())
	path := writeFile(t, "bad.yaml", "hosts: [ops@node1]\nscripts:\n  x:\n    - bogus: 1\n")

	_, err := rn.execute(context.Background(), []string{path})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "nothing is written before the files compile")
}

func TestRunner_Validate(t *testing.T) {
	rn, stdout, _ := newTestRunner(t, sshtesting.NewFleet())

	require.NoError(t, rn.validate([]string{writeFile(t, "smoke.yaml", fleetFile)}))
	text := stdout.String()
	assert.Contains(t, text, "smoke: 2 host(s), 2 script(s)")
	assert.Contains(t, text, "ready signaled 1, waited by 1")
	assert.Contains(t, text, "✓ smoke is valid")

	stdout.Reset()
	err := rn.validate([]string{writeFile(t, "bad.yaml", `
name: bad
hosts: [ops@node1]
roles:
  all:
    hosts: [ops@node1]
    run: [stuck]
scripts:
  stuck:
    - wait-for: never
`)})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrValidation))
	assert.True(t, strings.Contains(stdout.String(), "nothing signals it"))
}

func TestPhaseLabel(t *testing.T) {
	assert.Equal(t, "Setting up", phaseLabel(run.PhaseSettingUp))
	assert.Equal(t, "Downloading", phaseLabel(run.PhaseCompleting))
	assert.Equal(t, "aborted", phaseLabel(run.PhaseAborted))
}
