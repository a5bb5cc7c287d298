package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rileyhilliard/fleetrun/internal/errors"
)

const (
	// GlobalConfigDir is the directory for the tool settings file.
	GlobalConfigDir = ".config/fleetrun"
	// GlobalConfigFile is the tool settings file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes every environment override, e.g. FLEETRUN_COMMAND_POOL.
	EnvPrefix = "FLEETRUN"
)

// problems accumulates every load and validation failure so they can be
// reported together.
type problems []string

func (p *problems) add(format string, args ...interface{}) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err(what string) error {
	if len(p) == 0 {
		return nil
	}
	noun := "problem"
	if len(p) > 1 {
		noun = "problems"
	}
	return errors.New(errors.ErrConfig,
		fmt.Sprintf("%s has %d %s:\n  - %s", what, len(p), noun, strings.Join(p, "\n  - ")),
		"Fix the run files and try again. Nothing was contacted.")
}

// LoadFile reads and decodes one run file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Run file not found: "+path,
				"Check the path is correct")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot read run file: "+path,
			"Check file permissions")
	}

	f := &File{path: path}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !stderrors.Is(err, io.EOF) {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid run file "+path,
			"Check the YAML syntax in "+path)
	}
	return f, nil
}

// Load reads every run file in order and merges them. Later files add
// hosts, roles and scripts and override states. Every problem found in any
// file is collected into one CONFIG error.
func Load(paths ...string) (*RunConfig, error) {
	rc := &RunConfig{
		States:  make(map[string]string),
		Roles:   make(map[string]RoleEntry),
		Scripts: make(map[string][]yaml.Node),
		origin:  make(map[string]string),
	}
	if len(paths) == 0 {
		return nil, errors.New(errors.ErrConfig,
			"Missing required run file(s)",
			"Pass one or more YAML run files: fleetrun -b ./out bench.yaml")
	}

	var probs problems
	for _, path := range paths {
		f, err := LoadFile(path)
		if err != nil {
			var fe *errors.Error
			if stderrors.As(err, &fe) && fe.Cause != nil {
				probs.add("%s: %v", path, fe.Cause)
			} else {
				probs.add("%s: %v", path, err)
			}
			continue
		}
		rc.merge(f, &probs)
	}
	if err := probs.err("Run files"); err != nil {
		return nil, err
	}
	return rc, nil
}

func (rc *RunConfig) merge(f *File, probs *problems) {
	rc.Files = append(rc.Files, f.path)
	if f.Name != "" {
		rc.Name = f.Name
	}
	for k, v := range f.States {
		rc.States[k] = v
	}
	rc.Hosts = append(rc.Hosts, f.Hosts...)

	for _, name := range sortedNames(f.Roles) {
		role := f.Roles[name]
		existing := rc.Roles[name]
		existing.Hosts = append(existing.Hosts, role.Hosts...)
		existing.Setup = append(existing.Setup, role.Setup...)
		existing.Run = append(existing.Run, role.Run...)
		rc.Roles[name] = existing
	}
	for _, name := range sortedNames(f.Scripts) {
		if prev, ok := rc.origin[name]; ok {
			probs.add("%s: script '%s' is already defined in %s", f.path, name, prev)
			continue
		}
		rc.Scripts[name] = f.Scripts[name]
		rc.origin[name] = f.path
	}
}

// DisplayName returns the run name, falling back to the first file's base name.
func (rc *RunConfig) DisplayName() string {
	if rc.Name != "" {
		return rc.Name
	}
	if len(rc.Files) > 0 {
		base := filepath.Base(rc.Files[0])
		return strings.TrimSuffix(base, filepath.Ext(base))
	}
	return "fleetrun"
}

// NewViper creates a viper instance with the defaults, the global config
// file and FLEETRUN_* environment overrides in place. Callers bind flags
// on top before calling LoadSettings.
func NewViper() *viper.Viper {
	v := viper.New()
	def := DefaultSettings()
	v.SetDefault("command-pool", def.CommandPool)
	v.SetDefault("scheduled-pool", def.ScheduledPool)
	v.SetDefault("connect-timeout", def.ConnectTimeout)
	v.SetDefault("color", def.Color)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigFile(filepath.Join(home, GlobalConfigDir, GlobalConfigFile))
	}
	return v
}

// LoadSettings reads the global config file, if any, and unmarshals the
// layered settings.
func LoadSettings(v *viper.Viper) (Settings, error) {
	if v.ConfigFileUsed() != "" {
		if _, err := os.Stat(v.ConfigFileUsed()); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return Settings{}, errors.WrapWithCode(err, errors.ErrConfig,
					"Failed to read "+v.ConfigFileUsed(),
					"Check the file is valid YAML")
			}
		}
	}

	s := DefaultSettings()
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid settings",
			"Check "+filepath.Join("~", GlobalConfigDir, GlobalConfigFile)+" and FLEETRUN_* variables")
	}
	if v.InConfig("states") {
		states, err := configStates(v.ConfigFileUsed())
		if err != nil {
			return Settings{}, err
		}
		s.States = states
	}
	s.KnownHosts = ExpandTilde(s.KnownHosts)
	s.Identity = ExpandTilde(s.Identity)
	s.SSHConfig = ExpandTilde(s.SSHConfig)
	s.BasePath = ExpandTilde(s.BasePath)
	s.FullPath = ExpandTilde(s.FullPath)

	var probs problems
	if s.CommandPool < 1 {
		probs.add("command-pool must be at least 1 (got %d)", s.CommandPool)
	}
	if s.ScheduledPool < 1 {
		probs.add("scheduled-pool must be at least 1 (got %d)", s.ScheduledPool)
	}
	if s.ConnectTimeout < 0 {
		probs.add("connect-timeout can't be negative")
	}
	if err := probs.err("Settings"); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// configStates re-reads the states section of the settings file. Viper
// folds keys to lower case and state keys are case-sensitive.
func configStates(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Failed to read "+path, "")
	}
	var doc struct {
		States map[string]string `yaml:"states"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid states in "+path,
			"States are a flat map of KEY: value")
	}
	return doc.States, nil
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
