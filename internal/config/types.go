package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// File is one run file as written on disk.
//
//	name: nightly-bench
//	states:
//	  ITERATIONS: 3
//	hosts:
//	  - db1
//	  - host: bench@10.0.0.5:2222
//	    roles: [load]
//	    states:
//	      THREADS: 32
//	roles:
//	  load:
//	    setup: [install]
//	    run: [drive-load]
//	scripts:
//	  install:
//	    - sh: ./install.sh
//	    - signal: installed
type File struct {
	Name    string                 `yaml:"name"`
	States  map[string]string      `yaml:"states"`
	Hosts   []HostEntry            `yaml:"hosts"`
	Roles   map[string]RoleEntry   `yaml:"roles"`
	Scripts map[string][]yaml.Node `yaml:"scripts"`

	path string
}

// Path returns the file the entry was read from.
func (f *File) Path() string { return f.path }

// HostEntry is one item of the hosts list. A bare string is shorthand for
// an entry with only Host set.
type HostEntry struct {
	// Host is [user@]hostname[:port] or an alias from the SSH config.
	Host   string            `yaml:"host"`
	Roles  []string          `yaml:"roles"`
	Setup  []string          `yaml:"setup"`
	Run    []string          `yaml:"run"`
	States map[string]string `yaml:"states"`
}

// UnmarshalYAML accepts both the scalar and the mapping form.
func (h *HostEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		h.Host = node.Value
		return nil
	}
	type plain HostEntry
	return node.Decode((*plain)(h))
}

// RoleEntry groups hosts that share scripts.
type RoleEntry struct {
	Hosts []string `yaml:"hosts"`
	Setup []string `yaml:"setup"`
	Run   []string `yaml:"run"`
}

// RunConfig is the merged content of every run file plus the settings
// that apply to the whole invocation.
type RunConfig struct {
	Name     string
	Files    []string
	States   map[string]string
	Hosts    []HostEntry
	Roles    map[string]RoleEntry
	Scripts  map[string][]yaml.Node
	Settings Settings

	// origin records which file defined each script, for error messages.
	origin map[string]string
}

// Origin returns the file that defined script name.
func (rc *RunConfig) Origin(name string) string { return rc.origin[name] }

// Settings are the tool settings layered by viper: defaults, the global
// config file, FLEETRUN_* environment variables, then flags.
type Settings struct {
	CommandPool    int               `mapstructure:"command-pool"`
	ScheduledPool  int               `mapstructure:"scheduled-pool"`
	KnownHosts     string            `mapstructure:"known-hosts"`
	Identity       string            `mapstructure:"identity"`
	Passphrase     string            `mapstructure:"passphrase"`
	SSHConfig      string            `mapstructure:"ssh-config"`
	ConnectTimeout time.Duration     `mapstructure:"connect-timeout"`
	Color          bool              `mapstructure:"color"`
	BasePath       string            `mapstructure:"base-path"`
	FullPath       string            `mapstructure:"full-path"`
	States         map[string]string `mapstructure:"states"`
}

// DefaultSettings returns the settings used when nothing overrides them.
func DefaultSettings() Settings {
	return Settings{
		CommandPool:    24,
		ScheduledPool:  4,
		ConnectTimeout: 10 * time.Second,
	}
}
