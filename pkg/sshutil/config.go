package sshutil

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// SSHHostEntry represents a parsed host entry from SSH config.
type SSHHostEntry struct {
	Alias        string // The Host pattern (alias)
	Hostname     string // The HostName value (actual host to connect to)
	User         string // The User value
	Port         string // The Port value
	IdentityFile string // The IdentityFile value
}

// ParseSSHConfig parses ~/.ssh/config and returns all host entries.
func ParseSSHConfig() ([]SSHHostEntry, error) {
	return ParseSSHConfigFile(filepath.Join(homeDir(), ".ssh", "config"))
}

// ParseSSHConfigFile parses the specified SSH config file.
// Wildcard patterns are skipped; only concrete aliases are returned, sorted.
func ParseSSHConfigFile(configPath string) ([]SSHHostEntry, error) {
	content, _, err := preprocessSSHConfig(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	cfg, err := ssh_config.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}

	var hosts []SSHHostEntry
	seen := make(map[string]bool)

	for _, host := range cfg.Hosts {
		for _, pattern := range host.Patterns {
			alias := pattern.String()
			if strings.Contains(alias, "*") || strings.Contains(alias, "?") {
				continue
			}
			if seen[alias] {
				continue
			}
			seen[alias] = true

			entry := SSHHostEntry{Alias: alias}
			if hostname, _ := cfg.Get(alias, "HostName"); hostname != "" {
				entry.Hostname = hostname
			}
			if user, _ := cfg.Get(alias, "User"); user != "" {
				entry.User = user
			}
			if port, _ := cfg.Get(alias, "Port"); port != "" {
				entry.Port = port
			}
			if identity, _ := cfg.Get(alias, "IdentityFile"); identity != "" {
				entry.IdentityFile = expandPath(identity)
			}
			hosts = append(hosts, entry)
		}
	}

	sort.Slice(hosts, func(i, j int) bool {
		return hosts[i].Alias < hosts[j].Alias
	})

	return hosts, nil
}

// Resolver maps run-file host aliases to SSH config entries.
type Resolver struct {
	entries map[string]SSHHostEntry
}

// NewResolver loads the SSH config at configPath. An empty path means
// ~/.ssh/config; a missing file yields a resolver that knows no aliases.
func NewResolver(configPath string) (*Resolver, error) {
	if configPath == "" {
		configPath = filepath.Join(homeDir(), ".ssh", "config")
	}
	hosts, err := ParseSSHConfigFile(configPath)
	if err != nil {
		return nil, err
	}
	r := &Resolver{entries: make(map[string]SSHHostEntry, len(hosts))}
	for _, h := range hosts {
		r.entries[h.Alias] = h
	}
	return r, nil
}

// Lookup returns the entry for alias.
func (r *Resolver) Lookup(alias string) (SSHHostEntry, bool) {
	if r == nil {
		return SSHHostEntry{}, false
	}
	e, ok := r.entries[alias]
	return e, ok
}

// Expand rewrites a bare alias into user@hostname:port using the SSH
// config. Specs that carry a user or port, or unknown aliases, are
// returned unchanged.
func (r *Resolver) Expand(spec string) string {
	if strings.ContainsAny(spec, "@:") {
		return spec
	}
	e, ok := r.Lookup(spec)
	if !ok {
		return spec
	}
	out := spec
	if e.Hostname != "" {
		out = e.Hostname
	}
	if e.User != "" {
		out = e.User + "@" + out
	}
	if e.Port != "" && e.Port != "22" {
		out = out + ":" + e.Port
	}
	return out
}
