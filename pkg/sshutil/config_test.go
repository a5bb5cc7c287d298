package sshutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSSHConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParseSSHConfigFile(t *testing.T) {
	path := writeSSHConfig(t, `
Host bench1
    HostName 10.0.0.11
    User bench
    Port 22
    IdentityFile ~/.ssh/id_bench

Host loadgen
    HostName loadgen.example.com
    User ubuntu

Host *
    ServerAliveInterval 60

Host work-*
    User workuser
`)

	hosts, err := ParseSSHConfigFile(path)
	require.NoError(t, err)

	// Wildcards are skipped, the rest is sorted by alias
	require.Len(t, hosts, 2)
	assert.Equal(t, "bench1", hosts[0].Alias)
	assert.Equal(t, "loadgen", hosts[1].Alias)

	assert.Equal(t, "10.0.0.11", hosts[0].Hostname)
	assert.Equal(t, "bench", hosts[0].User)
	assert.Equal(t, "22", hosts[0].Port)
	assert.Contains(t, hosts[0].IdentityFile, "id_bench")

	assert.Equal(t, "loadgen.example.com", hosts[1].Hostname)
	assert.Equal(t, "", hosts[1].Port)
}

func TestParseSSHConfigFileNotExists(t *testing.T) {
	hosts, err := ParseSSHConfigFile("/nonexistent/config")
	assert.NoError(t, err)
	assert.Nil(t, hosts)
}

func TestParseSSHConfigWithMatch(t *testing.T) {
	path := writeSSHConfig(t, `
Host before-match
    HostName before.example.com

Match host *.example.com
    User matchuser

Host after-match
    HostName after.example.com
`)

	hosts, err := ParseSSHConfigFile(path)
	require.NoError(t, err)

	// Only hosts before the Match directive are visible
	require.Len(t, hosts, 1)
	assert.Equal(t, "before-match", hosts[0].Alias)
}

func TestParseSSHConfigFile_DuplicateHosts(t *testing.T) {
	path := writeSSHConfig(t, `
Host duplicate
    HostName first.example.com

Host duplicate
    HostName second.example.com
`)

	hosts, err := ParseSSHConfigFile(path)
	require.NoError(t, err)
	require.Len(t, hosts, 1)
	assert.Equal(t, "first.example.com", hosts[0].Hostname)
}

func TestParseSSHConfigFile_MultiplePatterns(t *testing.T) {
	path := writeSSHConfig(t, `
Host server1 server2 server3
    User shareduser
    Port 2222
`)

	hosts, err := ParseSSHConfigFile(path)
	require.NoError(t, err)
	assert.Len(t, hosts, 3)
	for _, h := range hosts {
		assert.Equal(t, "shareduser", h.User)
		assert.Equal(t, "2222", h.Port)
	}
}

func TestResolver_Expand(t *testing.T) {
	path := writeSSHConfig(t, `
Host bench1
    HostName 10.0.0.11
    User bench

Host bench2
    HostName 10.0.0.12
    Port 2222

Host bare
    ServerAliveInterval 30
`)

	r, err := NewResolver(path)
	require.NoError(t, err)

	tests := []struct {
		spec string
		want string
	}{
		{"bench1", "bench@10.0.0.11"},
		{"bench2", "10.0.0.12:2222"},
		{"bare", "bare"},
		{"unknown", "unknown"},
		{"root@bench1", "root@bench1"},
		{"bench1:2200", "bench1:2200"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Expand(tt.spec))
		})
	}
}

func TestResolver_MissingFile(t *testing.T) {
	r, err := NewResolver(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	_, ok := r.Lookup("bench1")
	assert.False(t, ok)
	assert.Equal(t, "bench1", r.Expand("bench1"))
}

func TestResolver_Nil(t *testing.T) {
	var r *Resolver
	_, ok := r.Lookup("bench1")
	assert.False(t, ok)
}
