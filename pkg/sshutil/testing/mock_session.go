package testing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// CommandResponse defines a canned response for a specific command pattern.
type CommandResponse struct {
	Stdout   []byte
	ExitCode int
	Error    error
	Delay    time.Duration // wait before answering, cut short by cancellation
	Block    bool          // never answer; return when the context is done
}

// DownloadRecord is one Download call that succeeded.
type DownloadRecord struct {
	Remote string
	Local  string
	At     time.Time
}

// MockHost simulates one remote machine. Every session opened on it shares
// its filesystem, canned responses and history.
type MockHost struct {
	name string
	fs   *MockFS

	mu        sync.Mutex
	commands  map[string]CommandResponse // pattern -> response
	history   []string
	downloads []DownloadRecord
	opened    int
	closed    int
}

// NewMockHost creates a host with an empty filesystem.
func NewMockHost(name string) *MockHost {
	return &MockHost{
		name:     name,
		fs:       NewMockFS(),
		commands: make(map[string]CommandResponse),
	}
}

// Name returns the host name.
func (h *MockHost) Name() string { return h.name }

// GetFS returns the mock filesystem for direct manipulation in tests.
func (h *MockHost) GetFS() *MockFS { return h.fs }

// SetCommandResponse registers a canned response for a command pattern.
// The pattern can be an exact string or a regex pattern.
func (h *MockHost) SetCommandResponse(pattern string, resp CommandResponse) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.commands[pattern] = resp
}

// Commands returns every command executed on the host, in order.
func (h *MockHost) Commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.history...)
}

// Downloads returns every completed download, in order.
func (h *MockHost) Downloads() []DownloadRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]DownloadRecord(nil), h.downloads...)
}

// Sessions returns how many sessions were opened and how many are still open.
func (h *MockHost) Sessions() (opened, open int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.opened, h.opened - h.closed
}

// NewSession opens a session on the host.
func (h *MockHost) NewSession() *MockSession {
	h.mu.Lock()
	h.opened++
	h.mu.Unlock()
	return &MockSession{host: h}
}

func (h *MockHost) response(cmd string) (CommandResponse, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.history = append(h.history, cmd)

	if resp, ok := h.commands[cmd]; ok {
		return resp, true
	}
	for pattern, resp := range h.commands {
		if matched, _ := regexp.MatchString(pattern, cmd); matched {
			return resp, true
		}
	}
	return CommandResponse{}, false
}

// MockSession simulates an SSH connection to a MockHost.
type MockSession struct {
	host *MockHost

	mu     sync.Mutex
	closed bool
}

// NewMockSession opens a session on a fresh host named name.
func NewMockSession(name string) *MockSession {
	return NewMockHost(name).NewSession()
}

// Host returns the host the session is connected to.
func (s *MockSession) Host() *MockHost { return s.host }

// IsOpen reports whether Close has not been called yet.
func (s *MockSession) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close marks the session closed. Closing twice is a no-op.
func (s *MockSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.host.mu.Lock()
	s.host.closed++
	s.host.mu.Unlock()
	return nil
}

// Exec answers from the canned responses, falling back to a few shell
// commands run against the virtual filesystem. Unknown commands succeed.
func (s *MockSession) Exec(ctx context.Context, cmd string, out io.Writer) (int, error) {
	if !s.IsOpen() {
		return -1, errors.New("connection closed")
	}
	if err := ctx.Err(); err != nil {
		return -1, err
	}

	resp, ok := s.host.response(cmd)
	if !ok {
		resp = s.parseAndExecute(cmd)
	}

	if resp.Block {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}
	if resp.Error != nil {
		return -1, resp.Error
	}
	if out != nil && len(resp.Stdout) > 0 {
		out.Write(resp.Stdout)
	}
	return resp.ExitCode, nil
}

// Download copies a file, or every file under a directory, from the
// virtual filesystem to localPath on the real one.
func (s *MockSession) Download(ctx context.Context, remotePath, localPath string) error {
	if !s.IsOpen() {
		return errors.New("connection closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fs := s.host.fs
	switch {
	case fs.IsFile(remotePath):
		content, _ := fs.ReadFile(remotePath)
		if info, err := os.Stat(localPath); err == nil && info.IsDir() {
			localPath = filepath.Join(localPath, filepath.Base(remotePath))
		}
		if err := writeLocal(localPath, content); err != nil {
			return err
		}
	case fs.IsDir(remotePath):
		for path, content := range fs.Under(remotePath) {
			rel, _ := filepath.Rel(filepath.Clean(remotePath), path)
			if err := writeLocal(filepath.Join(localPath, rel), content); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%s: no such file or directory on %s", remotePath, s.host.name)
	}

	s.host.mu.Lock()
	s.host.downloads = append(s.host.downloads, DownloadRecord{Remote: remotePath, Local: localPath, At: time.Now()})
	s.host.mu.Unlock()
	return nil
}

func writeLocal(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, content, 0644)
}

// parseAndExecute handles the shell commands scripts commonly use.
func (s *MockSession) parseAndExecute(cmd string) CommandResponse {
	cmd = strings.TrimSuffix(cmd, " 2>/dev/null")
	cmd = strings.TrimSuffix(cmd, " 2>&1")
	cmd = strings.TrimSpace(cmd)
	fs := s.host.fs

	switch {
	case strings.HasPrefix(cmd, "mkdir -p "):
		_ = fs.MkdirAll(extractPath(strings.TrimPrefix(cmd, "mkdir -p ")))
	case strings.HasPrefix(cmd, "mkdir "):
		if err := fs.Mkdir(extractPath(strings.TrimPrefix(cmd, "mkdir "))); err != nil {
			return CommandResponse{ExitCode: 1}
		}
	case strings.HasPrefix(cmd, "echo ") && strings.Contains(cmd, " > "):
		idx := strings.LastIndex(cmd, " > ")
		content := strings.Trim(strings.TrimSpace(cmd[len("echo "):idx]), `"'`)
		_ = fs.WriteFile(extractPath(cmd[idx+3:]), []byte(content+"\n"))
	case strings.HasPrefix(cmd, "cat "):
		content, err := fs.ReadFile(extractPath(strings.TrimPrefix(cmd, "cat ")))
		if err != nil {
			return CommandResponse{ExitCode: 1}
		}
		return CommandResponse{Stdout: content}
	case strings.HasPrefix(cmd, "rm -rf "):
		_ = fs.Remove(extractPath(strings.TrimPrefix(cmd, "rm -rf ")))
	case strings.HasPrefix(cmd, "test -d "):
		if !fs.IsDir(extractPath(strings.TrimPrefix(cmd, "test -d "))) {
			return CommandResponse{ExitCode: 1}
		}
	case strings.HasPrefix(cmd, "test -f "):
		if !fs.IsFile(extractPath(strings.TrimPrefix(cmd, "test -f "))) {
			return CommandResponse{ExitCode: 1}
		}
	case cmd == "hostname":
		return CommandResponse{Stdout: []byte(s.host.name + "\n")}
	}
	return CommandResponse{}
}

// extractPath extracts a path from a command argument.
// Handles both quoted and unquoted paths.
func extractPath(arg string) string {
	arg = strings.TrimSpace(arg)

	if strings.HasPrefix(arg, "\"") {
		endQuote := strings.Index(arg[1:], "\"")
		if endQuote != -1 {
			return arg[1 : endQuote+1]
		}
	}
	if strings.HasPrefix(arg, "'") {
		endQuote := strings.Index(arg[1:], "'")
		if endQuote != -1 {
			return arg[1 : endQuote+1]
		}
	}

	parts := strings.Fields(arg)
	if len(parts) > 0 {
		return parts[0]
	}
	return ""
}
