package testing

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/script"
)

var _ script.Session = (*MockSession)(nil)

func TestMockFS_Mkdir(t *testing.T) {
	fs := NewMockFS()

	// Should succeed on first create
	err := fs.Mkdir("/tmp/test")
	require.NoError(t, err)
	assert.True(t, fs.IsDir("/tmp/test"))

	// Should fail if already exists
	err = fs.Mkdir("/tmp/test")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestMockFS_MkdirAll(t *testing.T) {
	fs := NewMockFS()

	// Should create nested dirs
	err := fs.MkdirAll("/a/b/c/d")
	require.NoError(t, err)

	assert.True(t, fs.IsDir("/a"))
	assert.True(t, fs.IsDir("/a/b"))
	assert.True(t, fs.IsDir("/a/b/c"))
	assert.True(t, fs.IsDir("/a/b/c/d"))
}

func TestMockFS_WriteAndReadFile(t *testing.T) {
	fs := NewMockFS()

	// Write a file
	err := fs.WriteFile("/tmp/hello.txt", []byte("hello world"))
	require.NoError(t, err)

	// Read it back
	content, err := fs.ReadFile("/tmp/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	// Check it exists as a file
	assert.True(t, fs.IsFile("/tmp/hello.txt"))
	assert.False(t, fs.IsDir("/tmp/hello.txt"))
}

func TestMockFS_ReadFile_NotFound(t *testing.T) {
	fs := NewMockFS()

	_, err := fs.ReadFile("/nonexistent")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMockFS_Remove(t *testing.T) {
	fs := NewMockFS()

	// Create a file
	fs.WriteFile("/tmp/file.txt", []byte("data"))
	assert.True(t, fs.Exists("/tmp/file.txt"))

	// Remove it
	err := fs.Remove("/tmp/file.txt")
	require.NoError(t, err)
	assert.False(t, fs.Exists("/tmp/file.txt"))
}

func TestMockFS_Remove_Recursive(t *testing.T) {
	fs := NewMockFS()

	// Create a directory structure
	fs.MkdirAll("/tmp/dir")
	fs.WriteFile("/tmp/dir/file1.txt", []byte("data1"))
	fs.WriteFile("/tmp/dir/file2.txt", []byte("data2"))

	// Remove recursively
	err := fs.Remove("/tmp/dir")
	require.NoError(t, err)

	assert.False(t, fs.Exists("/tmp/dir"))
	assert.False(t, fs.Exists("/tmp/dir/file1.txt"))
	assert.False(t, fs.Exists("/tmp/dir/file2.txt"))
}

func TestMockFS_Under(t *testing.T) {
	fs := NewMockFS()
	fs.WriteFile("/data/a.txt", []byte("a"))
	fs.WriteFile("/data/sub/b.txt", []byte("b"))
	fs.WriteFile("/database", []byte("not under"))

	got := fs.Under("/data")
	assert.Len(t, got, 2)
	assert.Equal(t, []byte("b"), got["/data/sub/b.txt"])
}

func TestMockSession_Exec_Filesystem(t *testing.T) {
	s := NewMockSession("node1")
	ctx := context.Background()

	code, err := s.Exec(ctx, `mkdir -p "/tmp/run/logs"`, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.True(t, s.Host().GetFS().IsDir("/tmp/run/logs"))

	_, err = s.Exec(ctx, "echo done > /tmp/run/logs/status", nil)
	require.NoError(t, err)

	var out bytes.Buffer
	code, err = s.Exec(ctx, "cat /tmp/run/logs/status", &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "done\n", out.String())

	code, _ = s.Exec(ctx, "test -f /tmp/run/logs/status", nil)
	assert.Equal(t, 0, code)
	code, _ = s.Exec(ctx, "test -d /nowhere", nil)
	assert.Equal(t, 1, code)

	_, err = s.Exec(ctx, "rm -rf /tmp/run", nil)
	require.NoError(t, err)
	code, _ = s.Exec(ctx, "cat /tmp/run/logs/status", nil)
	assert.Equal(t, 1, code)

	assert.Len(t, s.Host().Commands(), 7)
}

func TestMockSession_CustomResponse(t *testing.T) {
	s := NewMockSession("node1")
	s.Host().SetCommandResponse("nproc", CommandResponse{Stdout: []byte("16\n")})
	s.Host().SetCommandResponse("^fio .*", CommandResponse{ExitCode: 2})
	s.Host().SetCommandResponse("broken", CommandResponse{Error: errors.New("channel closed")})

	var out bytes.Buffer
	code, err := s.Exec(context.Background(), "nproc", &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "16\n", out.String())

	code, err = s.Exec(context.Background(), "fio --name=randread", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, code)

	_, err = s.Exec(context.Background(), "broken", nil)
	assert.EqualError(t, err, "channel closed")
}

func TestMockSession_BlockAndDelay(t *testing.T) {
	s := NewMockSession("node1")
	s.Host().SetCommandResponse("block", CommandResponse{Block: true})
	s.Host().SetCommandResponse("slow", CommandResponse{Delay: time.Hour})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Exec(ctx, "block", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	_, err = s.Exec(ctx2, "slow", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockSession_Close(t *testing.T) {
	h := NewMockHost("node1")
	a, b := h.NewSession(), h.NewSession()
	assert.True(t, a.IsOpen())

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.False(t, a.IsOpen())
	assert.True(t, b.IsOpen())

	opened, open := h.Sessions()
	assert.Equal(t, 2, opened)
	assert.Equal(t, 1, open)

	_, err := a.Exec(context.Background(), "hostname", nil)
	assert.Error(t, err)
}

func TestMockSession_Download(t *testing.T) {
	h := NewMockHost("node1")
	WithFiles(h, map[string]string{
		"/var/log/bench.log":      "ok",
		"/results/run1/lat.csv":   "1,2",
		"/results/run1/sub/x.txt": "x",
	})
	s := h.NewSession()
	dest := t.TempDir()

	require.NoError(t, s.Download(context.Background(), "/var/log/bench.log", filepath.Join(dest, "bench.log")))
	got, err := os.ReadFile(filepath.Join(dest, "bench.log"))
	require.NoError(t, err)
	assert.Equal(t, "ok", string(got))

	require.NoError(t, s.Download(context.Background(), "/results/run1", filepath.Join(dest, "run1")))
	got, err = os.ReadFile(filepath.Join(dest, "run1", "sub", "x.txt"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))

	assert.Error(t, s.Download(context.Background(), "/missing", dest))
	assert.Len(t, h.Downloads(), 2)
}

func TestFleet_Open(t *testing.T) {
	f := NewFleet()
	f.Fail("node2", errors.New("connection refused"))

	sess, err := f.Open(context.Background(), host.Host{Username: "bench", Hostname: "node1"})
	require.NoError(t, err)
	assert.True(t, sess.IsOpen())

	_, err = f.Open(context.Background(), host.Host{Username: "bench", Hostname: "node2"})
	assert.Error(t, err)

	assert.Equal(t, []string{"node1", "node2"}, f.Opened())
	opened, _ := f.Host("node1").Sessions()
	assert.Equal(t, 1, opened)
}

func TestHelpers_WithDirs(t *testing.T) {
	h := NewMockHost("node1")
	WithDirs(h, []string{"/a/b", "/c"})
	assert.True(t, h.GetFS().IsDir("/a"))
	assert.True(t, h.GetFS().IsDir("/a/b"))
	assert.True(t, h.GetFS().IsDir("/c"))
}

func TestMockFS_Exists(t *testing.T) {
	fs := NewMockFS()

	assert.False(t, fs.Exists("/nonexistent"))

	fs.WriteFile("/tmp/file.txt", []byte("content"))
	assert.True(t, fs.Exists("/tmp/file.txt"))

	fs.MkdirAll("/tmp/dir")
	assert.True(t, fs.Exists("/tmp/dir"))
}

func TestMockFS_IsFile(t *testing.T) {
	fs := NewMockFS()

	fs.WriteFile("/tmp/file.txt", []byte("content"))
	fs.MkdirAll("/tmp/dir")

	assert.True(t, fs.IsFile("/tmp/file.txt"))
	assert.False(t, fs.IsFile("/tmp/dir"))
	assert.False(t, fs.IsFile("/nonexistent"))
}

func TestMockFS_IsDir(t *testing.T) {
	fs := NewMockFS()

	fs.WriteFile("/tmp/file.txt", []byte("content"))
	fs.MkdirAll("/tmp/dir")

	assert.False(t, fs.IsDir("/tmp/file.txt"))
	assert.True(t, fs.IsDir("/tmp/dir"))
	assert.False(t, fs.IsDir("/nonexistent"))
}

func TestExtractPath(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{
			name:   "double quoted",
			input:  `"/path/to/file"`,
			expect: "/path/to/file",
		},
		{
			name:   "single quoted",
			input:  `'/path/to/file'`,
			expect: "/path/to/file",
		},
		{
			name:   "unquoted",
			input:  "/path/to/file",
			expect: "/path/to/file",
		},
		{
			name:   "with trailing text",
			input:  "/path/to/file extra stuff",
			expect: "/path/to/file",
		},
		{
			name:   "empty",
			input:  "",
			expect: "",
		},
		{
			name:   "whitespace only",
			input:  "   ",
			expect: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractPath(tt.input)
			assert.Equal(t, tt.expect, result)
		})
	}
}
