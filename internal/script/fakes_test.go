package script

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rileyhilliard/fleetrun/internal/coord"
	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/state"
)

type fakeResponse struct {
	out  string
	code int
	err  error
}

type fakeSession struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	commands  []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{responses: make(map[string]fakeResponse)}
}

func (f *fakeSession) respond(cmd, out string, code int) {
	f.responses[cmd] = fakeResponse{out: out, code: code}
}

func (f *fakeSession) IsOpen() bool { return true }
func (f *fakeSession) Close() error { return nil }

func (f *fakeSession) Exec(ctx context.Context, command string, stdout io.Writer) (int, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	resp := f.responses[command]
	f.mu.Unlock()
	if command == "block" {
		<-ctx.Done()
		return -1, ctx.Err()
	}
	if resp.out != "" {
		fmt.Fprint(stdout, resp.out)
	}
	return resp.code, resp.err
}

func (f *fakeSession) Download(ctx context.Context, remotePath, localPath string) error {
	return nil
}

type queued struct {
	host          host.Host
	remote, local string
}

type fakeRun struct {
	coord     *coord.Coordinator
	mu        sync.Mutex
	downloads []queued
	aborted   []string
}

func newFakeRun() *fakeRun { return &fakeRun{coord: coord.New()} }

func (r *fakeRun) Name() string                    { return "test" }
func (r *fakeRun) Coordinator() *coord.Coordinator { return r.coord }
func (r *fakeRun) OutputPath() string              { return "/out" }

func (r *fakeRun) QueueDownload(h host.Host, remotePath, localPath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads = append(r.downloads, queued{h, remotePath, localPath})
}

func (r *fakeRun) Abort(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborted = append(r.aborted, reason)
}

// seqWalker runs nodes in order, the way the dispatcher does minus pooling.
type seqWalker struct {
	visited []Kind
}

func (w *seqWalker) Walk(ctx context.Context, cc *Context, cmds []Cmd) error {
	for _, cmd := range cmds {
		w.visited = append(w.visited, cmd.Kind())
		if err := cmd.Execute(ctx, cc, w); err != nil {
			return err
		}
	}
	return nil
}

func newTestContext(session Session, run Run) (*Context, *state.State) {
	root := state.New()
	st := root.NewHostState().NewScriptState()
	h := host.Host{Username: "bench", Hostname: "node1", Port: 22}
	return NewContext("test", h, session, st, run, nil, nil), st
}
