package script

import (
	"context"
	"io"

	"github.com/rileyhilliard/fleetrun/internal/coord"
	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/logger"
	"github.com/rileyhilliard/fleetrun/internal/profile"
	"github.com/rileyhilliard/fleetrun/internal/state"
)

// Session is an open connection to one host.
type Session interface {
	// IsOpen reports whether the connection handshake succeeded and the
	// connection has not been closed.
	IsOpen() bool

	// Exec runs command remotely, writing its combined output to stdout.
	// A non-zero exit code with a nil error means the command ran and failed.
	Exec(ctx context.Context, command string, stdout io.Writer) (exitCode int, err error)

	// Download copies remotePath from the host to localPath.
	Download(ctx context.Context, remotePath, localPath string) error

	// Close releases the connection.
	Close() error
}

// Run is the part of the owning run that commands may use.
type Run interface {
	Name() string
	Coordinator() *coord.Coordinator
	OutputPath() string
	QueueDownload(h host.Host, remotePath, localPath string)
	Abort(reason string)
}

// Context binds one (script, host) execution to its session, state scope,
// owning run and profiler. It is immutable once created.
type Context struct {
	script   string
	host     host.Host
	session  Session
	state    *state.State
	run      Run
	profiler *profile.Profiler
	log      logger.Logger
}

// NewContext creates the execution binding for scriptName on h.
// A nil log is replaced with a no-op logger.
func NewContext(scriptName string, h host.Host, session Session, st *state.State, run Run, profiler *profile.Profiler, log logger.Logger) *Context {
	if log == nil {
		log = logger.Noop()
	}
	return &Context{
		script:   scriptName,
		host:     h,
		session:  session,
		state:    st,
		run:      run,
		profiler: profiler,
		log:      log.With("script", scriptName, "host", h.String()),
	}
}

func (c *Context) ScriptName() string          { return c.script }
func (c *Context) Host() host.Host             { return c.host }
func (c *Context) Session() Session            { return c.session }
func (c *Context) State() *state.State         { return c.state }
func (c *Context) Run() Run                    { return c.run }
func (c *Context) Profiler() *profile.Profiler { return c.profiler }
func (c *Context) Logger() logger.Logger       { return c.log }
func (c *Context) String() string              { return c.script + "@" + c.host.Hostname }
