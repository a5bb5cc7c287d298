package script

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rileyhilliard/fleetrun/internal/errors"
	"github.com/rileyhilliard/fleetrun/internal/state"
)

// Kind names a Cmd type as it is written in run files.
type Kind string

const (
	KindSh       Kind = "sh"
	KindEcho     Kind = "echo"
	KindSignal   Kind = "signal"
	KindWaitFor  Kind = "wait-for"
	KindInvoke   Kind = "invoke"
	KindIf       Kind = "if"
	KindLoop     Kind = "loop"
	KindSleep    Kind = "sleep"
	KindSetState Kind = "set-state"
	KindDownload Kind = "download"
	KindAbort    Kind = "abort"
)

// Cmd is one node of a script tree.
type Cmd interface {
	Kind() Kind
	String() string
	Execute(ctx context.Context, cc *Context, w Walker) error
}

// Walker executes a sequence of nodes for one (script, host) pair.
type Walker interface {
	Walk(ctx context.Context, cc *Context, cmds []Cmd) error
}

// Deferred is implemented by nodes that spend their time waiting on a timer.
// The dispatcher runs them on the scheduled pool instead of a worker slot.
type Deferred interface {
	Deferred() bool
}

// Branches is implemented by nodes that own child sequences.
type Branches interface {
	Branches() [][]Cmd
}

// ShCmd runs a shell command on the remote host.
type ShCmd struct {
	Command    string
	Capture    string        // state key receiving trimmed stdout
	IgnoreExit bool          // a non-zero exit is not a failure
	Timeout    time.Duration // zero means no timeout
}

// Sh creates a remote command node.
func Sh(command string) *ShCmd { return &ShCmd{Command: command} }

func (c *ShCmd) Kind() Kind     { return KindSh }
func (c *ShCmd) String() string { return "sh: " + c.Command }

func (c *ShCmd) Execute(ctx context.Context, cc *Context, _ Walker) error {
	command, err := cc.State().Populate(c.Command)
	if err != nil {
		return err
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	exitCode, err := cc.Session().Exec(ctx, command, &out)
	output := strings.TrimSpace(out.String())
	if output != "" {
		cc.Logger().Debug("%s\n%s", command, output)
	}
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("'%s' failed on %s", command, cc.Host()),
			"Check the command exists on the remote host")
	}
	if c.Capture != "" {
		cc.State().Set(c.Capture, output)
	}
	if exitCode != 0 && !c.IgnoreExit {
		return errors.New(errors.ErrExec,
			fmt.Sprintf("'%s' exited with code %d on %s", command, exitCode, cc.Host()),
			"Set ignore-exit on the step if a non-zero exit is expected")
	}
	return nil
}

// EchoCmd logs a message.
type EchoCmd struct {
	Message string
}

// Echo creates a node that logs message after populating state references.
func Echo(message string) *EchoCmd { return &EchoCmd{Message: message} }

func (c *EchoCmd) Kind() Kind     { return KindEcho }
func (c *EchoCmd) String() string { return "echo: " + c.Message }

func (c *EchoCmd) Execute(_ context.Context, cc *Context, _ Walker) error {
	msg, err := cc.State().Populate(c.Message)
	if err != nil {
		return err
	}
	cc.Logger().Info("%s", msg)
	return nil
}

// SignalCmd counts down a coordinator name.
type SignalCmd struct {
	Name string
}

// Signal creates an emit node.
func Signal(name string) *SignalCmd { return &SignalCmd{Name: name} }

func (c *SignalCmd) Kind() Kind     { return KindSignal }
func (c *SignalCmd) String() string { return "signal: " + c.Name }

func (c *SignalCmd) Execute(_ context.Context, cc *Context, _ Walker) error {
	name, err := cc.State().Populate(c.Name)
	if err != nil {
		return err
	}
	cc.Logger().Debug("signal %s", name)
	cc.Run().Coordinator().Signal(name)
	return nil
}

// WaitForCmd blocks until a coordinator name reaches zero.
type WaitForCmd struct {
	Name string
}

// WaitFor creates a wait node.
func WaitFor(name string) *WaitForCmd { return &WaitForCmd{Name: name} }

func (c *WaitForCmd) Kind() Kind     { return KindWaitFor }
func (c *WaitForCmd) String() string { return "wait-for: " + c.Name }

func (c *WaitForCmd) Execute(ctx context.Context, cc *Context, _ Walker) error {
	name, err := cc.State().Populate(c.Name)
	if err != nil {
		return err
	}
	cc.Logger().Debug("waiting for %s", name)
	if err := cc.Run().Coordinator().WaitFor(ctx, name); err != nil {
		return errors.WrapWithCode(err, errors.ErrAbort,
			fmt.Sprintf("Stopped waiting for '%s'", name), "")
	}
	return nil
}

// InvokeCmd runs another script inline with the same context.
type InvokeCmd struct {
	Script *Script
}

// Invoke creates a node that runs s as a step.
func Invoke(s *Script) *InvokeCmd { return &InvokeCmd{Script: s} }

func (c *InvokeCmd) Kind() Kind        { return KindInvoke }
func (c *InvokeCmd) String() string    { return "invoke: " + c.Script.Name() }
func (c *InvokeCmd) Branches() [][]Cmd { return [][]Cmd{c.Script.Cmds()} }

func (c *InvokeCmd) Execute(ctx context.Context, cc *Context, w Walker) error {
	return w.Walk(ctx, cc, c.Script.Cmds())
}

// condition is a compiled boolean expression over the visible state.
type condition struct {
	source  string
	program *vm.Program
}

func compileCondition(source string) (*condition, error) {
	program, err := expr.Compile(source, expr.AllowUndefinedVariables(), expr.AsBool())
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Couldn't compile condition %q", source),
			"Conditions use expr syntax, e.g. COUNT > 3 && MODE == \"fast\"")
	}
	return &condition{source: source, program: program}, nil
}

func (c *condition) eval(st *state.State) (bool, error) {
	env := make(map[string]interface{})
	for k, v := range st.Env() {
		env[k] = typedValue(v)
	}
	out, err := expr.Run(c.program, env)
	if err != nil {
		return false, errors.WrapWithCode(err, errors.ErrExec,
			fmt.Sprintf("Couldn't evaluate condition %q", c.source), "")
	}
	result, ok := out.(bool)
	if !ok {
		return false, errors.New(errors.ErrExec,
			fmt.Sprintf("Condition %q returned %T, not bool", c.source, out), "")
	}
	return result, nil
}

// typedValue lets numeric and boolean state values compare naturally in conditions.
func typedValue(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// IfCmd runs Then when the condition holds, Else otherwise.
type IfCmd struct {
	cond *condition
	Then []Cmd
	Else []Cmd
}

// If creates a conditional node. The condition is an expr expression
// evaluated against the state visible to the executing script.
func If(cond string, then, els []Cmd) (*IfCmd, error) {
	c, err := compileCondition(cond)
	if err != nil {
		return nil, err
	}
	return &IfCmd{cond: c, Then: then, Else: els}, nil
}

func (c *IfCmd) Kind() Kind        { return KindIf }
func (c *IfCmd) String() string    { return "if: " + c.cond.source }
func (c *IfCmd) Branches() [][]Cmd { return [][]Cmd{c.Then, c.Else} }

func (c *IfCmd) Execute(ctx context.Context, cc *Context, w Walker) error {
	ok, err := c.cond.eval(cc.State())
	if err != nil {
		return err
	}
	if ok {
		return w.Walk(ctx, cc, c.Then)
	}
	return w.Walk(ctx, cc, c.Else)
}

// LoopIndexKey is the script state key holding the current loop iteration.
const LoopIndexKey = "LOOP_INDEX"

// LoopCmd repeats Body a fixed number of times or while a condition holds.
type LoopCmd struct {
	Times int
	while *condition
	Body  []Cmd
}

// Loop creates a loop running body times times.
func Loop(times int, body []Cmd) *LoopCmd {
	return &LoopCmd{Times: times, Body: body}
}

// While creates a loop running body for as long as cond holds, checked
// before every iteration. A positive max bounds the iterations.
func While(cond string, max int, body []Cmd) (*LoopCmd, error) {
	c, err := compileCondition(cond)
	if err != nil {
		return nil, err
	}
	return &LoopCmd{Times: max, while: c, Body: body}, nil
}

func (c *LoopCmd) Kind() Kind        { return KindLoop }
func (c *LoopCmd) Branches() [][]Cmd { return [][]Cmd{c.Body} }

func (c *LoopCmd) String() string {
	if c.while != nil {
		return "loop: while " + c.while.source
	}
	return fmt.Sprintf("loop: %d times", c.Times)
}

func (c *LoopCmd) Execute(ctx context.Context, cc *Context, w Walker) error {
	for i := 0; c.while != nil || i < c.Times; i++ {
		if c.while != nil {
			if c.Times > 0 && i >= c.Times {
				return nil
			}
			ok, err := c.while.eval(cc.State())
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		cc.State().Set(LoopIndexKey, strconv.Itoa(i))
		if err := w.Walk(ctx, cc, c.Body); err != nil {
			return err
		}
	}
	return nil
}

// SleepCmd pauses the script. It runs on the scheduled pool.
type SleepCmd struct {
	Duration time.Duration
}

// Sleep creates a timed pause.
func Sleep(d time.Duration) *SleepCmd { return &SleepCmd{Duration: d} }

func (c *SleepCmd) Kind() Kind     { return KindSleep }
func (c *SleepCmd) String() string { return "sleep: " + c.Duration.String() }
func (c *SleepCmd) Deferred() bool { return true }

func (c *SleepCmd) Execute(ctx context.Context, _ *Context, _ Walker) error {
	timer := time.NewTimer(c.Duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetStateCmd writes a value into a state scope.
type SetStateCmd struct {
	Key   string
	Value string
	Level state.Level
}

// SetState creates a node writing key=value to the scope at level,
// found by walking up from the executing script's scope.
func SetState(key, value string, level state.Level) *SetStateCmd {
	return &SetStateCmd{Key: key, Value: value, Level: level}
}

func (c *SetStateCmd) Kind() Kind { return KindSetState }

func (c *SetStateCmd) String() string {
	return fmt.Sprintf("set-state: %s %s=%s", c.Level, c.Key, c.Value)
}

func (c *SetStateCmd) Execute(_ context.Context, cc *Context, _ Walker) error {
	value, err := cc.State().Populate(c.Value)
	if err != nil {
		return err
	}
	scope := cc.State().Scope(c.Level)
	if scope == nil {
		scope = cc.State()
	}
	scope.Set(c.Key, value)
	return nil
}

// DownloadCmd queues a file to be fetched once the run completes.
type DownloadCmd struct {
	Path        string
	Destination string
}

// Download creates a node queuing remotePath for download. An empty or
// relative destination is placed under <output>/<hostname>/.
func Download(remotePath, destination string) *DownloadCmd {
	return &DownloadCmd{Path: remotePath, Destination: destination}
}

func (c *DownloadCmd) Kind() Kind     { return KindDownload }
func (c *DownloadCmd) String() string { return "download: " + c.Path }

func (c *DownloadCmd) Execute(_ context.Context, cc *Context, _ Walker) error {
	remote, err := cc.State().Populate(c.Path)
	if err != nil {
		return err
	}
	dest, err := cc.State().Populate(c.Destination)
	if err != nil {
		return err
	}
	if !filepath.IsAbs(dest) {
		dest = filepath.Join(cc.Run().OutputPath(), cc.Host().Hostname, dest)
	}
	cc.Logger().Debug("queue download %s -> %s", remote, dest)
	cc.Run().QueueDownload(cc.Host(), remote, dest)
	return nil
}

// AbortCmd stops the whole run.
type AbortCmd struct {
	Message string
}

// Abort creates a node that aborts the run with message.
func Abort(message string) *AbortCmd { return &AbortCmd{Message: message} }

func (c *AbortCmd) Kind() Kind     { return KindAbort }
func (c *AbortCmd) String() string { return "abort: " + c.Message }

func (c *AbortCmd) Execute(_ context.Context, cc *Context, _ Walker) error {
	msg, err := cc.State().Populate(c.Message)
	if err != nil {
		msg = c.Message
	}
	cc.Run().Abort(fmt.Sprintf("%s requested abort: %s", cc, msg))
	return errors.New(errors.ErrAbort, msg, "")
}
