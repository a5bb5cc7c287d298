package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rileyhilliard/fleetrun/internal/script"
	"github.com/rileyhilliard/fleetrun/internal/state"
)

// stepOptions lists the keys each step kind accepts next to its own.
var stepOptions = map[string][]string{
	"sh":        {"capture", "ignore-exit", "timeout"},
	"echo":      nil,
	"signal":    nil,
	"wait-for":  nil,
	"invoke":    nil,
	"if":        {"then", "else"},
	"loop":      {"do"},
	"while":     {"max", "do"},
	"sleep":     nil,
	"set-state": {"scope"},
	"download":  {"to"},
	"abort":     nil,
}

// compiler turns the step nodes of every script into command trees.
type compiler struct {
	rc      *RunConfig
	scripts map[string]*script.Script
	invokes map[string][]string
	probs   *problems
}

func newCompiler(rc *RunConfig, probs *problems) *compiler {
	c := &compiler{
		rc:      rc,
		scripts: make(map[string]*script.Script, len(rc.Scripts)),
		invokes: make(map[string][]string),
		probs:   probs,
	}
	for name := range rc.Scripts {
		c.scripts[name] = script.New(name)
	}
	return c
}

// compile fills every script. Invoked scripts are shared by pointer, so
// declaration order doesn't matter.
func (c *compiler) compile() map[string]*script.Script {
	for _, name := range sortedNames(c.rc.Scripts) {
		nodes := c.rc.Scripts[name]
		where := fmt.Sprintf("%s: script '%s'", c.rc.Origin(name), name)
		for _, cmd := range c.steps(name, where, nodePtrs(nodes)) {
			c.scripts[name].Then(cmd)
		}
	}
	return c.scripts
}

func nodePtrs(nodes []yaml.Node) []*yaml.Node {
	out := make([]*yaml.Node, len(nodes))
	for i := range nodes {
		out[i] = &nodes[i]
	}
	return out
}

func (c *compiler) steps(owner, where string, nodes []*yaml.Node) []script.Cmd {
	cmds := make([]script.Cmd, 0, len(nodes))
	for _, n := range nodes {
		if cmd := c.step(owner, where, n); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// step decodes one node. A bare string is an sh step; otherwise the node
// is a mapping holding exactly one kind key plus that kind's options.
func (c *compiler) step(owner, where string, n *yaml.Node) script.Cmd {
	at := fmt.Sprintf("%s line %d", where, n.Line)
	switch n.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(n.Value) == "" {
			c.probs.add("%s: empty step", at)
			return nil
		}
		return script.Sh(n.Value)
	case yaml.MappingNode:
	default:
		c.probs.add("%s: a step must be a command string or a mapping like 'sh: make'", at)
		return nil
	}

	kind, value := "", (*yaml.Node)(nil)
	for i := 0; i < len(n.Content)-1; i += 2 {
		key := n.Content[i].Value
		if _, ok := stepOptions[key]; !ok {
			continue
		}
		if kind != "" {
			c.probs.add("%s: step has both '%s' and '%s'; split it into two steps", at, kind, key)
			return nil
		}
		kind, value = key, n.Content[i+1]
	}
	if kind == "" {
		c.probs.add("%s: unknown step %s; expected one of %s", at, describeKeys(n), strings.Join(sortedNames(stepOptions), ", "))
		return nil
	}

	allowed := map[string]bool{kind: true}
	for _, opt := range stepOptions[kind] {
		allowed[opt] = true
	}
	for i := 0; i < len(n.Content)-1; i += 2 {
		if key := n.Content[i].Value; !allowed[key] {
			c.probs.add("%s: '%s' is not an option of '%s'", at, key, kind)
			return nil
		}
	}

	switch kind {
	case "sh":
		return c.sh(at, n, value)
	case "echo":
		return script.Echo(c.scalar(at, kind, value))
	case "signal":
		return script.Signal(c.name(at, kind, value))
	case "wait-for":
		return script.WaitFor(c.name(at, kind, value))
	case "invoke":
		target := c.name(at, kind, value)
		sub, ok := c.scripts[target]
		if !ok {
			c.probs.add("%s: invoke of unknown script '%s'", at, target)
			return nil
		}
		c.invokes[owner] = append(c.invokes[owner], target)
		return script.Invoke(sub)
	case "if":
		then := c.block(owner, where, n, "then")
		els := c.block(owner, where, n, "else")
		cmd, err := script.If(c.scalar(at, kind, value), then, els)
		if err != nil {
			c.probs.add("%s: %v", at, causeOf(err))
			return nil
		}
		return cmd
	case "loop":
		var times int
		if err := value.Decode(&times); err != nil || times < 0 {
			c.probs.add("%s: loop needs a non-negative count, got '%s'", at, value.Value)
			return nil
		}
		return script.Loop(times, c.block(owner, where, n, "do"))
	case "while":
		max := 0
		if m := findMapValue(n, "max"); m != nil {
			if err := m.Decode(&max); err != nil || max < 0 {
				c.probs.add("%s: while max must be a non-negative number, got '%s'", at, m.Value)
				return nil
			}
		}
		cmd, err := script.While(c.scalar(at, kind, value), max, c.block(owner, where, n, "do"))
		if err != nil {
			c.probs.add("%s: %v", at, causeOf(err))
			return nil
		}
		return cmd
	case "sleep":
		d, ok := c.duration(at, kind, value)
		if !ok {
			return nil
		}
		return script.Sleep(d)
	case "set-state":
		return c.setState(at, n, value)
	case "download":
		dest := ""
		if to := findMapValue(n, "to"); to != nil {
			dest = to.Value
		}
		return script.Download(c.name(at, kind, value), dest)
	case "abort":
		return script.Abort(c.scalar(at, kind, value))
	}
	return nil
}

func (c *compiler) sh(at string, n, value *yaml.Node) script.Cmd {
	cmd := script.Sh(c.name(at, "sh", value))
	if v := findMapValue(n, "capture"); v != nil {
		cmd.Capture = v.Value
	}
	if v := findMapValue(n, "ignore-exit"); v != nil {
		if err := v.Decode(&cmd.IgnoreExit); err != nil {
			c.probs.add("%s: ignore-exit must be true or false", at)
		}
	}
	if v := findMapValue(n, "timeout"); v != nil {
		if d, ok := c.duration(at, "timeout", v); ok {
			cmd.Timeout = d
		}
	}
	return cmd
}

// setState reads KEY=value with an optional scope of script, host or run.
func (c *compiler) setState(at string, n, value *yaml.Node) script.Cmd {
	assignment := c.scalar(at, "set-state", value)
	key, val, ok := strings.Cut(assignment, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		c.probs.add("%s: set-state needs KEY=value, got '%s'", at, assignment)
		return nil
	}
	level := state.LevelScript
	if s := findMapValue(n, "scope"); s != nil {
		switch s.Value {
		case "script":
		case "host":
			level = state.LevelHost
		case "run":
			level = state.LevelRun
		default:
			c.probs.add("%s: set-state scope '%s' isn't valid - use 'script', 'host' or 'run'", at, s.Value)
			return nil
		}
	}
	return script.SetState(key, val, level)
}

func (c *compiler) block(owner, where string, n *yaml.Node, key string) []script.Cmd {
	v := findMapValue(n, key)
	if v == nil {
		return nil
	}
	if v.Kind != yaml.SequenceNode {
		c.probs.add("%s line %d: '%s' must be a list of steps", where, v.Line, key)
		return nil
	}
	return c.steps(owner, where, v.Content)
}

func (c *compiler) scalar(at, kind string, v *yaml.Node) string {
	if v.Kind != yaml.ScalarNode {
		c.probs.add("%s: '%s' needs a single value", at, kind)
		return ""
	}
	return v.Value
}

// name is a scalar that can't be empty.
func (c *compiler) name(at, kind string, v *yaml.Node) string {
	s := c.scalar(at, kind, v)
	if v.Kind == yaml.ScalarNode && strings.TrimSpace(s) == "" {
		c.probs.add("%s: '%s' can't be empty", at, kind)
	}
	return s
}

func (c *compiler) duration(at, kind string, v *yaml.Node) (time.Duration, bool) {
	d, err := time.ParseDuration(c.scalar(at, kind, v))
	if err != nil || d < 0 {
		c.probs.add("%s: '%s' doesn't look like a valid duration - try something like 5s, 2m or 500ms", at, v.Value)
		return 0, false
	}
	return d, true
}

// findMapValue finds a value in a mapping node by key name.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i < len(node.Content)-1; i += 2 {
		if node.Content[i].Kind == yaml.ScalarNode && node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func describeKeys(n *yaml.Node) string {
	var keys []string
	for i := 0; i < len(n.Content)-1; i += 2 {
		keys = append(keys, "'"+n.Content[i].Value+"'")
	}
	return strings.Join(keys, ", ")
}
