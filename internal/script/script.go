package script

import (
	"fmt"
	"strings"
)

// Script is a named, ordered list of commands. It carries no execution
// state and may be run on any number of hosts at once.
type Script struct {
	name string
	cmds []Cmd
}

// New creates an empty script.
func New(name string) *Script {
	return &Script{name: name}
}

// Name returns the script name.
func (s *Script) Name() string { return s.name }

// Then appends cmd and returns s for chaining.
func (s *Script) Then(cmd Cmd) *Script {
	s.cmds = append(s.cmds, cmd)
	return s
}

// Invoke appends a step running sub in place.
func (s *Script) Invoke(sub *Script) *Script {
	return s.Then(Invoke(sub))
}

// Cmds returns a copy of the script's top-level commands.
func (s *Script) Cmds() []Cmd {
	out := make([]Cmd, len(s.cmds))
	copy(out, s.cmds)
	return out
}

// Len returns the number of top-level commands.
func (s *Script) Len() int { return len(s.cmds) }

func (s *Script) String() string { return s.name }

// Tree renders the script as an indented outline for debug logs.
// Invoked scripts are shown by name only.
func (s *Script) Tree() string {
	var b strings.Builder
	b.WriteString(s.name)
	b.WriteString("\n")
	writeTree(&b, s.cmds, 1)
	return b.String()
}

func writeTree(b *strings.Builder, cmds []Cmd, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, cmd := range cmds {
		fmt.Fprintf(b, "%s- %s\n", indent, cmd)
		switch c := cmd.(type) {
		case *IfCmd:
			if len(c.Then) > 0 {
				fmt.Fprintf(b, "%s  then:\n", indent)
				writeTree(b, c.Then, depth+2)
			}
			if len(c.Else) > 0 {
				fmt.Fprintf(b, "%s  else:\n", indent)
				writeTree(b, c.Else, depth+2)
			}
		case *LoopCmd:
			writeTree(b, c.Body, depth+1)
		}
	}
}
