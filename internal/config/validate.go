package config

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/rileyhilliard/fleetrun/internal/errors"
	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/script"
	"github.com/rileyhilliard/fleetrun/pkg/sshutil"
)

// PlannedHost is a resolved host with everything scheduled on it directly.
type PlannedHost struct {
	Spec   string
	Host   host.Host
	Setup  []*script.Script
	Run    []*script.Script
	States map[string]string
	Roles  []string
}

// PlannedRole is a resolved role.
type PlannedRole struct {
	Name  string
	Hosts []host.Host
	Setup []*script.Script
	Run   []*script.Script
}

// Plan is a validated run configuration with every reference resolved.
type Plan struct {
	Name     string
	States   map[string]string
	Hosts    []PlannedHost
	Roles    []PlannedRole
	Scripts  map[string]*script.Script
	Warnings []string
}

// Compile validates rc and resolves its hosts, scripts and roles. Unknown
// script references, unknown hosts in roles, invoke cycles, malformed
// steps, bad durations and conditions that don't compile are all reported
// together as one CONFIG error. Host aliases are expanded through resolver,
// which may be nil.
func Compile(rc *RunConfig, resolver *sshutil.Resolver) (*Plan, error) {
	var probs problems
	c := newCompiler(rc, &probs)
	scripts := c.compile()
	for _, cycle := range findCycles(c.invokes) {
		probs.add("invoke cycle %s", strings.Join(cycle, " -> "))
	}

	p := &Plan{
		Name:    rc.DisplayName(),
		States:  make(map[string]string),
		Scripts: scripts,
	}
	for k, v := range rc.States {
		p.States[k] = v
	}
	for k, v := range rc.Settings.States {
		p.States[k] = v
	}

	lookup := func(where string, names []string) []*script.Script {
		out := make([]*script.Script, 0, len(names))
		for _, name := range names {
			s, ok := scripts[name]
			if !ok {
				probs.add("%s references unknown script '%s'", where, name)
				continue
			}
			out = append(out, s)
		}
		return out
	}

	bySpec := make(map[string]host.Host)
	byName := make(map[string]host.Host)
	memberOf := make(map[string][]host.Host)
	for _, entry := range rc.Hosts {
		spec := strings.TrimSpace(entry.Host)
		where := fmt.Sprintf("host '%s'", spec)
		expanded := spec
		if resolver != nil {
			expanded = resolver.Expand(spec)
		}
		h, err := host.Parse(expanded, host.CurrentUser())
		if err != nil {
			probs.add("%s: %s", where, causeOf(err))
			continue
		}
		bySpec[spec] = h
		byName[h.Hostname] = h
		for _, role := range entry.Roles {
			if _, ok := rc.Roles[role]; !ok {
				probs.add("%s is in unknown role '%s'", where, role)
				continue
			}
			memberOf[role] = append(memberOf[role], h)
		}
		p.Hosts = append(p.Hosts, PlannedHost{
			Spec:   spec,
			Host:   h,
			Setup:  lookup(where+" setup", entry.Setup),
			Run:    lookup(where+" run", entry.Run),
			States: entry.States,
			Roles:  entry.Roles,
		})
	}

	for _, name := range sortedNames(rc.Roles) {
		entry := rc.Roles[name]
		where := fmt.Sprintf("role '%s'", name)
		role := PlannedRole{
			Name:  name,
			Hosts: memberOf[name],
			Setup: lookup(where+" setup", entry.Setup),
			Run:   lookup(where+" run", entry.Run),
		}
		for _, ref := range entry.Hosts {
			h, ok := bySpec[ref]
			if !ok {
				h, ok = byName[ref]
			}
			if !ok {
				probs.add("%s references unknown host '%s'", where, ref)
				continue
			}
			role.Hosts = append(role.Hosts, h)
		}
		if len(role.Hosts) == 0 {
			p.Warnings = append(p.Warnings, fmt.Sprintf("%s has no hosts", where))
		}
		p.Roles = append(p.Roles, role)
	}

	if len(rc.Hosts) == 0 {
		probs.add("no hosts are defined")
	}
	if err := probs.err("Run configuration"); err != nil {
		return nil, err
	}

	p.Warnings = append(p.Warnings, unscheduled(p)...)
	return p, nil
}

// unscheduled names scripts that nothing schedules or invokes.
func unscheduled(p *Plan) []string {
	used := make(map[*script.Script]bool)
	var mark func(cmds []script.Cmd)
	mark = func(cmds []script.Cmd) {
		for _, cmd := range cmds {
			if inv, ok := cmd.(*script.InvokeCmd); ok && !used[inv.Script] {
				used[inv.Script] = true
				mark(inv.Script.Cmds())
				continue
			}
			if b, ok := cmd.(script.Branches); ok {
				for _, branch := range b.Branches() {
					mark(branch)
				}
			}
		}
	}
	use := func(list []*script.Script) {
		for _, s := range list {
			if !used[s] {
				used[s] = true
				mark(s.Cmds())
			}
		}
	}
	for _, h := range p.Hosts {
		use(h.Setup)
		use(h.Run)
	}
	for _, r := range p.Roles {
		use(r.Setup)
		use(r.Run)
	}

	var out []string
	for _, name := range sortedNames(p.Scripts) {
		if !used[p.Scripts[name]] {
			out = append(out, fmt.Sprintf("script '%s' is never scheduled", name))
		}
	}
	return out
}

// findCycles returns each invoke cycle once, starting from its
// alphabetically first script.
func findCycles(edges map[string][]string) [][]string {
	const (
		unvisited = iota
		visiting
		done
	)
	status := make(map[string]int)
	var stack []string
	var cycles [][]string

	var visit func(name string)
	visit = func(name string) {
		status[name] = visiting
		stack = append(stack, name)
		for _, next := range edges[name] {
			switch status[next] {
			case visiting:
				for i, n := range stack {
					if n == next {
						cycle := append(append([]string(nil), stack[i:]...), next)
						cycles = append(cycles, cycle)
						break
					}
				}
			case unvisited:
				visit(next)
			}
		}
		stack = stack[:len(stack)-1]
		status[name] = done
	}
	for _, name := range sortedNames(edges) {
		if status[name] == unvisited {
			visit(name)
		}
	}
	return cycles
}

// causeOf flattens a structured error into one line for the problem list.
func causeOf(err error) string {
	var fe *errors.Error
	if stderrors.As(err, &fe) {
		if fe.Cause != nil {
			return fe.Message + ": " + strings.TrimSpace(fe.Cause.Error())
		}
		return fe.Message
	}
	return err.Error()
}
