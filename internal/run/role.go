package run

import (
	"sync"

	"github.com/rileyhilliard/fleetrun/internal/host"
	"github.com/rileyhilliard/fleetrun/internal/script"
)

// Role groups hosts that share setup and run scripts. Scripts added to a
// role are scheduled on every member, including hosts added later.
type Role struct {
	*host.Role
	run *Run

	mu    sync.Mutex
	setup []*script.Script
	runs  []*script.Script
}

// AddHost puts h in the role and schedules the role's scripts on it.
func (ro *Role) AddHost(h host.Host) *Role {
	ro.run.AddHost(h)
	ro.Add(h)

	ro.mu.Lock()
	setup := append([]*script.Script(nil), ro.setup...)
	runs := append([]*script.Script(nil), ro.runs...)
	ro.mu.Unlock()

	for _, s := range setup {
		ro.run.AddSetupScript(h, s)
	}
	for _, s := range runs {
		ro.run.AddRunScript(h, s)
	}
	return ro
}

// AddSetupScript schedules s in the setup phase on every member.
func (ro *Role) AddSetupScript(s *script.Script) *Role {
	ro.mu.Lock()
	ro.setup = appendUnique(ro.setup, s)
	ro.mu.Unlock()
	for _, h := range ro.Hosts() {
		ro.run.AddSetupScript(h, s)
	}
	return ro
}

// AddRunScript schedules s in the run phase on every member.
func (ro *Role) AddRunScript(s *script.Script) *Role {
	ro.mu.Lock()
	ro.runs = appendUnique(ro.runs, s)
	ro.mu.Unlock()
	for _, h := range ro.Hosts() {
		ro.run.AddRunScript(h, s)
	}
	return ro
}
