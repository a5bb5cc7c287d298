package config

import (
	"github.com/rileyhilliard/fleetrun/internal/run"
)

// Apply populates r with the plan's states, hosts, roles and scripts.
func (p *Plan) Apply(r *run.Run) {
	r.State().SetAll(p.States)

	for _, ph := range p.Hosts {
		r.AddHost(ph.Host)
		r.HostState(ph.Host).SetAll(ph.States)
		for _, s := range ph.Setup {
			r.AddSetupScript(ph.Host, s)
		}
		for _, s := range ph.Run {
			r.AddRunScript(ph.Host, s)
		}
	}

	for _, pr := range p.Roles {
		role := r.Role(pr.Name)
		for _, s := range pr.Setup {
			role.AddSetupScript(s)
		}
		for _, s := range pr.Run {
			role.AddRunScript(s)
		}
		for _, h := range pr.Hosts {
			role.AddHost(h)
		}
	}
}
