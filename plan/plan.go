// Package plan diffs declared resources against observed remote state
// and produces the ordered change-set an apply run executes.
package plan

import (
	"fmt"
	"strings"

	"github.com/varunnarsana/stratus/diff"
	"github.com/varunnarsana/stratus/graph"
	"github.com/varunnarsana/stratus/types"
)

// Plan is an ordered change-set. Creates and updates come first, in
// creation order; deletes of resources that left the configuration
// follow, dependents before their dependencies. Noops are included for
// observability and never executed.
type Plan struct {
	Workspace string
	Actions   []types.ChangeAction

	specs   map[string]types.ResourceSpec
	removed map[string]types.StateEntry
	forward *graph.Graph
	removal *graph.Graph
}

// Compute derives the change-set. observed holds the live provider
// view for every declared resource and every resource the prior
// snapshot still tracks; a missing entry counts as absent. prior may
// be nil on a first run.
func Compute(workspace string, g *graph.Graph, observed map[string]*types.ObservedState, prior *types.StateSnapshot) (*Plan, error) {
	p := &Plan{
		Workspace: workspace,
		specs:     make(map[string]types.ResourceSpec, g.Len()),
		removed:   make(map[string]types.StateEntry),
		forward:   g,
	}

	for _, id := range g.Order() {
		spec, _ := g.Spec(id)
		p.specs[id] = spec
		p.Actions = append(p.Actions, decideDeclared(spec, observed[id]))
	}

	if prior != nil {
		for id, entry := range prior.Resources {
			if !g.Contains(id) {
				p.removed[id] = entry
			}
		}
	}

	removal, err := buildRemovalGraph(p.removed)
	if err != nil {
		return nil, err
	}
	p.removal = removal

	for _, id := range removal.ReverseOrder() {
		p.Actions = append(p.Actions, types.ChangeAction{
			ResourceID: id,
			Verb:       types.VerbDelete,
			Reason:     "removed from configuration",
		})
	}

	return p, nil
}

// decideDeclared picks the verb for one declared resource.
func decideDeclared(spec types.ResourceSpec, observed *types.ObservedState) types.ChangeAction {
	if observed == nil || !observed.Present() {
		return types.ChangeAction{
			ResourceID: spec.ID,
			Verb:       types.VerbCreate,
			Reason:     "not present in remote",
		}
	}

	changes := diff.CompareDeclared(spec.Attributes, observed.RemoteAttributes)
	if len(changes) == 0 {
		return types.ChangeAction{
			ResourceID: spec.ID,
			Verb:       types.VerbNoop,
			Reason:     "in sync",
		}
	}

	fields := make([]string, len(changes))
	for i, change := range changes {
		fields[i] = change.Field
	}
	return types.ChangeAction{
		ResourceID: spec.ID,
		Verb:       types.VerbUpdate,
		Reason:     "attributes changed: " + strings.Join(fields, ", "),
	}
}

// buildRemovalGraph reconstructs dependency ordering among removed
// resources from the dependencies recorded at apply time. Edges to
// resources that are still declared are dropped: those stay.
func buildRemovalGraph(removed map[string]types.StateEntry) (*graph.Graph, error) {
	specs := make([]types.ResourceSpec, 0, len(removed))
	for id, entry := range removed {
		var deps []string
		for _, dep := range entry.DependsOn {
			if _, gone := removed[dep]; gone {
				deps = append(deps, dep)
			}
		}
		specs = append(specs, types.ResourceSpec{
			ID:        id,
			Kind:      entry.Kind,
			DependsOn: deps,
		})
	}

	g, err := graph.Build(specs)
	if err != nil {
		return nil, fmt.Errorf("state records an invalid dependency set among removed resources: %w", err)
	}
	return g, nil
}

// Spec returns the declared spec behind a create or update action.
func (p *Plan) Spec(id string) (types.ResourceSpec, bool) {
	spec, ok := p.specs[id]
	return spec, ok
}

// Removed returns the recorded state entry behind a delete action.
func (p *Plan) Removed(id string) (types.StateEntry, bool) {
	entry, ok := p.removed[id]
	return entry, ok
}

// Counts tallies the plan by verb.
func (p *Plan) Counts() (creates, updates, deletes, noops int) {
	for _, action := range p.Actions {
		switch action.Verb {
		case types.VerbCreate:
			creates++
		case types.VerbUpdate:
			updates++
		case types.VerbDelete:
			deletes++
		case types.VerbNoop:
			noops++
		}
	}
	return creates, updates, deletes, noops
}

// HasChanges reports whether anything would actually execute.
func (p *Plan) HasChanges() bool {
	for _, action := range p.Actions {
		if action.Executable() {
			return true
		}
	}
	return false
}

// ExecutionWaves groups executable actions by dependency depth. Every
// wave may run concurrently inside itself; waves are strict barriers.
// Create/update waves come first, then teardown waves for removals.
func (p *Plan) ExecutionWaves() [][]types.ChangeAction {
	byID := make(map[string]types.ChangeAction, len(p.Actions))
	for _, action := range p.Actions {
		byID[action.ResourceID] = action
	}

	var waves [][]types.ChangeAction
	appendWave := func(ids []string) {
		var wave []types.ChangeAction
		for _, id := range ids {
			if action, ok := byID[id]; ok && action.Executable() {
				wave = append(wave, action)
			}
		}
		if len(wave) > 0 {
			waves = append(waves, wave)
		}
	}

	for _, ids := range p.forward.Waves() {
		appendWave(ids)
	}
	for _, ids := range p.removal.ReverseWaves() {
		appendWave(ids)
	}
	return waves
}

// Cascade lists the executable actions that must be skipped when the
// given action terminally fails. For creates and updates that is every
// transitive dependent; for deletes, every transitive dependency still
// being removed (its teardown was waiting on this one).
func (p *Plan) Cascade(action types.ChangeAction) []string {
	var candidates []string
	switch action.Verb {
	case types.VerbCreate, types.VerbUpdate:
		candidates = p.forward.TransitiveDependents(action.ResourceID)
	case types.VerbDelete:
		candidates = p.removal.TransitiveDependencies(action.ResourceID)
	default:
		return nil
	}

	byID := make(map[string]types.ChangeAction, len(p.Actions))
	for _, a := range p.Actions {
		byID[a.ResourceID] = a
	}

	var out []string
	for _, id := range candidates {
		if a, ok := byID[id]; ok && a.Executable() {
			out = append(out, id)
		}
	}
	return out
}
