package policy

import "github.com/varunnarsana/stratus/types"

// Decision is a policy verdict for one planned action.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionRequireApproval Decision = "require_approval"
	DecisionDeny            Decision = "deny"
)

// Valid reports whether d is a decision a policy may return.
func (d Decision) Valid() bool {
	switch d {
	case DecisionAllow, DecisionRequireApproval, DecisionDeny:
		return true
	}
	return false
}

// severity orders decisions so the strictest one wins aggregation.
func (d Decision) severity() int {
	switch d {
	case DecisionDeny:
		return 3
	case DecisionRequireApproval:
		return 2
	case DecisionAllow:
		return 1
	}
	return 0
}

// ActionDecision is the gate's verdict for one planned action, merged
// across every policy that spoke.
type ActionDecision struct {
	ResourceID string     `json:"resource_id"`
	Verb       types.Verb `json:"verb"`
	Decision   Decision   `json:"decision"`
	Reason     string     `json:"reason,omitempty"`
	Policies   []string   `json:"policies,omitempty"`
}

// GateResult is the gate's verdict for a whole plan. Decision is the
// strictest per-action decision; Actions holds one entry per evaluated
// action in plan order.
type GateResult struct {
	Decision Decision         `json:"decision"`
	Actions  []ActionDecision `json:"actions"`
}

// Allowed reports whether the plan may proceed without further consent.
func (g *GateResult) Allowed() bool {
	return g.Decision == DecisionAllow
}

// Denied returns the actions a policy refused outright.
func (g *GateResult) Denied() []ActionDecision {
	return g.filter(DecisionDeny)
}

// NeedingApproval returns the actions that require operator consent.
func (g *GateResult) NeedingApproval() []ActionDecision {
	return g.filter(DecisionRequireApproval)
}

func (g *GateResult) filter(d Decision) []ActionDecision {
	var out []ActionDecision
	for _, action := range g.Actions {
		if action.Decision == d {
			out = append(out, action)
		}
	}
	return out
}
