package policy

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/varunnarsana/stratus/plan"
	"github.com/varunnarsana/stratus/telemetry"
	"github.com/varunnarsana/stratus/types"
)

// EvaluatePlan gates every executable action in the plan. Noops carry
// no change and are never evaluated. The result's Decision is the
// strictest verdict across actions: a single deny blocks the plan.
func (e *Engine) EvaluatePlan(ctx context.Context, p *plan.Plan, observed map[string]*types.ObservedState) (*GateResult, error) {
	ctx, span := e.tracer.Start(ctx, "policy.evaluate_plan",
		trace.WithAttributes(
			attribute.String("workspace", p.Workspace),
			attribute.Int("actions", len(p.Actions))))
	defer span.End()

	result := &GateResult{Decision: DecisionAllow}
	if e.Empty() {
		return result, nil
	}

	for _, action := range p.Actions {
		if !action.Executable() {
			continue
		}

		input := Input{
			Workspace: p.Workspace,
			Action:    action,
			Spec:      gateSpec(p, action),
			Observed:  observed[action.ResourceID],
		}

		decision, err := e.EvaluateAction(ctx, input)
		if err != nil {
			return nil, err
		}

		result.Actions = append(result.Actions, decision)
		if decision.Decision != DecisionAllow {
			telemetry.RecordGateEvent(span, decision.ResourceID, decision.Verb,
				string(decision.Decision), decision.Reason)
		}
		if decision.Decision.severity() > result.Decision.severity() {
			result.Decision = decision.Decision
		}
	}

	e.logger.WithContext(ctx).Info().
		Str("workspace", p.Workspace).
		Str("decision", string(result.Decision)).
		Int("evaluated", len(result.Actions)).
		Int("denied", len(result.Denied())).
		Int("needing_approval", len(result.NeedingApproval())).
		Msg("plan gated")
	return result, nil
}

// gateSpec resolves the resource a policy sees for an action. Deletes
// no longer have a declaration, so the recorded state entry stands in
// with the attributes captured at apply time.
func gateSpec(p *plan.Plan, action types.ChangeAction) *types.ResourceSpec {
	if spec, ok := p.Spec(action.ResourceID); ok {
		return &spec
	}
	if entry, ok := p.Removed(action.ResourceID); ok {
		return &types.ResourceSpec{
			ID:         entry.ResourceID,
			Kind:       entry.Kind,
			Attributes: entry.RemoteAttributes,
			DependsOn:  entry.DependsOn,
		}
	}
	return nil
}
