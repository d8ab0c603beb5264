// Package policy gates planned actions through OPA rego policies before
// the executor touches any provider. Policies speak per action; the
// strictest decision wins. An engine with no policies allows everything.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/varunnarsana/stratus/telemetry"
	"github.com/varunnarsana/stratus/types"
)

// Input is the document handed to every rego evaluation, one planned
// action at a time. Spec is the declared resource for creates and
// updates, and the recorded state entry for deletes; Observed is the
// provider's view when one was taken.
type Input struct {
	Workspace string               `json:"workspace"`
	Action    types.ChangeAction   `json:"action"`
	Spec      *types.ResourceSpec  `json:"spec,omitempty"`
	Observed  *types.ObservedState `json:"observed,omitempty"`
}

// Engine compiles rego policies once and evaluates them per action.
type Engine struct {
	logger  *telemetry.Logger
	tracer  trace.Tracer
	queries map[string]rego.PreparedEvalQuery
}

// NewEngine creates an empty policy engine.
func NewEngine() *Engine {
	return &Engine{
		logger:  telemetry.NewLogger("policy"),
		tracer:  otel.Tracer("policy"),
		queries: make(map[string]rego.PreparedEvalQuery),
	}
}

// Empty reports whether no policies are loaded.
func (e *Engine) Empty() bool {
	return len(e.queries) == 0
}

// LoadPolicy compiles one rego module under the given name. Policies
// write rules into package stratus (subpackages included) and return
// string rules named decision and reason.
func (e *Engine) LoadPolicy(ctx context.Context, name string, regoCode string) error {
	ctx, span := e.tracer.Start(ctx, "policy.load",
		trace.WithAttributes(attribute.String("policy.name", name)))
	defer span.End()

	query := rego.New(
		rego.Query("data.stratus"),
		rego.Module(name, regoCode),
	)

	prepared, err := query.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("compile policy %s: %w", name, err)
	}
	e.queries[name] = prepared

	e.logger.WithContext(ctx).Debug().
		Str("policy", name).
		Msg("policy compiled")
	return nil
}

// EvaluateAction runs every loaded policy against one planned action
// and merges the verdicts, strictest first. A policy that fails to
// evaluate or returns an unknown decision aborts the gate: evaluation
// errors never degrade to an allow.
func (e *Engine) EvaluateAction(ctx context.Context, input Input) (ActionDecision, error) {
	ctx, span := e.tracer.Start(ctx, "policy.evaluate_action",
		trace.WithAttributes(
			attribute.String("resource.id", input.Action.ResourceID),
			attribute.String("action.verb", string(input.Action.Verb))))
	defer span.End()

	merged := ActionDecision{
		ResourceID: input.Action.ResourceID,
		Verb:       input.Action.Verb,
		Decision:   DecisionAllow,
	}

	// Name order keeps merged reasons reproducible across runs.
	names := make([]string, 0, len(e.queries))
	for name := range e.queries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v, spoke, err := e.evaluatePolicy(ctx, name, input)
		if err != nil {
			return ActionDecision{}, fmt.Errorf("policy %s: %w", name, err)
		}
		if !spoke {
			continue
		}
		merged.Policies = append(merged.Policies, name)
		mergeVerdict(&merged, v)
	}

	if merged.Decision != DecisionAllow {
		e.logger.WithContext(ctx).Warn().
			Str("resource_id", merged.ResourceID).
			Str("verb", string(merged.Verb)).
			Str("decision", string(merged.Decision)).
			Str("reason", merged.Reason).
			Strs("policies", merged.Policies).
			Msg("policy restricted action")
	}
	return merged, nil
}

// verdict is what one policy said about one action.
type verdict struct {
	Decision Decision
	Reason   string
}

func (e *Engine) evaluatePolicy(ctx context.Context, name string, input Input) (verdict, bool, error) {
	results, err := e.queries[name].Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return verdict{}, false, fmt.Errorf("eval: %w", err)
	}

	var verdicts []verdict
	for _, res := range results {
		for _, expr := range res.Expressions {
			// OPA returns the data.stratus document as a dynamic map
			// shaped by the rules at runtime.
			doc, ok := expr.Value.(map[string]interface{})
			if !ok {
				continue
			}
			if err := collectVerdicts(doc, &verdicts); err != nil {
				return verdict{}, false, err
			}
		}
	}
	if len(verdicts) == 0 {
		return verdict{}, false, nil
	}
	return reduceVerdicts(verdicts), true, nil
}

// collectVerdicts walks the policy document tree. Every map carrying a
// decision key yields one verdict, so rules may live in package stratus
// directly or in any subpackage.
func collectVerdicts(doc map[string]interface{}, out *[]verdict) error {
	if raw, ok := doc["decision"].(string); ok {
		d := Decision(raw)
		if !d.Valid() {
			return fmt.Errorf("unknown decision %q", raw)
		}
		v := verdict{Decision: d}
		if reason, ok := doc["reason"].(string); ok {
			v.Reason = reason
		}
		*out = append(*out, v)
	}

	for key, value := range doc {
		if key == "decision" || key == "reason" {
			continue
		}
		if sub, ok := value.(map[string]interface{}); ok {
			if err := collectVerdicts(sub, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// reduceVerdicts collapses one policy's verdicts into its strictest,
// joining the reasons given at that strictness.
func reduceVerdicts(verdicts []verdict) verdict {
	sort.Slice(verdicts, func(i, j int) bool {
		if verdicts[i].Decision != verdicts[j].Decision {
			return verdicts[i].Decision.severity() > verdicts[j].Decision.severity()
		}
		return verdicts[i].Reason < verdicts[j].Reason
	})

	top := verdicts[0]
	for _, v := range verdicts[1:] {
		if v.Decision != top.Decision {
			break
		}
		if v.Reason != "" && v.Reason != top.Reason {
			top.Reason += "; " + v.Reason
		}
	}
	return top
}

// mergeVerdict folds one policy's verdict into the per-action decision.
func mergeVerdict(merged *ActionDecision, v verdict) {
	switch {
	case v.Decision.severity() > merged.Decision.severity():
		merged.Decision = v.Decision
		merged.Reason = v.Reason
	case v.Decision == merged.Decision && v.Reason != "":
		if merged.Reason == "" {
			merged.Reason = v.Reason
		} else if !strings.Contains(merged.Reason, v.Reason) {
			merged.Reason += "; " + v.Reason
		}
	}
}
