package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/varunnarsana/stratus/cost"
	"github.com/varunnarsana/stratus/plan"
	"github.com/varunnarsana/stratus/policy"
	"github.com/varunnarsana/stratus/types"
)

// PlanResult bundles everything a review needs: the ordered change-set,
// its cost annotation, the policy verdicts and the state version the
// plan was computed against.
type PlanResult struct {
	Plan         *plan.Plan
	Cost         *cost.PlanCost
	Gate         *policy.GateResult
	StateVersion int64

	// Observed carries the describes the plan was computed from, keyed
	// by resource id. Reused by callers rendering current vs declared.
	Observed map[string]*types.ObservedState
}

// ApprovalFunc reviews a computed plan before execution. Returning
// false aborts the run with ErrNotApproved. A nil ApprovalFunc means
// the caller already decided to proceed.
type ApprovalFunc func(ctx context.Context, result *PlanResult) (bool, error)

// ErrNotApproved aborts an apply whose plan review was declined.
var ErrNotApproved = errors.New("apply not approved")

// ValidationError marks bad input that aborts before any provider
// call: malformed specs, dependency cycles, references to undeclared
// resources. The CLI maps it to exit code 2.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// IsValidation reports whether err is fatal input validation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PolicyDeniedError aborts an apply whose plan the policy gate denied.
// No provider call was made.
type PolicyDeniedError struct {
	Denied []policy.ActionDecision
}

func (e *PolicyDeniedError) Error() string {
	parts := make([]string, len(e.Denied))
	for i, d := range e.Denied {
		parts[i] = fmt.Sprintf("%s %s (%s)", d.Verb, d.ResourceID, d.Reason)
	}
	return fmt.Sprintf("policy denied %d action(s): %s", len(e.Denied), strings.Join(parts, "; "))
}
