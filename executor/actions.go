package executor

import (
	"context"
	"fmt"

	"github.com/varunnarsana/stratus/plan"
	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// dispatch routes one action to the provider call it stands for.
func (e *Executor) dispatch(ctx context.Context, p *plan.Plan, action types.ChangeAction) (*types.ObservedState, error) {
	switch action.Verb {
	case types.VerbCreate:
		return e.executeCreate(ctx, p, action)
	case types.VerbUpdate:
		return e.executeUpdate(ctx, p, action)
	case types.VerbDelete:
		return nil, e.executeDelete(ctx, p, action)
	default:
		return nil, providers.NewPermanentError(e.provider.Name(), "dispatch", action.ResourceID,
			fmt.Errorf("verb %q is not executable", action.Verb))
	}
}

// executeCreate provisions the declared resource. The provider contract
// makes this idempotent: a retried create detects the existing resource
// instead of duplicating it.
func (e *Executor) executeCreate(ctx context.Context, p *plan.Plan, action types.ChangeAction) (*types.ObservedState, error) {
	spec, ok := p.Spec(action.ResourceID)
	if !ok {
		return nil, providers.NewPermanentError(e.provider.Name(), "create", action.ResourceID,
			fmt.Errorf("plan carries no spec for this resource"))
	}
	return e.provider.Create(ctx, spec)
}

// executeUpdate converges an existing resource to its declared
// attributes.
func (e *Executor) executeUpdate(ctx context.Context, p *plan.Plan, action types.ChangeAction) (*types.ObservedState, error) {
	spec, ok := p.Spec(action.ResourceID)
	if !ok {
		return nil, providers.NewPermanentError(e.provider.Name(), "update", action.ResourceID,
			fmt.Errorf("plan carries no spec for this resource"))
	}
	return e.provider.Update(ctx, spec.Ref(), spec.Attributes)
}

// executeDelete removes a resource the configuration dropped. The kind
// comes from the state entry recorded at apply time; deleting an
// already-absent resource succeeds so the entry still retires cleanly.
func (e *Executor) executeDelete(ctx context.Context, p *plan.Plan, action types.ChangeAction) error {
	entry, ok := p.Removed(action.ResourceID)
	if !ok {
		return providers.NewPermanentError(e.provider.Name(), "delete", action.ResourceID,
			fmt.Errorf("plan records no state entry for this resource"))
	}
	return e.provider.Delete(ctx, types.ResourceRef{ID: action.ResourceID, Kind: entry.Kind})
}
