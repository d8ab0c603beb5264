// Package memory implements an in-process CloudProvider used by tests,
// demos and dry runs. Failure injection is driven by well-known
// attributes so a manifest alone can script provider behavior.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// Attributes the fake provider interprets.
const (
	// AttrFailCreate: "permanent" fails every create; "transient"
	// fails the first AttrFailCount creates, then succeeds.
	AttrFailCreate = "fail_create"
	AttrFailUpdate = "fail_update"
	AttrFailDelete = "fail_delete"
	AttrFailCount  = "fail_count"
	// AttrDelayMS stalls every operation on the resource, honoring
	// context cancellation, to exercise timeout paths.
	AttrDelayMS = "simulate_delay_ms"
	// AttrDegraded makes Describe report StatusDegraded.
	AttrDegraded = "degraded"
)

func init() {
	providers.RegisterProvider("memory", func(config providers.ProviderConfig) (providers.CloudProvider, error) {
		return New(config.Region), nil
	})
}

type remoteResource struct {
	kind  types.Kind
	attrs map[string]any
}

// Provider is the in-memory control plane. Safe for concurrent use.
type Provider struct {
	mu        sync.Mutex
	region    string
	resources map[string]*remoteResource
	transient map[string]int // remaining injected transient failures per op key
}

// New creates an empty in-memory provider.
func New(region string) *Provider {
	if region == "" {
		region = "local"
	}
	return &Provider{
		region:    region,
		resources: make(map[string]*remoteResource),
		transient: make(map[string]int),
	}
}

func (p *Provider) Name() string   { return "memory" }
func (p *Provider) Region() string { return p.region }

// Describe reports the stored state; absence is a status, not an error.
func (p *Provider) Describe(ctx context.Context, ref types.ResourceRef) (*types.ObservedState, error) {
	if err := p.stall(ctx, ref.ID); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.resources[ref.ID]
	if !ok {
		return &types.ObservedState{
			ResourceID:     ref.ID,
			ProviderStatus: types.StatusAbsent,
			LastSeenAt:     time.Now().UTC(),
		}, nil
	}

	status := types.StatusPresent
	if degraded, _ := res.attrs[AttrDegraded].(bool); degraded {
		status = types.StatusDegraded
	}
	return &types.ObservedState{
		ResourceID:       ref.ID,
		RemoteAttributes: copyAttrs(res.attrs),
		ProviderStatus:   status,
		LastSeenAt:       time.Now().UTC(),
	}, nil
}

// Create provisions the resource. Creating an existing resource is
// idempotent and returns its current state.
func (p *Provider) Create(ctx context.Context, spec types.ResourceSpec) (*types.ObservedState, error) {
	if err := p.stallFor(ctx, spec.ID, spec.Attributes); err != nil {
		return nil, err
	}
	if err := p.injectedFailure("create", spec.ID, spec.Attributes, AttrFailCreate); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.resources[spec.ID]; ok {
		return p.observedLocked(spec.ID, existing), nil
	}

	p.resources[spec.ID] = &remoteResource{
		kind:  spec.Kind,
		attrs: copyAttrs(spec.Attributes),
	}
	return p.observedLocked(spec.ID, p.resources[spec.ID]), nil
}

// Update replaces the resource's attributes with the declared ones.
func (p *Provider) Update(ctx context.Context, ref types.ResourceRef, attributes map[string]any) (*types.ObservedState, error) {
	if err := p.stall(ctx, ref.ID); err != nil {
		return nil, err
	}
	if err := p.injectedFailure("update", ref.ID, attributes, AttrFailUpdate); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.resources[ref.ID]
	if !ok {
		return nil, providers.NewPermanentError("memory", "update", ref.ID,
			fmt.Errorf("resource does not exist"))
	}
	res.attrs = copyAttrs(attributes)
	return p.observedLocked(ref.ID, res), nil
}

// Delete removes the resource. Deleting an absent resource succeeds.
func (p *Provider) Delete(ctx context.Context, ref types.ResourceRef) error {
	if err := p.stall(ctx, ref.ID); err != nil {
		return err
	}

	p.mu.Lock()
	res, ok := p.resources[ref.ID]
	var attrs map[string]any
	if ok {
		attrs = res.attrs
	}
	p.mu.Unlock()

	if err := p.injectedFailure("delete", ref.ID, attrs, AttrFailDelete); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.resources, ref.ID)
	p.mu.Unlock()
	return nil
}

// Seed plants remote state out of band, bypassing failure injection.
// Tests and drift demos use it to fabricate an existing fleet.
func (p *Provider) Seed(id string, kind types.Kind, attrs map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resources[id] = &remoteResource{kind: kind, attrs: copyAttrs(attrs)}
}

// Tamper mutates one remote attribute behind the engine's back,
// simulating out-of-band drift.
func (p *Provider) Tamper(id, key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if res, ok := p.resources[id]; ok {
		res.attrs[key] = value
	}
}

// Remove deletes remote state out of band.
func (p *Provider) Remove(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.resources, id)
}

// Len reports how many resources currently exist.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}

func (p *Provider) observedLocked(id string, res *remoteResource) *types.ObservedState {
	return &types.ObservedState{
		ResourceID:       id,
		RemoteAttributes: copyAttrs(res.attrs),
		ProviderStatus:   types.StatusPresent,
		LastSeenAt:       time.Now().UTC(),
	}
}

// injectedFailure implements the scripted failure attributes.
func (p *Provider) injectedFailure(op, id string, attrs map[string]any, failAttr string) error {
	if attrs == nil {
		return nil
	}
	mode, _ := attrs[failAttr].(string)
	switch mode {
	case "":
		return nil
	case "permanent":
		return providers.NewPermanentError("memory", op, id,
			fmt.Errorf("injected permanent failure"))
	case "transient":
		count := attrInt(attrs, AttrFailCount, 1)
		key := op + ":" + id

		p.mu.Lock()
		remaining, seeded := p.transient[key]
		if !seeded {
			remaining = count
		}
		if remaining > 0 {
			p.transient[key] = remaining - 1
			p.mu.Unlock()
			return providers.NewTransientError("memory", op, id,
				fmt.Errorf("injected transient failure, %d left", remaining-1))
		}
		p.mu.Unlock()
		return nil
	default:
		return providers.NewPermanentError("memory", op, id,
			fmt.Errorf("unknown %s mode %q", failAttr, mode))
	}
}

// stall honors AttrDelayMS with context cancellation.
func (p *Provider) stall(ctx context.Context, id string) error {
	p.mu.Lock()
	var attrs map[string]any
	if res, ok := p.resources[id]; ok {
		attrs = res.attrs
	}
	p.mu.Unlock()
	return p.stallFor(ctx, id, attrs)
}

func (p *Provider) stallFor(ctx context.Context, id string, attrs map[string]any) error {
	delay := time.Duration(attrInt(attrs, AttrDelayMS, 0)) * time.Millisecond
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			return providers.NewTimeoutError("memory", "call", id, err)
		}
		return err
	case <-timer.C:
		return nil
	}
}

func attrInt(attrs map[string]any, key string, def int) int {
	switch v := attrs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func copyAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case map[string]any:
			out[k] = copyAttrs(val)
		case []any:
			cp := make([]any, len(val))
			copy(cp, val)
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
