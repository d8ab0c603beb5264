// Package providers defines the Cloud Provider API the engine talks
// to, plus the registry used to select an implementation by name.
package providers

import (
	"context"
	"fmt"

	"github.com/varunnarsana/stratus/types"
)

// CloudProvider is the control-plane contract. All calls are idempotent
// from the caller's perspective: a retried Create must detect an
// already-created resource (via Describe) instead of duplicating it,
// and Delete of an absent resource succeeds.
type CloudProvider interface {
	// Describe fetches the current remote state. Absence is not an
	// error: the returned state carries StatusAbsent.
	Describe(ctx context.Context, ref types.ResourceRef) (*types.ObservedState, error)

	// Create provisions the declared resource and returns what the
	// provider actually built.
	Create(ctx context.Context, spec types.ResourceSpec) (*types.ObservedState, error)

	// Update converges an existing resource to the declared attributes.
	Update(ctx context.Context, ref types.ResourceRef, attributes map[string]any) (*types.ObservedState, error)

	// Delete removes the resource.
	Delete(ctx context.Context, ref types.ResourceRef) error

	// Provider info
	Name() string
	Region() string
}

// ProviderConfig holds provider construction settings. Workspace scopes
// tag-based resource identity so two workspaces never claim each
// other's resources.
type ProviderConfig struct {
	Region    string
	Profile   string
	Workspace string
}

// ProviderFactory creates a provider instance
type ProviderFactory func(config ProviderConfig) (CloudProvider, error)

// Registry of available providers
var providers = make(map[string]ProviderFactory)

// RegisterProvider registers a new provider factory
func RegisterProvider(name string, factory ProviderFactory) {
	providers[name] = factory
}

// GetProvider creates a provider instance by name
func GetProvider(name string, config ProviderConfig) (CloudProvider, error) {
	factory, exists := providers[name]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return factory(config)
}

// ListProviders returns available provider names
func ListProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}
