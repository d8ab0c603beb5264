package types

import (
	"fmt"
	"sort"
	"time"
)

// Kind classifies a resource into one of the provisionable families.
type Kind string

const (
	KindNetwork      Kind = "network"
	KindCompute      Kind = "compute"
	KindDatabase     Kind = "database"
	KindStorage      Kind = "storage"
	KindLoadBalancer Kind = "load_balancer"
	KindMonitor      Kind = "monitor"
)

// Kinds lists every valid kind in declaration order.
func Kinds() []Kind {
	return []Kind{KindNetwork, KindCompute, KindDatabase, KindStorage, KindLoadBalancer, KindMonitor}
}

// ParseKind converts a manifest string into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown resource kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindNetwork, KindCompute, KindDatabase, KindStorage, KindLoadBalancer, KindMonitor:
		return true
	}
	return false
}

func (k Kind) String() string { return string(k) }

// ResourceSpec is one declared resource: what the user wants to exist.
// Immutable once handed to a plan.
type ResourceSpec struct {
	ID         string         `yaml:"id" json:"id"`
	Kind       Kind           `yaml:"kind" json:"kind"`
	Attributes map[string]any `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	DependsOn  []string       `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// Validate checks the fields that make sense for a spec in isolation.
// Cross-resource checks (duplicate ids, unknown dependencies) belong to
// the manifest loader and the graph builder.
func (s *ResourceSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("resource id cannot be empty")
	}
	if !s.Kind.Valid() {
		return fmt.Errorf("resource %s: unknown kind %q", s.ID, s.Kind)
	}
	for _, dep := range s.DependsOn {
		if dep == s.ID {
			return fmt.Errorf("resource %s depends on itself", s.ID)
		}
		if dep == "" {
			return fmt.Errorf("resource %s has an empty depends_on entry", s.ID)
		}
	}
	return nil
}

// NormalizeDeps sorts depends_on and removes duplicates so identical
// declarations always produce identical specs.
func (s *ResourceSpec) NormalizeDeps() {
	if len(s.DependsOn) < 2 {
		return
	}
	sort.Strings(s.DependsOn)
	deps := s.DependsOn[:1]
	for _, dep := range s.DependsOn[1:] {
		if dep != deps[len(deps)-1] {
			deps = append(deps, dep)
		}
	}
	s.DependsOn = deps
}

// Ref returns the provider-facing reference for this spec.
func (s *ResourceSpec) Ref() ResourceRef {
	return ResourceRef{ID: s.ID, Kind: s.Kind}
}

// ResourceRef identifies a resource to the provider: the logical id plus
// the kind needed to dispatch to the right control-plane API.
type ResourceRef struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// ProviderStatus is the provider's view of a resource's existence.
type ProviderStatus string

const (
	StatusPresent  ProviderStatus = "present"
	StatusAbsent   ProviderStatus = "absent"
	StatusDegraded ProviderStatus = "degraded"
)

// ObservedState is what the provider reported for a resource. Produced
// only by querying the provider, never hand-constructed.
type ObservedState struct {
	ResourceID       string         `json:"resource_id"`
	RemoteAttributes map[string]any `json:"remote_attributes,omitempty"`
	LastSeenAt       time.Time      `json:"last_seen_at"`
	ProviderStatus   ProviderStatus `json:"provider_status"`
}

// Present reports whether the provider saw the resource at all.
func (o *ObservedState) Present() bool {
	return o.ProviderStatus == StatusPresent || o.ProviderStatus == StatusDegraded
}
