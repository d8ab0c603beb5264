// Package cost attaches monthly price estimates to plans so a review
// shows what a change does to the bill, not just to the fleet.
package cost

import (
	"context"
	"fmt"
	"sync"

	"github.com/varunnarsana/stratus/plan"
	"github.com/varunnarsana/stratus/types"
)

// Estimate is one resource's projected monthly price.
type Estimate struct {
	MonthlyUSD float64 `json:"monthly_usd"`
	Method     string  `json:"method"`
}

// Estimator prices one declared resource.
type Estimator interface {
	EstimateMonthly(ctx context.Context, spec types.ResourceSpec) (Estimate, error)
}

// Registry maps provider names to their estimators.
type Registry struct {
	mu         sync.RWMutex
	estimators map[string]Estimator
}

// NewRegistry creates an empty estimator registry.
func NewRegistry() *Registry {
	return &Registry{estimators: make(map[string]Estimator)}
}

// Register registers an estimator for a provider.
func (r *Registry) Register(provider string, estimator Estimator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.estimators[provider] = estimator
}

// For returns the provider's estimator, falling back to the kind-based
// heuristic when the provider never registered one.
func (r *Registry) For(provider string) Estimator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if estimator, ok := r.estimators[provider]; ok {
		return estimator
	}
	return HeuristicEstimator{}
}

// Global registry instance
var globalRegistry = NewRegistry()

// Register registers an estimator in the global registry.
func Register(provider string, estimator Estimator) {
	globalRegistry.Register(provider, estimator)
}

// For returns an estimator from the global registry.
func For(provider string) Estimator {
	return globalRegistry.For(provider)
}

// HeuristicEstimator prices resources from their kind and sizing
// attributes. Deliberately coarse: plans need an order of magnitude,
// not an invoice.
type HeuristicEstimator struct{}

// Baseline monthly rates in USD.
const (
	rateNetwork      = 32.85 // one NAT gateway, ex-traffic
	rateComputeUnit  = 30.40 // one small general-purpose instance
	rateDatabaseBase = 47.50 // smallest managed single-AZ instance
	rateStoragePerGB = 0.023
	rateDatabasePgGB = 0.115
	rateLoadBalancer = 22.27
	rateMonitorAlarm = 0.10
)

func (HeuristicEstimator) EstimateMonthly(_ context.Context, spec types.ResourceSpec) (Estimate, error) {
	estimate := Estimate{Method: "heuristic"}

	switch spec.Kind {
	case types.KindNetwork:
		estimate.MonthlyUSD = rateNetwork
	case types.KindCompute:
		count := attrFloat(spec.Attributes, "count", attrFloat(spec.Attributes, "desired_capacity", 1))
		estimate.MonthlyUSD = rateComputeUnit * count
	case types.KindDatabase:
		size := attrFloat(spec.Attributes, "size_gb", 20)
		estimate.MonthlyUSD = rateDatabaseBase + rateDatabasePgGB*size
	case types.KindStorage:
		size := attrFloat(spec.Attributes, "size_gb", 50)
		estimate.MonthlyUSD = rateStoragePerGB * size
	case types.KindLoadBalancer:
		estimate.MonthlyUSD = rateLoadBalancer
	case types.KindMonitor:
		alarms := attrFloat(spec.Attributes, "alarm_count", 5)
		estimate.MonthlyUSD = rateMonitorAlarm * alarms
	default:
		return estimate, fmt.Errorf("no pricing heuristic for kind %q", spec.Kind)
	}

	return estimate, nil
}

func attrFloat(attrs map[string]any, key string, def float64) float64 {
	switch v := attrs[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return def
}

// Line prices one planned action. Delta is signed: creates add to the
// bill, deletes subtract, noops and updates carry their running price
// with a zero delta (the prior price is not tracked).
type Line struct {
	ResourceID string  `json:"resource_id"`
	Verb       string  `json:"verb"`
	MonthlyUSD float64 `json:"monthly_usd"`
	DeltaUSD   float64 `json:"delta_usd"`
}

// PlanCost summarises what an apply does to the monthly bill.
type PlanCost struct {
	Lines           []Line  `json:"lines"`
	MonthlyDeltaUSD float64 `json:"monthly_delta_usd"`
}

// AnnotatePlan prices every action in plan order.
func AnnotatePlan(ctx context.Context, estimator Estimator, p *plan.Plan) (*PlanCost, error) {
	out := &PlanCost{}

	for _, action := range p.Actions {
		line := Line{ResourceID: action.ResourceID, Verb: string(action.Verb)}

		spec, declared := p.Spec(action.ResourceID)
		if !declared {
			entry, removed := p.Removed(action.ResourceID)
			if !removed {
				continue
			}
			spec = types.ResourceSpec{
				ID:         entry.ResourceID,
				Kind:       entry.Kind,
				Attributes: entry.RemoteAttributes,
			}
		}

		estimate, err := estimator.EstimateMonthly(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("failed to price %s: %w", action.ResourceID, err)
		}
		line.MonthlyUSD = estimate.MonthlyUSD

		switch action.Verb {
		case types.VerbCreate:
			line.DeltaUSD = estimate.MonthlyUSD
		case types.VerbDelete:
			line.DeltaUSD = -estimate.MonthlyUSD
		}

		out.MonthlyDeltaUSD += line.DeltaUSD
		out.Lines = append(out.Lines, line)
	}

	return out, nil
}
