package cost

import (
	"context"
	"math"
	"testing"

	"github.com/varunnarsana/stratus/graph"
	"github.com/varunnarsana/stratus/plan"
	"github.com/varunnarsana/stratus/types"
)

func TestHeuristicEstimator_ByKind(t *testing.T) {
	ctx := context.Background()
	estimator := HeuristicEstimator{}

	tests := []struct {
		name string
		spec types.ResourceSpec
		want float64
	}{
		{
			name: "network flat rate",
			spec: types.ResourceSpec{ID: "net", Kind: types.KindNetwork},
			want: rateNetwork,
		},
		{
			name: "compute scales with count",
			spec: types.ResourceSpec{ID: "asg", Kind: types.KindCompute,
				Attributes: map[string]any{"count": 3}},
			want: rateComputeUnit * 3,
		},
		{
			name: "compute defaults to one instance",
			spec: types.ResourceSpec{ID: "vm", Kind: types.KindCompute},
			want: rateComputeUnit,
		},
		{
			name: "database scales with storage",
			spec: types.ResourceSpec{ID: "db", Kind: types.KindDatabase,
				Attributes: map[string]any{"size_gb": 100}},
			want: rateDatabaseBase + rateDatabasePgGB*100,
		},
		{
			name: "storage per gb",
			spec: types.ResourceSpec{ID: "bucket", Kind: types.KindStorage,
				Attributes: map[string]any{"size_gb": 200}},
			want: rateStoragePerGB * 200,
		},
		{
			name: "load balancer flat rate",
			spec: types.ResourceSpec{ID: "lb", Kind: types.KindLoadBalancer},
			want: rateLoadBalancer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := estimator.EstimateMonthly(ctx, tt.spec)
			if err != nil {
				t.Fatalf("EstimateMonthly() error = %v", err)
			}
			if math.Abs(got.MonthlyUSD-tt.want) > 0.001 {
				t.Errorf("MonthlyUSD = %.3f, want %.3f", got.MonthlyUSD, tt.want)
			}
			if got.Method != "heuristic" {
				t.Errorf("Method = %q", got.Method)
			}
		})
	}
}

func TestRegistry_FallsBackToHeuristic(t *testing.T) {
	registry := NewRegistry()
	if _, ok := registry.For("aws").(HeuristicEstimator); !ok {
		t.Error("unregistered provider should fall back to the heuristic")
	}

	registry.Register("aws", HeuristicEstimator{})
	if registry.For("aws") == nil {
		t.Error("registered estimator missing")
	}
}

func TestAnnotatePlan_SignsDeltas(t *testing.T) {
	ctx := context.Background()

	g, err := graph.Build([]types.ResourceSpec{
		{ID: "lb-edge", Kind: types.KindLoadBalancer, Attributes: map[string]any{}},
	})
	if err != nil {
		t.Fatalf("graph.Build() error = %v", err)
	}

	prior := &types.StateSnapshot{
		Version: 1,
		Resources: map[string]types.StateEntry{
			"old-db": {
				ObservedState: types.ObservedState{
					ResourceID:       "old-db",
					RemoteAttributes: map[string]any{"size_gb": 100},
					ProviderStatus:   types.StatusPresent,
				},
				Kind: types.KindDatabase,
			},
		},
	}

	p, err := plan.Compute("staging", g, map[string]*types.ObservedState{
		"old-db": {ResourceID: "old-db", ProviderStatus: types.StatusPresent},
	}, prior)
	if err != nil {
		t.Fatalf("plan.Compute() error = %v", err)
	}

	costs, err := AnnotatePlan(ctx, HeuristicEstimator{}, p)
	if err != nil {
		t.Fatalf("AnnotatePlan() error = %v", err)
	}

	if len(costs.Lines) != 2 {
		t.Fatalf("Lines = %d, want 2", len(costs.Lines))
	}

	wantDelta := rateLoadBalancer - (rateDatabaseBase + rateDatabasePgGB*100)
	if math.Abs(costs.MonthlyDeltaUSD-wantDelta) > 0.001 {
		t.Errorf("MonthlyDeltaUSD = %.3f, want %.3f", costs.MonthlyDeltaUSD, wantDelta)
	}

	for _, line := range costs.Lines {
		switch line.ResourceID {
		case "lb-edge":
			if line.DeltaUSD <= 0 {
				t.Errorf("create delta = %.3f, want positive", line.DeltaUSD)
			}
		case "old-db":
			if line.DeltaUSD >= 0 {
				t.Errorf("delete delta = %.3f, want negative", line.DeltaUSD)
			}
		}
	}
}
