package aws

import (
	"context"
	"math"
	"testing"

	"github.com/varunnarsana/stratus/types"
)

func TestEstimateMonthly(t *testing.T) {
	cases := []struct {
		name string
		spec types.ResourceSpec
		want float64
	}{
		{
			name: "compute multiplies by count",
			spec: types.ResourceSpec{Kind: types.KindCompute, Attributes: map[string]any{
				"instance_type": "t3.small", "count": 3,
			}},
			want: 15.18 * 3,
		},
		{
			name: "unknown instance type falls back",
			spec: types.ResourceSpec{Kind: types.KindCompute, Attributes: map[string]any{
				"instance_type": "u7-thx.1138xlarge",
			}},
			want: defaultInstanceUSD,
		},
		{
			name: "database adds storage",
			spec: types.ResourceSpec{Kind: types.KindDatabase, Attributes: map[string]any{
				"instance_class": "db.t3.micro", "size_gb": 100,
			}},
			want: 12.41 + 0.115*100,
		},
		{
			name: "network load balancer",
			spec: types.ResourceSpec{Kind: types.KindLoadBalancer, Attributes: map[string]any{
				"type": "network",
			}},
			want: nlbUSD,
		},
		{
			name: "monitor with retention adds the log group",
			spec: types.ResourceSpec{Kind: types.KindMonitor, Attributes: map[string]any{
				"retention_days": 14,
			}},
			want: alarmUSD + logGroupUSD,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Estimator{}.EstimateMonthly(context.Background(), tc.spec)
			if err != nil {
				t.Fatalf("EstimateMonthly: %v", err)
			}
			if math.Abs(got.MonthlyUSD-tc.want) > 0.001 {
				t.Errorf("MonthlyUSD = %.2f, want %.2f", got.MonthlyUSD, tc.want)
			}
			if got.Method != "aws-ondemand" {
				t.Errorf("Method = %q", got.Method)
			}
		})
	}
}

func TestEstimateMonthlyUnknownKind(t *testing.T) {
	_, err := Estimator{}.EstimateMonthly(context.Background(), types.ResourceSpec{Kind: types.Kind("quantum")})
	if err == nil {
		t.Fatal("want error for unknown kind")
	}
}
