package aws

import (
	"context"
	"fmt"

	"github.com/varunnarsana/stratus/cost"
	"github.com/varunnarsana/stratus/types"
)

// Estimator prices declarations from a small on-demand rate table for
// us-east-1. Rates drift and regions differ; plan costs are a review
// aid, not a quote.
type Estimator struct{}

var _ cost.Estimator = Estimator{}

// Monthly on-demand prices in USD, 730 hours.
var instanceMonthlyUSD = map[string]float64{
	"t3.nano":   3.80,
	"t3.micro":  7.59,
	"t3.small":  15.18,
	"t3.medium": 30.37,
	"t3.large":  60.74,
	"m5.large":  70.08,
	"m5.xlarge": 140.16,
	"c5.large":  62.05,
}

var dbInstanceMonthlyUSD = map[string]float64{
	"db.t3.micro":  12.41,
	"db.t3.small":  24.82,
	"db.t3.medium": 49.64,
	"db.m5.large":  124.83,
	"db.r5.large":  160.60,
}

const (
	defaultInstanceUSD   = 30.37 // t3.medium
	defaultDBInstanceUSD = 49.64 // db.t3.medium
	natGatewayUSD        = 32.85
	gp3PerGBUSD          = 0.115
	bucketBaselineUSD    = 1.15 // ~50 GB standard
	albUSD               = 22.27
	nlbUSD               = 18.98
	alarmUSD             = 0.10
	logGroupUSD          = 0.50
)

// EstimateMonthly prices one declared resource.
func (Estimator) EstimateMonthly(_ context.Context, spec types.ResourceSpec) (cost.Estimate, error) {
	estimate := cost.Estimate{Method: "aws-ondemand"}

	switch spec.Kind {
	case types.KindNetwork:
		// The VPC itself is free; the NAT gateway it almost always
		// grows is not.
		estimate.MonthlyUSD = natGatewayUSD
	case types.KindCompute:
		rate, ok := instanceMonthlyUSD[attrString(spec.Attributes, "instance_type", "")]
		if !ok {
			rate = defaultInstanceUSD
		}
		estimate.MonthlyUSD = rate * float64(attrInt(spec.Attributes, "count", 1))
	case types.KindDatabase:
		rate, ok := dbInstanceMonthlyUSD[attrString(spec.Attributes, "instance_class", "")]
		if !ok {
			rate = defaultDBInstanceUSD
		}
		estimate.MonthlyUSD = rate + gp3PerGBUSD*float64(attrInt(spec.Attributes, "size_gb", 20))
	case types.KindStorage:
		estimate.MonthlyUSD = bucketBaselineUSD
	case types.KindLoadBalancer:
		if attrString(spec.Attributes, "type", "application") == "network" {
			estimate.MonthlyUSD = nlbUSD
		} else {
			estimate.MonthlyUSD = albUSD
		}
	case types.KindMonitor:
		estimate.MonthlyUSD = alarmUSD
		if attrInt(spec.Attributes, "retention_days", 0) > 0 {
			estimate.MonthlyUSD += logGroupUSD
		}
	default:
		return estimate, fmt.Errorf("no aws pricing for kind %q", spec.Kind)
	}

	return estimate, nil
}
