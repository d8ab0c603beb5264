package aws

import (
	"context"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// ELBAPI is the slice of the ELBv2 client the provider uses.
type ELBAPI interface {
	DescribeLoadBalancers(ctx context.Context, params *elbv2.DescribeLoadBalancersInput, optFns ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error)
	CreateLoadBalancer(ctx context.Context, params *elbv2.CreateLoadBalancerInput, optFns ...func(*elbv2.Options)) (*elbv2.CreateLoadBalancerOutput, error)
	DeleteLoadBalancer(ctx context.Context, params *elbv2.DeleteLoadBalancerInput, optFns ...func(*elbv2.Options)) (*elbv2.DeleteLoadBalancerOutput, error)
	SetSubnets(ctx context.Context, params *elbv2.SetSubnetsInput, optFns ...func(*elbv2.Options)) (*elbv2.SetSubnetsOutput, error)
}

// subnets echo sorted, because the API reports them in availability
// zone order, not declaration order. Declare them sorted.
var loadBalancerAttrs = map[string]bool{
	"type":     true,
	"internal": true,
	"subnets":  true,
}

func (p *Provider) findLoadBalancer(ctx context.Context, name string) (*elbtypes.LoadBalancer, error) {
	out, err := p.elb.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{
		Names: []string{name},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(out.LoadBalancers) == 0 {
		return nil, nil
	}
	return &out.LoadBalancers[0], nil
}

func lbSubnets(lb *elbtypes.LoadBalancer) []string {
	subnets := make([]string, 0, len(lb.AvailabilityZones))
	for _, az := range lb.AvailabilityZones {
		subnets = append(subnets, aws.ToString(az.SubnetId))
	}
	sort.Strings(subnets)
	return subnets
}

func lbAttrs(lb *elbtypes.LoadBalancer) map[string]any {
	return map[string]any{
		"type":     string(lb.Type),
		"internal": lb.Scheme == elbtypes.LoadBalancerSchemeEnumInternal,
		"subnets":  stringsToAny(lbSubnets(lb)),
	}
}

func lbStatus(lb *elbtypes.LoadBalancer) types.ProviderStatus {
	if lb.State == nil {
		return types.StatusPresent
	}
	switch lb.State.Code {
	case elbtypes.LoadBalancerStateEnumFailed, elbtypes.LoadBalancerStateEnumActiveImpaired:
		return types.StatusDegraded
	}
	return types.StatusPresent
}

func (p *Provider) describeLoadBalancer(ctx context.Context, ref types.ResourceRef) (*types.ObservedState, error) {
	lb, err := p.findLoadBalancer(ctx, p.resourceName(ref.ID))
	if err != nil {
		return nil, classify("describe", ref, err)
	}
	if lb == nil {
		return absent(ref.ID), nil
	}
	return observed(ref.ID, lbStatus(lb), lbAttrs(lb)), nil
}

func (p *Provider) createLoadBalancer(ctx context.Context, spec types.ResourceSpec) (*types.ObservedState, error) {
	ref := spec.Ref()
	if err := checkAttrs("create", ref.ID, spec.Attributes, loadBalancerAttrs); err != nil {
		return nil, err
	}
	subnets := attrStrings(spec.Attributes, "subnets")
	if len(subnets) == 0 {
		return nil, providers.NewPermanentError("aws", "create", ref.ID,
			fmt.Errorf("required attribute %q is missing", "subnets"))
	}

	lbType := attrString(spec.Attributes, "type", "application")
	switch lbType {
	case "application", "network":
	default:
		return nil, providers.NewPermanentError("aws", "create", ref.ID,
			fmt.Errorf("load balancer type must be application or network, got %q", lbType))
	}

	scheme := elbtypes.LoadBalancerSchemeEnumInternetFacing
	if attrBool(spec.Attributes, "internal", false) {
		scheme = elbtypes.LoadBalancerSchemeEnumInternal
	}

	name := p.resourceName(ref.ID)
	_, err := p.elb.CreateLoadBalancer(ctx, &elbv2.CreateLoadBalancerInput{
		Name:    aws.String(name),
		Type:    elbtypes.LoadBalancerTypeEnum(lbType),
		Scheme:  scheme,
		Subnets: subnets,
		Tags:    elbTags(p.identityTags(ref.ID, nil)),
	})
	// DuplicateLoadBalancerName with matching settings is a retried
	// create finding its own work.
	if err != nil && !isAlreadyExists(err) {
		return nil, classify("create", ref, err)
	}

	return p.describeLoadBalancer(ctx, ref)
}

func (p *Provider) updateLoadBalancer(ctx context.Context, ref types.ResourceRef, attrs map[string]any) (*types.ObservedState, error) {
	if err := checkAttrs("update", ref.ID, attrs, loadBalancerAttrs); err != nil {
		return nil, err
	}
	lb, err := p.findLoadBalancer(ctx, p.resourceName(ref.ID))
	if err != nil {
		return nil, classify("update", ref, err)
	}
	if lb == nil {
		return nil, providers.NewPermanentError("aws", "update", ref.ID,
			fmt.Errorf("load balancer no longer exists; re-plan to recreate it"))
	}

	if lbType := attrString(attrs, "type", ""); lbType != "" && lbType != string(lb.Type) {
		return nil, providers.NewPermanentError("aws", "update", ref.ID,
			fmt.Errorf("load balancer type cannot change in place (%s -> %s)", lb.Type, lbType))
	}
	if has(attrs, "internal") {
		internal := lb.Scheme == elbtypes.LoadBalancerSchemeEnumInternal
		if attrBool(attrs, "internal", false) != internal {
			return nil, providers.NewPermanentError("aws", "update", ref.ID,
				fmt.Errorf("load balancer scheme cannot change in place"))
		}
	}

	if declared := attrStrings(attrs, "subnets"); len(declared) > 0 {
		want := append([]string(nil), declared...)
		sort.Strings(want)
		if !equalStrings(want, lbSubnets(lb)) {
			_, err = p.elb.SetSubnets(ctx, &elbv2.SetSubnetsInput{
				LoadBalancerArn: lb.LoadBalancerArn,
				Subnets:         declared,
			})
			if err != nil {
				return nil, classify("update", ref, err)
			}
		}
	}

	return p.describeLoadBalancer(ctx, ref)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (p *Provider) deleteLoadBalancer(ctx context.Context, ref types.ResourceRef) error {
	lb, err := p.findLoadBalancer(ctx, p.resourceName(ref.ID))
	if err != nil {
		return classify("delete", ref, err)
	}
	if lb == nil {
		return nil
	}
	_, err = p.elb.DeleteLoadBalancer(ctx, &elbv2.DeleteLoadBalancerInput{
		LoadBalancerArn: lb.LoadBalancerArn,
	})
	if err != nil && !isNotFound(err) {
		return classify("delete", ref, err)
	}
	return nil
}
