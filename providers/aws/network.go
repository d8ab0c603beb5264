package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// networkAttrs is the full observable surface of a network. Declaring
// anything else is rejected up front.
var networkAttrs = map[string]bool{
	"cidr":                 true,
	"enable_dns_support":   true,
	"enable_dns_hostnames": true,
	"tags":                 true,
}

// findVpc locates the VPC claimed by this id and workspace. VPCs have
// no caller-chosen name, so the identity tags are the address.
func (p *Provider) findVpc(ctx context.Context, id string) (*ec2types.Vpc, error) {
	out, err := p.ec2.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{
		Filters: []ec2types.Filter{
			{Name: aws.String("tag:" + tagResourceID), Values: []string{id}},
			{Name: aws.String("tag:" + tagWorkspace), Values: []string{p.workspace}},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(out.Vpcs) == 0 {
		return nil, nil
	}
	return &out.Vpcs[0], nil
}

// vpcAttrs reads back the declared surface of a VPC. The DNS flags live
// behind DescribeVpcAttribute, one call per flag.
func (p *Provider) vpcAttrs(ctx context.Context, vpc *ec2types.Vpc) (map[string]any, error) {
	vpcID := aws.ToString(vpc.VpcId)
	dnsSupport, err := p.vpcBoolAttribute(ctx, vpcID, ec2types.VpcAttributeNameEnableDnsSupport)
	if err != nil {
		return nil, err
	}
	dnsHostnames, err := p.vpcBoolAttribute(ctx, vpcID, ec2types.VpcAttributeNameEnableDnsHostnames)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"cidr":                 aws.ToString(vpc.CidrBlock),
		"enable_dns_support":   dnsSupport,
		"enable_dns_hostnames": dnsHostnames,
		"tags":                 echoTags(tagMap(vpc.Tags)),
	}, nil
}

func (p *Provider) vpcBoolAttribute(ctx context.Context, vpcID string, name ec2types.VpcAttributeName) (bool, error) {
	out, err := p.ec2.DescribeVpcAttribute(ctx, &ec2.DescribeVpcAttributeInput{
		VpcId:     aws.String(vpcID),
		Attribute: name,
	})
	if err != nil {
		return false, err
	}
	switch name {
	case ec2types.VpcAttributeNameEnableDnsSupport:
		return out.EnableDnsSupport != nil && aws.ToBool(out.EnableDnsSupport.Value), nil
	case ec2types.VpcAttributeNameEnableDnsHostnames:
		return out.EnableDnsHostnames != nil && aws.ToBool(out.EnableDnsHostnames.Value), nil
	}
	return false, nil
}

func (p *Provider) describeNetwork(ctx context.Context, ref types.ResourceRef) (*types.ObservedState, error) {
	vpc, err := p.findVpc(ctx, ref.ID)
	if err != nil {
		return nil, classify("describe", ref, err)
	}
	if vpc == nil {
		return absent(ref.ID), nil
	}

	attrs, err := p.vpcAttrs(ctx, vpc)
	if err != nil {
		return nil, classify("describe", ref, err)
	}

	status := types.StatusPresent
	if vpc.State != ec2types.VpcStateAvailable {
		status = types.StatusDegraded
	}
	return observed(ref.ID, status, attrs), nil
}

func (p *Provider) createNetwork(ctx context.Context, spec types.ResourceSpec) (*types.ObservedState, error) {
	ref := spec.Ref()
	if err := checkAttrs("create", ref.ID, spec.Attributes, networkAttrs); err != nil {
		return nil, err
	}
	cidr, err := requireString(spec.Attributes, "cidr")
	if err != nil {
		return nil, providers.NewPermanentError("aws", "create", ref.ID, err)
	}
	userTags, err := declaredTags(spec.Attributes)
	if err != nil {
		return nil, providers.NewPermanentError("aws", "create", ref.ID, err)
	}

	// A retried create adopts what the previous attempt left behind.
	existing, err := p.findVpc(ctx, ref.ID)
	if err != nil {
		return nil, classify("create", ref, err)
	}
	if existing != nil {
		return p.describeNetwork(ctx, ref)
	}

	tags := p.identityTags(ref.ID, userTags)
	out, err := p.ec2.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock: aws.String(cidr),
		TagSpecifications: []ec2types.TagSpecification{
			{ResourceType: ec2types.ResourceTypeVpc, Tags: ec2Tags(tags)},
		},
	})
	if err != nil {
		return nil, classify("create", ref, err)
	}

	if err := p.applyVpcDNS(ctx, aws.ToString(out.Vpc.VpcId), spec.Attributes); err != nil {
		return nil, classify("create", ref, err)
	}

	// DescribeVpcs by tag is eventually consistent right after create,
	// so the echo is built from the create output. It carries the same
	// key set describe produces; the DNS flags fall back to the EC2
	// defaults when the declaration left them out.
	return observed(ref.ID, types.StatusPresent, map[string]any{
		"cidr":                 aws.ToString(out.Vpc.CidrBlock),
		"enable_dns_support":   attrBool(spec.Attributes, "enable_dns_support", true),
		"enable_dns_hostnames": attrBool(spec.Attributes, "enable_dns_hostnames", false),
		"tags":                 echoTags(tags),
	}), nil
}

// applyVpcDNS pushes the declared DNS flags, one ModifyVpcAttribute
// call each. Flags the declaration does not mention keep whatever value
// the VPC has.
func (p *Provider) applyVpcDNS(ctx context.Context, vpcID string, attrs map[string]any) error {
	if has(attrs, "enable_dns_support") {
		_, err := p.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            aws.String(vpcID),
			EnableDnsSupport: &ec2types.AttributeBooleanValue{Value: aws.Bool(attrBool(attrs, "enable_dns_support", true))},
		})
		if err != nil {
			return err
		}
	}
	if has(attrs, "enable_dns_hostnames") {
		_, err := p.ec2.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              aws.String(vpcID),
			EnableDnsHostnames: &ec2types.AttributeBooleanValue{Value: aws.Bool(attrBool(attrs, "enable_dns_hostnames", false))},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) updateNetwork(ctx context.Context, ref types.ResourceRef, attrs map[string]any) (*types.ObservedState, error) {
	if err := checkAttrs("update", ref.ID, attrs, networkAttrs); err != nil {
		return nil, err
	}
	vpc, err := p.findVpc(ctx, ref.ID)
	if err != nil {
		return nil, classify("update", ref, err)
	}
	if vpc == nil {
		return nil, providers.NewPermanentError("aws", "update", ref.ID,
			fmt.Errorf("network no longer exists; re-plan to recreate it"))
	}

	if cidr := attrString(attrs, "cidr", ""); cidr != "" && cidr != aws.ToString(vpc.CidrBlock) {
		return nil, providers.NewPermanentError("aws", "update", ref.ID,
			fmt.Errorf("primary cidr cannot change in place (%s -> %s)", aws.ToString(vpc.CidrBlock), cidr))
	}

	if err := p.applyVpcDNS(ctx, aws.ToString(vpc.VpcId), attrs); err != nil {
		return nil, classify("update", ref, err)
	}

	userTags, err := declaredTags(attrs)
	if err != nil {
		return nil, providers.NewPermanentError("aws", "update", ref.ID, err)
	}
	if len(userTags) > 0 {
		_, err = p.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
			Resources: []string{aws.ToString(vpc.VpcId)},
			Tags:      ec2Tags(userTags),
		})
		if err != nil {
			return nil, classify("update", ref, err)
		}
	}

	return p.describeNetwork(ctx, ref)
}

func (p *Provider) deleteNetwork(ctx context.Context, ref types.ResourceRef) error {
	vpc, err := p.findVpc(ctx, ref.ID)
	if err != nil {
		return classify("delete", ref, err)
	}
	if vpc == nil {
		return nil
	}

	// DependencyViolation while attachments drain classifies transient,
	// so the executor retries instead of failing the wave.
	_, err = p.ec2.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: vpc.VpcId})
	if err != nil && !isNotFound(err) {
		return classify("delete", ref, err)
	}
	return nil
}
