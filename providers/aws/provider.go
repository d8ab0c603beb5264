// Package aws implements the cloud provider against real AWS services:
// VPCs for networks, Auto Scaling groups for compute, RDS for
// databases, S3 for storage, ELBv2 for load balancers and CloudWatch
// for monitors.
//
// Resources are claimed through stratus:* identity tags or, where the
// service addresses resources by name, through a deterministic name
// derived from the workspace and the resource id. Describe reconstructs
// the same attribute keys a declaration uses, so the planner and the
// drift detector diff declared against live without provider-specific
// glue.
package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/varunnarsana/stratus/cost"
	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

func init() {
	providers.RegisterProvider("aws", func(cfg providers.ProviderConfig) (providers.CloudProvider, error) {
		return New(context.Background(), cfg)
	})
	cost.Register("aws", Estimator{})
}

// EC2API is the slice of the EC2 client the provider uses, declared
// here so tests can substitute a fake without an AWS account. Networks
// live on the VPC calls; compute borrows the launch template calls.
type EC2API interface {
	DescribeVpcs(ctx context.Context, params *ec2.DescribeVpcsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error)
	CreateVpc(ctx context.Context, params *ec2.CreateVpcInput, optFns ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error)
	DeleteVpc(ctx context.Context, params *ec2.DeleteVpcInput, optFns ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error)
	ModifyVpcAttribute(ctx context.Context, params *ec2.ModifyVpcAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyVpcAttributeOutput, error)
	DescribeVpcAttribute(ctx context.Context, params *ec2.DescribeVpcAttributeInput, optFns ...func(*ec2.Options)) (*ec2.DescribeVpcAttributeOutput, error)
	CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
	CreateLaunchTemplate(ctx context.Context, params *ec2.CreateLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error)
	CreateLaunchTemplateVersion(ctx context.Context, params *ec2.CreateLaunchTemplateVersionInput, optFns ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateVersionOutput, error)
	DeleteLaunchTemplate(ctx context.Context, params *ec2.DeleteLaunchTemplateInput, optFns ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error)
	DescribeLaunchTemplateVersions(ctx context.Context, params *ec2.DescribeLaunchTemplateVersionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplateVersionsOutput, error)
}

// Provider talks to one region on behalf of one workspace.
type Provider struct {
	region    string
	workspace string

	ec2  EC2API
	asg  AutoScalingAPI
	rds  RDSAPI
	s3   S3API
	elb  ELBAPI
	cw   CloudWatchAPI
	logs LogsAPI
}

var _ providers.CloudProvider = (*Provider)(nil)

// New builds a provider bound to one region and workspace. Credentials
// resolve through the standard SDK chain: environment, shared config,
// instance metadata.
func New(ctx context.Context, cfg providers.ProviderConfig) (*Provider, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("aws provider requires a region")
	}
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("aws provider requires a workspace")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Provider{
		region:    cfg.Region,
		workspace: cfg.Workspace,
		ec2:       ec2.NewFromConfig(awsCfg),
		asg:       autoscaling.NewFromConfig(awsCfg),
		rds:       rds.NewFromConfig(awsCfg),
		s3:        s3.NewFromConfig(awsCfg),
		elb:       elbv2.NewFromConfig(awsCfg),
		cw:        cloudwatch.NewFromConfig(awsCfg),
		logs:      cloudwatchlogs.NewFromConfig(awsCfg),
	}, nil
}

// Name returns provider name
func (p *Provider) Name() string {
	return "aws"
}

// Region returns provider region
func (p *Provider) Region() string {
	return p.region
}

// Describe fetches the live view of one resource.
func (p *Provider) Describe(ctx context.Context, ref types.ResourceRef) (*types.ObservedState, error) {
	switch ref.Kind {
	case types.KindNetwork:
		return p.describeNetwork(ctx, ref)
	case types.KindCompute:
		return p.describeCompute(ctx, ref)
	case types.KindDatabase:
		return p.describeDatabase(ctx, ref)
	case types.KindStorage:
		return p.describeStorage(ctx, ref)
	case types.KindLoadBalancer:
		return p.describeLoadBalancer(ctx, ref)
	case types.KindMonitor:
		return p.describeMonitor(ctx, ref)
	}
	return nil, unsupportedKind("describe", ref)
}

// Create provisions a declared resource. A retried create finds what
// the previous attempt built and adopts it instead of duplicating.
func (p *Provider) Create(ctx context.Context, spec types.ResourceSpec) (*types.ObservedState, error) {
	switch spec.Kind {
	case types.KindNetwork:
		return p.createNetwork(ctx, spec)
	case types.KindCompute:
		return p.createCompute(ctx, spec)
	case types.KindDatabase:
		return p.createDatabase(ctx, spec)
	case types.KindStorage:
		return p.createStorage(ctx, spec)
	case types.KindLoadBalancer:
		return p.createLoadBalancer(ctx, spec)
	case types.KindMonitor:
		return p.createMonitor(ctx, spec)
	}
	return nil, unsupportedKind("create", spec.Ref())
}

// Update converges an existing resource to the declared attributes.
func (p *Provider) Update(ctx context.Context, ref types.ResourceRef, attributes map[string]any) (*types.ObservedState, error) {
	switch ref.Kind {
	case types.KindNetwork:
		return p.updateNetwork(ctx, ref, attributes)
	case types.KindCompute:
		return p.updateCompute(ctx, ref, attributes)
	case types.KindDatabase:
		return p.updateDatabase(ctx, ref, attributes)
	case types.KindStorage:
		return p.updateStorage(ctx, ref, attributes)
	case types.KindLoadBalancer:
		return p.updateLoadBalancer(ctx, ref, attributes)
	case types.KindMonitor:
		return p.updateMonitor(ctx, ref, attributes)
	}
	return nil, unsupportedKind("update", ref)
}

// Delete removes a resource. Deleting something already gone succeeds.
func (p *Provider) Delete(ctx context.Context, ref types.ResourceRef) error {
	switch ref.Kind {
	case types.KindNetwork:
		return p.deleteNetwork(ctx, ref)
	case types.KindCompute:
		return p.deleteCompute(ctx, ref)
	case types.KindDatabase:
		return p.deleteDatabase(ctx, ref)
	case types.KindStorage:
		return p.deleteStorage(ctx, ref)
	case types.KindLoadBalancer:
		return p.deleteLoadBalancer(ctx, ref)
	case types.KindMonitor:
		return p.deleteMonitor(ctx, ref)
	}
	return unsupportedKind("delete", ref)
}

func unsupportedKind(op string, ref types.ResourceRef) error {
	return providers.NewPermanentError("aws", op, ref.ID, fmt.Errorf("unsupported resource kind %q", ref.Kind))
}

// resourceName derives the remote name for name-addressed services.
// Lowercase with hyphens keeps it valid for RDS identifiers, bucket
// names and load balancer names alike.
func (p *Provider) resourceName(id string) string {
	return fmt.Sprintf("stratus-%s-%s", p.workspace, id)
}

func observed(id string, status types.ProviderStatus, attrs map[string]any) *types.ObservedState {
	return &types.ObservedState{
		ResourceID:       id,
		RemoteAttributes: attrs,
		ProviderStatus:   status,
		LastSeenAt:       time.Now().UTC(),
	}
}

func absent(id string) *types.ObservedState {
	return observed(id, types.StatusAbsent, nil)
}
