package aws

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// The fakes embed their interface and override only the methods a test
// wires up; an unexpected call panics on the nil function field, which
// is exactly the signal wanted.

type fakeEC2 struct {
	EC2API
	describeVpcs                   func(*ec2.DescribeVpcsInput) (*ec2.DescribeVpcsOutput, error)
	createVpc                      func(*ec2.CreateVpcInput) (*ec2.CreateVpcOutput, error)
	deleteVpc                      func(*ec2.DeleteVpcInput) (*ec2.DeleteVpcOutput, error)
	modifyVpcAttribute             func(*ec2.ModifyVpcAttributeInput) (*ec2.ModifyVpcAttributeOutput, error)
	describeVpcAttribute           func(*ec2.DescribeVpcAttributeInput) (*ec2.DescribeVpcAttributeOutput, error)
	createLaunchTemplate           func(*ec2.CreateLaunchTemplateInput) (*ec2.CreateLaunchTemplateOutput, error)
	createLaunchTemplateVersion    func(*ec2.CreateLaunchTemplateVersionInput) (*ec2.CreateLaunchTemplateVersionOutput, error)
	deleteLaunchTemplate           func(*ec2.DeleteLaunchTemplateInput) (*ec2.DeleteLaunchTemplateOutput, error)
	describeLaunchTemplateVersions func(*ec2.DescribeLaunchTemplateVersionsInput) (*ec2.DescribeLaunchTemplateVersionsOutput, error)
}

func (f *fakeEC2) DescribeVpcs(_ context.Context, params *ec2.DescribeVpcsInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcsOutput, error) {
	return f.describeVpcs(params)
}

func (f *fakeEC2) CreateVpc(_ context.Context, params *ec2.CreateVpcInput, _ ...func(*ec2.Options)) (*ec2.CreateVpcOutput, error) {
	return f.createVpc(params)
}

func (f *fakeEC2) DeleteVpc(_ context.Context, params *ec2.DeleteVpcInput, _ ...func(*ec2.Options)) (*ec2.DeleteVpcOutput, error) {
	return f.deleteVpc(params)
}

func (f *fakeEC2) ModifyVpcAttribute(_ context.Context, params *ec2.ModifyVpcAttributeInput, _ ...func(*ec2.Options)) (*ec2.ModifyVpcAttributeOutput, error) {
	return f.modifyVpcAttribute(params)
}

func (f *fakeEC2) DescribeVpcAttribute(_ context.Context, params *ec2.DescribeVpcAttributeInput, _ ...func(*ec2.Options)) (*ec2.DescribeVpcAttributeOutput, error) {
	return f.describeVpcAttribute(params)
}

func (f *fakeEC2) CreateLaunchTemplate(_ context.Context, params *ec2.CreateLaunchTemplateInput, _ ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateOutput, error) {
	return f.createLaunchTemplate(params)
}

func (f *fakeEC2) CreateLaunchTemplateVersion(_ context.Context, params *ec2.CreateLaunchTemplateVersionInput, _ ...func(*ec2.Options)) (*ec2.CreateLaunchTemplateVersionOutput, error) {
	return f.createLaunchTemplateVersion(params)
}

func (f *fakeEC2) DeleteLaunchTemplate(_ context.Context, params *ec2.DeleteLaunchTemplateInput, _ ...func(*ec2.Options)) (*ec2.DeleteLaunchTemplateOutput, error) {
	return f.deleteLaunchTemplate(params)
}

func (f *fakeEC2) DescribeLaunchTemplateVersions(_ context.Context, params *ec2.DescribeLaunchTemplateVersionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeLaunchTemplateVersionsOutput, error) {
	return f.describeLaunchTemplateVersions(params)
}

type fakeASG struct {
	AutoScalingAPI
	describeGroups func(*autoscaling.DescribeAutoScalingGroupsInput) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	createGroup    func(*autoscaling.CreateAutoScalingGroupInput) (*autoscaling.CreateAutoScalingGroupOutput, error)
	updateGroup    func(*autoscaling.UpdateAutoScalingGroupInput) (*autoscaling.UpdateAutoScalingGroupOutput, error)
	deleteGroup    func(*autoscaling.DeleteAutoScalingGroupInput) (*autoscaling.DeleteAutoScalingGroupOutput, error)
}

func (f *fakeASG) DescribeAutoScalingGroups(_ context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	return f.describeGroups(params)
}

func (f *fakeASG) CreateAutoScalingGroup(_ context.Context, params *autoscaling.CreateAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error) {
	return f.createGroup(params)
}

func (f *fakeASG) UpdateAutoScalingGroup(_ context.Context, params *autoscaling.UpdateAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	return f.updateGroup(params)
}

func (f *fakeASG) DeleteAutoScalingGroup(_ context.Context, params *autoscaling.DeleteAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.DeleteAutoScalingGroupOutput, error) {
	return f.deleteGroup(params)
}

type fakeRDS struct {
	RDSAPI
	describeInstances func(*rds.DescribeDBInstancesInput) (*rds.DescribeDBInstancesOutput, error)
	createInstance    func(*rds.CreateDBInstanceInput) (*rds.CreateDBInstanceOutput, error)
	deleteInstance    func(*rds.DeleteDBInstanceInput) (*rds.DeleteDBInstanceOutput, error)
}

func (f *fakeRDS) DescribeDBInstances(_ context.Context, params *rds.DescribeDBInstancesInput, _ ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	return f.describeInstances(params)
}

func (f *fakeRDS) CreateDBInstance(_ context.Context, params *rds.CreateDBInstanceInput, _ ...func(*rds.Options)) (*rds.CreateDBInstanceOutput, error) {
	return f.createInstance(params)
}

func (f *fakeRDS) DeleteDBInstance(_ context.Context, params *rds.DeleteDBInstanceInput, _ ...func(*rds.Options)) (*rds.DeleteDBInstanceOutput, error) {
	return f.deleteInstance(params)
}

type fakeS3 struct {
	S3API
	headBucket           func(*s3.HeadBucketInput) (*s3.HeadBucketOutput, error)
	createBucket         func(*s3.CreateBucketInput) (*s3.CreateBucketOutput, error)
	deleteBucket         func(*s3.DeleteBucketInput) (*s3.DeleteBucketOutput, error)
	putVersioning        func(*s3.PutBucketVersioningInput) (*s3.PutBucketVersioningOutput, error)
	getVersioning        func(*s3.GetBucketVersioningInput) (*s3.GetBucketVersioningOutput, error)
	putEncryption        func(*s3.PutBucketEncryptionInput) (*s3.PutBucketEncryptionOutput, error)
	getEncryption        func(*s3.GetBucketEncryptionInput) (*s3.GetBucketEncryptionOutput, error)
	putPublicAccessBlock func(*s3.PutPublicAccessBlockInput) (*s3.PutPublicAccessBlockOutput, error)
	getPublicAccessBlock func(*s3.GetPublicAccessBlockInput) (*s3.GetPublicAccessBlockOutput, error)
	putTagging           func(*s3.PutBucketTaggingInput) (*s3.PutBucketTaggingOutput, error)
	getTagging           func(*s3.GetBucketTaggingInput) (*s3.GetBucketTaggingOutput, error)
}

func (f *fakeS3) HeadBucket(_ context.Context, params *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return f.headBucket(params)
}

func (f *fakeS3) CreateBucket(_ context.Context, params *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	return f.createBucket(params)
}

func (f *fakeS3) DeleteBucket(_ context.Context, params *s3.DeleteBucketInput, _ ...func(*s3.Options)) (*s3.DeleteBucketOutput, error) {
	return f.deleteBucket(params)
}

func (f *fakeS3) PutBucketVersioning(_ context.Context, params *s3.PutBucketVersioningInput, _ ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error) {
	return f.putVersioning(params)
}

func (f *fakeS3) GetBucketVersioning(_ context.Context, params *s3.GetBucketVersioningInput, _ ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error) {
	return f.getVersioning(params)
}

func (f *fakeS3) PutBucketEncryption(_ context.Context, params *s3.PutBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error) {
	return f.putEncryption(params)
}

func (f *fakeS3) GetBucketEncryption(_ context.Context, params *s3.GetBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error) {
	return f.getEncryption(params)
}

func (f *fakeS3) PutPublicAccessBlock(_ context.Context, params *s3.PutPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error) {
	return f.putPublicAccessBlock(params)
}

func (f *fakeS3) GetPublicAccessBlock(_ context.Context, params *s3.GetPublicAccessBlockInput, _ ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error) {
	return f.getPublicAccessBlock(params)
}

func (f *fakeS3) PutBucketTagging(_ context.Context, params *s3.PutBucketTaggingInput, _ ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error) {
	return f.putTagging(params)
}

func (f *fakeS3) GetBucketTagging(_ context.Context, params *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	return f.getTagging(params)
}

type fakeCW struct {
	CloudWatchAPI
	putAlarm       func(*cloudwatch.PutMetricAlarmInput) (*cloudwatch.PutMetricAlarmOutput, error)
	describeAlarms func(*cloudwatch.DescribeAlarmsInput) (*cloudwatch.DescribeAlarmsOutput, error)
	deleteAlarms   func(*cloudwatch.DeleteAlarmsInput) (*cloudwatch.DeleteAlarmsOutput, error)
}

func (f *fakeCW) PutMetricAlarm(_ context.Context, params *cloudwatch.PutMetricAlarmInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error) {
	return f.putAlarm(params)
}

func (f *fakeCW) DescribeAlarms(_ context.Context, params *cloudwatch.DescribeAlarmsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error) {
	return f.describeAlarms(params)
}

func (f *fakeCW) DeleteAlarms(_ context.Context, params *cloudwatch.DeleteAlarmsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.DeleteAlarmsOutput, error) {
	return f.deleteAlarms(params)
}

type fakeLogs struct {
	LogsAPI
	createGroup  func(*cloudwatchlogs.CreateLogGroupInput) (*cloudwatchlogs.CreateLogGroupOutput, error)
	putRetention func(*cloudwatchlogs.PutRetentionPolicyInput) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	deleteGroup  func(*cloudwatchlogs.DeleteLogGroupInput) (*cloudwatchlogs.DeleteLogGroupOutput, error)
	describe     func(*cloudwatchlogs.DescribeLogGroupsInput) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
}

func (f *fakeLogs) CreateLogGroup(_ context.Context, params *cloudwatchlogs.CreateLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	return f.createGroup(params)
}

func (f *fakeLogs) PutRetentionPolicy(_ context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error) {
	return f.putRetention(params)
}

func (f *fakeLogs) DeleteLogGroup(_ context.Context, params *cloudwatchlogs.DeleteLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DeleteLogGroupOutput, error) {
	return f.deleteGroup(params)
}

func (f *fakeLogs) DescribeLogGroups(_ context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	return f.describe(params)
}

type fakeELB struct {
	ELBAPI
	describeLBs func(*elbv2.DescribeLoadBalancersInput) (*elbv2.DescribeLoadBalancersOutput, error)
	createLB    func(*elbv2.CreateLoadBalancerInput) (*elbv2.CreateLoadBalancerOutput, error)
	deleteLB    func(*elbv2.DeleteLoadBalancerInput) (*elbv2.DeleteLoadBalancerOutput, error)
	setSubnets  func(*elbv2.SetSubnetsInput) (*elbv2.SetSubnetsOutput, error)
}

func (f *fakeELB) DescribeLoadBalancers(_ context.Context, params *elbv2.DescribeLoadBalancersInput, _ ...func(*elbv2.Options)) (*elbv2.DescribeLoadBalancersOutput, error) {
	return f.describeLBs(params)
}

func (f *fakeELB) CreateLoadBalancer(_ context.Context, params *elbv2.CreateLoadBalancerInput, _ ...func(*elbv2.Options)) (*elbv2.CreateLoadBalancerOutput, error) {
	return f.createLB(params)
}

func (f *fakeELB) DeleteLoadBalancer(_ context.Context, params *elbv2.DeleteLoadBalancerInput, _ ...func(*elbv2.Options)) (*elbv2.DeleteLoadBalancerOutput, error) {
	return f.deleteLB(params)
}

func (f *fakeELB) SetSubnets(_ context.Context, params *elbv2.SetSubnetsInput, _ ...func(*elbv2.Options)) (*elbv2.SetSubnetsOutput, error) {
	return f.setSubnets(params)
}

func testProvider() *Provider {
	return &Provider{region: "us-east-1", workspace: "staging"}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(context.Background(), providers.ProviderConfig{Workspace: "staging"}); err == nil {
		t.Error("New without region: want error")
	}
	if _, err := New(context.Background(), providers.ProviderConfig{Region: "us-east-1"}); err == nil {
		t.Error("New without workspace: want error")
	}
}

func TestResourceName(t *testing.T) {
	p := testProvider()
	if got := p.resourceName("web-db"); got != "stratus-staging-web-db" {
		t.Errorf("resourceName = %q, want stratus-staging-web-db", got)
	}
}

func TestUnsupportedKind(t *testing.T) {
	p := testProvider()
	_, err := p.Describe(context.Background(), types.ResourceRef{ID: "x", Kind: types.Kind("quantum")})
	if err == nil {
		t.Fatal("want error for unsupported kind")
	}
	if providers.ClassOf(err) != providers.ErrorPermanent {
		t.Errorf("class = %s, want permanent", providers.ClassOf(err))
	}
}
