package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// AutoScalingAPI is the slice of the Auto Scaling client the provider
// uses.
type AutoScalingAPI interface {
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	CreateAutoScalingGroup(ctx context.Context, params *autoscaling.CreateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.CreateAutoScalingGroupOutput, error)
	UpdateAutoScalingGroup(ctx context.Context, params *autoscaling.UpdateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error)
	DeleteAutoScalingGroup(ctx context.Context, params *autoscaling.DeleteAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DeleteAutoScalingGroupOutput, error)
	CreateOrUpdateTags(ctx context.Context, params *autoscaling.CreateOrUpdateTagsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.CreateOrUpdateTagsOutput, error)
}

var computeAttrs = map[string]bool{
	"image_id":      true,
	"instance_type": true,
	"count":         true,
	"subnets":       true,
	"tags":          true,
}

// A compute resource is an Auto Scaling group plus the launch template
// it runs. Both share the derived name; the template version the group
// tracks is always $Latest, so rolling the image means pushing a new
// version.
const latestVersion = "$Latest"

func (p *Provider) findGroup(ctx context.Context, name string) (*asgtypes.AutoScalingGroup, error) {
	out, err := p.asg.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil {
		return nil, err
	}
	if len(out.AutoScalingGroups) == 0 {
		return nil, nil
	}
	return &out.AutoScalingGroups[0], nil
}

// latestTemplate reads the newest launch template version, or nil when
// the template does not exist.
func (p *Provider) latestTemplate(ctx context.Context, name string) (*ec2types.ResponseLaunchTemplateData, error) {
	out, err := p.ec2.DescribeLaunchTemplateVersions(ctx, &ec2.DescribeLaunchTemplateVersionsInput{
		LaunchTemplateName: aws.String(name),
		Versions:           []string{latestVersion},
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(out.LaunchTemplateVersions) == 0 {
		return nil, nil
	}
	return out.LaunchTemplateVersions[0].LaunchTemplateData, nil
}

// ensureTemplate creates the launch template or, when it already
// exists, pushes the declared image and instance type as a new version.
func (p *Provider) ensureTemplate(ctx context.Context, name, imageID, instanceType string, tags map[string]string) error {
	data := &ec2types.RequestLaunchTemplateData{
		ImageId:      aws.String(imageID),
		InstanceType: ec2types.InstanceType(instanceType),
		TagSpecifications: []ec2types.LaunchTemplateTagSpecificationRequest{
			{ResourceType: ec2types.ResourceTypeInstance, Tags: ec2Tags(tags)},
		},
	}

	_, err := p.ec2.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
		LaunchTemplateName: aws.String(name),
		LaunchTemplateData: data,
	})
	if err == nil {
		return nil
	}
	if !isAlreadyExists(err) {
		return err
	}

	_, err = p.ec2.CreateLaunchTemplateVersion(ctx, &ec2.CreateLaunchTemplateVersionInput{
		LaunchTemplateName: aws.String(name),
		LaunchTemplateData: data,
	})
	return err
}

func splitEcho(joined string) []any {
	if joined == "" {
		return []any{}
	}
	return stringsToAny(strings.Split(joined, ","))
}

func (p *Provider) describeCompute(ctx context.Context, ref types.ResourceRef) (*types.ObservedState, error) {
	name := p.resourceName(ref.ID)
	group, err := p.findGroup(ctx, name)
	if err != nil {
		return nil, classify("describe", ref, err)
	}
	if group == nil {
		return absent(ref.ID), nil
	}

	attrs := map[string]any{
		"count":   int(aws.ToInt32(group.DesiredCapacity)),
		"subnets": splitEcho(aws.ToString(group.VPCZoneIdentifier)),
		"tags":    echoTags(tagMap(group.Tags)),
	}

	// Image and instance type live on the launch template. Tolerating a
	// missing template keeps describe working on a half-deleted pair.
	lt, err := p.latestTemplate(ctx, name)
	if err != nil {
		return nil, classify("describe", ref, err)
	}
	if lt != nil {
		attrs["image_id"] = aws.ToString(lt.ImageId)
		attrs["instance_type"] = string(lt.InstanceType)
	}

	desired := aws.ToInt32(group.DesiredCapacity)
	inService := int32(0)
	for _, inst := range group.Instances {
		if inst.LifecycleState == asgtypes.LifecycleStateInService {
			inService++
		}
	}

	status := types.StatusPresent
	if aws.ToString(group.Status) != "" || inService < desired {
		// A non-empty group status means a delete is in flight.
		status = types.StatusDegraded
	}
	return observed(ref.ID, status, attrs), nil
}

func (p *Provider) createCompute(ctx context.Context, spec types.ResourceSpec) (*types.ObservedState, error) {
	ref := spec.Ref()
	if err := checkAttrs("create", ref.ID, spec.Attributes, computeAttrs); err != nil {
		return nil, err
	}
	imageID, err := requireString(spec.Attributes, "image_id")
	if err != nil {
		return nil, providers.NewPermanentError("aws", "create", ref.ID, err)
	}
	instanceType, err := requireString(spec.Attributes, "instance_type")
	if err != nil {
		return nil, providers.NewPermanentError("aws", "create", ref.ID, err)
	}
	subnets := attrStrings(spec.Attributes, "subnets")
	if len(subnets) == 0 {
		return nil, providers.NewPermanentError("aws", "create", ref.ID,
			fmt.Errorf("required attribute %q is missing", "subnets"))
	}
	userTags, err := declaredTags(spec.Attributes)
	if err != nil {
		return nil, providers.NewPermanentError("aws", "create", ref.ID, err)
	}
	count := attrInt(spec.Attributes, "count", 1)

	name := p.resourceName(ref.ID)
	existing, err := p.findGroup(ctx, name)
	if err != nil {
		return nil, classify("create", ref, err)
	}
	if existing != nil {
		return p.describeCompute(ctx, ref)
	}

	tags := p.identityTags(ref.ID, userTags)
	if err := p.ensureTemplate(ctx, name, imageID, instanceType, tags); err != nil {
		return nil, classify("create", ref, err)
	}

	_, err = p.asg.CreateAutoScalingGroup(ctx, &autoscaling.CreateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(name),
		LaunchTemplate: &asgtypes.LaunchTemplateSpecification{
			LaunchTemplateName: aws.String(name),
			Version:            aws.String(latestVersion),
		},
		MinSize:           aws.Int32(int32(count)),
		MaxSize:           aws.Int32(int32(count)),
		DesiredCapacity:   aws.Int32(int32(count)),
		VPCZoneIdentifier: aws.String(strings.Join(subnets, ",")),
		Tags:              asgTags(name, tags),
	})
	if err != nil && !isAlreadyExists(err) {
		return nil, classify("create", ref, err)
	}

	// Instances take minutes to reach InService; a describe now would
	// read degraded. The echo carries what was just written, with the
	// same keys describe produces.
	return observed(ref.ID, types.StatusPresent, map[string]any{
		"image_id":      imageID,
		"instance_type": instanceType,
		"count":         count,
		"subnets":       stringsToAny(subnets),
		"tags":          echoTags(tags),
	}), nil
}

func (p *Provider) updateCompute(ctx context.Context, ref types.ResourceRef, attrs map[string]any) (*types.ObservedState, error) {
	if err := checkAttrs("update", ref.ID, attrs, computeAttrs); err != nil {
		return nil, err
	}
	name := p.resourceName(ref.ID)
	group, err := p.findGroup(ctx, name)
	if err != nil {
		return nil, classify("update", ref, err)
	}
	if group == nil {
		return nil, providers.NewPermanentError("aws", "update", ref.ID,
			fmt.Errorf("compute group no longer exists; re-plan to recreate it"))
	}

	userTags, err := declaredTags(attrs)
	if err != nil {
		return nil, providers.NewPermanentError("aws", "update", ref.ID, err)
	}

	// Roll the template only when the declared image or instance type
	// moved away from what the live template runs.
	lt, err := p.latestTemplate(ctx, name)
	if err != nil {
		return nil, classify("update", ref, err)
	}
	imageID := attrString(attrs, "image_id", "")
	instanceType := attrString(attrs, "instance_type", "")
	if imageID != "" || instanceType != "" {
		liveImage, liveType := "", ""
		if lt != nil {
			liveImage = aws.ToString(lt.ImageId)
			liveType = string(lt.InstanceType)
		}
		if imageID == "" {
			imageID = liveImage
		}
		if instanceType == "" {
			instanceType = liveType
		}
		if imageID != liveImage || instanceType != liveType || lt == nil {
			if err := p.ensureTemplate(ctx, name, imageID, instanceType, p.identityTags(ref.ID, userTags)); err != nil {
				return nil, classify("update", ref, err)
			}
		}
	}

	input := &autoscaling.UpdateAutoScalingGroupInput{AutoScalingGroupName: aws.String(name)}
	dirty := false
	if has(attrs, "count") {
		count := int32(attrInt(attrs, "count", 1))
		input.MinSize = aws.Int32(count)
		input.MaxSize = aws.Int32(count)
		input.DesiredCapacity = aws.Int32(count)
		dirty = true
	}
	if subnets := attrStrings(attrs, "subnets"); len(subnets) > 0 {
		input.VPCZoneIdentifier = aws.String(strings.Join(subnets, ","))
		dirty = true
	}
	if dirty {
		if _, err := p.asg.UpdateAutoScalingGroup(ctx, input); err != nil {
			return nil, classify("update", ref, err)
		}
	}

	if len(userTags) > 0 {
		_, err = p.asg.CreateOrUpdateTags(ctx, &autoscaling.CreateOrUpdateTagsInput{
			Tags: asgTags(name, userTags),
		})
		if err != nil {
			return nil, classify("update", ref, err)
		}
	}

	return p.describeCompute(ctx, ref)
}

func (p *Provider) deleteCompute(ctx context.Context, ref types.ResourceRef) error {
	name := p.resourceName(ref.ID)

	// A missing group surfaces as a ValidationError, not a NotFound
	// code, so absence is checked up front.
	group, err := p.findGroup(ctx, name)
	if err != nil {
		return classify("delete", ref, err)
	}
	if group != nil {
		_, err = p.asg.DeleteAutoScalingGroup(ctx, &autoscaling.DeleteAutoScalingGroupInput{
			AutoScalingGroupName: aws.String(name),
			ForceDelete:          aws.Bool(true),
		})
		if err != nil && !isNotFound(err) {
			return classify("delete", ref, err)
		}
	}

	_, err = p.ec2.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{
		LaunchTemplateName: aws.String(name),
	})
	if err != nil && !isNotFound(err) {
		return classify("delete", ref, err)
	}
	return nil
}
