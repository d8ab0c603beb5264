package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// CloudWatchAPI is the slice of the CloudWatch client the provider
// uses.
type CloudWatchAPI interface {
	PutMetricAlarm(ctx context.Context, params *cloudwatch.PutMetricAlarmInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricAlarmOutput, error)
	DescribeAlarms(ctx context.Context, params *cloudwatch.DescribeAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DescribeAlarmsOutput, error)
	DeleteAlarms(ctx context.Context, params *cloudwatch.DeleteAlarmsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.DeleteAlarmsOutput, error)
}

// LogsAPI is the slice of the CloudWatch Logs client the provider uses.
type LogsAPI interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
	DeleteLogGroup(ctx context.Context, params *cloudwatchlogs.DeleteLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DeleteLogGroupOutput, error)
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
}

// A monitor is a metric alarm plus, when retention_days is declared
// above zero, a log group holding related logs. retention_days: 0
// removes the log group; leaving it undeclared leaves any log group
// alone.
var monitorAttrs = map[string]bool{
	"metric":             true,
	"namespace":          true,
	"threshold":          true,
	"comparison":         true,
	"evaluation_periods": true,
	"period_seconds":     true,
	"retention_days":     true,
}

func (p *Provider) logGroupName(id string) string {
	return fmt.Sprintf("/stratus/%s/%s", p.workspace, id)
}

func (p *Provider) describeMonitor(ctx context.Context, ref types.ResourceRef) (*types.ObservedState, error) {
	name := p.resourceName(ref.ID)
	out, err := p.cw.DescribeAlarms(ctx, &cloudwatch.DescribeAlarmsInput{
		AlarmNames: []string{name},
	})
	if err != nil {
		return nil, classify("describe", ref, err)
	}
	if len(out.MetricAlarms) == 0 {
		return absent(ref.ID), nil
	}
	alarm := out.MetricAlarms[0]

	retention, err := p.logRetention(ctx, ref.ID)
	if err != nil {
		return nil, classify("describe", ref, err)
	}

	return observed(ref.ID, types.StatusPresent, map[string]any{
		"metric":             aws.ToString(alarm.MetricName),
		"namespace":          aws.ToString(alarm.Namespace),
		"threshold":          aws.ToFloat64(alarm.Threshold),
		"comparison":         string(alarm.ComparisonOperator),
		"evaluation_periods": int(aws.ToInt32(alarm.EvaluationPeriods)),
		"period_seconds":     int(aws.ToInt32(alarm.Period)),
		"retention_days":     retention,
	}), nil
}

// logRetention reads the monitor's log group retention, 0 when the
// group does not exist. DescribeLogGroups matches by prefix, so the
// name needs an exact check.
func (p *Provider) logRetention(ctx context.Context, id string) (int, error) {
	logName := p.logGroupName(id)
	out, err := p.logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
		LogGroupNamePrefix: aws.String(logName),
	})
	if err != nil {
		return 0, err
	}
	for _, group := range out.LogGroups {
		if aws.ToString(group.LogGroupName) == logName {
			return int(aws.ToInt32(group.RetentionInDays)), nil
		}
	}
	return 0, nil
}

func (p *Provider) createMonitor(ctx context.Context, spec types.ResourceSpec) (*types.ObservedState, error) {
	ref := spec.Ref()
	if err := p.applyMonitor(ctx, "create", ref.ID, spec.Attributes); err != nil {
		return nil, err
	}
	return p.describeMonitor(ctx, ref)
}

func (p *Provider) updateMonitor(ctx context.Context, ref types.ResourceRef, attrs map[string]any) (*types.ObservedState, error) {
	if err := p.applyMonitor(ctx, "update", ref.ID, attrs); err != nil {
		return nil, err
	}
	return p.describeMonitor(ctx, ref)
}

// applyMonitor is create and update in one: PutMetricAlarm overwrites
// the whole alarm, and tags on an existing alarm are left untouched by
// the API.
func (p *Provider) applyMonitor(ctx context.Context, op, id string, attrs map[string]any) error {
	if err := checkAttrs(op, id, attrs, monitorAttrs); err != nil {
		return err
	}
	metric, err := requireString(attrs, "metric")
	if err != nil {
		return providers.NewPermanentError("aws", op, id, err)
	}
	threshold, err := requireFloat(attrs, "threshold")
	if err != nil {
		return providers.NewPermanentError("aws", op, id, err)
	}

	ref := types.ResourceRef{ID: id, Kind: types.KindMonitor}
	name := p.resourceName(id)
	_, err = p.cw.PutMetricAlarm(ctx, &cloudwatch.PutMetricAlarmInput{
		AlarmName:          aws.String(name),
		MetricName:         aws.String(metric),
		Namespace:          aws.String(attrString(attrs, "namespace", "AWS/EC2")),
		Statistic:          cwtypes.StatisticAverage,
		Period:             aws.Int32(int32(attrInt(attrs, "period_seconds", 300))),
		EvaluationPeriods:  aws.Int32(int32(attrInt(attrs, "evaluation_periods", 2))),
		Threshold:          aws.Float64(threshold),
		ComparisonOperator: cwtypes.ComparisonOperator(attrString(attrs, "comparison", "GreaterThanThreshold")),
		Tags:               cwTags(p.identityTags(id, nil)),
	})
	if err != nil {
		return classify(op, ref, err)
	}

	if !has(attrs, "retention_days") {
		return nil
	}
	logName := p.logGroupName(id)
	if retention := attrInt(attrs, "retention_days", 0); retention > 0 {
		if err := p.ensureLogGroup(ctx, logName, int32(retention)); err != nil {
			return classify(op, ref, err)
		}
	} else {
		_, err = p.logs.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
			LogGroupName: aws.String(logName),
		})
		if err != nil && !isNotFound(err) {
			return classify(op, ref, err)
		}
	}
	return nil
}

func (p *Provider) ensureLogGroup(ctx context.Context, logName string, retention int32) error {
	_, err := p.logs.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(logName),
	})
	if err != nil && !isAlreadyExists(err) {
		return err
	}
	_, err = p.logs.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(logName),
		RetentionInDays: aws.Int32(retention),
	})
	return err
}

func (p *Provider) deleteMonitor(ctx context.Context, ref types.ResourceRef) error {
	// DeleteAlarms on names that do not exist succeeds.
	_, err := p.cw.DeleteAlarms(ctx, &cloudwatch.DeleteAlarmsInput{
		AlarmNames: []string{p.resourceName(ref.ID)},
	})
	if err != nil && !isNotFound(err) {
		return classify("delete", ref, err)
	}

	_, err = p.logs.DeleteLogGroup(ctx, &cloudwatchlogs.DeleteLogGroupInput{
		LogGroupName: aws.String(p.logGroupName(ref.ID)),
	})
	if err != nil && !isNotFound(err) {
		return classify("delete", ref, err)
	}
	return nil
}
