package aws

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elbtypes "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Identity tag keys. A resource carrying the id and workspace pair is
// claimed by this engine for exactly one workspace.
const (
	tagResourceID = "stratus:id"
	tagWorkspace  = "stratus:workspace"
	tagManaged    = "stratus:managed"
	tagPrefix     = "stratus:"
)

// identityTags is the claim set stamped on every resource at create
// time, merged with the declared user tags.
func (p *Provider) identityTags(id string, userTags map[string]string) map[string]string {
	out := map[string]string{
		tagResourceID: id,
		tagWorkspace:  p.workspace,
		tagManaged:    "true",
	}
	for k, v := range userTags {
		out[k] = v
	}
	return out
}

// declaredTags pulls the user tag map out of a declaration. The
// stratus: prefix is reserved for the identity claim.
func declaredTags(attrs map[string]any) (map[string]string, error) {
	tags := attrStringMap(attrs, "tags")
	for key := range tags {
		if strings.HasPrefix(key, tagPrefix) {
			return nil, fmt.Errorf("tag key %q uses the reserved %s prefix", key, tagPrefix)
		}
	}
	return tags, nil
}

// echoTags converts remote tags to the attribute-map shape diffs
// expect, with the identity claim stripped: declarations own only their
// own tags.
func echoTags(remote map[string]string) map[string]any {
	out := map[string]any{}
	for k, v := range remote {
		if strings.HasPrefix(k, tagPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// tagMap flattens any AWS tag shape into a plain map. Every service
// models tags differently: slices of Tag structs with pointer fields,
// TagDescription structs, plain string maps. Reflection reads Key and
// Value off whichever shape shows up so each service file does not
// carry its own converter.
func tagMap(tags any) map[string]string {
	out := map[string]string{}
	if tags == nil {
		return out
	}

	v := reflect.ValueOf(tags)
	switch v.Kind() {
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			key, value := tagKeyValue(v.Index(i).Interface())
			if key != "" {
				out[key] = value
			}
		}
	case reflect.Map:
		for _, mapKey := range v.MapKeys() {
			out[mapKey.String()] = stringValue(v.MapIndex(mapKey).Interface())
		}
	}
	return out
}

// tagKeyValue extracts Key and Value fields from any AWS tag struct.
func tagKeyValue(tag any) (string, string) {
	v := reflect.ValueOf(tag)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return "", ""
	}

	var key, value string
	if f := v.FieldByName("Key"); f.IsValid() {
		key = stringValue(f.Interface())
	}
	if f := v.FieldByName("Value"); f.IsValid() {
		value = stringValue(f.Interface())
	}
	return key, value
}

// stringValue handles string and *string fields.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case *string:
		return aws.ToString(val)
	default:
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.String {
			return rv.String()
		}
		return ""
	}
}

// Builders for the write direction. The SDK wants each service's own
// tag struct back, so these stay typed per service.

func ec2Tags(tags map[string]string) []ec2types.Tag {
	out := make([]ec2types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func asgTags(groupName string, tags map[string]string) []asgtypes.Tag {
	out := make([]asgtypes.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, asgtypes.Tag{
			ResourceId:        aws.String(groupName),
			ResourceType:      aws.String("auto-scaling-group"),
			Key:               aws.String(k),
			Value:             aws.String(v),
			PropagateAtLaunch: aws.Bool(true),
		})
	}
	return out
}

func rdsTags(tags map[string]string) []rdstypes.Tag {
	out := make([]rdstypes.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, rdstypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func s3TagSet(tags map[string]string) []s3types.Tag {
	out := make([]s3types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, s3types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func elbTags(tags map[string]string) []elbtypes.Tag {
	out := make([]elbtypes.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, elbtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func cwTags(tags map[string]string) []cwtypes.Tag {
	out := make([]cwtypes.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, cwtypes.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}
