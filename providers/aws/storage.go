package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// S3API is the slice of the S3 client the provider uses.
type S3API interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	DeleteBucket(ctx context.Context, params *s3.DeleteBucketInput, optFns ...func(*s3.Options)) (*s3.DeleteBucketOutput, error)
	PutBucketVersioning(ctx context.Context, params *s3.PutBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.PutBucketVersioningOutput, error)
	GetBucketVersioning(ctx context.Context, params *s3.GetBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error)
	PutBucketEncryption(ctx context.Context, params *s3.PutBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.PutBucketEncryptionOutput, error)
	GetBucketEncryption(ctx context.Context, params *s3.GetBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error)
	PutPublicAccessBlock(ctx context.Context, params *s3.PutPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.PutPublicAccessBlockOutput, error)
	GetPublicAccessBlock(ctx context.Context, params *s3.GetPublicAccessBlockInput, optFns ...func(*s3.Options)) (*s3.GetPublicAccessBlockOutput, error)
	PutBucketTagging(ctx context.Context, params *s3.PutBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.PutBucketTaggingOutput, error)
	GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)
}

var storageAttrs = map[string]bool{
	"versioning":          true,
	"encrypted":           true,
	"publicly_accessible": true,
	"tags":                true,
}

// refuseUnencrypted rejects encrypted: false. S3 applies server-side
// encryption to every object regardless, so the declaration would
// promise a state the service cannot reach.
func refuseUnencrypted(op, id string, attrs map[string]any) error {
	if has(attrs, "encrypted") && !attrBool(attrs, "encrypted", true) {
		return providers.NewPermanentError("aws", op, id,
			fmt.Errorf("bucket encryption cannot be disabled"))
	}
	return nil
}

func (p *Provider) describeStorage(ctx context.Context, ref types.ResourceRef) (*types.ObservedState, error) {
	name := p.resourceName(ref.ID)
	_, err := p.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)})
	if err != nil {
		if isNotFound(err) {
			return absent(ref.ID), nil
		}
		return nil, classify("describe", ref, err)
	}

	attrs, err := p.bucketAttrs(ctx, name)
	if err != nil {
		return nil, classify("describe", ref, err)
	}
	return observed(ref.ID, types.StatusPresent, attrs), nil
}

// bucketAttrs collects the bucket's declared surface from the per-facet
// GET calls. Facets that were never configured answer with their own
// absence codes rather than empty bodies.
func (p *Provider) bucketAttrs(ctx context.Context, name string) (map[string]any, error) {
	bucket := aws.String(name)

	versioning, err := p.s3.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: bucket})
	if err != nil {
		return nil, err
	}

	encrypted := true
	if _, err := p.s3.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: bucket}); err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		encrypted = false
	}

	public := false
	pab, err := p.s3.GetPublicAccessBlock(ctx, &s3.GetPublicAccessBlockInput{Bucket: bucket})
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
		// No block configured at all: the bucket is reachable by policy.
		public = true
	} else if cfg := pab.PublicAccessBlockConfiguration; cfg != nil {
		blocked := aws.ToBool(cfg.BlockPublicAcls) && aws.ToBool(cfg.BlockPublicPolicy) &&
			aws.ToBool(cfg.IgnorePublicAcls) && aws.ToBool(cfg.RestrictPublicBuckets)
		public = !blocked
	}

	tags := map[string]string{}
	tagging, err := p.s3.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: bucket})
	if err != nil {
		if !isNotFound(err) {
			return nil, err
		}
	} else {
		tags = tagMap(tagging.TagSet)
	}

	return map[string]any{
		"versioning":          versioning.Status == s3types.BucketVersioningStatusEnabled,
		"encrypted":           encrypted,
		"publicly_accessible": public,
		"tags":                echoTags(tags),
	}, nil
}

func (p *Provider) createStorage(ctx context.Context, spec types.ResourceSpec) (*types.ObservedState, error) {
	ref := spec.Ref()
	if err := refuseUnencrypted("create", ref.ID, spec.Attributes); err != nil {
		return nil, err
	}
	if err := checkAttrs("create", ref.ID, spec.Attributes, storageAttrs); err != nil {
		return nil, err
	}
	userTags, err := declaredTags(spec.Attributes)
	if err != nil {
		return nil, providers.NewPermanentError("aws", "create", ref.ID, err)
	}

	name := p.resourceName(ref.ID)
	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if p.region != "us-east-1" {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(p.region),
		}
	}
	// BucketAlreadyOwnedByYou is a retried create finding its own
	// bucket; BucketAlreadyExists is another account holding the name
	// and classifies permanent.
	if _, err := p.s3.CreateBucket(ctx, input); err != nil && !isAlreadyExists(err) {
		return nil, classify("create", ref, err)
	}

	if err := p.applyBucketSettings(ctx, name, spec.Attributes); err != nil {
		return nil, classify("create", ref, err)
	}
	if err := p.putBucketTags(ctx, name, p.identityTags(ref.ID, userTags)); err != nil {
		return nil, classify("create", ref, err)
	}

	return p.describeStorage(ctx, ref)
}

// applyBucketSettings pushes versioning, encryption and the public
// access block. Encryption is always AES256 and the block is written on
// every apply: a bucket is private unless declared publicly_accessible.
func (p *Provider) applyBucketSettings(ctx context.Context, name string, attrs map[string]any) error {
	bucket := aws.String(name)

	if has(attrs, "versioning") {
		status := s3types.BucketVersioningStatusSuspended
		if attrBool(attrs, "versioning", false) {
			status = s3types.BucketVersioningStatusEnabled
		}
		_, err := p.s3.PutBucketVersioning(ctx, &s3.PutBucketVersioningInput{
			Bucket:                  bucket,
			VersioningConfiguration: &s3types.VersioningConfiguration{Status: status},
		})
		if err != nil {
			return err
		}
	}

	_, err := p.s3.PutBucketEncryption(ctx, &s3.PutBucketEncryptionInput{
		Bucket: bucket,
		ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
			Rules: []s3types.ServerSideEncryptionRule{
				{ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
					SSEAlgorithm: s3types.ServerSideEncryptionAes256,
				}},
			},
		},
	})
	if err != nil {
		return err
	}

	block := !attrBool(attrs, "publicly_accessible", false)
	_, err = p.s3.PutPublicAccessBlock(ctx, &s3.PutPublicAccessBlockInput{
		Bucket: bucket,
		PublicAccessBlockConfiguration: &s3types.PublicAccessBlockConfiguration{
			BlockPublicAcls:       aws.Bool(block),
			BlockPublicPolicy:     aws.Bool(block),
			IgnorePublicAcls:      aws.Bool(block),
			RestrictPublicBuckets: aws.Bool(block),
		},
	})
	return err
}

// putBucketTags replaces the whole tag set, so the identity claim must
// always ride along with the user tags.
func (p *Provider) putBucketTags(ctx context.Context, name string, tags map[string]string) error {
	_, err := p.s3.PutBucketTagging(ctx, &s3.PutBucketTaggingInput{
		Bucket:  aws.String(name),
		Tagging: &s3types.Tagging{TagSet: s3TagSet(tags)},
	})
	return err
}

func (p *Provider) updateStorage(ctx context.Context, ref types.ResourceRef, attrs map[string]any) (*types.ObservedState, error) {
	if err := refuseUnencrypted("update", ref.ID, attrs); err != nil {
		return nil, err
	}
	if err := checkAttrs("update", ref.ID, attrs, storageAttrs); err != nil {
		return nil, err
	}
	userTags, err := declaredTags(attrs)
	if err != nil {
		return nil, providers.NewPermanentError("aws", "update", ref.ID, err)
	}

	name := p.resourceName(ref.ID)
	if _, err := p.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(name)}); err != nil {
		if isNotFound(err) {
			return nil, providers.NewPermanentError("aws", "update", ref.ID,
				fmt.Errorf("bucket no longer exists; re-plan to recreate it"))
		}
		return nil, classify("update", ref, err)
	}

	if err := p.applyBucketSettings(ctx, name, attrs); err != nil {
		return nil, classify("update", ref, err)
	}
	if err := p.putBucketTags(ctx, name, p.identityTags(ref.ID, userTags)); err != nil {
		return nil, classify("update", ref, err)
	}

	return p.describeStorage(ctx, ref)
}

func (p *Provider) deleteStorage(ctx context.Context, ref types.ResourceRef) error {
	name := p.resourceName(ref.ID)
	// BucketNotEmpty classifies permanent. Objects are data; emptying a
	// bucket is never implied by removing its declaration.
	_, err := p.s3.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)})
	if err != nil && !isNotFound(err) {
		return classify("delete", ref, err)
	}
	return nil
}
