package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// RDSAPI is the slice of the RDS client the provider uses.
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	CreateDBInstance(ctx context.Context, params *rds.CreateDBInstanceInput, optFns ...func(*rds.Options)) (*rds.CreateDBInstanceOutput, error)
	ModifyDBInstance(ctx context.Context, params *rds.ModifyDBInstanceInput, optFns ...func(*rds.Options)) (*rds.ModifyDBInstanceOutput, error)
	DeleteDBInstance(ctx context.Context, params *rds.DeleteDBInstanceInput, optFns ...func(*rds.Options)) (*rds.DeleteDBInstanceOutput, error)
	AddTagsToResource(ctx context.Context, params *rds.AddTagsToResourceInput, optFns ...func(*rds.Options)) (*rds.AddTagsToResourceOutput, error)
}

// engine_version echoes the version AWS actually runs, so declarations
// must carry the full version string, not a prefix.
var databaseAttrs = map[string]bool{
	"engine":                true,
	"engine_version":        true,
	"instance_class":        true,
	"size_gb":               true,
	"username":              true,
	"encrypted":             true,
	"backup_retention_days": true,
	"deletion_protection":   true,
	"publicly_accessible":   true,
	"tags":                  true,
}

// credentialAttrs are rejected outright. The master password is never
// part of a declaration; RDS generates and rotates it as a managed
// secret.
var credentialAttrs = []string{"password", "master_password", "master_user_password"}

func refuseCredentials(op, id string, attrs map[string]any) error {
	for _, key := range credentialAttrs {
		if has(attrs, key) {
			return providers.NewPermanentError("aws", op, id,
				fmt.Errorf("inline credential attribute %q is not accepted; the master password is provisioned as a managed secret", key))
		}
	}
	return nil
}

func (p *Provider) findDBInstance(ctx context.Context, name string) (*rdstypes.DBInstance, error) {
	out, err := p.rds.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(name),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(out.DBInstances) == 0 {
		return nil, nil
	}
	return &out.DBInstances[0], nil
}

func dbAttrs(db *rdstypes.DBInstance) map[string]any {
	return map[string]any{
		"engine":                aws.ToString(db.Engine),
		"engine_version":        aws.ToString(db.EngineVersion),
		"instance_class":        aws.ToString(db.DBInstanceClass),
		"size_gb":               int(aws.ToInt32(db.AllocatedStorage)),
		"username":              aws.ToString(db.MasterUsername),
		"encrypted":             aws.ToBool(db.StorageEncrypted),
		"backup_retention_days": int(aws.ToInt32(db.BackupRetentionPeriod)),
		"deletion_protection":   aws.ToBool(db.DeletionProtection),
		"publicly_accessible":   aws.ToBool(db.PubliclyAccessible),
		"tags":                  echoTags(tagMap(db.TagList)),
	}
}

func dbStatus(db *rdstypes.DBInstance) types.ProviderStatus {
	switch aws.ToString(db.DBInstanceStatus) {
	case "failed", "inaccessible-encryption-credentials", "incompatible-parameters",
		"incompatible-network", "restore-error", "storage-full", "stopped", "stopping":
		return types.StatusDegraded
	}
	return types.StatusPresent
}

func (p *Provider) describeDatabase(ctx context.Context, ref types.ResourceRef) (*types.ObservedState, error) {
	db, err := p.findDBInstance(ctx, p.resourceName(ref.ID))
	if err != nil {
		return nil, classify("describe", ref, err)
	}
	if db == nil {
		return absent(ref.ID), nil
	}
	return observed(ref.ID, dbStatus(db), dbAttrs(db)), nil
}

func (p *Provider) createDatabase(ctx context.Context, spec types.ResourceSpec) (*types.ObservedState, error) {
	ref := spec.Ref()
	if err := refuseCredentials("create", ref.ID, spec.Attributes); err != nil {
		return nil, err
	}
	if err := checkAttrs("create", ref.ID, spec.Attributes, databaseAttrs); err != nil {
		return nil, err
	}
	engine, err := requireString(spec.Attributes, "engine")
	if err != nil {
		return nil, providers.NewPermanentError("aws", "create", ref.ID, err)
	}
	instanceClass, err := requireString(spec.Attributes, "instance_class")
	if err != nil {
		return nil, providers.NewPermanentError("aws", "create", ref.ID, err)
	}
	userTags, err := declaredTags(spec.Attributes)
	if err != nil {
		return nil, providers.NewPermanentError("aws", "create", ref.ID, err)
	}

	name := p.resourceName(ref.ID)
	existing, err := p.findDBInstance(ctx, name)
	if err != nil {
		return nil, classify("create", ref, err)
	}
	if existing != nil {
		return observed(ref.ID, dbStatus(existing), dbAttrs(existing)), nil
	}

	input := &rds.CreateDBInstanceInput{
		DBInstanceIdentifier:     aws.String(name),
		Engine:                   aws.String(engine),
		DBInstanceClass:          aws.String(instanceClass),
		AllocatedStorage:         aws.Int32(int32(attrInt(spec.Attributes, "size_gb", 20))),
		MasterUsername:           aws.String(attrString(spec.Attributes, "username", "stratus")),
		ManageMasterUserPassword: aws.Bool(true),
		StorageEncrypted:         aws.Bool(attrBool(spec.Attributes, "encrypted", true)),
		BackupRetentionPeriod:    aws.Int32(int32(attrInt(spec.Attributes, "backup_retention_days", 7))),
		DeletionProtection:       aws.Bool(attrBool(spec.Attributes, "deletion_protection", false)),
		PubliclyAccessible:       aws.Bool(attrBool(spec.Attributes, "publicly_accessible", false)),
		Tags:                     rdsTags(p.identityTags(ref.ID, userTags)),
	}
	if v := attrString(spec.Attributes, "engine_version", ""); v != "" {
		input.EngineVersion = aws.String(v)
	}

	if _, err := p.rds.CreateDBInstance(ctx, input); err != nil && !isAlreadyExists(err) {
		return nil, classify("create", ref, err)
	}

	// Describe by identifier is consistent right after create and
	// echoes the resolved engine version, which the manual input map
	// does not know.
	return p.describeDatabase(ctx, ref)
}

func (p *Provider) updateDatabase(ctx context.Context, ref types.ResourceRef, attrs map[string]any) (*types.ObservedState, error) {
	if err := refuseCredentials("update", ref.ID, attrs); err != nil {
		return nil, err
	}
	if err := checkAttrs("update", ref.ID, attrs, databaseAttrs); err != nil {
		return nil, err
	}
	name := p.resourceName(ref.ID)
	db, err := p.findDBInstance(ctx, name)
	if err != nil {
		return nil, classify("update", ref, err)
	}
	if db == nil {
		return nil, providers.NewPermanentError("aws", "update", ref.ID,
			fmt.Errorf("database no longer exists; re-plan to recreate it"))
	}

	if engine := attrString(attrs, "engine", ""); engine != "" && engine != aws.ToString(db.Engine) {
		return nil, providers.NewPermanentError("aws", "update", ref.ID,
			fmt.Errorf("engine cannot change in place (%s -> %s)", aws.ToString(db.Engine), engine))
	}
	if has(attrs, "encrypted") && attrBool(attrs, "encrypted", true) != aws.ToBool(db.StorageEncrypted) {
		return nil, providers.NewPermanentError("aws", "update", ref.ID,
			fmt.Errorf("storage encryption cannot change in place"))
	}
	if username := attrString(attrs, "username", ""); username != "" && username != aws.ToString(db.MasterUsername) {
		return nil, providers.NewPermanentError("aws", "update", ref.ID,
			fmt.Errorf("master username cannot change in place"))
	}

	input := &rds.ModifyDBInstanceInput{
		DBInstanceIdentifier: aws.String(name),
		ApplyImmediately:     aws.Bool(true),
	}
	dirty := false
	if v := attrString(attrs, "instance_class", ""); v != "" && v != aws.ToString(db.DBInstanceClass) {
		input.DBInstanceClass = aws.String(v)
		dirty = true
	}
	if has(attrs, "size_gb") {
		if v := int32(attrInt(attrs, "size_gb", 0)); v != aws.ToInt32(db.AllocatedStorage) {
			input.AllocatedStorage = aws.Int32(v)
			dirty = true
		}
	}
	if v := attrString(attrs, "engine_version", ""); v != "" && v != aws.ToString(db.EngineVersion) {
		input.EngineVersion = aws.String(v)
		dirty = true
	}
	if has(attrs, "backup_retention_days") {
		if v := int32(attrInt(attrs, "backup_retention_days", 0)); v != aws.ToInt32(db.BackupRetentionPeriod) {
			input.BackupRetentionPeriod = aws.Int32(v)
			dirty = true
		}
	}
	if has(attrs, "deletion_protection") {
		if v := attrBool(attrs, "deletion_protection", false); v != aws.ToBool(db.DeletionProtection) {
			input.DeletionProtection = aws.Bool(v)
			dirty = true
		}
	}
	if has(attrs, "publicly_accessible") {
		if v := attrBool(attrs, "publicly_accessible", false); v != aws.ToBool(db.PubliclyAccessible) {
			input.PubliclyAccessible = aws.Bool(v)
			dirty = true
		}
	}
	if dirty {
		if _, err := p.rds.ModifyDBInstance(ctx, input); err != nil {
			return nil, classify("update", ref, err)
		}
	}

	userTags, err := declaredTags(attrs)
	if err != nil {
		return nil, providers.NewPermanentError("aws", "update", ref.ID, err)
	}
	if len(userTags) > 0 {
		_, err = p.rds.AddTagsToResource(ctx, &rds.AddTagsToResourceInput{
			ResourceName: db.DBInstanceArn,
			Tags:         rdsTags(userTags),
		})
		if err != nil {
			return nil, classify("update", ref, err)
		}
	}

	return p.describeDatabase(ctx, ref)
}

func (p *Provider) deleteDatabase(ctx context.Context, ref types.ResourceRef) error {
	name := p.resourceName(ref.ID)
	db, err := p.findDBInstance(ctx, name)
	if err != nil {
		return classify("delete", ref, err)
	}
	if db == nil || aws.ToString(db.DBInstanceStatus) == "deleting" {
		return nil
	}

	// Deletion protection makes this fail with an InvalidParameter
	// rejection, which classifies permanent: flipping the flag is a
	// declared change, not something delete does silently.
	_, err = p.rds.DeleteDBInstance(ctx, &rds.DeleteDBInstanceInput{
		DBInstanceIdentifier:   aws.String(name),
		SkipFinalSnapshot:      aws.Bool(true),
		DeleteAutomatedBackups: aws.Bool(true),
	})
	if err != nil && !isNotFound(err) {
		return classify("delete", ref, err)
	}
	return nil
}
