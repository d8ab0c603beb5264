package aws

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"

	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

func dbNotFound(*rds.DescribeDBInstancesInput) (*rds.DescribeDBInstancesOutput, error) {
	return nil, &smithy.GenericAPIError{Code: "DBInstanceNotFound"}
}

func TestCreateDatabaseRefusesInlinePassword(t *testing.T) {
	p := testProvider()
	// rds left nil: a refused declaration must never reach the API.
	_, err := p.Create(context.Background(), types.ResourceSpec{
		ID:   "orders-db",
		Kind: types.KindDatabase,
		Attributes: map[string]any{
			"engine":         "postgres",
			"instance_class": "db.t3.micro",
			"password":       "hunter2",
		},
	})
	if err == nil {
		t.Fatal("want error for inline password")
	}
	if providers.ClassOf(err) != providers.ErrorPermanent {
		t.Errorf("class = %s, want permanent", providers.ClassOf(err))
	}
	if !strings.Contains(err.Error(), "managed secret") {
		t.Errorf("error should point at the managed secret path: %v", err)
	}
}

func TestCreateDatabase(t *testing.T) {
	var createIn *rds.CreateDBInstanceInput
	created := false

	p := testProvider()
	p.rds = &fakeRDS{
		describeInstances: func(in *rds.DescribeDBInstancesInput) (*rds.DescribeDBInstancesOutput, error) {
			if !created {
				return dbNotFound(in)
			}
			return &rds.DescribeDBInstancesOutput{DBInstances: []rdstypes.DBInstance{{
				DBInstanceIdentifier:  in.DBInstanceIdentifier,
				DBInstanceStatus:      aws.String("creating"),
				Engine:                aws.String("postgres"),
				EngineVersion:         aws.String("16.3"),
				DBInstanceClass:       aws.String("db.t3.micro"),
				AllocatedStorage:      aws.Int32(20),
				MasterUsername:        aws.String("stratus"),
				StorageEncrypted:      aws.Bool(true),
				BackupRetentionPeriod: aws.Int32(7),
				DeletionProtection:    aws.Bool(false),
				PubliclyAccessible:    aws.Bool(false),
			}}}, nil
		},
		createInstance: func(in *rds.CreateDBInstanceInput) (*rds.CreateDBInstanceOutput, error) {
			createIn = in
			created = true
			return &rds.CreateDBInstanceOutput{}, nil
		},
	}

	got, err := p.Create(context.Background(), types.ResourceSpec{
		ID:   "orders-db",
		Kind: types.KindDatabase,
		Attributes: map[string]any{
			"engine":         "postgres",
			"instance_class": "db.t3.micro",
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if !aws.ToBool(createIn.ManageMasterUserPassword) {
		t.Error("ManageMasterUserPassword = false, the password must be a managed secret")
	}
	if !aws.ToBool(createIn.StorageEncrypted) {
		t.Error("StorageEncrypted = false, want encrypted by default")
	}
	if aws.ToBool(createIn.PubliclyAccessible) {
		t.Error("PubliclyAccessible = true, want private by default")
	}
	if aws.ToInt32(createIn.AllocatedStorage) != 20 {
		t.Errorf("AllocatedStorage = %d, want default 20", aws.ToInt32(createIn.AllocatedStorage))
	}
	if aws.ToInt32(createIn.BackupRetentionPeriod) != 7 {
		t.Errorf("BackupRetentionPeriod = %d, want default 7", aws.ToInt32(createIn.BackupRetentionPeriod))
	}
	if aws.ToString(createIn.DBInstanceIdentifier) != "stratus-staging-orders-db" {
		t.Errorf("identifier = %q", aws.ToString(createIn.DBInstanceIdentifier))
	}
	if sent := tagMap(createIn.Tags); sent[tagResourceID] != "orders-db" {
		t.Errorf("identity tag not sent: %v", sent)
	}

	// The echo comes from a re-describe and carries the resolved
	// engine version.
	if got.ProviderStatus != types.StatusPresent {
		t.Errorf("status = %s, want present while creating", got.ProviderStatus)
	}
	if got.RemoteAttributes["engine_version"] != "16.3" {
		t.Errorf("engine_version = %v", got.RemoteAttributes["engine_version"])
	}
	if got.RemoteAttributes["size_gb"] != 20 {
		t.Errorf("size_gb = %v (%T), want 20", got.RemoteAttributes["size_gb"], got.RemoteAttributes["size_gb"])
	}
	if got.RemoteAttributes["encrypted"] != true {
		t.Errorf("encrypted = %v", got.RemoteAttributes["encrypted"])
	}
}

func TestUpdateDatabaseEngineImmutable(t *testing.T) {
	p := testProvider()
	p.rds = &fakeRDS{
		describeInstances: func(in *rds.DescribeDBInstancesInput) (*rds.DescribeDBInstancesOutput, error) {
			return &rds.DescribeDBInstancesOutput{DBInstances: []rdstypes.DBInstance{{
				DBInstanceIdentifier: in.DBInstanceIdentifier,
				DBInstanceStatus:     aws.String("available"),
				Engine:               aws.String("postgres"),
			}}}, nil
		},
	}

	ref := types.ResourceRef{ID: "orders-db", Kind: types.KindDatabase}
	_, err := p.Update(context.Background(), ref, map[string]any{"engine": "mysql"})
	if err == nil {
		t.Fatal("want error for engine change")
	}
	if providers.ClassOf(err) != providers.ErrorPermanent {
		t.Errorf("class = %s, want permanent", providers.ClassOf(err))
	}
}

func TestDatabaseStatusMapping(t *testing.T) {
	cases := []struct {
		dbStatus string
		want     types.ProviderStatus
	}{
		{"available", types.StatusPresent},
		{"creating", types.StatusPresent},
		{"backing-up", types.StatusPresent},
		{"storage-full", types.StatusDegraded},
		{"stopped", types.StatusDegraded},
		{"failed", types.StatusDegraded},
	}
	for _, tc := range cases {
		db := &rdstypes.DBInstance{DBInstanceStatus: aws.String(tc.dbStatus)}
		if got := dbStatus(db); got != tc.want {
			t.Errorf("dbStatus(%s) = %s, want %s", tc.dbStatus, got, tc.want)
		}
	}
}

func TestDeleteDatabaseAlreadyGone(t *testing.T) {
	p := testProvider()
	p.rds = &fakeRDS{
		describeInstances: dbNotFound,
		// deleteInstance nil: absence must short-circuit the call.
	}
	if err := p.Delete(context.Background(), types.ResourceRef{ID: "orders-db", Kind: types.KindDatabase}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}
