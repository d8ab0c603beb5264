package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/varunnarsana/stratus/types"
)

// Item layout, one partition per workspace:
//
//	pk = <workspace>, sk = "meta"           version counter
//	pk = <workspace>, sk = "lock"           apply lock, absent when free
//	pk = <workspace>, sk = "resource#<id>"  one state entry as JSON
const (
	skMeta           = "meta"
	skLock           = "lock"
	skResourcePrefix = "resource#"
)

// DynamoConfig configures the DynamoDB state backend.
type DynamoConfig struct {
	Table     string
	Region    string
	Profile   string
	Workspace string
}

// DynamoStore keeps state in a DynamoDB table. Optimistic concurrency
// rides on conditional writes against the meta item's version.
type DynamoStore struct {
	client    *dynamodb.Client
	table     string
	workspace string
}

// OpenDynamo builds a DynamoDB-backed store.
func OpenDynamo(ctx context.Context, cfg DynamoConfig) (*DynamoStore, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("dynamodb backend requires a table name")
	}
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("dynamodb backend requires a workspace")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &DynamoStore{
		client:    dynamodb.NewFromConfig(awsCfg),
		table:     cfg.Table,
		workspace: cfg.Workspace,
	}, nil
}

// Close releases nothing; the SDK client has no persistent handle.
func (s *DynamoStore) Close() error { return nil }

// Snapshot queries the whole workspace partition and assembles it.
func (s *DynamoStore) Snapshot(ctx context.Context) (*types.StateSnapshot, error) {
	snap := &types.StateSnapshot{
		Resources: make(map[string]types.StateEntry),
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :ws"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":ws": &dbtypes.AttributeValueMemberS{Value: s.workspace},
		},
		ConsistentRead: aws.Bool(true),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query state table: %w", err)
		}
		for _, item := range page.Items {
			sk := stringAttr(item, "sk")
			switch {
			case sk == skMeta:
				snap.Version = numberAttr(item, "version")
			case sk == skLock:
				lock, err := lockFromItem(item)
				if err != nil {
					return nil, err
				}
				snap.Lock = lock
			case strings.HasPrefix(sk, skResourcePrefix):
				var entry types.StateEntry
				if err := json.Unmarshal([]byte(stringAttr(item, "entry")), &entry); err != nil {
					return nil, fmt.Errorf("corrupt state entry %s: %w", sk, err)
				}
				snap.Resources[entry.ResourceID] = entry
			}
		}
	}

	return snap, nil
}

// PutEntry writes one entry and bumps the version in one transaction.
func (s *DynamoStore) PutEntry(ctx context.Context, expectedVersion int64, entry types.StateEntry) (int64, error) {
	if entry.ResourceID == "" {
		return 0, fmt.Errorf("state entry has no resource id")
	}
	value, err := json.Marshal(entry)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal entry %s: %w", entry.ResourceID, err)
	}

	next := expectedVersion + 1
	err = s.transactWithVersionBump(ctx, expectedVersion, dbtypes.TransactWriteItem{
		Put: &dbtypes.Put{
			TableName: aws.String(s.table),
			Item: map[string]dbtypes.AttributeValue{
				"pk":          &dbtypes.AttributeValueMemberS{Value: s.workspace},
				"sk":          &dbtypes.AttributeValueMemberS{Value: skResourcePrefix + entry.ResourceID},
				"resource_id": &dbtypes.AttributeValueMemberS{Value: entry.ResourceID},
				"entry":       &dbtypes.AttributeValueMemberS{Value: string(value)},
			},
		},
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// RemoveEntry deletes one entry and bumps the version in one
// transaction. Removing an absent id still bumps the version.
func (s *DynamoStore) RemoveEntry(ctx context.Context, expectedVersion int64, resourceID string) (int64, error) {
	next := expectedVersion + 1
	err := s.transactWithVersionBump(ctx, expectedVersion, dbtypes.TransactWriteItem{
		Delete: &dbtypes.Delete{
			TableName: aws.String(s.table),
			Key: map[string]dbtypes.AttributeValue{
				"pk": &dbtypes.AttributeValueMemberS{Value: s.workspace},
				"sk": &dbtypes.AttributeValueMemberS{Value: skResourcePrefix + resourceID},
			},
		},
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// ReplaceAll bumps the version under the CAS condition, then rewrites
// the resource items. The rewrite is not one transaction across items;
// the version gate keeps concurrent writers out while it runs.
func (s *DynamoStore) ReplaceAll(ctx context.Context, expectedVersion int64, resources map[string]types.StateEntry) (int64, error) {
	next := expectedVersion + 1
	if err := s.transactWithVersionBump(ctx, expectedVersion); err != nil {
		return 0, err
	}

	existing, err := s.listResourceKeys(ctx)
	if err != nil {
		return next, err
	}
	for _, sk := range existing {
		id := strings.TrimPrefix(sk, skResourcePrefix)
		if _, keep := resources[id]; keep {
			continue
		}
		_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.table),
			Key: map[string]dbtypes.AttributeValue{
				"pk": &dbtypes.AttributeValueMemberS{Value: s.workspace},
				"sk": &dbtypes.AttributeValueMemberS{Value: sk},
			},
		})
		if err != nil {
			return next, fmt.Errorf("failed to prune state entry %s: %w", sk, err)
		}
	}

	for id, entry := range resources {
		value, err := json.Marshal(entry)
		if err != nil {
			return next, fmt.Errorf("failed to marshal entry %s: %w", id, err)
		}
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.table),
			Item: map[string]dbtypes.AttributeValue{
				"pk":          &dbtypes.AttributeValueMemberS{Value: s.workspace},
				"sk":          &dbtypes.AttributeValueMemberS{Value: skResourcePrefix + id},
				"resource_id": &dbtypes.AttributeValueMemberS{Value: id},
				"entry":       &dbtypes.AttributeValueMemberS{Value: string(value)},
			},
		})
		if err != nil {
			return next, fmt.Errorf("failed to write state entry %s: %w", id, err)
		}
	}

	return next, nil
}

// AcquireLock takes the apply lock via a conditional put.
func (s *DynamoStore) AcquireLock(ctx context.Context, holder, operation string) (*types.LockInfo, error) {
	lock := &types.LockInfo{
		Token:      newLockToken(),
		Holder:     holder,
		Operation:  operation,
		AcquiredAt: time.Now().UTC(),
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]dbtypes.AttributeValue{
			"pk":          &dbtypes.AttributeValueMemberS{Value: s.workspace},
			"sk":          &dbtypes.AttributeValueMemberS{Value: skLock},
			"tok":         &dbtypes.AttributeValueMemberS{Value: lock.Token},
			"holder":      &dbtypes.AttributeValueMemberS{Value: lock.Holder},
			"operation":   &dbtypes.AttributeValueMemberS{Value: lock.Operation},
			"acquired_at": &dbtypes.AttributeValueMemberS{Value: lock.AcquiredAt.Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(sk)"),
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			held, lookupErr := s.readLock(ctx)
			if lookupErr == nil && held != nil {
				return nil, &LockedError{Lock: *held}
			}
			return nil, &LockedError{Lock: types.LockInfo{Holder: "unknown", Operation: "unknown"}}
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return lock, nil
}

// ReleaseLock releases the lock if the token matches.
func (s *DynamoStore) ReleaseLock(ctx context.Context, token string) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]dbtypes.AttributeValue{
			"pk": &dbtypes.AttributeValueMemberS{Value: s.workspace},
			"sk": &dbtypes.AttributeValueMemberS{Value: skLock},
		},
		ConditionExpression: aws.String("tok = :token"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":token": &dbtypes.AttributeValueMemberS{Value: token},
		},
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			return fmt.Errorf("lock token mismatch: the lock was taken over or already released")
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// BreakLock clears the lock without a token check.
func (s *DynamoStore) BreakLock(ctx context.Context) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]dbtypes.AttributeValue{
			"pk": &dbtypes.AttributeValueMemberS{Value: s.workspace},
			"sk": &dbtypes.AttributeValueMemberS{Value: skLock},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to break lock: %w", err)
	}
	return nil
}

// transactWithVersionBump writes the meta item's next version under
// the CAS condition, plus any extra items, atomically.
func (s *DynamoStore) transactWithVersionBump(ctx context.Context, expectedVersion int64, extra ...dbtypes.TransactWriteItem) error {
	next := expectedVersion + 1

	condition := "version = :expected"
	values := map[string]dbtypes.AttributeValue{
		":expected": &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
	}
	if expectedVersion == 0 {
		// First write ever: the meta item may not exist yet.
		condition = "attribute_not_exists(pk) OR version = :expected"
	}

	items := append([]dbtypes.TransactWriteItem{{
		Put: &dbtypes.Put{
			TableName: aws.String(s.table),
			Item: map[string]dbtypes.AttributeValue{
				"pk":      &dbtypes.AttributeValueMemberS{Value: s.workspace},
				"sk":      &dbtypes.AttributeValueMemberS{Value: skMeta},
				"version": &dbtypes.AttributeValueMemberN{Value: strconv.FormatInt(next, 10)},
			},
			ConditionExpression:       aws.String(condition),
			ExpressionAttributeValues: values,
		},
	}}, extra...)

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		if isConditionalCheckFailure(err) {
			actual, lookupErr := s.readVersion(ctx)
			if lookupErr != nil {
				actual = -1
			}
			return &VersionConflictError{Expected: expectedVersion, Actual: actual}
		}
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

func (s *DynamoStore) readVersion(ctx context.Context) (int64, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]dbtypes.AttributeValue{
			"pk": &dbtypes.AttributeValueMemberS{Value: s.workspace},
			"sk": &dbtypes.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}
	return numberAttr(out.Item, "version"), nil
}

func (s *DynamoStore) readLock(ctx context.Context) (*types.LockInfo, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]dbtypes.AttributeValue{
			"pk": &dbtypes.AttributeValueMemberS{Value: s.workspace},
			"sk": &dbtypes.AttributeValueMemberS{Value: skLock},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, nil
	}
	return lockFromItem(out.Item)
}

func (s *DynamoStore) listResourceKeys(ctx context.Context) ([]string, error) {
	var keys []string
	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("pk = :ws AND begins_with(sk, :prefix)"),
		ExpressionAttributeValues: map[string]dbtypes.AttributeValue{
			":ws":     &dbtypes.AttributeValueMemberS{Value: s.workspace},
			":prefix": &dbtypes.AttributeValueMemberS{Value: skResourcePrefix},
		},
		ProjectionExpression: aws.String("sk"),
		ConsistentRead:       aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list state entries: %w", err)
		}
		for _, item := range page.Items {
			keys = append(keys, stringAttr(item, "sk"))
		}
	}
	return keys, nil
}

func lockFromItem(item map[string]dbtypes.AttributeValue) (*types.LockInfo, error) {
	acquiredAt, err := time.Parse(time.RFC3339, stringAttr(item, "acquired_at"))
	if err != nil {
		return nil, fmt.Errorf("corrupt lock record: %w", err)
	}
	return &types.LockInfo{
		Token:      stringAttr(item, "tok"),
		Holder:     stringAttr(item, "holder"),
		Operation:  stringAttr(item, "operation"),
		AcquiredAt: acquiredAt,
	}, nil
}

func isConditionalCheckFailure(err error) bool {
	var condFailed *dbtypes.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return true
	}
	var cancelled *dbtypes.TransactionCanceledException
	if errors.As(err, &cancelled) {
		for _, reason := range cancelled.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

func stringAttr(item map[string]dbtypes.AttributeValue, name string) string {
	if attr, ok := item[name].(*dbtypes.AttributeValueMemberS); ok {
		return attr.Value
	}
	return ""
}

func numberAttr(item map[string]dbtypes.AttributeValue, name string) int64 {
	if attr, ok := item[name].(*dbtypes.AttributeValueMemberN); ok {
		n, _ := strconv.ParseInt(attr.Value, 10, 64)
		return n
	}
	return 0
}
