package state

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

func TestLockFromItem(t *testing.T) {
	acquired := time.Date(2025, 7, 1, 12, 30, 0, 0, time.UTC)
	item := map[string]dbtypes.AttributeValue{
		"tok":         &dbtypes.AttributeValueMemberS{Value: "abc123"},
		"holder":      &dbtypes.AttributeValueMemberS{Value: "alice@ci"},
		"operation":   &dbtypes.AttributeValueMemberS{Value: "apply"},
		"acquired_at": &dbtypes.AttributeValueMemberS{Value: acquired.Format(time.RFC3339)},
	}

	lock, err := lockFromItem(item)
	if err != nil {
		t.Fatalf("lockFromItem failed: %v", err)
	}
	if lock.Token != "abc123" || lock.Holder != "alice@ci" || lock.Operation != "apply" {
		t.Errorf("lock = %+v", lock)
	}
	if !lock.AcquiredAt.Equal(acquired) {
		t.Errorf("AcquiredAt = %v, want %v", lock.AcquiredAt, acquired)
	}

	item["acquired_at"] = &dbtypes.AttributeValueMemberS{Value: "not-a-time"}
	if _, err := lockFromItem(item); err == nil {
		t.Error("Corrupt timestamp should fail")
	}
}

func TestIsConditionalCheckFailure(t *testing.T) {
	plain := &dbtypes.ConditionalCheckFailedException{Message: aws.String("nope")}
	if !isConditionalCheckFailure(plain) {
		t.Error("ConditionalCheckFailedException should match")
	}
	if !isConditionalCheckFailure(fmt.Errorf("wrapped: %w", plain)) {
		t.Error("Wrapped ConditionalCheckFailedException should match")
	}

	cancelled := &dbtypes.TransactionCanceledException{
		CancellationReasons: []dbtypes.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
	if !isConditionalCheckFailure(cancelled) {
		t.Error("TransactionCanceledException with conditional reason should match")
	}

	if isConditionalCheckFailure(errors.New("throughput exceeded")) {
		t.Error("Unrelated errors should not match")
	}
}

func TestAttrHelpers(t *testing.T) {
	item := map[string]dbtypes.AttributeValue{
		"sk":      &dbtypes.AttributeValueMemberS{Value: "resource#db-main"},
		"version": &dbtypes.AttributeValueMemberN{Value: "42"},
	}
	if got := stringAttr(item, "sk"); got != "resource#db-main" {
		t.Errorf("stringAttr = %q", got)
	}
	if got := stringAttr(item, "missing"); got != "" {
		t.Errorf("stringAttr for missing = %q, want empty", got)
	}
	if got := numberAttr(item, "version"); got != 42 {
		t.Errorf("numberAttr = %d, want 42", got)
	}
	if got := numberAttr(item, "sk"); got != 0 {
		t.Errorf("numberAttr on string attr = %d, want 0", got)
	}
}
