package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/varunnarsana/stratus/types"
)

// stubProvider for registry tests
type stubProvider struct {
	name   string
	region string
}

func (s *stubProvider) Name() string   { return s.name }
func (s *stubProvider) Region() string { return s.region }

func (s *stubProvider) Describe(ctx context.Context, ref types.ResourceRef) (*types.ObservedState, error) {
	return &types.ObservedState{
		ResourceID:     ref.ID,
		ProviderStatus: types.StatusAbsent,
		LastSeenAt:     time.Now(),
	}, nil
}

func (s *stubProvider) Create(ctx context.Context, spec types.ResourceSpec) (*types.ObservedState, error) {
	return &types.ObservedState{
		ResourceID:       spec.ID,
		RemoteAttributes: spec.Attributes,
		ProviderStatus:   types.StatusPresent,
		LastSeenAt:       time.Now(),
	}, nil
}

func (s *stubProvider) Update(ctx context.Context, ref types.ResourceRef, attributes map[string]any) (*types.ObservedState, error) {
	return &types.ObservedState{
		ResourceID:       ref.ID,
		RemoteAttributes: attributes,
		ProviderStatus:   types.StatusPresent,
		LastSeenAt:       time.Now(),
	}, nil
}

func (s *stubProvider) Delete(ctx context.Context, ref types.ResourceRef) error {
	return nil
}

func TestProviderRegistry(t *testing.T) {
	var _ CloudProvider = (*stubProvider)(nil)

	RegisterProvider("stub", func(config ProviderConfig) (CloudProvider, error) {
		return &stubProvider{name: "stub", region: config.Region}, nil
	})

	provider, err := GetProvider("stub", ProviderConfig{Region: "us-test-1"})
	if err != nil {
		t.Fatalf("GetProvider() error = %v", err)
	}
	if provider.Name() != "stub" {
		t.Errorf("provider.Name() = %v, want stub", provider.Name())
	}
	if provider.Region() != "us-test-1" {
		t.Errorf("provider.Region() = %v, want us-test-1", provider.Region())
	}

	if _, err := GetProvider("nonexistent", ProviderConfig{}); err == nil {
		t.Error("GetProvider() should error for non-existent provider")
	}
}

func TestProviderError_Retryable(t *testing.T) {
	tests := []struct {
		name string
		err  *ProviderError
		want bool
	}{
		{name: "transient", err: NewTransientError("aws", "create", "n1", errors.New("conn reset")), want: true},
		{name: "throttled", err: NewThrottledError("aws", "describe", "n1", errors.New("rate exceeded")), want: true},
		{name: "timeout", err: NewTimeoutError("aws", "create", "n1", context.DeadlineExceeded), want: true},
		{name: "permanent", err: NewPermanentError("aws", "create", "n1", errors.New("invalid cidr")), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "wrapped transient provider error",
			err:  fmt.Errorf("apply n1: %w", NewTransientError("aws", "create", "n1", errors.New("503"))),
			want: true,
		},
		{
			name: "wrapped permanent provider error",
			err:  fmt.Errorf("apply n1: %w", NewPermanentError("aws", "create", "n1", errors.New("denied"))),
			want: false,
		},
		{
			name: "bare deadline exceeded counts as timeout",
			err:  context.DeadlineExceeded,
			want: true,
		},
		{
			name: "unclassified error is not retried",
			err:  errors.New("something odd"),
			want: false,
		},
		{
			name: "nil",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassOf(t *testing.T) {
	if got := ClassOf(NewThrottledError("aws", "create", "n1", errors.New("throttle"))); got != ErrorThrottled {
		t.Errorf("ClassOf(throttled) = %v", got)
	}
	if got := ClassOf(errors.New("mystery")); got != ErrorPermanent {
		t.Errorf("ClassOf(unclassified) = %v, want permanent", got)
	}
	if got := ClassOf(context.DeadlineExceeded); got != ErrorTimeout {
		t.Errorf("ClassOf(deadline) = %v, want timeout", got)
	}
}
