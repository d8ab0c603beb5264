package aws

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/varunnarsana/stratus/providers"
	"github.com/varunnarsana/stratus/types"
)

// throttleCodes are rate-limit rejections. The SDK retries a few
// itself; whatever escapes is still worth the executor's backoff.
var throttleCodes = map[string]struct{}{
	"Throttling":                {},
	"ThrottlingException":       {},
	"RequestLimitExceeded":      {},
	"RequestThrottled":          {},
	"RequestThrottledException": {},
	"TooManyRequestsException":  {},
	"SlowDown":                  {},
}

// transientCodes clear on their own. DependencyViolation and
// ResourceInUse show up when teardown ordering outruns AWS's own
// bookkeeping of what still references what.
var transientCodes = map[string]struct{}{
	"ServiceUnavailable":        {},
	"InternalError":             {},
	"InternalFailure":           {},
	"InternalServiceError":      {},
	"DependencyViolation":       {},
	"ResourceInUse":             {},
	"ResourceInUseFault":        {},
	"ScalingActivityInProgress": {},
}

// classify wraps an AWS failure in the error class the retry policy
// understands. Unknown API rejections default to permanent: retrying a
// request AWS has decided to refuse only burns the attempt budget.
func classify(op string, ref types.ResourceRef, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return providers.NewTimeoutError("aws", op, ref.ID, err)
	}

	var ae smithy.APIError
	if errors.As(err, &ae) {
		code := ae.ErrorCode()
		if _, ok := throttleCodes[code]; ok {
			return providers.NewThrottledError("aws", op, ref.ID, err)
		}
		if code == "RequestTimeout" || code == "RequestTimeoutException" {
			return providers.NewTimeoutError("aws", op, ref.ID, err)
		}
		if _, ok := transientCodes[code]; ok {
			return providers.NewTransientError("aws", op, ref.ID, err)
		}
		if ae.ErrorFault() == smithy.FaultServer {
			return providers.NewTransientError("aws", op, ref.ID, err)
		}
		return providers.NewPermanentError("aws", op, ref.ID, err)
	}

	// Not an API rejection: the request never got a decision from AWS
	// (connection reset, DNS, TLS). Worth another attempt.
	return providers.NewTransientError("aws", op, ref.ID, err)
}

// isNotFound matches the absence codes scattered across service APIs.
func isNotFound(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	code := ae.ErrorCode()
	switch code {
	case "NoSuchBucket", "NoSuchTagSet", "NoSuchPublicAccessBlockConfiguration",
		"ResourceNotFoundException", "NoSuchEntity":
		return true
	}
	return strings.Contains(code, "NotFound")
}

// isAlreadyExists matches the duplicate-create codes that mean a
// previous attempt already succeeded. BucketAlreadyExists deliberately
// stays out: that is another account holding the name, a conflict, not
// idempotence.
func isAlreadyExists(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.ErrorCode() {
	case "AlreadyExists", "AlreadyExistsFault", "AlreadyExistsException",
		"ResourceAlreadyExistsException", "DBInstanceAlreadyExists",
		"BucketAlreadyOwnedByYou", "DuplicateLoadBalancerName",
		"InvalidLaunchTemplateName.AlreadyExistsException":
		return true
	}
	return false
}
