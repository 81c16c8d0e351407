package recovery

import (
	"context"
	"errors"
	"strings"
	"time"
)

// RetryReason categorizes a failure for retry decisions.
type RetryReason string

const (
	ReasonNetwork             RetryReason = "network"
	ReasonRateLimit           RetryReason = "rate_limit"
	ReasonQuotaExceeded       RetryReason = "quota_exceeded"
	ReasonResourceUnavailable RetryReason = "resource_unavailable"
	ReasonValidation          RetryReason = "validation"
	ReasonUnknown             RetryReason = "unknown"
)

// Retryable reports whether the generic retry loop may re-attempt an
// error of this category. ResourceUnavailable and Validation failures are
// permanent and route directly to the recovery plan.
func (r RetryReason) Retryable() bool {
	switch r {
	case ReasonResourceUnavailable, ReasonValidation:
		return false
	default:
		return true
	}
}

// Classifier maps a raised failure into a retry reason.
type Classifier func(err error) RetryReason

// DefaultClassify categorizes errors by their message, covering the
// vocabulary the downstream services actually emit.
func DefaultClassify(err error) RetryReason {
	if err == nil {
		return ReasonUnknown
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReasonNetwork
	}

	s := strings.ToLower(err.Error())

	// Permanent content issues
	if strings.Contains(s, "private") || strings.Contains(s, "deleted") ||
		strings.Contains(s, "unavailable") || strings.Contains(s, "not found") ||
		strings.Contains(s, "region") || strings.Contains(s, "age restricted") {
		return ReasonResourceUnavailable
	}

	// Malformed input
	if strings.Contains(s, "invalid") || strings.Contains(s, "malformed") ||
		strings.Contains(s, "unsupported url") {
		return ReasonValidation
	}

	// Hard daily limits
	if strings.Contains(s, "quota") || strings.Contains(s, "daily limit") ||
		strings.Contains(s, "count exceeded") {
		return ReasonQuotaExceeded
	}

	// Throttling
	if strings.Contains(s, "429") || strings.Contains(s, "too many requests") ||
		strings.Contains(s, "rate limit") || strings.Contains(s, "slow down") {
		return ReasonRateLimit
	}

	// Transport issues
	if strings.Contains(s, "timeout") || strings.Contains(s, "timed out") ||
		strings.Contains(s, "connection reset") || strings.Contains(s, "connection refused") ||
		strings.Contains(s, "eof") || strings.Contains(s, "broken pipe") ||
		strings.Contains(s, "502") || strings.Contains(s, "503") || strings.Contains(s, "504") {
		return ReasonNetwork
	}

	return ReasonUnknown
}

// RetryAfterHinter is implemented by errors carrying a server-provided
// retry-after hint (HTTP 429 Retry-After, quota reset time).
type RetryAfterHinter interface {
	RetryAfter() time.Duration
}

// RetryAfterHint extracts a retry-after hint from err, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var h RetryAfterHinter
	if errors.As(err, &h) && h.RetryAfter() > 0 {
		return h.RetryAfter(), true
	}
	return 0, false
}
