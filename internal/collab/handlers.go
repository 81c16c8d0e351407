package collab

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dvtran/ytarchive/internal/recovery"
)

// MetadataErrorHandler owns the metadata service's error vocabulary.
type MetadataErrorHandler struct{}

func (h *MetadataErrorHandler) Classify(err error) recovery.RetryReason {
	var se *ServiceError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusNotFound || se.StatusCode == http.StatusGone:
			return recovery.ReasonResourceUnavailable
		case se.StatusCode == http.StatusForbidden && containsAny(se.Message, "quota", "daily"):
			return recovery.ReasonQuotaExceeded
		case se.StatusCode == http.StatusTooManyRequests:
			return recovery.ReasonRateLimit
		case se.StatusCode == http.StatusBadRequest:
			return recovery.ReasonValidation
		case se.StatusCode >= 500:
			return recovery.ReasonNetwork
		}
	}
	return recovery.DefaultClassify(err)
}

func (h *MetadataErrorHandler) HandleError(err error, ectx *recovery.ErrorContext) bool {
	// The metadata service has no self-recovery path; everything routes
	// through the generic loop.
	return false
}

func (h *MetadataErrorHandler) RecoverySuggestions(ectx *recovery.ErrorContext) []string {
	switch ectx.LastReason() {
	case recovery.ReasonResourceUnavailable:
		return []string{
			"verify the video or playlist still exists and is public",
			"resubmit from the recovery plan once the content is accessible",
		}
	case recovery.ReasonQuotaExceeded:
		return []string{"wait for the daily API quota to reset before resubmitting"}
	default:
		return nil
	}
}

// DownloadErrorHandler owns the download service's error vocabulary,
// which is dominated by the external downloader tool's messages.
type DownloadErrorHandler struct{}

func (h *DownloadErrorHandler) Classify(err error) recovery.RetryReason {
	var se *ServiceError
	if errors.As(err, &se) {
		msg := strings.ToLower(se.Message)
		switch {
		case containsAny(msg, "private", "deleted", "removed", "unavailable", "region", "age restricted"):
			return recovery.ReasonResourceUnavailable
		case se.StatusCode == http.StatusTooManyRequests || containsAny(msg, "rate limit", "slow down"):
			return recovery.ReasonRateLimit
		case containsAny(msg, "unsupported url", "invalid"):
			return recovery.ReasonValidation
		case se.StatusCode >= 500 || containsAny(msg, "timeout", "connection"):
			return recovery.ReasonNetwork
		}
	}
	return recovery.DefaultClassify(err)
}

func (h *DownloadErrorHandler) HandleError(err error, ectx *recovery.ErrorContext) bool {
	return false
}

func (h *DownloadErrorHandler) RecoverySuggestions(ectx *recovery.ErrorContext) []string {
	switch ectx.LastReason() {
	case recovery.ReasonResourceUnavailable:
		return []string{
			"the video is private, deleted, or blocked in this region",
			"resubmit from the recovery plan if it becomes available again",
		}
	case recovery.ReasonRateLimit:
		return []string{"lower the job concurrency or wait before resubmitting"}
	default:
		return nil
	}
}

// StorageErrorHandler owns the storage service's error vocabulary.
// Filesystem exhaustion is escalated immediately rather than retried.
type StorageErrorHandler struct{}

func (h *StorageErrorHandler) Classify(err error) recovery.RetryReason {
	var se *ServiceError
	if errors.As(err, &se) {
		msg := strings.ToLower(se.Message)
		switch {
		case containsAny(msg, "no space", "enospc", "disk full"):
			// Retrying cannot create disk space.
			return recovery.ReasonValidation
		case se.StatusCode == http.StatusConflict:
			return recovery.ReasonValidation
		case se.StatusCode >= 500:
			return recovery.ReasonNetwork
		}
	}
	return recovery.DefaultClassify(err)
}

func (h *StorageErrorHandler) HandleError(err error, ectx *recovery.ErrorContext) bool {
	return false
}

func (h *StorageErrorHandler) RecoverySuggestions(ectx *recovery.ErrorContext) []string {
	if ectx.LastReason() == recovery.ReasonValidation {
		return []string{"check free disk space on the archive volume"}
	}
	return nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
