// File: internal/pipeline/classify.go
package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the failure taxonomy used for classification and reporting.
type ErrorKind string

const (
	KindTimeout            ErrorKind = "timeout"
	KindRateLimit          ErrorKind = "rate_limit"
	KindConnection         ErrorKind = "connection"
	KindServiceUnavailable ErrorKind = "service_unavailable"
	KindInvalidResponse    ErrorKind = "invalid_response"
	KindAuthentication     ErrorKind = "authentication"
	KindUnknown            ErrorKind = "unknown"
)

// Classify maps a failure message onto the taxonomy by case-insensitive
// substring matching, in priority order. The first matching class wins.
func Classify(message string) ErrorKind {
	msg := strings.ToLower(message)

	switch {
	case strings.Contains(msg, "timeout"):
		return KindTimeout
	case strings.Contains(msg, "rate") && strings.Contains(msg, "limit"):
		return KindRateLimit
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network"):
		return KindConnection
	case strings.Contains(msg, "503") || strings.Contains(msg, "unavailable"):
		return KindServiceUnavailable
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "malformed"):
		return KindInvalidResponse
	case strings.Contains(msg, "auth") || strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return KindAuthentication
	default:
		return KindUnknown
	}
}

// retryableKeywords is deliberately broader than the classification taxonomy:
// a failure may classify as UNKNOWN yet still be worth retrying (e.g. a bare
// "502" from a proxy).
var retryableKeywords = []string{
	"rate", "limit", "timeout", "connection",
	"service_unavailable", "503", "429", "502", "504",
}

// IsRetryable reports whether a failure message indicates a transient
// condition that bounded retry may resolve.
func IsRetryable(message string) bool {
	msg := strings.ToLower(message)
	for _, kw := range retryableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// userMessageTemplates holds one fixed user-facing template per error kind.
// The %s is the stage display name.
var userMessageTemplates = map[ErrorKind]string{
	KindTimeout:            "%s did not complete within its time limit",
	KindRateLimit:          "%s was rate-limited by an upstream service",
	KindConnection:         "%s could not reach an upstream service",
	KindServiceUnavailable: "%s found an upstream service unavailable",
	KindInvalidResponse:    "%s returned data that failed validation",
	KindAuthentication:     "%s failed to authenticate with an upstream service",
	KindUnknown:            "%s failed for an unknown reason",
}

// UserFacingError renders the fixed per-kind template for a stage. These
// strings end up in the report, so they are stable and free of internals.
func UserFacingError(stage string, kind ErrorKind) string {
	tmpl, ok := userMessageTemplates[kind]
	if !ok {
		tmpl = userMessageTemplates[KindUnknown]
	}
	return fmt.Sprintf(tmpl, StageDisplayName(stage))
}

// ErrorLogEntry is the internal record of one terminal stage failure, kept
// for the final report regardless of whether the stage was required.
type ErrorLogEntry struct {
	Stage     string    `json:"stage"`
	Message   string    `json:"message"`
	Kind      ErrorKind `json:"kind"`
	Required  bool      `json:"required"`
	Timestamp time.Time `json:"timestamp"`
}
