// File: internal/pipeline/validate.go
package pipeline

import "errors"

// Sentinel errors returned by the validation gates. Both messages contain
// "invalid" so a gate failure classifies as INVALID_RESPONSE and rides the
// same failure path as a runtime error.
var (
	ErrInvalidStagePayload = errors.New("invalid stage data: payload is missing the packages key")
	ErrInvalidReport       = errors.New("invalid report: missing metadata or summary section")
)

// ValidatePayload is the per-stage gate: the payload must be a non-nil map
// containing a "packages" key. The value under the key is not inspected.
func ValidatePayload(data map[string]any) error {
	if data == nil {
		return ErrInvalidStagePayload
	}
	if _, ok := data["packages"]; !ok {
		return ErrInvalidStagePayload
	}
	return nil
}

// ValidateReport is the final gate applied to the synthesis stage's output:
// the report must contain "metadata" and "summary" keys, each itself a map.
func ValidateReport(report map[string]any) error {
	if report == nil {
		return ErrInvalidReport
	}
	if _, ok := report["metadata"].(map[string]any); !ok {
		return ErrInvalidReport
	}
	if _, ok := report["summary"].(map[string]any); !ok {
		return ErrInvalidReport
	}
	return nil
}
