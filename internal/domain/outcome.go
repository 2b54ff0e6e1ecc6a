package domain

import (
	"strings"
	"time"
)

// Validation status constants.
const (
	StatusValidated     = "validated"
	StatusNeedsReview   = "needs_review"
	StatusSuspicious    = "suspicious"
	StatusCriticalError = "critical_error"
)

// Recommended action constants.
const (
	ActionAutoApprove    = "auto_approve"
	ActionManualReview   = "manual_review"
	ActionBlockAndReview = "block_and_review"
)

// Check result conventions. Every sub-check produces "OK" or
// "FAIL: <reason>"; parse and format problems become FAIL results, never Go
// errors.
const (
	CheckOK         = "OK"
	checkFailPrefix = "FAIL: "
	checkSkipPrefix = "SKIP: "
)

// CheckFail builds a FAIL result with a reason.
func CheckFail(reason string) string { return checkFailPrefix + reason }

// CheckSkip builds a neutral result for a check that could not run, e.g. the
// entity was not recognized or an optional input is absent. Skipped checks
// neither pass nor fail.
func CheckSkip(reason string) string { return checkSkipPrefix + reason }

// CheckSkipped reports whether a check result is neutral.
func CheckSkipped(result string) bool { return strings.HasPrefix(result, checkSkipPrefix) }

// CheckPassed reports whether a check result string is OK.
func CheckPassed(result string) bool { return result == CheckOK }

// CheckFailed reports whether a check result string carries a failure.
func CheckFailed(result string) bool { return strings.HasPrefix(result, checkFailPrefix) }

// SuggestedCorrection is one advisory field fix produced by the
// auto-corrector. Never applied automatically.
type SuggestedCorrection struct {
	Field     string `json:"field"`
	Original  string `json:"original"`
	Suggested string `json:"suggested"`
	Note      string `json:"note"`
}

// ValidationOutcome is the single output of a validation call. One is
// created per call and handed to the caller; persistence is the caller's
// responsibility.
type ValidationOutcome struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenantId,omitempty"`
	ReceiptID string    `json:"receiptId,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Score  int    `json:"score"` // 0-100
	Status string `json:"status"`
	Action string `json:"action"`

	// CheckResults maps rule name to "OK" / "FAIL: reason".
	CheckResults map[string]string `json:"checkResults"`

	Findings []AnomalyFinding `json:"findings,omitempty"`
	Alerts   []string         `json:"alerts,omitempty"`

	// CriticalAlerts is the critical-severity subset of Findings. Non-empty
	// means the decision was forced to suspicious/block_and_review.
	CriticalAlerts []AnomalyFinding `json:"criticalAlerts,omitempty"`

	Corrections []SuggestedCorrection `json:"corrections,omitempty"`

	// CorrectedData is present only when at least one correction applied.
	// Advisory for a human reviewer; the score above was computed from the
	// as-extracted record.
	CorrectedData *ExtractedReceiptData `json:"correctedData,omitempty"`

	// Provenance maps field name to the engine that won it during
	// aggregation. Empty for single-record validation.
	Provenance map[string]string `json:"provenance,omitempty"`

	// Errors records internal faults detected during the pipeline. A
	// non-empty list with StatusCriticalError means the pipeline aborted.
	Errors []string `json:"errors,omitempty"`

	ProcessMs int64 `json:"processMs"` // diagnostic only
}

// AutoApproved reports whether the outcome clears a receipt without review.
func (o *ValidationOutcome) AutoApproved() bool {
	return o.Status == StatusValidated && o.Action == ActionAutoApprove
}

// FailedChecks returns the names of checks that failed, for logging.
func (o *ValidationOutcome) FailedChecks() []string {
	var failed []string
	for name, result := range o.CheckResults {
		if CheckFailed(result) {
			failed = append(failed, name)
		}
	}
	return failed
}
