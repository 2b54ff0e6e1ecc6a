// Package decision maps a confidence score plus the critical-anomaly flag
// onto a validation status and a recommended action. The mapping is a pure
// function of its inputs.
package decision

import (
	"github.com/condupay/comprobante/internal/domain"
)

// Engine holds the decision thresholds.
type Engine struct {
	cfg domain.ScoringConfig
}

// NewEngine creates a decision engine with the given thresholds.
func NewEngine(cfg domain.ScoringConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Decision is one status/action pair.
type Decision struct {
	Status string `json:"status"`
	Action string `json:"action"`
}

// Decide maps a score in [0,100] to a decision. A critical anomaly forces
// suspicious/block-and-review no matter what the score says.
func (e *Engine) Decide(score int, hasCritical bool) Decision {
	switch {
	case hasCritical:
		return Decision{Status: domain.StatusSuspicious, Action: domain.ActionBlockAndReview}
	case score >= e.cfg.AutoApproveScore:
		return Decision{Status: domain.StatusValidated, Action: domain.ActionAutoApprove}
	case score >= e.cfg.ReviewScore:
		return Decision{Status: domain.StatusNeedsReview, Action: domain.ActionManualReview}
	case score >= e.cfg.SuspiciousScore:
		return Decision{Status: domain.StatusSuspicious, Action: domain.ActionManualReview}
	default:
		return Decision{Status: domain.StatusSuspicious, Action: domain.ActionBlockAndReview}
	}
}
