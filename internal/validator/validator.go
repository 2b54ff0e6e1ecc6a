// Package validator wires the validation pipeline together: entity rules,
// anomaly detection, confidence scoring, decision, and advisory correction
// over one canonical receipt record.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/condupay/comprobante/internal/aggregate"
	"github.com/condupay/comprobante/internal/anomaly"
	"github.com/condupay/comprobante/internal/bankrules"
	"github.com/condupay/comprobante/internal/corrector"
	"github.com/condupay/comprobante/internal/decision"
	"github.com/condupay/comprobante/internal/domain"
	"github.com/condupay/comprobante/internal/score"
)

// Validator runs the full pipeline for one record at a time. Safe for
// concurrent use; the entity table is swapped atomically on reload.
type Validator struct {
	table     atomic.Pointer[bankrules.Table]
	detector  *anomaly.Detector
	scorer    *score.Scorer
	decider   *decision.Engine
	corrector *corrector.Corrector
	logger    *slog.Logger

	// now is injectable so scoring and anomaly detection stay
	// deterministic under test.
	now func() time.Time
}

// New creates a validator around an already-compiled entity table.
func New(scoring domain.ScoringConfig, anomalyCfg domain.AnomalyConfig, table *bankrules.Table, logger *slog.Logger) *Validator {
	v := &Validator{
		detector:  anomaly.NewDetector(anomalyCfg),
		scorer:    score.NewScorer(scoring),
		decider:   decision.NewEngine(scoring),
		corrector: corrector.New(),
		logger:    logger,
		now:       time.Now,
	}
	v.table.Store(table)
	return v
}

// WithHistory wires optional history sources into anomaly detection.
func (v *Validator) WithHistory(stats anomaly.StatsGetter, dup anomaly.DuplicateGetter) *Validator {
	v.detector.WithHistory(stats, dup)
	return v
}

// WithClock overrides the time source.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Table returns the current entity table.
func (v *Validator) Table() *bankrules.Table {
	return v.table.Load()
}

// ReloadTable swaps in a new entity table. In-flight validations finish
// against the table they started with.
func (v *Validator) ReloadTable(table *bankrules.Table) {
	v.table.Store(table)
	v.logger.Info("entity table reloaded", "entities", table.EntityCount())
}

// Validate runs the pipeline over a single receipt. It never returns a Go
// error: malformed data degrades the score, and an internal panic is
// converted into a critical_error outcome routed to manual review.
func (v *Validator) Validate(ctx context.Context, receipt *domain.Receipt) (outcome *domain.ValidationOutcome) {
	start := v.now()

	outcome = &domain.ValidationOutcome{
		ID:           uuid.New().String(),
		TenantID:     receipt.TenantID,
		ReceiptID:    receipt.ID,
		Timestamp:    start,
		CheckResults: make(map[string]string),
	}

	defer func() {
		if r := recover(); r != nil {
			v.logger.Error("validation pipeline panicked",
				"receipt_id", receipt.ID,
				"panic", fmt.Sprintf("%v", r),
			)
			outcome.Status = domain.StatusCriticalError
			outcome.Action = domain.ActionManualReview
			outcome.Score = 0
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("pipeline panic: %v", r))
		}
		outcome.ProcessMs = v.now().Sub(start).Milliseconds()
	}()

	data := &receipt.Data
	table := v.table.Load()

	eval := table.Evaluate(data)
	for name, result := range eval.Results {
		outcome.CheckResults[name] = result
	}

	report := v.detector.Detect(ctx, &anomaly.Input{
		TenantID: receipt.TenantID,
		Data:     data,
		Profile:  eval.Profile,
		Now:      start,
	})
	outcome.Findings = report.Findings
	outcome.Alerts = report.Alerts()
	outcome.CriticalAlerts = report.CriticalAlerts()

	breakdown := v.scorer.Score(&score.Input{
		Data:        data,
		Entity:      eval.Profile,
		RuleResults: eval.Results,
		Report:      report,
		ImageMeta:   receipt.ImageMeta,
		Now:         start,
	})
	for name, result := range breakdown.Checks {
		outcome.CheckResults[name] = result
	}
	outcome.Score = breakdown.Total

	d := v.decider.Decide(breakdown.Total, report.HasCritical())
	outcome.Status = d.Status
	outcome.Action = d.Action

	corrections, corrected := v.corrector.Suggest(data)
	outcome.Corrections = append(outcome.Corrections, corrections...)
	outcome.CorrectedData = corrected

	v.logger.Info("receipt validated",
		"receipt_id", receipt.ID,
		"tenant_id", receipt.TenantID,
		"score", outcome.Score,
		"status", outcome.Status,
		"action", outcome.Action,
		"findings", len(outcome.Findings),
		"critical_alerts", len(outcome.CriticalAlerts),
		"failed_checks", outcome.FailedChecks(),
	)
	return outcome
}

// ValidateEngineResults aggregates multiple engine outputs into one
// canonical record, normalizes it, and validates the result. The normalized
// record is canonical here, so scoring sees the repaired fields; the merge
// provenance and normalization corrections are carried on the outcome. The
// synthetic receipt built from the fused record is returned alongside so the
// caller can persist it.
func (v *Validator) ValidateEngineResults(ctx context.Context, tenantID string, results []domain.EngineResult, meta *domain.ImageMetadata) (*domain.ValidationOutcome, *domain.Receipt) {
	fused := aggregate.Merge(results)
	normalized, corrections := aggregate.Normalize(fused.Data)

	receipt := &domain.Receipt{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Data:      normalized,
		ImageMeta: meta,
		CreatedAt: v.now(),
	}

	outcome := v.Validate(ctx, receipt)
	outcome.Provenance = fused.Provenance
	// Normalization already applied to the canonical record; keep the trace
	// ahead of any further advisory suggestions.
	outcome.Corrections = append(corrections, outcome.Corrections...)

	v.logger.Debug("engine results aggregated",
		"engines_used", fused.EnginesUsed,
		"normalizations", len(corrections),
	)
	return outcome, receipt
}
