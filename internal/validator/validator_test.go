package validator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/condupay/comprobante/internal/anomaly"
	"github.com/condupay/comprobante/internal/bankrules"
	"github.com/condupay/comprobante/internal/domain"
	"github.com/condupay/comprobante/internal/score"
)

var testNow = time.Date(2025, 1, 18, 10, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	table, err := bankrules.NewTable(bankrules.DefaultProfiles())
	if err != nil {
		t.Fatalf("failed to build entity table: %v", err)
	}
	v := New(domain.DefaultScoringConfig(), domain.DefaultAnomalyConfig(), table, testLogger())
	return v.WithClock(func() time.Time { return testNow })
}

func validReceipt() *domain.Receipt {
	return &domain.Receipt{
		ID:       "rcpt-1",
		TenantID: "tenant-1",
		Data: domain.ExtractedReceiptData{
			Valor:           "250000",
			Fecha:           "2025-01-15",
			Hora:            "14:30",
			Entidad:         "Bancolombia",
			Referencia:      "1234567890",
			TipoComprobante: domain.TipoWalletTransfer,
		},
	}
}

func TestValidateCleanReceipt(t *testing.T) {
	v := newTestValidator(t)
	outcome := v.Validate(context.Background(), validReceipt())

	if outcome.Score < 85 {
		t.Errorf("expected score >= 85, got %d", outcome.Score)
	}
	if !outcome.AutoApproved() {
		t.Errorf("expected auto-approval, got status=%s action=%s", outcome.Status, outcome.Action)
	}
	if len(outcome.Findings) != 0 {
		t.Errorf("expected no findings, got %v", outcome.Alerts)
	}
	if len(outcome.FailedChecks()) != 0 {
		t.Errorf("expected no failed checks, got %v", outcome.FailedChecks())
	}
	if outcome.TenantID != "tenant-1" || outcome.ReceiptID != "rcpt-1" {
		t.Errorf("outcome not linked to receipt: %+v", outcome)
	}
}

func TestValidateCorruptedReceipt(t *testing.T) {
	v := newTestValidator(t)
	outcome := v.Validate(context.Background(), &domain.Receipt{
		ID:       "rcpt-2",
		TenantID: "tenant-1",
		Data: domain.ExtractedReceiptData{
			Valor:      "25O000",
			Fecha:      "2025-13-32",
			Entidad:    "Bancolombia",
			Referencia: "123",
		},
	})

	if outcome.Score >= 60 {
		t.Errorf("expected score below 60, got %d", outcome.Score)
	}
	if outcome.Status != domain.StatusSuspicious && outcome.Status != domain.StatusNeedsReview {
		t.Errorf("expected suspicious or needs_review, got %s", outcome.Status)
	}
	if len(outcome.FailedChecks()) < 2 {
		t.Errorf("expected multiple failed checks, got %v", outcome.FailedChecks())
	}
	if len(outcome.Findings) < 2 {
		t.Errorf("expected findings for bad date and short reference, got %v", outcome.Alerts)
	}

	var valorFix *domain.SuggestedCorrection
	for i := range outcome.Corrections {
		if outcome.Corrections[i].Field == "valor" {
			valorFix = &outcome.Corrections[i]
		}
	}
	if valorFix == nil || valorFix.Suggested != "250000" {
		t.Fatalf("expected advisory amount correction, got %+v", outcome.Corrections)
	}
	if outcome.CorrectedData == nil || outcome.CorrectedData.Valor != "250000" {
		t.Errorf("expected corrected copy, got %+v", outcome.CorrectedData)
	}
}

func TestValidateEntityLimitExceeded(t *testing.T) {
	v := newTestValidator(t)
	outcome := v.Validate(context.Background(), &domain.Receipt{
		ID:       "rcpt-3",
		TenantID: "tenant-1",
		Data: domain.ExtractedReceiptData{
			Valor:      "5000000",
			Fecha:      "2025-01-15",
			Hora:       "14:30",
			Entidad:    "Nequi",
			Referencia: "ABCDEFGH12",
		},
	})

	if !domain.CheckFailed(outcome.CheckResults[bankrules.CheckAmountRange]) {
		t.Errorf("expected amount range failure, got %q", outcome.CheckResults[bankrules.CheckAmountRange])
	}
	if outcome.AutoApproved() {
		t.Error("over-limit amount must not auto-approve")
	}

	foundAtypical := false
	for _, f := range outcome.Findings {
		if f.Code == anomaly.CodeCoherenceAtypical {
			foundAtypical = true
		}
	}
	if !foundAtypical {
		t.Errorf("expected atypical-amount finding, got %v", outcome.Alerts)
	}
}

func TestValidateSparseRecord(t *testing.T) {
	v := newTestValidator(t)
	outcome := v.Validate(context.Background(), &domain.Receipt{
		ID:       "rcpt-4",
		TenantID: "tenant-1",
		Data: domain.ExtractedReceiptData{
			Valor: "250000",
			Fecha: "2025-01-15",
		},
	})

	if outcome.Status == domain.StatusCriticalError {
		t.Fatalf("sparse record must not error: %v", outcome.Errors)
	}
	if outcome.Score >= 85 {
		t.Errorf("sparse record should not auto-approve, got %d", outcome.Score)
	}
	if outcome.Score == 0 {
		t.Error("sparse record should keep partial credit, got 0")
	}
	if !domain.CheckSkipped(outcome.CheckResults[bankrules.CheckEntityRecognized]) {
		t.Errorf("unrecognized entity should be neutral, got %q", outcome.CheckResults[bankrules.CheckEntityRecognized])
	}
}

func TestValidateCriticalVetoesAutoApproval(t *testing.T) {
	// Soften the critical deductions so the numeric score stays above the
	// auto-approve threshold; the veto alone must hold it back.
	cfg := domain.DefaultScoringConfig()
	cfg.DeductCritical = 5
	cfg.PenaltyCriticalAlert = 5

	table, err := bankrules.NewTable(bankrules.DefaultProfiles())
	if err != nil {
		t.Fatalf("failed to build entity table: %v", err)
	}
	v := New(cfg, domain.DefaultAnomalyConfig(), table, testLogger()).
		WithClock(func() time.Time { return testNow }).
		WithHistory(nil, func(ctx context.Context, tenantID, referencia string, windowSecs int) (int64, error) {
			return 4, nil
		})

	outcome := v.Validate(context.Background(), validReceipt())

	if outcome.Score < 85 {
		t.Fatalf("test setup expects a high score, got %d", outcome.Score)
	}
	if outcome.AutoApproved() {
		t.Error("critical duplicate-reference finding must veto auto-approval")
	}
	if outcome.Status != domain.StatusSuspicious {
		t.Errorf("expected suspicious, got %s", outcome.Status)
	}
	if outcome.Action != domain.ActionBlockAndReview {
		t.Errorf("expected block_and_review, got %s", outcome.Action)
	}
	if len(outcome.CriticalAlerts) == 0 {
		t.Fatalf("expected the duplicate finding in the critical subset, got %v", outcome.Findings)
	}
	for _, f := range outcome.CriticalAlerts {
		if !f.IsCritical() {
			t.Errorf("non-critical finding in critical subset: %+v", f)
		}
	}
}

func TestValidatePanicBecomesCriticalError(t *testing.T) {
	v := newTestValidator(t).WithHistory(
		func(ctx context.Context, tenantID, entityID string) (*domain.EntityStats, error) {
			panic("stats backend corrupted")
		},
		nil,
	)

	outcome := v.Validate(context.Background(), validReceipt())

	if outcome.Status != domain.StatusCriticalError {
		t.Errorf("expected critical_error, got %s", outcome.Status)
	}
	if outcome.Action != domain.ActionManualReview {
		t.Errorf("expected manual review, got %s", outcome.Action)
	}
	if outcome.Score != 0 {
		t.Errorf("expected score 0, got %d", outcome.Score)
	}
	if len(outcome.Errors) == 0 {
		t.Error("expected the panic recorded in outcome errors")
	}
}

func TestValidateDeterministic(t *testing.T) {
	v := newTestValidator(t)
	first := v.Validate(context.Background(), validReceipt())
	for i := 0; i < 3; i++ {
		again := v.Validate(context.Background(), validReceipt())
		if again.Score != first.Score || again.Status != first.Status || again.Action != first.Action {
			t.Fatalf("outcome drifted: %d/%s vs %d/%s", first.Score, first.Status, again.Score, again.Status)
		}
	}
}

func TestValidateEngineResults(t *testing.T) {
	v := newTestValidator(t)
	results := []domain.EngineResult{
		{
			EngineID:   "tesseract",
			Confidence: 90,
			Fields: domain.ExtractedReceiptData{
				Valor:   "25O000",
				Fecha:   "2025-01-15",
				Entidad: "Bancolombia",
			},
		},
		{
			EngineID:   "vision",
			Confidence: 70,
			Fields: domain.ExtractedReceiptData{
				Valor:      "999",
				Hora:       "14:30",
				Referencia: "1234567890",
			},
		},
	}

	outcome, receipt := v.ValidateEngineResults(context.Background(), "tenant-1", results, nil)

	if receipt == nil || receipt.Data.Valor != "250000" {
		t.Fatalf("expected synthetic receipt carrying the normalized record, got %+v", receipt)
	}
	if outcome.Provenance["valor"] != "tesseract" {
		t.Errorf("expected valor from the higher-confidence engine, got %q", outcome.Provenance["valor"])
	}
	if outcome.Provenance["referencia"] != "vision" {
		t.Errorf("expected referencia filled from the fallback engine, got %q", outcome.Provenance["referencia"])
	}

	// Normalization is canonical on this path: the repaired amount must
	// pass the format check and leave a correction trace.
	if !domain.CheckPassed(outcome.CheckResults[score.CheckValorValid]) {
		t.Errorf("expected normalized amount to pass, got %q", outcome.CheckResults[score.CheckValorValid])
	}
	fixed := false
	for _, c := range outcome.Corrections {
		if c.Field == "valor" && c.Suggested == "250000" {
			fixed = true
		}
	}
	if !fixed {
		t.Errorf("expected normalization trace for valor, got %+v", outcome.Corrections)
	}
}

func TestValidateEngineResultsEmpty(t *testing.T) {
	v := newTestValidator(t)
	outcome, _ := v.ValidateEngineResults(context.Background(), "tenant-1", nil, nil)

	if outcome.Status == domain.StatusCriticalError {
		t.Fatalf("empty engine set must not error: %v", outcome.Errors)
	}
	if outcome.Score >= 60 {
		t.Errorf("all-absent record should score low, got %d", outcome.Score)
	}
}

func TestReloadTable(t *testing.T) {
	v := newTestValidator(t)
	receipt := &domain.Receipt{
		ID:       "rcpt-5",
		TenantID: "tenant-1",
		Data: domain.ExtractedReceiptData{
			Valor:      "250000",
			Fecha:      "2025-01-15",
			Entidad:    "SuperPagos",
			Referencia: "12345678",
		},
	}

	before := v.Validate(context.Background(), receipt)
	if !domain.CheckSkipped(before.CheckResults[bankrules.CheckEntityRecognized]) {
		t.Fatalf("unknown entity should start neutral, got %q", before.CheckResults[bankrules.CheckEntityRecognized])
	}

	profiles := append(bankrules.DefaultProfiles(), &domain.EntityProfile{
		ID:               "superpagos",
		Name:             "SuperPagos",
		ReferencePattern: `[0-9]{8,12}`,
		MinAmount:        1000,
		MaxAmount:        5_000_000,
		Enabled:          true,
	})
	table, err := bankrules.NewTable(profiles)
	if err != nil {
		t.Fatalf("failed to rebuild table: %v", err)
	}
	v.ReloadTable(table)

	after := v.Validate(context.Background(), receipt)
	if !domain.CheckPassed(after.CheckResults[bankrules.CheckEntityRecognized]) {
		t.Errorf("expected entity recognized after reload, got %q", after.CheckResults[bankrules.CheckEntityRecognized])
	}
	if after.Score <= before.Score {
		t.Errorf("expected a higher score after reload: %d -> %d", before.Score, after.Score)
	}
}
