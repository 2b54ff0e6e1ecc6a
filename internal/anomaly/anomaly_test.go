package anomaly

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/condupay/comprobante/internal/domain"
)

var testNow = time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)

func newTestDetector() *Detector {
	return NewDetector(domain.DefaultAnomalyConfig())
}

func detect(t *testing.T, d *Detector, data *domain.ExtractedReceiptData, profile *domain.EntityProfile) *domain.AnomalyReport {
	t.Helper()
	return d.Detect(context.Background(), &Input{
		TenantID: "tenant-1",
		Data:     data,
		Profile:  profile,
		Now:      testNow,
	})
}

func hasCode(report *domain.AnomalyReport, code string) bool {
	for _, f := range report.Findings {
		if f.Code == code {
			return true
		}
	}
	return false
}

func findingSeverity(report *domain.AnomalyReport, code string) string {
	for _, f := range report.Findings {
		if f.Code == code {
			return f.Severity
		}
	}
	return ""
}

func TestDetectCleanReceipt(t *testing.T) {
	d := newTestDetector()
	report := detect(t, d, &domain.ExtractedReceiptData{
		Valor:      "250000",
		Fecha:      "2025-01-15",
		Hora:       "14:30",
		Entidad:    "Bancolombia",
		Referencia: "1234567890",
	}, nil)

	if len(report.Findings) != 0 {
		t.Errorf("expected no findings, got %d: %v", len(report.Findings), report.Alerts())
	}
	if report.HasCritical() {
		t.Error("clean receipt should not have critical findings")
	}
	if score := report.DensityScore(); score != 100 {
		t.Errorf("expected density score 100, got %d", score)
	}
}

func TestDetectValueAnomalies(t *testing.T) {
	d := newTestDetector()

	tests := []struct {
		name     string
		valor    string
		code     string
		severity string
	}{
		{"implausibly high", "80000000", CodeValueTooHigh, domain.SeverityMedium},
		{"implausibly low", "500", CodeValueTooLow, domain.SeverityLow},
		{"round large amount", "2000000", CodeValueRound, domain.SeverityLow},
		{"known test amount", "123456", CodeValueTestAmount, domain.SeverityMedium},
		{"repeated digit run", "5000000", CodeValueRepeatDigits, domain.SeverityMedium},
		{"unparseable amount", "25O000", CodeValueUnparseable, domain.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := detect(t, d, &domain.ExtractedReceiptData{
				Valor: tt.valor,
				Fecha: "2025-01-18",
			}, nil)
			if !hasCode(report, tt.code) {
				t.Fatalf("expected finding %s, got %v", tt.code, report.Alerts())
			}
			if sev := findingSeverity(report, tt.code); sev != tt.severity {
				t.Errorf("expected severity %s, got %s", tt.severity, sev)
			}
		})
	}
}

func TestDetectAbsentValorNoFinding(t *testing.T) {
	d := newTestDetector()
	report := detect(t, d, &domain.ExtractedReceiptData{Fecha: "2025-01-18"}, nil)
	for _, f := range report.Findings {
		if f.Field == "valor" {
			t.Errorf("absent amount should raise no value finding, got %s", f.Code)
		}
	}
}

func TestDetectTemporalAnomalies(t *testing.T) {
	d := newTestDetector()

	tests := []struct {
		name  string
		fecha string
		hora  string
		code  string
	}{
		{"future date", "2025-03-01", "", CodeTemporalFuture},
		{"stale date", "2024-10-01", "", CodeTemporalStale},
		{"odd hours", "2025-01-18", "03:15", CodeTemporalOddHours},
		{"invalid date", "2025-13-32", "", CodeTemporalBadDate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := detect(t, d, &domain.ExtractedReceiptData{
				Valor: "250000",
				Fecha: tt.fecha,
				Hora:  tt.hora,
			}, nil)
			if !hasCode(report, tt.code) {
				t.Fatalf("expected finding %s, got %v", tt.code, report.Alerts())
			}
		})
	}
}

func TestDetectOddHoursWrapAround(t *testing.T) {
	cfg := domain.DefaultAnomalyConfig()
	cfg.OddHoursStart = 22
	cfg.OddHoursEnd = 2
	d := NewDetector(cfg)

	tests := []struct {
		name string
		hora string
		want bool
	}{
		{"before band", "21:59", false},
		{"band start", "22:00", true},
		{"past midnight", "01:30", true},
		{"band end", "02:00", false},
		{"midday", "12:00", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := detect(t, d, &domain.ExtractedReceiptData{
				Valor: "250000",
				Fecha: "2025-01-18",
				Hora:  tt.hora,
			}, nil)
			if got := hasCode(report, CodeTemporalOddHours); got != tt.want {
				t.Errorf("hora %s: odd-hours finding = %v, want %v", tt.hora, got, tt.want)
			}
		})
	}
}

func TestDetectReferenceAnomalies(t *testing.T) {
	d := newTestDetector()

	tests := []struct {
		name       string
		referencia string
		code       string
		severity   string
	}{
		{"too short", "123", CodeReferenceLength, domain.SeverityMedium},
		{"too long", "123456789012345678901234", CodeReferenceLength, domain.SeverityMedium},
		{"disallowed chars", "REF-99#01!", CodeReferenceCharset, domain.SeverityMedium},
		{"test placeholder", "123456", CodeReferenceTestValue, domain.SeverityCritical},
		{"placeholder case-insensitive", "prueba", CodeReferenceTestValue, domain.SeverityCritical},
		{"tiled pattern", "121212121212", CodeReferenceTiled, domain.SeverityMedium},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := detect(t, d, &domain.ExtractedReceiptData{
				Valor:      "250000",
				Fecha:      "2025-01-18",
				Referencia: tt.referencia,
			}, nil)
			if !hasCode(report, tt.code) {
				t.Fatalf("expected finding %s, got %v", tt.code, report.Alerts())
			}
			if sev := findingSeverity(report, tt.code); sev != tt.severity {
				t.Errorf("expected severity %s, got %s", tt.severity, sev)
			}
		})
	}
}

func TestDetectReferenceEqualsAmount(t *testing.T) {
	d := newTestDetector()
	report := detect(t, d, &domain.ExtractedReceiptData{
		Valor:      "250000",
		Fecha:      "2025-01-18",
		Referencia: "250000",
	}, nil)

	if !hasCode(report, CodeCoherenceRefAmount) {
		t.Fatalf("expected %s, got %v", CodeCoherenceRefAmount, report.Alerts())
	}
	if !report.HasCritical() {
		t.Error("reference equal to amount should be critical")
	}
	critical := report.CriticalAlerts()
	if len(critical) == 0 {
		t.Fatalf("expected the finding in the critical subset, got %v", report.Findings)
	}
	for _, f := range critical {
		if f.Severity != domain.SeverityCritical {
			t.Errorf("non-critical finding in critical subset: %+v", f)
		}
	}
}

func TestDetectAtypicalAmountForEntity(t *testing.T) {
	d := newTestDetector()
	profile := &domain.EntityProfile{
		ID:               "nequi",
		Name:             "Nequi",
		TypicalMinAmount: 5_000,
		TypicalMaxAmount: 1_000_000,
	}

	report := detect(t, d, &domain.ExtractedReceiptData{
		Valor:      "4999999",
		Fecha:      "2025-01-18",
		Referencia: "ABCDEFGH12",
	}, profile)

	if !hasCode(report, CodeCoherenceAtypical) {
		t.Fatalf("expected %s, got %v", CodeCoherenceAtypical, report.Alerts())
	}
	if report.HasCritical() {
		t.Error("atypical amount alone should not be critical")
	}
}

func TestDetectSundaySmallHoursBankTransfer(t *testing.T) {
	d := newTestDetector()
	// 2025-01-19 is a Sunday.
	report := detect(t, d, &domain.ExtractedReceiptData{
		Valor:           "250000",
		Fecha:           "2025-01-19",
		Hora:            "03:30",
		Referencia:      "9876543210",
		TipoComprobante: domain.TipoBankTransfer,
	}, nil)

	if !hasCode(report, CodeCoherenceDayTime) {
		t.Fatalf("expected %s, got %v", CodeCoherenceDayTime, report.Alerts())
	}
}

func TestDetectArtifacts(t *testing.T) {
	d := newTestDetector()
	report := detect(t, d, &domain.ExtractedReceiptData{
		Valor: "25O000",
		Fecha: "2O25-01-15",
	}, nil)

	artifacts := 0
	for _, f := range report.Findings {
		if IsArtifact(f.Code) {
			artifacts++
		}
	}
	if artifacts != 2 {
		t.Errorf("expected 2 artifact findings, got %d: %v", artifacts, report.Alerts())
	}
}

func TestDetectDuplicateReference(t *testing.T) {
	d := newTestDetector().WithHistory(nil, func(ctx context.Context, tenantID, referencia string, windowSecs int) (int64, error) {
		if referencia == "9876543210" {
			return 3, nil
		}
		return 1, nil
	})

	report := detect(t, d, &domain.ExtractedReceiptData{
		Valor:      "250000",
		Fecha:      "2025-01-18",
		Referencia: "9876543210",
	}, nil)

	if !hasCode(report, CodeCoherenceDuplicate) {
		t.Fatalf("expected %s, got %v", CodeCoherenceDuplicate, report.Alerts())
	}
	if sev := findingSeverity(report, CodeCoherenceDuplicate); sev != domain.SeverityCritical {
		t.Errorf("duplicate reference should be critical, got %s", sev)
	}
}

func TestDetectHistoryErrorsIgnored(t *testing.T) {
	d := newTestDetector().WithHistory(
		func(ctx context.Context, tenantID, entityID string) (*domain.EntityStats, error) {
			return nil, errors.New("store unavailable")
		},
		func(ctx context.Context, tenantID, referencia string, windowSecs int) (int64, error) {
			return 0, errors.New("store unavailable")
		},
	)

	report := detect(t, d, &domain.ExtractedReceiptData{
		Valor:      "250000",
		Fecha:      "2025-01-18",
		Referencia: "9876543210",
	}, &domain.EntityProfile{ID: "bancolombia", Name: "Bancolombia"})

	if len(report.Findings) != 0 {
		t.Errorf("history errors should be silent, got %v", report.Alerts())
	}
}

func TestDetectStatsGetterSignal(t *testing.T) {
	d := newTestDetector().WithHistory(
		func(ctx context.Context, tenantID, entityID string) (*domain.EntityStats, error) {
			return &domain.EntityStats{EntityID: entityID, SampleCount: 50, MeanAmount: 100_000}, nil
		},
		nil,
	)

	report := detect(t, d, &domain.ExtractedReceiptData{
		Valor:      "900001",
		Fecha:      "2025-01-18",
		Referencia: "9876543210",
	}, &domain.EntityProfile{ID: "bancolombia", Name: "Bancolombia"})

	if !hasCode(report, CodeCoherenceAtypical) {
		t.Fatalf("expected %s from history signal, got %v", CodeCoherenceAtypical, report.Alerts())
	}
}

func TestDensityScoreDeductions(t *testing.T) {
	d := newTestDetector()
	report := detect(t, d, &domain.ExtractedReceiptData{
		Valor:      "250000",
		Fecha:      "2025-01-18",
		Referencia: "123",
	}, nil)

	// One medium finding: 100 - 15.
	if score := report.DensityScore(); score != 85 {
		t.Errorf("expected density score 85, got %d: %v", score, report.Alerts())
	}
}

func TestIsTiled(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"121212", true},
		{"abcabcabc", true},
		{"111111111", true},
		{"1234567890", false},
		{"1212", false},
		{"12121213", false},
	}
	for _, tt := range tests {
		if got := isTiled(tt.in); got != tt.want {
			t.Errorf("isTiled(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
