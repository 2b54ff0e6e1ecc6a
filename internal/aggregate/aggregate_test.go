package aggregate

import (
	"testing"

	"github.com/condupay/comprobante/internal/domain"
)

func TestMergeHighestConfidenceWins(t *testing.T) {
	results := []domain.EngineResult{
		{
			EngineID:   "tesseract",
			Confidence: 60,
			Fields:     domain.ExtractedReceiptData{Valor: "100000", Referencia: "AAA111"},
		},
		{
			EngineID:   "vision",
			Confidence: 90,
			Fields:     domain.ExtractedReceiptData{Valor: "250000", Referencia: "BBB222"},
		},
	}

	fused := Merge(results)

	if fused.Data.Valor != "250000" {
		t.Errorf("expected value from highest-confidence engine, got %s", fused.Data.Valor)
	}
	if fused.Provenance["valor"] != "vision" {
		t.Errorf("expected provenance vision, got %s", fused.Provenance["valor"])
	}
}

func TestMergeFallsThroughToLowerConfidence(t *testing.T) {
	results := []domain.EngineResult{
		{
			EngineID:   "vision",
			Confidence: 90,
			Fields:     domain.ExtractedReceiptData{Valor: "250000"}, // no fecha
		},
		{
			EngineID:   "tesseract",
			Confidence: 60,
			Fields:     domain.ExtractedReceiptData{Valor: "999", Fecha: "2025-01-15"},
		},
	}

	fused := Merge(results)

	if fused.Data.Valor != "250000" {
		t.Errorf("valor should come from vision, got %s", fused.Data.Valor)
	}
	if fused.Data.Fecha != "2025-01-15" {
		t.Errorf("fecha should fall through to tesseract, got %s", fused.Data.Fecha)
	}
	if fused.Provenance["fecha"] != "tesseract" {
		t.Errorf("fecha provenance should be tesseract, got %s", fused.Provenance["fecha"])
	}
	if fused.EnginesUsed != 2 {
		t.Errorf("expected 2 engines used, got %d", fused.EnginesUsed)
	}
}

func TestMergeTieBrokenByOrder(t *testing.T) {
	results := []domain.EngineResult{
		{EngineID: "first", Confidence: 80, Fields: domain.ExtractedReceiptData{Valor: "111"}},
		{EngineID: "second", Confidence: 80, Fields: domain.ExtractedReceiptData{Valor: "222"}},
	}

	fused := Merge(results)

	if fused.Provenance["valor"] != "first" {
		t.Errorf("tie must be broken by listing order, got %s", fused.Provenance["valor"])
	}
}

func TestMergeZeroEngines(t *testing.T) {
	fused := Merge(nil)

	if fused.Data.Valor != "" || fused.Data.Fecha != "" {
		t.Error("zero engines must produce an all-absent record")
	}
	if len(fused.Provenance) != 0 {
		t.Error("no provenance expected for empty merge")
	}
	if fused.EnginesUsed != 0 {
		t.Errorf("expected 0 engines used, got %d", fused.EnginesUsed)
	}
}

func TestMergeAllEmptyFields(t *testing.T) {
	results := []domain.EngineResult{
		{EngineID: "e1", Confidence: 95, Fields: domain.ExtractedReceiptData{}},
		{EngineID: "e2", Confidence: 50, Fields: domain.ExtractedReceiptData{}},
	}

	fused := Merge(results)

	if fused.EnginesUsed != 0 {
		t.Error("engines with no usable fields must not count as contributors")
	}
}

func TestMergeTrimsWhitespaceOnlyValues(t *testing.T) {
	results := []domain.EngineResult{
		{EngineID: "e1", Confidence: 95, Fields: domain.ExtractedReceiptData{Valor: "   "}},
		{EngineID: "e2", Confidence: 50, Fields: domain.ExtractedReceiptData{Valor: "5000"}},
	}

	fused := Merge(results)

	if fused.Data.Valor != "5000" {
		t.Errorf("whitespace-only value must be treated as absent, got %q", fused.Data.Valor)
	}
}

func TestNormalizeAppliesCorrections(t *testing.T) {
	data := domain.ExtractedReceiptData{
		Valor:      "25O000",
		Fecha:      "2O25-01-15",
		Referencia: "1234567890",
	}

	normalized, corrections := Normalize(data)

	if normalized.Valor != "250000" {
		t.Errorf("expected normalized valor 250000, got %s", normalized.Valor)
	}
	if normalized.Fecha != "2025-01-15" {
		t.Errorf("expected normalized fecha, got %s", normalized.Fecha)
	}
	if len(corrections) != 2 {
		t.Fatalf("expected 2 corrections, got %d", len(corrections))
	}
	if corrections[0].Field != "valor" || corrections[0].Original != "25O000" {
		t.Errorf("unexpected first correction: %+v", corrections[0])
	}
}

func TestNormalizeCleanRecordNoCorrections(t *testing.T) {
	data := domain.ExtractedReceiptData{
		Valor:      "250000",
		Fecha:      "2025-01-15",
		Hora:       "14:30",
		Referencia: "1234567890",
	}

	_, corrections := Normalize(data)

	if len(corrections) != 0 {
		t.Errorf("clean record should produce no corrections, got %d", len(corrections))
	}
}
