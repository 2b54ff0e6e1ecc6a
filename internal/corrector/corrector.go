// Package corrector proposes fixes for recognition damage in a receipt
// record. Suggestions are strictly advisory: the input record is never
// mutated and scoring always runs against the data as extracted.
package corrector

import (
	"github.com/condupay/comprobante/internal/domain"
	"github.com/condupay/comprobante/internal/normalize"
)

// Corrector derives correction suggestions from the normalizer's
// substitution tables.
type Corrector struct{}

// New creates a corrector.
func New() *Corrector {
	return &Corrector{}
}

// Suggest returns the corrections worth proposing for the record, plus a
// corrected copy with every suggestion applied. The copy is nil when there
// is nothing to suggest. A substitution is only proposed when the repaired
// value actually parses; garbage in stays garbage, unflagged here.
func (c *Corrector) Suggest(data *domain.ExtractedReceiptData) ([]domain.SuggestedCorrection, *domain.ExtractedReceiptData) {
	var suggestions []domain.SuggestedCorrection
	corrected := *data

	if res := normalize.Field(data.Valor, normalize.FieldAmount); res.Corrected {
		repaired := domain.ExtractedReceiptData{Valor: res.Value}
		if _, ok := repaired.ParseValor(); ok {
			suggestions = append(suggestions, domain.SuggestedCorrection{
				Field:     "valor",
				Original:  data.Valor,
				Suggested: res.Value,
				Note:      res.Note,
			})
			corrected.Valor = res.Value
		}
	}

	if res := normalize.Field(data.Fecha, normalize.FieldDate); res.Corrected {
		repaired := domain.ExtractedReceiptData{Fecha: res.Value}
		if _, ok := repaired.ParseFecha(); ok {
			suggestions = append(suggestions, domain.SuggestedCorrection{
				Field:     "fecha",
				Original:  data.Fecha,
				Suggested: res.Value,
				Note:      res.Note,
			})
			corrected.Fecha = res.Value
		}
	}

	if res := normalize.Field(data.Hora, normalize.FieldTime); res.Corrected {
		repaired := domain.ExtractedReceiptData{Hora: res.Value}
		if _, ok := repaired.ParseHora(); ok {
			suggestions = append(suggestions, domain.SuggestedCorrection{
				Field:     "hora",
				Original:  data.Hora,
				Suggested: res.Value,
				Note:      res.Note,
			})
			corrected.Hora = res.Value
		}
	}

	if len(suggestions) == 0 {
		return nil, nil
	}
	return suggestions, &corrected
}
