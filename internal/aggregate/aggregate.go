// Package aggregate fuses candidate field sets from multiple recognition
// engines into one canonical record.
package aggregate

import (
	"sort"
	"strings"

	"github.com/condupay/comprobante/internal/domain"
	"github.com/condupay/comprobante/internal/normalize"
)

// Canonical field names, also used as provenance map keys.
const (
	FieldValor           = "valor"
	FieldFecha           = "fecha"
	FieldHora            = "hora"
	FieldEntidad         = "entidad"
	FieldReferencia      = "referencia"
	FieldDescripcion     = "descripcion"
	FieldTipoComprobante = "tipo_comprobante"
)

// Fused is the aggregation output: the canonical record plus the per-field
// provenance of which engine won it.
type Fused struct {
	Data       domain.ExtractedReceiptData
	Provenance map[string]string // field -> engine ID
	// EnginesUsed is the number of engines that contributed at least one
	// field.
	EnginesUsed int
}

// fieldAccessor reads one canonical field out of an engine's candidate set.
type fieldAccessor struct {
	name string
	get  func(*domain.ExtractedReceiptData) string
	set  func(*domain.ExtractedReceiptData, string)
}

// fieldSet is the fixed, ordered set of canonical fields the merge walks.
var fieldSet = []fieldAccessor{
	{FieldValor, func(d *domain.ExtractedReceiptData) string { return d.Valor }, func(d *domain.ExtractedReceiptData, v string) { d.Valor = v }},
	{FieldFecha, func(d *domain.ExtractedReceiptData) string { return d.Fecha }, func(d *domain.ExtractedReceiptData, v string) { d.Fecha = v }},
	{FieldHora, func(d *domain.ExtractedReceiptData) string { return d.Hora }, func(d *domain.ExtractedReceiptData, v string) { d.Hora = v }},
	{FieldEntidad, func(d *domain.ExtractedReceiptData) string { return d.Entidad }, func(d *domain.ExtractedReceiptData, v string) { d.Entidad = v }},
	{FieldReferencia, func(d *domain.ExtractedReceiptData) string { return d.Referencia }, func(d *domain.ExtractedReceiptData, v string) { d.Referencia = v }},
	{FieldDescripcion, func(d *domain.ExtractedReceiptData) string { return d.Descripcion }, func(d *domain.ExtractedReceiptData, v string) { d.Descripcion = v }},
	{FieldTipoComprobante, func(d *domain.ExtractedReceiptData) string { return d.TipoComprobante }, func(d *domain.ExtractedReceiptData, v string) { d.TipoComprobante = v }},
}

// Merge performs a priority-ordered merge over the fixed field set: engines
// sorted by self-reported confidence descending, ties broken by original
// ordering, first non-empty value wins per field. Engines with no usable
// fields are simply excluded. Zero usable engines produces an all-absent
// record, never an error; downstream validators score it low.
func Merge(results []domain.EngineResult) *Fused {
	fused := &Fused{
		Provenance: make(map[string]string),
	}

	if len(results) == 0 {
		return fused
	}

	// Stable sort keeps the original listing order for equal confidences.
	ordered := make([]domain.EngineResult, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Confidence > ordered[j].Confidence
	})

	contributed := make(map[string]bool)

	for _, field := range fieldSet {
		for _, engine := range ordered {
			value := strings.TrimSpace(field.get(&engine.Fields))
			if value == "" {
				continue
			}
			field.set(&fused.Data, value)
			fused.Provenance[field.name] = engine.EngineID
			contributed[engine.EngineID] = true
			break
		}
	}

	fused.EnginesUsed = len(contributed)
	return fused
}

// Normalize runs the field normalizer over the fused record's typed fields
// and returns the normalized record plus the corrections that were applied.
// The entidad and descripcion fields are free text and are left alone.
func Normalize(data domain.ExtractedReceiptData) (domain.ExtractedReceiptData, []domain.SuggestedCorrection) {
	var corrections []domain.SuggestedCorrection

	apply := func(field, value string, ft normalize.FieldType) string {
		res := normalize.Field(value, ft)
		if res.Corrected {
			corrections = append(corrections, domain.SuggestedCorrection{
				Field:     field,
				Original:  value,
				Suggested: res.Value,
				Note:      res.Note,
			})
		}
		return res.Value
	}

	data.Valor = apply(FieldValor, data.Valor, normalize.FieldAmount)
	data.Fecha = apply(FieldFecha, data.Fecha, normalize.FieldDate)
	data.Hora = apply(FieldHora, data.Hora, normalize.FieldTime)
	data.Referencia = apply(FieldReferencia, data.Referencia, normalize.FieldReference)

	return data, corrections
}
