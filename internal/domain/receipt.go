package domain

import (
	"strconv"
	"strings"
	"time"
)

// Receipt type constants. The set is closed; anything else is treated as
// unknown and penalized by the basic-format checks.
const (
	TipoWalletTransfer = "wallet_transfer"
	TipoBankTransfer   = "bank_transfer"
	TipoCashDeposit    = "cash_deposit"
)

// ExtractedReceiptData is the canonical record fused from one or more
// recognition engines. Every field holds the as-extracted text; an empty
// string means the field is absent, which is a first-class value rather than
// an error. Parsing happens downstream so that a malformed field degrades the
// score instead of failing the pipeline.
type ExtractedReceiptData struct {
	Valor           string `json:"valor"`
	Fecha           string `json:"fecha"`
	Hora            string `json:"hora,omitempty"`
	Entidad         string `json:"entidad"`
	Referencia      string `json:"referencia"`
	Descripcion     string `json:"descripcion,omitempty"`
	TipoComprobante string `json:"tipoComprobante,omitempty"`
}

// HasValor reports whether the amount field is present.
func (r *ExtractedReceiptData) HasValor() bool { return strings.TrimSpace(r.Valor) != "" }

// ParseValor parses the amount as a positive integer in Colombian pesos.
func (r *ExtractedReceiptData) ParseValor() (int64, bool) {
	s := strings.TrimSpace(r.Valor)
	if s == "" {
		return 0, false
	}
	// Strip currency decoration the engines commonly leave behind.
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

// fechaLayouts are the date layouts the recognition engines produce.
var fechaLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
}

// ParseFecha parses the date field against the known layouts.
func (r *ExtractedReceiptData) ParseFecha() (time.Time, bool) {
	s := strings.TrimSpace(r.Fecha)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range fechaLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var horaLayouts = []string{
	"15:04",
	"15:04:05",
	"3:04 PM",
	"3:04PM",
}

// ParseHora parses the optional time-of-day field.
func (r *ExtractedReceiptData) ParseHora() (time.Time, bool) {
	s := strings.TrimSpace(r.Hora)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range horaLayouts {
		if t, err := time.Parse(layout, strings.ToUpper(s)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// EngineResult is the output of a single recognition engine for one receipt
// image. Ephemeral: created per request and never persisted by the core.
type EngineResult struct {
	EngineID   string               `json:"engineId"`
	Fields     ExtractedReceiptData `json:"fields"`
	Confidence float64              `json:"confidence"` // 0-100, self-reported
	RawText    string               `json:"rawText,omitempty"`
}

// ImageMetadata is the optional image-quality signal attached to a
// validation request.
type ImageMetadata struct {
	WidthPx       int   `json:"widthPx"`
	HeightPx      int   `json:"heightPx"`
	FileSizeBytes int64 `json:"fileSizeBytes"`
	// JPEG quality estimate 0-100, 0 when unknown.
	CompressionQuality int `json:"compressionQuality,omitempty"`
}

// Receipt is the stored wrapper around a canonical record. Persistence is the
// caller's responsibility; the validation core only ever sees
// ExtractedReceiptData.
type Receipt struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	// EntityID is the resolved profile ID, empty when the entity text did
	// not match any profile. Set by the caller after resolution so stored
	// receipts can be queried per entity.
	EntityID  string               `json:"entityId,omitempty"`
	Data      ExtractedReceiptData `json:"data"`
	ImageMeta *ImageMetadata       `json:"imageMeta,omitempty"`
	CreatedAt time.Time            `json:"createdAt"`
}
