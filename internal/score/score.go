// Package score computes the deterministic confidence score for a receipt.
// Five weighted sub-scores are combined, then flat bonuses and penalties are
// applied, then the result is clamped to [0,100]. No component is learned;
// identical input plus identical configuration always yields the same score.
package score

import (
	"math"
	"strings"
	"time"

	"github.com/condupay/comprobante/internal/anomaly"
	"github.com/condupay/comprobante/internal/bankrules"
	"github.com/condupay/comprobante/internal/domain"
)

// Basic-format check names, reported alongside the bank-rule results.
const (
	CheckValorValid      = "valor_valid"
	CheckFechaValid      = "fecha_valid"
	CheckHoraValid       = "hora_valid"
	CheckEntidadPresent  = "entidad_present"
	CheckReferenciaFound = "referencia_present"
	CheckTipoValid       = "tipo_valid"
)

// Scorer holds the static scoring table.
type Scorer struct {
	cfg domain.ScoringConfig
}

// NewScorer creates a scorer with the given table.
func NewScorer(cfg domain.ScoringConfig) *Scorer {
	return &Scorer{cfg: cfg}
}

// Input carries everything the scorer reads. Entity and ImageMeta may be
// nil; RuleResults may be empty when the entity was not recognized.
type Input struct {
	Data        *domain.ExtractedReceiptData
	Entity      *domain.EntityProfile
	RuleResults map[string]string
	Report      *domain.AnomalyReport
	ImageMeta   *domain.ImageMetadata
	Now         time.Time
}

// Breakdown is the full scoring trace for one receipt.
type Breakdown struct {
	BasicFormat    float64 `json:"basicFormat"`
	EntityRules    float64 `json:"entityRules"`
	AnomalyAbsence float64 `json:"anomalyAbsence"`
	ImageQuality   float64 `json:"imageQuality"`
	Coherence      float64 `json:"coherence"`

	Bonuses   int `json:"bonuses"`
	Penalties int `json:"penalties"`

	// Checks holds the basic-format results keyed by check name.
	Checks map[string]string `json:"checks"`

	// Total is the final clamped score in [0,100].
	Total int `json:"total"`
}

// Score computes the breakdown for one canonical record.
func (s *Scorer) Score(in *Input) *Breakdown {
	b := &Breakdown{Checks: make(map[string]string)}

	b.BasicFormat = s.basicFormat(in.Data, b.Checks)
	b.EntityRules = s.entityRules(in.RuleResults)
	b.AnomalyAbsence = s.anomalyAbsence(in.Report)
	b.ImageQuality = s.imageQuality(in.ImageMeta)
	b.Coherence = s.coherence(in.Data)

	weighted := b.BasicFormat*s.cfg.WeightBasicFormat +
		b.EntityRules*s.cfg.WeightEntityRules +
		b.AnomalyAbsence*s.cfg.WeightAnomalyAbsence +
		b.ImageQuality*s.cfg.WeightImageQuality +
		b.Coherence*s.cfg.WeightCoherence

	b.Bonuses = s.bonuses(in, b.Checks)
	b.Penalties = s.penalties(in)

	total := weighted + float64(b.Bonuses) - float64(b.Penalties)
	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	b.Total = int(math.Round(total))
	return b
}

// basicFormat validates field presence and parseability. Checks that cannot
// apply (optional field absent) are skipped, not failed.
func (s *Scorer) basicFormat(data *domain.ExtractedReceiptData, checks map[string]string) float64 {
	if data.HasValor() {
		if _, ok := data.ParseValor(); ok {
			checks[CheckValorValid] = domain.CheckOK
		} else {
			checks[CheckValorValid] = domain.CheckFail("amount is not a valid number")
		}
	} else {
		checks[CheckValorValid] = domain.CheckFail("field not found")
	}

	if strings.TrimSpace(data.Fecha) != "" {
		if _, ok := data.ParseFecha(); ok {
			checks[CheckFechaValid] = domain.CheckOK
		} else {
			checks[CheckFechaValid] = domain.CheckFail("date does not match any known layout")
		}
	} else {
		checks[CheckFechaValid] = domain.CheckFail("field not found")
	}

	if strings.TrimSpace(data.Hora) != "" {
		if _, ok := data.ParseHora(); ok {
			checks[CheckHoraValid] = domain.CheckOK
		} else {
			checks[CheckHoraValid] = domain.CheckFail("time does not match any known layout")
		}
	} else {
		checks[CheckHoraValid] = domain.CheckSkip("field not present")
	}

	if strings.TrimSpace(data.Entidad) != "" {
		checks[CheckEntidadPresent] = domain.CheckOK
	} else {
		checks[CheckEntidadPresent] = domain.CheckFail("field not found")
	}

	if strings.TrimSpace(data.Referencia) != "" {
		checks[CheckReferenciaFound] = domain.CheckOK
	} else {
		checks[CheckReferenciaFound] = domain.CheckFail("field not found")
	}

	switch data.TipoComprobante {
	case "":
		checks[CheckTipoValid] = domain.CheckSkip("field not present")
	case domain.TipoWalletTransfer, domain.TipoBankTransfer, domain.TipoCashDeposit:
		checks[CheckTipoValid] = domain.CheckOK
	default:
		checks[CheckTipoValid] = domain.CheckFail("unknown receipt type")
	}

	passed, counted := 0, 0
	for _, name := range []string{CheckValorValid, CheckFechaValid, CheckHoraValid, CheckEntidadPresent, CheckReferenciaFound, CheckTipoValid} {
		result := checks[name]
		if domain.CheckSkipped(result) {
			continue
		}
		counted++
		if domain.CheckPassed(result) {
			passed++
		}
	}
	if counted == 0 {
		return 50
	}

	score := float64(passed) / float64(counted) * 100
	if domain.CheckPassed(checks[CheckValorValid]) &&
		domain.CheckPassed(checks[CheckFechaValid]) &&
		domain.CheckPassed(checks[CheckReferenciaFound]) {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

// entityRules scores the per-entity rule results. An unrecognized entity
// produces only skipped checks and stays neutral.
func (s *Scorer) entityRules(results map[string]string) float64 {
	passed, counted := 0, 0
	for _, result := range results {
		if domain.CheckSkipped(result) {
			continue
		}
		counted++
		if domain.CheckPassed(result) {
			passed++
		}
	}
	if counted == 0 {
		return 50
	}

	score := float64(passed) / float64(counted) * 100
	if domain.CheckPassed(results[bankrules.CheckReferenceFormat]) &&
		domain.CheckPassed(results[bankrules.CheckAmountRange]) {
		score += 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (s *Scorer) anomalyAbsence(report *domain.AnomalyReport) float64 {
	score := 100
	if report != nil {
		for _, f := range report.Findings {
			switch f.Severity {
			case domain.SeverityCritical:
				score -= s.cfg.DeductCritical
			case domain.SeverityMedium:
				score -= s.cfg.DeductMedium
			default:
				score -= s.cfg.DeductLow
			}
		}
	}
	if score < 0 {
		score = 0
	}
	return float64(score)
}

// imageQuality scores capture quality when metadata is supplied and stays
// neutral when it is not, so API callers without image data are not punished.
func (s *Scorer) imageQuality(meta *domain.ImageMetadata) float64 {
	if meta == nil {
		return float64(s.cfg.NeutralImageQuality)
	}

	score := 100
	if meta.WidthPx > 0 && meta.WidthPx < 600 {
		score -= 30
	}
	if meta.HeightPx > 0 && meta.HeightPx < 600 {
		score -= 30
	}
	if meta.FileSizeBytes > 0 && meta.FileSizeBytes < 30_000 {
		score -= 25
	}
	if meta.CompressionQuality > 0 && meta.CompressionQuality < 50 {
		score -= 20
	}
	if score < 0 {
		score = 0
	}
	return float64(score)
}

// coherence weights overall record completeness heavier than per-field
// length sanity.
func (s *Scorer) coherence(data *domain.ExtractedReceiptData) float64 {
	required := []string{data.Valor, data.Fecha, data.Entidad, data.Referencia}
	present := 0
	for _, v := range required {
		if strings.TrimSpace(v) != "" {
			present++
		}
	}
	presenceFrac := float64(present) / float64(len(required))

	sane, applicable := 0, 0
	if ref := strings.TrimSpace(data.Referencia); ref != "" {
		applicable++
		if len(ref) >= 4 && len(ref) <= 30 {
			sane++
		}
	}
	if ent := strings.TrimSpace(data.Entidad); ent != "" {
		applicable++
		if len(ent) <= 60 {
			sane++
		}
	}
	if desc := strings.TrimSpace(data.Descripcion); desc != "" {
		applicable++
		if len(desc) <= 200 {
			sane++
		}
	}
	sanityFrac := 1.0
	if applicable > 0 {
		sanityFrac = float64(sane) / float64(applicable)
	}

	return (presenceFrac*0.8 + sanityFrac*0.2) * 100
}

func (s *Scorer) bonuses(in *Input, checks map[string]string) int {
	total := 0

	allPresent := in.Data.HasValor() &&
		strings.TrimSpace(in.Data.Fecha) != "" &&
		strings.TrimSpace(in.Data.Entidad) != "" &&
		strings.TrimSpace(in.Data.Referencia) != ""
	if allPresent {
		total += s.cfg.BonusAllFieldsPresent
	}

	if in.Entity != nil {
		total += s.cfg.BonusEntityResolved
	}

	if in.Entity != nil && in.Entity.TypicalMaxAmount > 0 {
		if amount, ok := in.Data.ParseValor(); ok {
			if amount >= in.Entity.TypicalMinAmount && amount <= in.Entity.TypicalMaxAmount {
				total += s.cfg.BonusTypicalAmount
			}
		}
	}

	if domain.CheckPassed(in.RuleResults[bankrules.CheckReferenceFormat]) {
		total += s.cfg.BonusReferenceFormat
	}

	if fecha, ok := in.Data.ParseFecha(); ok {
		age := in.Now.Sub(fecha)
		if age >= 0 && age <= time.Duration(s.cfg.RecentDateDays)*24*time.Hour {
			total += s.cfg.BonusRecentDate
		}
	}

	return total
}

func (s *Scorer) penalties(in *Input) int {
	total := 0

	if in.Report != nil {
		for _, f := range in.Report.Findings {
			if f.IsCritical() {
				total += s.cfg.PenaltyCriticalAlert
			}
			if anomaly.IsArtifact(f.Code) {
				total += s.cfg.PenaltyArtifactFinding
			}
			if anomaly.IsCoherence(f.Code) && !f.IsCritical() {
				total += s.cfg.PenaltyIncoherentField
			}
		}
	}

	if !in.Data.HasValor() {
		total += s.cfg.PenaltyMissingCritField
	}
	if strings.TrimSpace(in.Data.Fecha) == "" {
		total += s.cfg.PenaltyMissingCritField
	}
	if strings.TrimSpace(in.Data.Referencia) == "" {
		total += s.cfg.PenaltyMissingCritField
	}

	return total
}
