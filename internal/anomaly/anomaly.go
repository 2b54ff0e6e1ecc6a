// Package anomaly runs independent heuristic checks over a canonical
// receipt record and reports irregularities tagged by severity.
package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/condupay/comprobante/internal/domain"
	"github.com/condupay/comprobante/internal/normalize"
)

// Finding codes, prefixed by category so the scorer can classify them
// without string matching on descriptions.
const (
	CodeValueTooHigh       = "value_too_high"
	CodeValueTooLow        = "value_too_low"
	CodeValueRound         = "value_round"
	CodeValueTestAmount    = "value_test_amount"
	CodeValueRepeatDigits  = "value_repeated_digits"
	CodeValueUnparseable   = "value_unparseable"
	CodeTemporalFuture     = "temporal_future_date"
	CodeTemporalStale      = "temporal_stale_date"
	CodeTemporalOddHours   = "temporal_odd_hours"
	CodeTemporalBadDate    = "temporal_unparseable"
	CodeReferenceLength    = "reference_length"
	CodeReferenceCharset   = "reference_charset"
	CodeReferenceTestValue = "reference_test_value"
	CodeReferenceTiled     = "reference_tiled"
	CodeCoherenceRefAmount = "coherence_ref_equals_amount"
	CodeCoherenceAtypical  = "coherence_atypical_amount"
	CodeCoherenceDayTime   = "coherence_daytime_pattern"
	CodeCoherenceDuplicate = "coherence_duplicate_reference"
	CodeArtifactConfusion  = "artifact_confusion_chars"
	CodeArtifactLetters    = "artifact_letters_in_numeric"
)

// IsArtifact reports whether a finding code belongs to the
// recognition-artifact category.
func IsArtifact(code string) bool { return strings.HasPrefix(code, "artifact_") }

// IsCoherence reports whether a finding code belongs to the cross-field
// coherence category.
func IsCoherence(code string) bool { return strings.HasPrefix(code, "coherence_") }

// StatsGetter returns recently observed amount statistics for an entity.
// Optional; a nil getter or an error simply skips the check.
type StatsGetter func(ctx context.Context, tenantID, entityID string) (*domain.EntityStats, error)

// DuplicateGetter returns how many times a reference has been seen within
// the window. Optional, same degradation rule as StatsGetter.
type DuplicateGetter func(ctx context.Context, tenantID, referencia string, windowSecs int) (int64, error)

// Detector runs the fixed check set. Stateless apart from its immutable
// configuration; safe for concurrent use.
type Detector struct {
	cfg         domain.AnomalyConfig
	statsGetter StatsGetter
	dupGetter   DuplicateGetter
}

// NewDetector creates a detector with the given thresholds.
func NewDetector(cfg domain.AnomalyConfig) *Detector {
	return &Detector{cfg: cfg}
}

// WithHistory wires optional history sources into the cross-field checks.
func (d *Detector) WithHistory(stats StatsGetter, dup DuplicateGetter) *Detector {
	d.statsGetter = stats
	d.dupGetter = dup
	return d
}

// Input is one detection request.
type Input struct {
	TenantID string
	Data     *domain.ExtractedReceiptData
	// Profile is the resolved entity, nil when unrecognized.
	Profile *domain.EntityProfile
	// Now is the reference time; injected so detection is deterministic.
	Now time.Time
}

// Detect runs every check category. Absent or malformed fields never raise;
// a check that cannot run simply produces no finding.
func (d *Detector) Detect(ctx context.Context, in *Input) *domain.AnomalyReport {
	report := &domain.AnomalyReport{}

	d.checkValue(in, report)
	d.checkTemporal(in, report)
	d.checkReference(in, report)
	d.checkCoherence(ctx, in, report)
	d.checkArtifacts(in, report)

	return report
}

func add(report *domain.AnomalyReport, code, field, severity, description string) {
	report.Findings = append(report.Findings, domain.AnomalyFinding{
		Code:        code,
		Field:       field,
		Severity:    severity,
		Description: description,
	})
}

// checkValue covers amount-shape anomalies.
func (d *Detector) checkValue(in *Input, report *domain.AnomalyReport) {
	if !in.Data.HasValor() {
		return
	}
	amount, ok := in.Data.ParseValor()
	if !ok {
		add(report, CodeValueUnparseable, "valor", domain.SeverityMedium,
			fmt.Sprintf("amount %q is not a valid number", in.Data.Valor))
		return
	}

	if amount > d.cfg.MaxPlausibleAmount {
		add(report, CodeValueTooHigh, "valor", domain.SeverityMedium,
			fmt.Sprintf("amount %d exceeds plausible maximum %d", amount, d.cfg.MaxPlausibleAmount))
	}
	if amount < d.cfg.MinPlausibleAmount {
		add(report, CodeValueTooLow, "valor", domain.SeverityLow,
			fmt.Sprintf("amount %d below plausible minimum %d", amount, d.cfg.MinPlausibleAmount))
	}

	if d.cfg.RoundAmountStep > 0 && amount >= d.cfg.RoundAmountFloor && amount%d.cfg.RoundAmountStep == 0 {
		add(report, CodeValueRound, "valor", domain.SeverityLow,
			fmt.Sprintf("amount %d is a suspiciously round value", amount))
	}

	for _, test := range d.cfg.KnownTestAmounts {
		if amount == test {
			add(report, CodeValueTestAmount, "valor", domain.SeverityMedium,
				fmt.Sprintf("amount %d matches a known test value", amount))
			break
		}
	}

	if hasExcessiveRepeats(fmt.Sprintf("%d", amount)) {
		add(report, CodeValueRepeatDigits, "valor", domain.SeverityMedium,
			fmt.Sprintf("amount %d has excessive repeated digits", amount))
	}
}

// hasExcessiveRepeats reports a run of 5+ identical digits, or one digit
// making up at least 70% of a value 6+ digits long.
func hasExcessiveRepeats(s string) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			run++
			if run >= 5 {
				return true
			}
		} else {
			run = 1
		}
	}

	if len(s) >= 6 {
		counts := make(map[byte]int)
		for i := 0; i < len(s); i++ {
			counts[s[i]]++
		}
		for _, c := range counts {
			if float64(c)/float64(len(s)) >= 0.7 {
				return true
			}
		}
	}
	return false
}

// checkTemporal covers date/time plausibility.
func (d *Detector) checkTemporal(in *Input, report *domain.AnomalyReport) {
	if strings.TrimSpace(in.Data.Fecha) != "" {
		fecha, ok := in.Data.ParseFecha()
		if !ok {
			add(report, CodeTemporalBadDate, "fecha", domain.SeverityMedium,
				fmt.Sprintf("date %q is not a valid calendar date", in.Data.Fecha))
		} else {
			today := in.Now.Truncate(24 * time.Hour)
			if fecha.After(today.Add(24 * time.Hour)) {
				add(report, CodeTemporalFuture, "fecha", domain.SeverityMedium,
					fmt.Sprintf("date %s is in the future", in.Data.Fecha))
			}
			staleness := time.Duration(d.cfg.StalenessDays) * 24 * time.Hour
			if in.Now.Sub(fecha) > staleness {
				add(report, CodeTemporalStale, "fecha", domain.SeverityMedium,
					fmt.Sprintf("date %s is older than %d days", in.Data.Fecha, d.cfg.StalenessDays))
			}
		}
	}

	if strings.TrimSpace(in.Data.Hora) != "" {
		hora, ok := in.Data.ParseHora()
		if ok && inOddHours(hora.Hour(), d.cfg.OddHoursStart, d.cfg.OddHoursEnd) {
			add(report, CodeTemporalOddHours, "hora", domain.SeverityLow,
				fmt.Sprintf("time %s falls in the %02d:00-%02d:00 band", in.Data.Hora, d.cfg.OddHoursStart, d.cfg.OddHoursEnd))
		}
	}
}

// inOddHours reports whether hour h falls in [start,end). A band with
// start > end wraps past midnight, e.g. 22-02 covers 22:00 through 01:59.
func inOddHours(h, start, end int) bool {
	if start > end {
		return h >= start || h < end
	}
	return h >= start && h < end
}

// checkReference covers reference-shape anomalies.
func (d *Detector) checkReference(in *Input, report *domain.AnomalyReport) {
	ref := strings.TrimSpace(in.Data.Referencia)
	if ref == "" {
		return
	}

	if len(ref) < d.cfg.MinReferenceLen || len(ref) > d.cfg.MaxReferenceLen {
		add(report, CodeReferenceLength, "referencia", domain.SeverityMedium,
			fmt.Sprintf("reference length %d outside [%d,%d]", len(ref), d.cfg.MinReferenceLen, d.cfg.MaxReferenceLen))
	}

	if !isAlphanumeric(ref) {
		add(report, CodeReferenceCharset, "referencia", domain.SeverityMedium,
			fmt.Sprintf("reference %q contains disallowed characters", ref))
	}

	upper := strings.ToUpper(ref)
	for _, test := range d.cfg.KnownTestReferences {
		if upper == strings.ToUpper(test) {
			add(report, CodeReferenceTestValue, "referencia", domain.SeverityCritical,
				fmt.Sprintf("reference %q matches a known test placeholder", ref))
			break
		}
	}

	if isTiled(ref) {
		add(report, CodeReferenceTiled, "referencia", domain.SeverityMedium,
			fmt.Sprintf("reference %q repeats the same short pattern", ref))
	}
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}

// isTiled reports whether the whole string is one substring of length 1-3
// repeated end to end, e.g. "ababab" or "121212".
func isTiled(s string) bool {
	if len(s) < 6 {
		return false
	}
	for width := 1; width <= 3; width++ {
		if len(s)%width != 0 {
			continue
		}
		tile := s[:width]
		tiled := true
		for i := width; i < len(s); i += width {
			if s[i:i+width] != tile {
				tiled = false
				break
			}
		}
		if tiled {
			return true
		}
	}
	return false
}

// checkCoherence covers cross-field consistency.
func (d *Detector) checkCoherence(ctx context.Context, in *Input, report *domain.AnomalyReport) {
	amount, amountOK := in.Data.ParseValor()
	ref := strings.TrimSpace(in.Data.Referencia)

	// A reference numerically equal to the amount is a strong sign the
	// engines swapped fields.
	if amountOK && ref != "" && isAllDigits(ref) {
		if ref == fmt.Sprintf("%d", amount) {
			add(report, CodeCoherenceRefAmount, "referencia", domain.SeverityCritical,
				"reference is numerically equal to the amount; likely recognition mix-up")
		}
	}

	if amountOK && in.Profile != nil {
		p := in.Profile
		if p.TypicalMaxAmount > 0 && (amount > p.TypicalMaxAmount || amount < p.TypicalMinAmount) {
			add(report, CodeCoherenceAtypical, "valor", domain.SeverityLow,
				fmt.Sprintf("amount %d outside typical %s range [%d,%d]", amount, p.Name, p.TypicalMinAmount, p.TypicalMaxAmount))
		}
	}

	// Observed-history signal, if a source is wired.
	if amountOK && in.Profile != nil && d.statsGetter != nil {
		stats, err := d.statsGetter(ctx, in.TenantID, in.Profile.ID)
		if err == nil && stats != nil && stats.SampleCount >= 10 && stats.MeanAmount > 0 {
			if float64(amount) > stats.MeanAmount*3 {
				add(report, CodeCoherenceAtypical, "valor", domain.SeverityLow,
					fmt.Sprintf("amount %d is more than 3x the observed %s mean", amount, in.Profile.Name))
			}
		}
	}

	// Bank transfers stamped in the small hours of a Sunday do not match
	// normal business patterns.
	if fecha, ok := in.Data.ParseFecha(); ok {
		if hora, ok := in.Data.ParseHora(); ok {
			if fecha.Weekday() == time.Sunday && hora.Hour() < 6 && in.Data.TipoComprobante == domain.TipoBankTransfer {
				add(report, CodeCoherenceDayTime, "hora", domain.SeverityLow,
					"bank transfer in the small hours of a Sunday")
			}
		}
	}

	if ref != "" && d.dupGetter != nil {
		count, err := d.dupGetter(ctx, in.TenantID, ref, d.cfg.DuplicateWindowSecs)
		if err == nil && count > 1 {
			add(report, CodeCoherenceDuplicate, "referencia", domain.SeverityCritical,
				fmt.Sprintf("reference %q already submitted %d times in the window", ref, count))
		}
	}
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// checkArtifacts flags look-alike characters that survived (or bypassed)
// normalization in fields expected to be numeric.
func (d *Detector) checkArtifacts(in *Input, report *domain.AnomalyReport) {
	numericFields := []struct {
		name  string
		value string
	}{
		{"valor", in.Data.Valor},
		{"fecha", in.Data.Fecha},
		{"hora", in.Data.Hora},
	}

	for _, f := range numericFields {
		if f.value == "" {
			continue
		}
		if normalize.HasArtifacts(f.value) {
			add(report, CodeArtifactConfusion, f.name, domain.SeverityMedium,
				fmt.Sprintf("%s %q contains look-alike characters", f.name, f.value))
		} else if normalize.HasLetters(f.value) {
			add(report, CodeArtifactLetters, f.name, domain.SeverityMedium,
				fmt.Sprintf("%s %q contains letters in a numeric field", f.name, f.value))
		}
	}
}
