package domain

// Anomaly severity levels. A single critical finding vetoes auto-approval
// regardless of the numeric score.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityCritical = "critical"
)

// AnomalyFinding is one detected irregularity in the canonical record.
type AnomalyFinding struct {
	Code        string `json:"code"`
	Field       string `json:"field"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// IsCritical reports whether this finding alone blocks auto-approval.
func (f AnomalyFinding) IsCritical() bool { return f.Severity == SeverityCritical }

// AnomalyReport is the full output of the anomaly detector for one record.
type AnomalyReport struct {
	Findings []AnomalyFinding `json:"findings"`
}

// Alerts returns a human-readable summary per finding, same order and
// length as Findings.
func (r *AnomalyReport) Alerts() []string {
	alerts := make([]string, len(r.Findings))
	for i, f := range r.Findings {
		alerts[i] = "[" + f.Severity + "] " + f.Field + ": " + f.Description
	}
	return alerts
}

// CriticalAlerts returns only the critical-severity findings.
func (r *AnomalyReport) CriticalAlerts() []AnomalyFinding {
	var critical []AnomalyFinding
	for _, f := range r.Findings {
		if f.IsCritical() {
			critical = append(critical, f)
		}
	}
	return critical
}

// HasCritical reports whether any finding is critical.
func (r *AnomalyReport) HasCritical() bool {
	for _, f := range r.Findings {
		if f.IsCritical() {
			return true
		}
	}
	return false
}

// DensityScore is a fallback quality signal in [0,100]: 100 with no
// findings, decreasing with count and severity.
func (r *AnomalyReport) DensityScore() int {
	score := 100
	for _, f := range r.Findings {
		switch f.Severity {
		case SeverityCritical:
			score -= 40
		case SeverityMedium:
			score -= 15
		default:
			score -= 5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}
