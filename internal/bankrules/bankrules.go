// Package bankrules validates a canonical receipt record against the
// per-entity rule table.
package bankrules

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/condupay/comprobante/internal/domain"
)

// Check result map keys.
const (
	CheckEntityRecognized = "entity_recognized"
	CheckReferenceFormat  = "reference_format"
	CheckAmountRange      = "amount_range"
	CheckOperatingHours   = "operating_hours"
	customCheckPrefix     = "custom:"
)

// Table is the immutable, compiled entity rule table. Build once at process
// start; safe for concurrent read by any number of validation calls.
type Table struct {
	profiles []*compiledProfile
}

type compiledProfile struct {
	profile  *domain.EntityProfile
	refRe    *regexp.Regexp
	opensAt  int // minutes since midnight, -1 when unset
	closesAt int
	custom   []compiledCustom
}

type compiledCustom struct {
	name    string
	reason  string
	program cel.Program
}

// NewTable compiles entity profiles into a rule table. Profiles with a
// broken reference pattern or custom expression are rejected up front so a
// configuration error surfaces at startup, not per request.
func NewTable(profiles []*domain.EntityProfile) (*Table, error) {
	env, err := cel.NewEnv(
		cel.Variable("valor", cel.DoubleType),
		cel.Variable("referencia", cel.StringType),
		cel.Variable("entidad", cel.StringType),
		cel.Variable("fecha", cel.StringType),
		cel.Variable("hora", cel.StringType),
		cel.Variable("tipo", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	t := &Table{}
	for _, p := range profiles {
		if !p.Enabled {
			continue
		}
		cp, err := compileProfile(env, p)
		if err != nil {
			return nil, err
		}
		t.profiles = append(t.profiles, cp)
	}
	return t, nil
}

func compileProfile(env *cel.Env, p *domain.EntityProfile) (*compiledProfile, error) {
	cp := &compiledProfile{profile: p, opensAt: -1, closesAt: -1}

	if p.ReferencePattern != "" {
		pattern := p.ReferencePattern
		if !strings.HasPrefix(pattern, "^") {
			pattern = "^" + pattern + "$"
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("entity %s: invalid reference pattern: %w", p.ID, err)
		}
		cp.refRe = re
	}

	if p.OpensAt != "" && p.ClosesAt != "" {
		opens, err := parseClock(p.OpensAt)
		if err != nil {
			return nil, fmt.Errorf("entity %s: invalid opensAt: %w", p.ID, err)
		}
		closes, err := parseClock(p.ClosesAt)
		if err != nil {
			return nil, fmt.Errorf("entity %s: invalid closesAt: %w", p.ID, err)
		}
		cp.opensAt = opens
		cp.closesAt = closes
	}

	for _, rule := range p.CustomRules {
		ast, issues := env.Compile(rule.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("entity %s: rule %s: %w", p.ID, rule.Name, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("entity %s: rule %s: expression must return bool, got %s", p.ID, rule.Name, ast.OutputType())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("entity %s: rule %s: %w", p.ID, rule.Name, err)
		}
		cp.custom = append(cp.custom, compiledCustom{
			name:    rule.Name,
			reason:  rule.Reason,
			program: program,
		})
	}

	return cp, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// EntityCount returns the number of compiled profiles.
func (t *Table) EntityCount() int { return len(t.profiles) }

// Profiles returns the configured entity profiles.
func (t *Table) Profiles() []*domain.EntityProfile {
	out := make([]*domain.EntityProfile, len(t.profiles))
	for i, cp := range t.profiles {
		out[i] = cp.profile
	}
	return out
}

// Resolve matches the extracted entidad text against profile names and
// aliases, case-insensitive, substring in either direction. Returns nil when
// nothing matches; an unknown entity is permitted and downgrades confidence
// rather than rejecting.
func (t *Table) Resolve(entidad string) *domain.EntityProfile {
	cp := t.resolve(entidad)
	if cp == nil {
		return nil
	}
	return cp.profile
}

func (t *Table) resolve(entidad string) *compiledProfile {
	needle := strings.ToLower(strings.TrimSpace(entidad))
	if needle == "" {
		return nil
	}
	for _, cp := range t.profiles {
		candidates := append([]string{cp.profile.Name}, cp.profile.Aliases...)
		for _, c := range candidates {
			haystack := strings.ToLower(c)
			if haystack == "" {
				continue
			}
			if strings.Contains(needle, haystack) || strings.Contains(haystack, needle) {
				return cp
			}
		}
	}
	return nil
}

// Evaluation is the bank-rules output for one record.
type Evaluation struct {
	// Results maps check name to "OK" / "FAIL: reason" / "SKIP: reason".
	Results map[string]string
	// Profile is the resolved entity, nil when unrecognized.
	Profile *domain.EntityProfile
}

// Resolved reports whether the entity was matched to a profile.
func (e *Evaluation) Resolved() bool { return e.Profile != nil }

// Evaluate resolves the entity and runs the per-entity checks. An unresolved
// entity produces a single neutral result and skips the dependent checks; a
// malformed field converts to a FAIL result, never a Go error.
func (t *Table) Evaluate(data *domain.ExtractedReceiptData) *Evaluation {
	eval := &Evaluation{Results: make(map[string]string)}

	cp := t.resolve(data.Entidad)
	if cp == nil {
		eval.Results[CheckEntityRecognized] = domain.CheckSkip("entity not recognized")
		return eval
	}
	eval.Profile = cp.profile
	eval.Results[CheckEntityRecognized] = domain.CheckOK

	eval.Results[CheckReferenceFormat] = t.checkReference(cp, data)
	eval.Results[CheckAmountRange] = t.checkAmount(cp, data)
	eval.Results[CheckOperatingHours] = t.checkHours(cp, data)

	for _, custom := range cp.custom {
		eval.Results[customCheckPrefix+custom.name] = evalCustom(custom, data)
	}

	return eval
}

func (t *Table) checkReference(cp *compiledProfile, data *domain.ExtractedReceiptData) string {
	if cp.refRe == nil {
		return domain.CheckSkip("no reference pattern configured")
	}
	ref := strings.TrimSpace(data.Referencia)
	if ref == "" {
		return domain.CheckFail("reference not found")
	}
	if !cp.refRe.MatchString(ref) {
		return domain.CheckFail(fmt.Sprintf("reference %q does not match %s format", ref, cp.profile.Name))
	}
	return domain.CheckOK
}

func (t *Table) checkAmount(cp *compiledProfile, data *domain.ExtractedReceiptData) string {
	amount, ok := data.ParseValor()
	if !ok {
		return domain.CheckFail("amount not parseable")
	}
	if amount < cp.profile.MinAmount {
		return domain.CheckFail(fmt.Sprintf("amount %d below %s minimum %d", amount, cp.profile.Name, cp.profile.MinAmount))
	}
	if cp.profile.MaxAmount > 0 && amount > cp.profile.MaxAmount {
		return domain.CheckFail(fmt.Sprintf("amount %d above %s maximum %d", amount, cp.profile.Name, cp.profile.MaxAmount))
	}
	return domain.CheckOK
}

func (t *Table) checkHours(cp *compiledProfile, data *domain.ExtractedReceiptData) string {
	if cp.opensAt < 0 {
		return domain.CheckSkip("no operating hours configured")
	}
	hora, ok := data.ParseHora()
	if !ok {
		// Absent time is not penalized here; the anomaly detector owns
		// temporal plausibility.
		return domain.CheckSkip("time not present")
	}
	minutes := hora.Hour()*60 + hora.Minute()
	if minutes < cp.opensAt || minutes > cp.closesAt {
		return domain.CheckFail(fmt.Sprintf("time %s outside operating hours %s-%s", data.Hora, cp.profile.OpensAt, cp.profile.ClosesAt))
	}
	return domain.CheckOK
}

func evalCustom(custom compiledCustom, data *domain.ExtractedReceiptData) string {
	valor := 0.0
	if v, ok := data.ParseValor(); ok {
		valor = float64(v)
	}

	activation := map[string]any{
		"valor":      valor,
		"referencia": data.Referencia,
		"entidad":    data.Entidad,
		"fecha":      data.Fecha,
		"hora":       data.Hora,
		"tipo":       data.TipoComprobante,
	}

	out, _, err := custom.program.Eval(activation)
	if err != nil {
		return domain.CheckFail(fmt.Sprintf("evaluation error: %v", err))
	}
	if b, ok := out.(types.Bool); ok && bool(b) {
		return domain.CheckOK
	}
	reason := custom.reason
	if reason == "" {
		reason = "custom rule " + custom.name + " failed"
	}
	return domain.CheckFail(reason)
}
