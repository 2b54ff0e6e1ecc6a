package domain

// EntityProfile is the static per-bank/wallet rule configuration. Profiles
// are loaded once at process start and treated as immutable for the lifetime
// of the process, so any number of concurrent validation calls may read them
// without coordination.
type EntityProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Aliases are matched (case-insensitive substring) against the extracted
	// entidad text in addition to Name.
	Aliases []string `json:"aliases,omitempty"`

	// ReferencePattern is an anchored regular expression the transaction
	// reference must match.
	ReferencePattern string `json:"referencePattern"`

	// Accepted amount bounds, inclusive, in pesos.
	MinAmount int64 `json:"minAmount"`
	MaxAmount int64 `json:"maxAmount"`

	// Operating-hours window, "HH:MM" 24h format. A receipt without a time
	// is not penalized here.
	OpensAt  string `json:"opensAt"`
	ClosesAt string `json:"closesAt"`

	// TypicalMinAmount/TypicalMaxAmount bound the usual transaction range
	// for this entity. Amounts inside the hard bounds but outside the
	// typical range raise a coherence anomaly, not a rule failure.
	TypicalMinAmount int64 `json:"typicalMinAmount,omitempty"`
	TypicalMaxAmount int64 `json:"typicalMaxAmount,omitempty"`

	// CustomRules are optional CEL expressions evaluated against the
	// canonical record. Adding one is a data change, not a code branch.
	CustomRules []CustomRule `json:"customRules,omitempty"`

	Enabled bool `json:"enabled"`
}

// CustomRule is a per-entity CEL check. The expression must return bool;
// false produces a FAIL result under the rule's name.
type CustomRule struct {
	Name       string `json:"name"`
	Expression string `json:"expression"`
	Reason     string `json:"reason,omitempty"`
}

// EntityStats summarizes the recently observed amounts for an entity,
// derived from stored receipts. Used as an optional coherence signal.
type EntityStats struct {
	EntityID    string  `json:"entityId"`
	SampleCount int64   `json:"sampleCount"`
	MeanAmount  float64 `json:"meanAmount"`
	MinAmount   int64   `json:"minAmount"`
	MaxAmount   int64   `json:"maxAmount"`
}
