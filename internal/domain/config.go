package domain

import "time"

// Config holds the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines which backing services are used
	Tier Tier `json:"tier"`

	// EntityProfilesPath points at a JSON file with the per-bank/wallet
	// rule table. When empty, profiles are loaded from the repository.
	EntityProfilesPath string `json:"entityProfilesPath"`

	// Scoring holds the static weight/threshold/penalty tables.
	Scoring ScoringConfig `json:"scoring"`

	// Anomaly holds the anomaly-detector thresholds.
	Anomaly AnomalyConfig `json:"anomaly"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity uses SQLite + in-process channels + local LRU cache
	TierCommunity Tier = "community"

	// TierPro uses PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// ScoringConfig holds the fixed weights, bonuses, penalties, and decision
// thresholds of the confidence scorer. All values are static configuration,
// never learned; identical config plus identical input must always produce
// an identical score.
type ScoringConfig struct {
	// Sub-score weights, must sum to 1.0.
	WeightBasicFormat    float64 `json:"weightBasicFormat"`
	WeightEntityRules    float64 `json:"weightEntityRules"`
	WeightAnomalyAbsence float64 `json:"weightAnomalyAbsence"`
	WeightImageQuality   float64 `json:"weightImageQuality"`
	WeightCoherence      float64 `json:"weightCoherence"`

	// NeutralImageQuality is used when no image metadata is supplied.
	NeutralImageQuality int `json:"neutralImageQuality"`

	// Anomaly-absence deductions per finding severity.
	DeductLow      int `json:"deductLow"`
	DeductMedium   int `json:"deductMedium"`
	DeductCritical int `json:"deductCritical"`

	// Additive bonuses applied after the weighted sum.
	BonusAllFieldsPresent int `json:"bonusAllFieldsPresent"`
	BonusEntityResolved   int `json:"bonusEntityResolved"`
	BonusTypicalAmount    int `json:"bonusTypicalAmount"`
	BonusReferenceFormat  int `json:"bonusReferenceFormat"`
	BonusRecentDate       int `json:"bonusRecentDate"`

	// Additive penalties applied after the weighted sum. Positive values,
	// subtracted per occurrence.
	PenaltyCriticalAlert    int `json:"penaltyCriticalAlert"`
	PenaltyArtifactFinding  int `json:"penaltyArtifactFinding"`
	PenaltyIncoherentField  int `json:"penaltyIncoherentField"`
	PenaltyMissingCritField int `json:"penaltyMissingCritField"`

	// RecentDateDays bounds the "recent date" bonus.
	RecentDateDays int `json:"recentDateDays"`

	// Decision thresholds.
	AutoApproveScore int `json:"autoApproveScore"` // score >= this: validated
	ReviewScore      int `json:"reviewScore"`      // score >= this: needs_review
	SuspiciousScore  int `json:"suspiciousScore"`  // score >= this: suspicious + manual review; below: block
}

// DefaultScoringConfig returns the production scoring table.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		WeightBasicFormat:    0.40,
		WeightEntityRules:    0.25,
		WeightAnomalyAbsence: 0.20,
		WeightImageQuality:   0.10,
		WeightCoherence:      0.05,

		NeutralImageQuality: 75,

		DeductLow:      8,
		DeductMedium:   20,
		DeductCritical: 50,

		BonusAllFieldsPresent: 5,
		BonusEntityResolved:   3,
		BonusTypicalAmount:    3,
		BonusReferenceFormat:  2,
		BonusRecentDate:       2,

		PenaltyCriticalAlert:    25,
		PenaltyArtifactFinding:  10,
		PenaltyIncoherentField:  10,
		PenaltyMissingCritField: 15,

		RecentDateDays: 7,

		AutoApproveScore: 85,
		ReviewScore:      60,
		SuspiciousScore:  30,
	}
}

// AnomalyConfig holds the anomaly-detector thresholds.
type AnomalyConfig struct {
	// Amount plausibility bounds, pesos.
	MinPlausibleAmount int64 `json:"minPlausibleAmount"`
	MaxPlausibleAmount int64 `json:"maxPlausibleAmount"`

	// Round-amount check: multiples of RoundAmountStep at or above
	// RoundAmountFloor are suspicious.
	RoundAmountStep  int64 `json:"roundAmountStep"`
	RoundAmountFloor int64 `json:"roundAmountFloor"`

	// KnownTestAmounts are values used by testers and fraudsters alike.
	KnownTestAmounts []int64 `json:"knownTestAmounts"`

	// StalenessDays is the maximum accepted receipt age.
	StalenessDays int `json:"stalenessDays"`

	// Odd-hours band, 24h clock. Times inside [OddHoursStart, OddHoursEnd)
	// are flagged low severity. Start > End wraps past midnight, e.g. 22/2
	// covers 22:00 through 01:59.
	OddHoursStart int `json:"oddHoursStart"`
	OddHoursEnd   int `json:"oddHoursEnd"`

	// Reference length bounds.
	MinReferenceLen int `json:"minReferenceLen"`
	MaxReferenceLen int `json:"maxReferenceLen"`

	// KnownTestReferences are placeholder references.
	KnownTestReferences []string `json:"knownTestReferences"`

	// DuplicateWindowSecs is the rolling window for duplicate-reference
	// detection, when a history source is wired.
	DuplicateWindowSecs int `json:"duplicateWindowSecs"`
}

// DefaultAnomalyConfig returns the production anomaly thresholds.
func DefaultAnomalyConfig() AnomalyConfig {
	return AnomalyConfig{
		MinPlausibleAmount:  1000,
		MaxPlausibleAmount:  50_000_000,
		RoundAmountStep:     100_000,
		RoundAmountFloor:    1_000_000,
		KnownTestAmounts:    []int64{1, 100, 1000, 111_111, 123_456, 999_999},
		StalenessDays:       60,
		OddHoursStart:       0,
		OddHoursEnd:         5,
		MinReferenceLen:     6,
		MaxReferenceLen:     20,
		KnownTestReferences: []string{"123456", "000000", "111111", "TEST", "PRUEBA", "XXXXXX"},
		DuplicateWindowSecs: 86400,
	}
}

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:    TierCommunity,
		Scoring: DefaultScoringConfig(),
		Anomaly: DefaultAnomalyConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./comprobante.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "comprobante",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "comprobante",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
