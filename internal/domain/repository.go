// Package domain defines the core interfaces and types for the comprobante
// validation service.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Receipt operations
	SaveReceipt(ctx context.Context, tenantID string, receipt *Receipt) error
	GetReceipt(ctx context.Context, tenantID string, receiptID string) (*Receipt, error)
	GetReceiptsByEntity(ctx context.Context, tenantID string, entityID string, since time.Time) ([]*Receipt, error)
	CountReceiptsByReference(ctx context.Context, tenantID string, referencia string, since time.Time) (int64, error)

	// Validation outcomes
	SaveValidation(ctx context.Context, tenantID string, outcome *ValidationOutcome) error
	GetValidation(ctx context.Context, tenantID string, outcomeID string) (*ValidationOutcome, error)
	ListValidationsByStatus(ctx context.Context, tenantID string, status string, limit int) ([]*ValidationOutcome, error)

	// Entity profile operations
	SaveEntityProfile(ctx context.Context, tenantID string, profile *EntityProfile) error
	GetEntityProfile(ctx context.Context, tenantID string, entityID string) (*EntityProfile, error)
	ListEntityProfiles(ctx context.Context, tenantID string) ([]*EntityProfile, error)
	DeleteEntityProfile(ctx context.Context, tenantID string, entityID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
