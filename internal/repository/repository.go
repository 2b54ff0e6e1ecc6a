// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/condupay/comprobante/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveReceipt stores a receipt with tenant isolation.
func (r *SQLRepository) SaveReceipt(ctx context.Context, tenantID string, receipt *domain.Receipt) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var imageMeta []byte
	if receipt.ImageMeta != nil {
		imageMeta, _ = json.Marshal(receipt.ImageMeta)
	}

	query := `
		INSERT INTO receipts (
			id, tenant_id, entity_id, valor, fecha, hora,
			entidad, referencia, descripcion, tipo_comprobante,
			image_meta, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		receipt.ID, tenantID, receipt.EntityID,
		receipt.Data.Valor, receipt.Data.Fecha, receipt.Data.Hora,
		receipt.Data.Entidad, receipt.Data.Referencia, receipt.Data.Descripcion,
		receipt.Data.TipoComprobante,
		string(imageMeta), receipt.CreatedAt,
	)
	return err
}

// GetReceipt retrieves a receipt by ID with tenant isolation.
func (r *SQLRepository) GetReceipt(ctx context.Context, tenantID string, receiptID string) (*domain.Receipt, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, entity_id, valor, fecha, hora,
			   entidad, referencia, descripcion, tipo_comprobante,
			   image_meta, created_at
		FROM receipts
		WHERE tenant_id = ? AND id = ?
	`

	receipt, err := scanReceipt(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, receiptID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GetReceiptsByEntity retrieves recent receipts of a resolved entity with
// tenant isolation.
func (r *SQLRepository) GetReceiptsByEntity(ctx context.Context, tenantID string, entityID string, since time.Time) ([]*domain.Receipt, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, entity_id, valor, fecha, hora,
			   entidad, referencia, descripcion, tipo_comprobante,
			   image_meta, created_at
		FROM receipts
		WHERE tenant_id = ?
		  AND entity_id = ?
		  AND created_at >= ?
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, entityID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []*domain.Receipt
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, rows.Err()
}

// CountReceiptsByReference counts stored receipts carrying a reference
// within the window, for duplicate detection.
func (r *SQLRepository) CountReceiptsByReference(ctx context.Context, tenantID string, referencia string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*) FROM receipts
		WHERE tenant_id = ?
		  AND referencia = ?
		  AND created_at >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, referencia, since).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanReceipt(s scanner) (*domain.Receipt, error) {
	var receipt domain.Receipt
	var imageMeta string

	if err := s.Scan(
		&receipt.ID, &receipt.TenantID, &receipt.EntityID,
		&receipt.Data.Valor, &receipt.Data.Fecha, &receipt.Data.Hora,
		&receipt.Data.Entidad, &receipt.Data.Referencia, &receipt.Data.Descripcion,
		&receipt.Data.TipoComprobante,
		&imageMeta, &receipt.CreatedAt,
	); err != nil {
		return nil, err
	}

	if imageMeta != "" {
		var meta domain.ImageMetadata
		if err := json.Unmarshal([]byte(imageMeta), &meta); err == nil {
			receipt.ImageMeta = &meta
		}
	}
	return &receipt, nil
}

// SaveValidation stores a validation outcome with tenant isolation.
func (r *SQLRepository) SaveValidation(ctx context.Context, tenantID string, outcome *domain.ValidationOutcome) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	checkResults, _ := json.Marshal(outcome.CheckResults)
	findings, _ := json.Marshal(outcome.Findings)
	alerts, _ := json.Marshal(outcome.Alerts)
	corrections, _ := json.Marshal(outcome.Corrections)
	provenance, _ := json.Marshal(outcome.Provenance)
	errs, _ := json.Marshal(outcome.Errors)

	var correctedData []byte
	if outcome.CorrectedData != nil {
		correctedData, _ = json.Marshal(outcome.CorrectedData)
	}

	query := `
		INSERT INTO validations (
			id, tenant_id, receipt_id, timestamp, score, status, action,
			check_results, findings, alerts, corrections, corrected_data,
			provenance, errors, process_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		outcome.ID, tenantID, outcome.ReceiptID, outcome.Timestamp,
		outcome.Score, outcome.Status, outcome.Action,
		string(checkResults), string(findings), string(alerts),
		string(corrections), string(correctedData),
		string(provenance), string(errs), outcome.ProcessMs,
	)
	return err
}

// GetValidation retrieves a validation outcome by ID with tenant isolation.
func (r *SQLRepository) GetValidation(ctx context.Context, tenantID string, outcomeID string) (*domain.ValidationOutcome, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, receipt_id, timestamp, score, status, action,
			   check_results, findings, alerts, corrections, corrected_data,
			   provenance, errors, process_ms
		FROM validations
		WHERE tenant_id = ? AND id = ?
	`

	outcome, err := scanValidation(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, outcomeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// ListValidationsByStatus retrieves recent validation outcomes in a given
// status, newest first, for review queues.
func (r *SQLRepository) ListValidationsByStatus(ctx context.Context, tenantID string, status string, limit int) ([]*domain.ValidationOutcome, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, receipt_id, timestamp, score, status, action,
			   check_results, findings, alerts, corrections, corrected_data,
			   provenance, errors, process_ms
		FROM validations
		WHERE tenant_id = ? AND status = ?
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []*domain.ValidationOutcome
	for rows.Next() {
		outcome, err := scanValidation(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, rows.Err()
}

func scanValidation(s scanner) (*domain.ValidationOutcome, error) {
	var outcome domain.ValidationOutcome
	var checkResults, findings, alerts, corrections, correctedData, provenance, errs string

	if err := s.Scan(
		&outcome.ID, &outcome.TenantID, &outcome.ReceiptID, &outcome.Timestamp,
		&outcome.Score, &outcome.Status, &outcome.Action,
		&checkResults, &findings, &alerts, &corrections, &correctedData,
		&provenance, &errs, &outcome.ProcessMs,
	); err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(checkResults), &outcome.CheckResults)
	json.Unmarshal([]byte(findings), &outcome.Findings)
	json.Unmarshal([]byte(alerts), &outcome.Alerts)
	json.Unmarshal([]byte(corrections), &outcome.Corrections)
	json.Unmarshal([]byte(provenance), &outcome.Provenance)
	json.Unmarshal([]byte(errs), &outcome.Errors)

	if correctedData != "" {
		var data domain.ExtractedReceiptData
		if err := json.Unmarshal([]byte(correctedData), &data); err == nil {
			outcome.CorrectedData = &data
		}
	}
	return &outcome, nil
}

// SaveEntityProfile upserts an entity profile with tenant isolation.
func (r *SQLRepository) SaveEntityProfile(ctx context.Context, tenantID string, profile *domain.EntityProfile) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	aliases, _ := json.Marshal(profile.Aliases)
	customRules, _ := json.Marshal(profile.CustomRules)

	enabled := 0
	if profile.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO entity_profiles (
			id, tenant_id, name, aliases, reference_pattern,
			min_amount, max_amount, opens_at, closes_at,
			typical_min_amount, typical_max_amount, custom_rules,
			enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			aliases = excluded.aliases,
			reference_pattern = excluded.reference_pattern,
			min_amount = excluded.min_amount,
			max_amount = excluded.max_amount,
			opens_at = excluded.opens_at,
			closes_at = excluded.closes_at,
			typical_min_amount = excluded.typical_min_amount,
			typical_max_amount = excluded.typical_max_amount,
			custom_rules = excluded.custom_rules,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		profile.ID, tenantID, profile.Name, string(aliases), profile.ReferencePattern,
		profile.MinAmount, profile.MaxAmount, profile.OpensAt, profile.ClosesAt,
		profile.TypicalMinAmount, profile.TypicalMaxAmount, string(customRules),
		enabled, now, now,
	)
	return err
}

// GetEntityProfile retrieves an active entity profile with tenant isolation.
func (r *SQLRepository) GetEntityProfile(ctx context.Context, tenantID string, entityID string) (*domain.EntityProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, aliases, reference_pattern,
			   min_amount, max_amount, opens_at, closes_at,
			   typical_min_amount, typical_max_amount, custom_rules, enabled
		FROM entity_profiles
		WHERE tenant_id = ? AND id = ? AND enabled = 1
	`

	profile, err := scanEntityProfile(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, entityID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// ListEntityProfiles retrieves all active entity profiles for a tenant.
func (r *SQLRepository) ListEntityProfiles(ctx context.Context, tenantID string) ([]*domain.EntityProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, name, aliases, reference_pattern,
			   min_amount, max_amount, opens_at, closes_at,
			   typical_min_amount, typical_max_amount, custom_rules, enabled
		FROM entity_profiles
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.EntityProfile
	for rows.Next() {
		profile, err := scanEntityProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

// DeleteEntityProfile soft-deletes a profile by setting enabled = 0.
func (r *SQLRepository) DeleteEntityProfile(ctx context.Context, tenantID string, entityID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		UPDATE entity_profiles
		SET enabled = 0, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`

	result, err := r.db.ExecContext(ctx, r.rebind(query), time.Now().UTC(), tenantID, entityID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEntityProfile(s scanner) (*domain.EntityProfile, error) {
	var p domain.EntityProfile
	var aliases, customRules string
	var enabled int

	if err := s.Scan(
		&p.ID, &p.Name, &aliases, &p.ReferencePattern,
		&p.MinAmount, &p.MaxAmount, &p.OpensAt, &p.ClosesAt,
		&p.TypicalMinAmount, &p.TypicalMaxAmount, &customRules, &enabled,
	); err != nil {
		return nil, err
	}

	p.Enabled = enabled == 1
	if aliases != "" {
		json.Unmarshal([]byte(aliases), &p.Aliases)
	}
	if customRules != "" {
		json.Unmarshal([]byte(customRules), &p.CustomRules)
	}
	return &p, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
