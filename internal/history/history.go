// Package history derives lookback signals from stored receipts: per-entity
// amount statistics and duplicate-reference counts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/condupay/comprobante/internal/domain"
)

// statsTTL bounds how stale a cached entity-stats entry may be.
const statsTTL = 5 * time.Minute

// statsWindow is the lookback for entity amount statistics.
const statsWindow = 30 * 24 * time.Hour

// Service computes history signals for the anomaly detector.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	db    *sql.DB // direct DB access for custom queries
}

// NewService creates a history service. Cache may be nil; every stats call
// then hits the repository.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
	}
}

// GetEntityStats returns amount statistics over the recent receipts of an
// entity. This is the StatsGetter signature expected by the anomaly detector.
func (s *Service) GetEntityStats(ctx context.Context, tenantID, entityID string) (*domain.EntityStats, error) {
	if tenantID == "" || entityID == "" {
		return nil, fmt.Errorf("tenantID and entityID are required")
	}

	if s.cache != nil {
		if stats, err := s.cache.GetEntityStats(ctx, tenantID, entityID); err == nil && stats != nil {
			return stats, nil
		}
	}

	if s.repo == nil {
		return nil, fmt.Errorf("no data source available")
	}

	since := time.Now().Add(-statsWindow)
	receipts, err := s.repo.GetReceiptsByEntity(ctx, tenantID, entityID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipts: %w", err)
	}

	stats := computeStats(entityID, receipts)

	if s.cache != nil {
		// Best effort; a failed cache write only costs the next caller a
		// repository round trip.
		_ = s.cache.SetEntityStats(ctx, tenantID, entityID, stats, statsTTL)
	}
	return stats, nil
}

// computeStats aggregates the parseable amounts. Receipts whose amount does
// not parse are excluded from the sample.
func computeStats(entityID string, receipts []*domain.Receipt) *domain.EntityStats {
	stats := &domain.EntityStats{EntityID: entityID}

	var sum int64
	for _, r := range receipts {
		amount, ok := r.Data.ParseValor()
		if !ok {
			continue
		}
		stats.SampleCount++
		sum += amount
		if stats.MinAmount == 0 || amount < stats.MinAmount {
			stats.MinAmount = amount
		}
		if amount > stats.MaxAmount {
			stats.MaxAmount = amount
		}
	}
	if stats.SampleCount > 0 {
		stats.MeanAmount = float64(sum) / float64(stats.SampleCount)
	}
	return stats
}

// CountReference returns how many receipts carry the reference within the
// window, the stored copy of the current receipt included. This is the
// DuplicateGetter signature expected by the anomaly detector.
func (s *Service) CountReference(ctx context.Context, tenantID, referencia string, windowSecs int) (int64, error) {
	if tenantID == "" || referencia == "" {
		return 0, fmt.Errorf("tenantID and referencia are required")
	}

	window := time.Duration(windowSecs) * time.Second

	// The cache counter is authoritative when available: it is incremented
	// on ingest before validation runs, so a duplicate is visible even
	// before the receipt is persisted.
	if s.cache != nil {
		count, err := s.cache.IncrementCounter(ctx, tenantID, "ref:"+referencia, window)
		if err == nil {
			return count, nil
		}
	}

	since := time.Now().Add(-window)

	if s.db != nil {
		return s.countFromDB(ctx, tenantID, referencia, since)
	}
	if s.repo != nil {
		count, err := s.repo.CountReceiptsByReference(ctx, tenantID, referencia, since)
		if err != nil {
			return 0, fmt.Errorf("failed to count references: %w", err)
		}
		// The receipt being validated is not stored yet.
		return count + 1, nil
	}
	return 0, fmt.Errorf("no data source available")
}

func (s *Service) countFromDB(ctx context.Context, tenantID, referencia string, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*) FROM receipts
		WHERE tenant_id = ?
		AND referencia = ?
		AND created_at >= ?
	`

	var count int64
	err := s.db.QueryRowContext(ctx, query, tenantID, referencia, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count references: %w", err)
	}
	return count + 1, nil
}

// StatsGetter returns the getter function wired into the anomaly detector.
func (s *Service) StatsGetter() func(ctx context.Context, tenantID, entityID string) (*domain.EntityStats, error) {
	return s.GetEntityStats
}

// DuplicateGetter returns the getter function wired into the anomaly
// detector.
func (s *Service) DuplicateGetter() func(ctx context.Context, tenantID, referencia string, windowSecs int) (int64, error) {
	return s.CountReference
}
