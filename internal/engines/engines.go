// Package engines fans a receipt image out to multiple recognition engines
// and collects their candidate extractions.
package engines

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/condupay/comprobante/internal/domain"
)

// ExtractRequest is the input handed to every engine.
type ExtractRequest struct {
	TenantID   string
	ImageBytes []byte
	ImageURL   string
}

// Client is one recognition engine. Implementations wrap an OCR process, a
// vision API, or anything else that turns an image into candidate fields.
type Client interface {
	ID() string
	Extract(ctx context.Context, req *ExtractRequest) (*domain.EngineResult, error)
}

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxParallel = 4
)

// Runner fans out to a fixed set of engines with bounded parallelism and a
// per-engine timeout. A failed or timed-out engine is logged and excluded;
// the aggregation downstream works with whatever arrived.
type Runner struct {
	clients     []Client
	timeout     time.Duration
	maxParallel int
	logger      *slog.Logger
}

// NewRunner creates a runner over the given engines.
func NewRunner(clients []Client, logger *slog.Logger) *Runner {
	return &Runner{
		clients:     clients,
		timeout:     defaultTimeout,
		maxParallel: defaultMaxParallel,
		logger:      logger,
	}
}

// WithTimeout overrides the per-engine timeout.
func (r *Runner) WithTimeout(timeout time.Duration) *Runner {
	r.timeout = timeout
	return r
}

// WithMaxParallel overrides the parallelism bound.
func (r *Runner) WithMaxParallel(n int) *Runner {
	if n > 0 {
		r.maxParallel = n
	}
	return r
}

// Run queries every engine and returns the successful results in client
// order, so equal-confidence ties downstream resolve by configuration order.
func (r *Runner) Run(ctx context.Context, req *ExtractRequest) []domain.EngineResult {
	results := make([]*domain.EngineResult, len(r.clients))

	sem := make(chan struct{}, r.maxParallel)
	var wg sync.WaitGroup

	for i, client := range r.clients {
		wg.Add(1)
		go func(i int, client Client) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			engineCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()

			start := time.Now()
			result, err := client.Extract(engineCtx, req)
			if err != nil {
				r.logger.Warn("engine extraction failed",
					"engine_id", client.ID(),
					"error", err,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
				return
			}
			if result == nil {
				return
			}
			result.EngineID = client.ID()
			results[i] = result
		}(i, client)
	}
	wg.Wait()

	out := make([]domain.EngineResult, 0, len(r.clients))
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	return out
}
