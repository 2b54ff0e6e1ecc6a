// Package worker provides async receipt processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/condupay/comprobante/internal/domain"
	"github.com/condupay/comprobante/internal/validator"
	"github.com/google/uuid"
)

// Worker consumes extracted receipts from the EventBus, runs them through
// the validation pipeline, and publishes the outcome.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	validator *validator.Validator

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription).
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, v *validator.Validator) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		repo:      repo,
		validator: v,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID. In production you'd
	// subscribe with wildcards or JetStream.
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicReceiptExtracted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicReceiptExtracted, func(ctx context.Context, msg *domain.Message) error {
		return w.processReceipt(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicReceiptExtracted,
	)

	return nil
}

// handleMessage handles messages from the global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processReceipt(ctx, msg.TenantID, msg)
}

// ReceiptMessage is the payload published after OCR extraction. Either Data
// carries a single fused record, or EngineResults carries the raw per-engine
// outputs for the worker to aggregate.
type ReceiptMessage struct {
	ReceiptID     string                       `json:"receiptId,omitempty"`
	TenantID      string                       `json:"tenantId"`
	Data          *domain.ExtractedReceiptData `json:"data,omitempty"`
	EngineResults []domain.EngineResult        `json:"engineResults,omitempty"`
	ImageMeta     *domain.ImageMetadata        `json:"imageMeta,omitempty"`
}

// processReceipt runs one extracted receipt through the pipeline.
func (w *Worker) processReceipt(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var rm ReceiptMessage
	if err := json.Unmarshal(msg.Payload, &rm); err != nil {
		slog.Error("failed to parse receipt message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if rm.TenantID != "" {
		tenantID = rm.TenantID
	}

	var outcome *domain.ValidationOutcome
	var receipt *domain.Receipt

	switch {
	case len(rm.EngineResults) > 0:
		outcome, receipt = w.validator.ValidateEngineResults(ctx, tenantID, rm.EngineResults, rm.ImageMeta)
		if rm.ReceiptID != "" {
			receipt.ID = rm.ReceiptID
			outcome.ReceiptID = rm.ReceiptID
		}

	case rm.Data != nil:
		receiptID := rm.ReceiptID
		if receiptID == "" {
			receiptID = uuid.New().String()
		}
		receipt = &domain.Receipt{
			ID:        receiptID,
			TenantID:  tenantID,
			Data:      *rm.Data,
			ImageMeta: rm.ImageMeta,
			CreatedAt: start,
		}
		outcome = w.validator.Validate(ctx, receipt)

	default:
		slog.Error("receipt message carries no data",
			"message_id", msg.ID,
			"tenant_id", tenantID,
		)
		return nil
	}

	// Record the resolved profile so stored receipts are queryable per entity.
	if p := w.validator.Table().Resolve(receipt.Data.Entidad); p != nil {
		receipt.EntityID = p.ID
	}

	if w.repo != nil {
		if err := w.repo.SaveReceipt(ctx, tenantID, receipt); err != nil {
			slog.Error("failed to save receipt",
				"receipt_id", receipt.ID,
				"error", err,
			)
		}
		if err := w.repo.SaveValidation(ctx, tenantID, outcome); err != nil {
			slog.Error("failed to save validation",
				"receipt_id", receipt.ID,
				"error", err,
			)
		}
	}

	resultPayload, _ := json.Marshal(outcome)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicValidationCompleted, resultPayload); err != nil {
		slog.Error("failed to publish validation outcome",
			"receipt_id", receipt.ID,
			"error", err,
		)
	}

	if !outcome.AutoApproved() {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicReviewAlert, resultPayload); err != nil {
			slog.Error("failed to publish review alert",
				"receipt_id", receipt.ID,
				"error", err,
			)
		}
	}

	slog.Info("receipt processed",
		"receipt_id", receipt.ID,
		"tenant_id", tenantID,
		"status", outcome.Status,
		"score", outcome.Score,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
