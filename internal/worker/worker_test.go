package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/condupay/comprobante/internal/bankrules"
	"github.com/condupay/comprobante/internal/bus"
	"github.com/condupay/comprobante/internal/domain"
	"github.com/condupay/comprobante/internal/validator"
)

var testNow = time.Date(2025, 1, 18, 10, 0, 0, 0, time.UTC)

type fakeRepo struct {
	domain.Repository

	mu          sync.Mutex
	receipts    []*domain.Receipt
	validations []*domain.ValidationOutcome
}

func (r *fakeRepo) SaveReceipt(ctx context.Context, tenantID string, receipt *domain.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, receipt)
	return nil
}

func (r *fakeRepo) SaveValidation(ctx context.Context, tenantID string, outcome *domain.ValidationOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.validations = append(r.validations, outcome)
	return nil
}

func newTestValidator(t *testing.T) *validator.Validator {
	t.Helper()
	table, err := bankrules.NewTable(bankrules.DefaultProfiles())
	if err != nil {
		t.Fatalf("failed to build entity table: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := validator.New(domain.DefaultScoringConfig(), domain.DefaultAnomalyConfig(), table, logger)
	return v.WithClock(func() time.Time { return testNow })
}

func collect(t *testing.T, b domain.EventBus, tenantID, topic string) <-chan *domain.ValidationOutcome {
	t.Helper()
	ch := make(chan *domain.ValidationOutcome, 10)
	_, err := b.Subscribe(context.Background(), tenantID, topic, func(ctx context.Context, msg *domain.Message) error {
		var outcome domain.ValidationOutcome
		if err := json.Unmarshal(msg.Payload, &outcome); err != nil {
			t.Errorf("bad outcome payload: %v", err)
			return err
		}
		ch <- &outcome
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return ch
}

func waitOutcome(t *testing.T, ch <-chan *domain.ValidationOutcome) *domain.ValidationOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for outcome")
		return nil
	}
}

func TestWorkerProcessesCleanReceipt(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := &fakeRepo{}
	w := NewWorker(eventBus, repo, newTestValidator(t))
	if err := w.Start(Config{TenantIDs: []string{"tenant-1"}}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer w.Stop()

	completed := collect(t, eventBus, "tenant-1", domain.TopicValidationCompleted)
	alerts := collect(t, eventBus, "tenant-1", domain.TopicReviewAlert)

	time.Sleep(10 * time.Millisecond)

	payload, _ := json.Marshal(ReceiptMessage{
		ReceiptID: "rcpt-async-1",
		TenantID:  "tenant-1",
		Data: &domain.ExtractedReceiptData{
			Valor:           "250000",
			Fecha:           "2025-01-15",
			Hora:            "14:30",
			Entidad:         "Bancolombia",
			Referencia:      "1234567890",
			TipoComprobante: domain.TipoWalletTransfer,
		},
	})
	if err := eventBus.Publish(context.Background(), "tenant-1", domain.TopicReceiptExtracted, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	outcome := waitOutcome(t, completed)
	if outcome.ReceiptID != "rcpt-async-1" {
		t.Errorf("expected receipt ID preserved, got %q", outcome.ReceiptID)
	}
	if !outcome.AutoApproved() {
		t.Errorf("expected auto-approval, got status=%s action=%s", outcome.Status, outcome.Action)
	}

	// Clean receipts never reach the review alert topic.
	select {
	case o := <-alerts:
		t.Errorf("unexpected review alert for clean receipt: %+v", o)
	case <-time.After(100 * time.Millisecond):
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.receipts) != 1 || len(repo.validations) != 1 {
		t.Fatalf("expected 1 receipt and 1 validation saved, got %d and %d", len(repo.receipts), len(repo.validations))
	}
	if repo.receipts[0].EntityID != "bancolombia" {
		t.Errorf("expected resolved entity ID on stored receipt, got %q", repo.receipts[0].EntityID)
	}
}

func TestWorkerPublishesReviewAlert(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, nil, newTestValidator(t))
	if err := w.Start(Config{TenantIDs: []string{"tenant-1"}}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer w.Stop()

	alerts := collect(t, eventBus, "tenant-1", domain.TopicReviewAlert)
	time.Sleep(10 * time.Millisecond)

	// Garbled amount and undersized reference keep the score below the
	// auto-approve threshold.
	payload, _ := json.Marshal(ReceiptMessage{
		TenantID: "tenant-1",
		Data: &domain.ExtractedReceiptData{
			Valor:      "25O000",
			Fecha:      "2025-13-32",
			Entidad:    "Bancolombia",
			Referencia: "123",
		},
	})
	eventBus.Publish(context.Background(), "tenant-1", domain.TopicReceiptExtracted, payload)

	outcome := waitOutcome(t, alerts)
	if outcome.AutoApproved() {
		t.Errorf("alerted outcome must not be auto-approved: %+v", outcome)
	}
	if outcome.Score >= 85 {
		t.Errorf("expected degraded score, got %d", outcome.Score)
	}
	if outcome.ReceiptID == "" {
		t.Error("expected a generated receipt ID")
	}
}

func TestWorkerAggregatesEngineResults(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := &fakeRepo{}
	w := NewWorker(eventBus, repo, newTestValidator(t))
	if err := w.Start(Config{TenantIDs: []string{"tenant-1"}}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer w.Stop()

	completed := collect(t, eventBus, "tenant-1", domain.TopicValidationCompleted)
	time.Sleep(10 * time.Millisecond)

	payload, _ := json.Marshal(ReceiptMessage{
		ReceiptID: "rcpt-multi",
		TenantID:  "tenant-1",
		EngineResults: []domain.EngineResult{
			{
				EngineID:   "tesseract",
				Confidence: 90,
				Fields: domain.ExtractedReceiptData{
					Valor:   "250000",
					Fecha:   "2025-01-15",
					Entidad: "Bancolombia",
				},
			},
			{
				EngineID:   "vision",
				Confidence: 70,
				Fields: domain.ExtractedReceiptData{
					Hora:       "14:30",
					Referencia: "1234567890",
				},
			},
		},
	})
	eventBus.Publish(context.Background(), "tenant-1", domain.TopicReceiptExtracted, payload)

	outcome := waitOutcome(t, completed)
	if outcome.ReceiptID != "rcpt-multi" {
		t.Errorf("expected receipt ID preserved, got %q", outcome.ReceiptID)
	}
	if outcome.Provenance["referencia"] != "vision" {
		t.Errorf("expected provenance from aggregation, got %v", outcome.Provenance)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.receipts) != 1 {
		t.Fatalf("expected fused receipt saved, got %d", len(repo.receipts))
	}
	if repo.receipts[0].ID != "rcpt-multi" {
		t.Errorf("expected stored receipt to carry the message ID, got %q", repo.receipts[0].ID)
	}
}

func TestWorkerIgnoresEmptyMessage(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := &fakeRepo{}
	w := NewWorker(eventBus, repo, newTestValidator(t))
	if err := w.Start(Config{TenantIDs: []string{"tenant-1"}}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer w.Stop()

	eventBus.Publish(context.Background(), "tenant-1", domain.TopicReceiptExtracted, []byte(`{"tenantId":"tenant-1"}`))
	time.Sleep(50 * time.Millisecond)

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.receipts) != 0 {
		t.Errorf("empty message must not persist anything, got %d receipts", len(repo.receipts))
	}
}

func TestWorkerStop(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	w := NewWorker(eventBus, nil, newTestValidator(t))
	if err := w.Start(Config{TenantIDs: []string{"tenant-1", "tenant-2"}}); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if w.GetStats().SubscriptionCount != 0 {
		t.Errorf("expected no subscriptions after stop")
	}
}
