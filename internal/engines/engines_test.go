package engines

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/condupay/comprobante/internal/domain"
)

type fakeEngine struct {
	id      string
	result  *domain.EngineResult
	err     error
	delay   time.Duration
	started *atomic.Int32
	peak    *atomic.Int32
}

func (f *fakeEngine) ID() string { return f.id }

func (f *fakeEngine) Extract(ctx context.Context, req *ExtractRequest) (*domain.EngineResult, error) {
	if f.started != nil {
		cur := f.started.Add(1)
		for {
			p := f.peak.Load()
			if cur <= p || f.peak.CompareAndSwap(p, cur) {
				break
			}
		}
		defer f.started.Add(-1)
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunCollectsInClientOrder(t *testing.T) {
	r := NewRunner([]Client{
		&fakeEngine{id: "tesseract", result: &domain.EngineResult{Confidence: 80}},
		&fakeEngine{id: "vision", result: &domain.EngineResult{Confidence: 90}},
		&fakeEngine{id: "textract", result: &domain.EngineResult{Confidence: 70}},
	}, testLogger())

	results := r.Run(context.Background(), &ExtractRequest{TenantID: "tenant-1"})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	want := []string{"tesseract", "vision", "textract"}
	for i, id := range want {
		if results[i].EngineID != id {
			t.Errorf("result %d: expected %s, got %s", i, id, results[i].EngineID)
		}
	}
}

func TestRunSkipsFailedEngine(t *testing.T) {
	r := NewRunner([]Client{
		&fakeEngine{id: "tesseract", result: &domain.EngineResult{Confidence: 80}},
		&fakeEngine{id: "broken", err: errors.New("model not loaded")},
	}, testLogger())

	results := r.Run(context.Background(), &ExtractRequest{})

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].EngineID != "tesseract" {
		t.Errorf("expected the healthy engine, got %s", results[0].EngineID)
	}
}

func TestRunTimesOutSlowEngine(t *testing.T) {
	r := NewRunner([]Client{
		&fakeEngine{id: "fast", result: &domain.EngineResult{Confidence: 80}},
		&fakeEngine{id: "slow", delay: time.Second, result: &domain.EngineResult{Confidence: 95}},
	}, testLogger()).WithTimeout(20 * time.Millisecond)

	results := r.Run(context.Background(), &ExtractRequest{})

	if len(results) != 1 {
		t.Fatalf("expected the slow engine dropped, got %d results", len(results))
	}
	if results[0].EngineID != "fast" {
		t.Errorf("expected fast engine, got %s", results[0].EngineID)
	}
}

func TestRunBoundsParallelism(t *testing.T) {
	var started, peak atomic.Int32
	clients := make([]Client, 6)
	for i := range clients {
		clients[i] = &fakeEngine{
			id:      "engine",
			delay:   10 * time.Millisecond,
			result:  &domain.EngineResult{Confidence: 50},
			started: &started,
			peak:    &peak,
		}
	}

	r := NewRunner(clients, testLogger()).WithMaxParallel(2)
	r.Run(context.Background(), &ExtractRequest{})

	if got := peak.Load(); got > 2 {
		t.Errorf("expected at most 2 engines in flight, observed %d", got)
	}
}

func TestRunNoEngines(t *testing.T) {
	r := NewRunner(nil, testLogger())
	if results := r.Run(context.Background(), &ExtractRequest{}); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}
