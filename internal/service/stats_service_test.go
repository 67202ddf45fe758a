package service

import (
	"context"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/goleak"

	"github.com/toolbridge/toolbridge/internal/domain/usage"
)

// blockingWriter holds every write until released, to force backpressure.
type blockingWriter struct {
	mu      sync.Mutex
	events  []*usage.Event
	release chan struct{}
}

func (w *blockingWriter) SaveUsageEvent(ctx context.Context, ev *usage.Event) error {
	if w.release != nil {
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	return nil
}

func (w *blockingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

func TestStatsServicePersistsEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &blockingWriter{}
	svc := NewStatsService(w, prometheus.NewRegistry(), discardLogger())

	for i := 0; i < 5; i++ {
		svc.Record(&usage.Event{ToolID: "tool-1", ServerID: "srv-1", Success: i%2 == 0, Status: 200})
	}
	svc.Close()

	if got := w.count(); got != 5 {
		t.Errorf("persisted %d events, want 5", got)
	}
	for _, ev := range w.events {
		if ev.CreatedAt.IsZero() {
			t.Error("Record must stamp CreatedAt")
		}
	}
	if svc.DroppedEvents() != 0 {
		t.Errorf("DroppedEvents = %d, want 0", svc.DroppedEvents())
	}
}

func TestStatsServiceDropsOnFullBuffer(t *testing.T) {
	defer goleak.VerifyNone(t)

	w := &blockingWriter{release: make(chan struct{})}
	svc := NewStatsService(w, prometheus.NewRegistry(), discardLogger(), WithEventBuffer(1))

	// The worker blocks on the first write; one more fits the buffer and
	// the rest are dropped.
	for i := 0; i < 10; i++ {
		svc.Record(&usage.Event{Success: true})
	}
	if svc.DroppedEvents() == 0 {
		t.Error("full buffer must drop events")
	}

	close(w.release)
	svc.Close()

	if got := svc.DroppedEvents() + int64(w.count()); got != 10 {
		t.Errorf("dropped + persisted = %d, want 10", got)
	}
}

func TestStatsServiceCloseIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := NewStatsService(&blockingWriter{}, prometheus.NewRegistry(), discardLogger())
	svc.Close()
	svc.Close()
}
