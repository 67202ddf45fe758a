package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/toolbridge/toolbridge/internal/domain/usage"
)

// defaultEventBuffer is the usage channel capacity. A full channel drops
// the event rather than blocking a request handler.
const defaultEventBuffer = 1024

// statsWriteTimeout bounds a single usage-event write.
const statsWriteTimeout = 5 * time.Second

// StatsService records usage events without ever blocking or failing the
// caller-visible response. Events go through a buffered channel to a single
// background worker that persists them and bumps the prometheus counters;
// when the buffer is full the event is dropped and counted.
type StatsService struct {
	writer usage.Writer
	logger *slog.Logger

	events chan *usage.Event
	done   chan struct{}

	closeOnce sync.Once
	dropCount atomic.Int64

	eventsTotal *prometheus.CounterVec
	dropsTotal  prometheus.Counter
}

// StatsOption configures the stats service.
type StatsOption func(*StatsService)

// WithEventBuffer overrides the usage event channel capacity.
func WithEventBuffer(n int) StatsOption {
	return func(s *StatsService) {
		if n > 0 {
			s.events = make(chan *usage.Event, n)
		}
	}
}

// NewStatsService creates the stats service and registers its metrics.
func NewStatsService(writer usage.Writer, reg prometheus.Registerer, logger *slog.Logger, opts ...StatsOption) *StatsService {
	s := &StatsService{
		writer: writer,
		logger: logger,
		events: make(chan *usage.Event, defaultEventBuffer),
		done:   make(chan struct{}),
		eventsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolbridge",
				Name:      "usage_events_total",
				Help:      "Total usage events recorded",
			},
			[]string{"outcome"}, // outcome=success/error
		),
		dropsTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "toolbridge",
				Name:      "usage_events_dropped_total",
				Help:      "Usage events dropped due to backpressure",
			},
		),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.worker()
	return s
}

// Record queues a usage event. It never blocks: a full buffer drops the
// event and increments the drop counter.
func (s *StatsService) Record(ev *usage.Event) {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	select {
	case s.events <- ev:
	default:
		drops := s.dropCount.Add(1)
		s.dropsTotal.Inc()
		s.logger.Warn("usage event dropped", "drops", drops)
	}
}

// DroppedEvents returns the number of events dropped so far.
func (s *StatsService) DroppedEvents() int64 {
	return s.dropCount.Load()
}

// Close drains queued events and stops the worker.
func (s *StatsService) Close() {
	s.closeOnce.Do(func() {
		close(s.events)
		<-s.done
	})
}

// worker persists events one at a time. Persistence failures are logged
// and never propagate.
func (s *StatsService) worker() {
	defer close(s.done)
	for ev := range s.events {
		outcome := "success"
		if !ev.Success {
			outcome = "error"
		}
		s.eventsTotal.WithLabelValues(outcome).Inc()

		ctx, cancel := context.WithTimeout(context.Background(), statsWriteTimeout)
		if err := s.writer.SaveUsageEvent(ctx, ev); err != nil {
			s.logger.Warn("failed to persist usage event",
				"tool_id", ev.ToolID,
				"server_id", ev.ServerID,
				"error", err,
			)
		}
		cancel()
	}
}
