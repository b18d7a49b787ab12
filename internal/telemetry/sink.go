package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Event kinds accepted by the sink.
const (
	EventPathValidationFailed = "path_validation_failed"
	EventAuthFailure          = "auth_failure"
	EventTierRefusal          = "tier_refusal"
	EventUpstreamFallback     = "upstream_fallback"
	EventPerfBudgetBreach     = "perf_budget_breach"
	EventToolCall             = "tool_call"
)

const defaultBufferSize = 256

// Event is a structured violation or performance record. Fields carry coarse
// tags only; producers must never put full paths or credentials in Detail.
type Event struct {
	Kind   string
	Reason string
	Tool   string
	Detail string
}

// Sink accepts events without ever blocking the producer. Counters are
// bumped synchronously (they are lock-free); the log fan-out runs on a
// buffered channel and drops events when the buffer is full.
type Sink struct {
	logger *zap.Logger
	events chan Event

	registry *prometheus.Registry
	counters *prometheus.CounterVec
	dropped  prometheus.Counter

	closeOnce sync.Once
	done      chan struct{}
}

// NewSink creates a telemetry sink backed by its own prometheus registry.
func NewSink(logger *zap.Logger) *Sink {
	registry := prometheus.NewRegistry()

	counters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snapback_events_total",
		Help: "Total telemetry events by kind and reason",
	}, []string{"kind", "reason"})

	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "snapback_events_dropped_total",
		Help: "Telemetry events dropped because the sink buffer was full",
	})

	registry.MustRegister(counters, dropped)

	s := &Sink{
		logger:   logger,
		events:   make(chan Event, defaultBufferSize),
		registry: registry,
		counters: counters,
		dropped:  dropped,
		done:     make(chan struct{}),
	}
	go s.drain()
	return s
}

// Record accepts an event. It never blocks: when the log buffer is full the
// event is counted and the log line is discarded.
func (s *Sink) Record(ev Event) {
	s.counters.WithLabelValues(ev.Kind, ev.Reason).Inc()

	select {
	case s.events <- ev:
	default:
		s.dropped.Inc()
	}
}

// Registry exposes the sink's prometheus registry.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Counter returns the counter for a kind/reason pair. Test helper.
func (s *Sink) Counter(kind, reason string) prometheus.Counter {
	return s.counters.WithLabelValues(kind, reason)
}

func (s *Sink) drain() {
	for {
		select {
		case ev := <-s.events:
			s.logger.Debug("telemetry event",
				zap.String("kind", ev.Kind),
				zap.String("reason", ev.Reason),
				zap.String("tool", ev.Tool),
				zap.String("detail", ev.Detail))
		case <-s.done:
			return
		}
	}
}

// Close stops the log fan-out goroutine. Pending buffered events are dropped.
func (s *Sink) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}
