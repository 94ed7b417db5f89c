package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event is the structured record shipped for every state transition,
// violation, and override.
type Event struct {
	EventType string            `json:"event_type"`
	Severity  Severity          `json:"severity"`
	Actor     string            `json:"actor"`
	Subject   string            `json:"subject,omitempty"`
	RiskScore int               `json:"risk_score,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Emitter is the fire-and-forget audit sink. Emit must never block the
// caller's state transition and its failure must never roll one back.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Sink receives events for durable delivery. Implementations belong to the
// surrounding system (SIEM shipper, database writer).
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// AsyncEmitter buffers events and hands them to a Sink on a background
// goroutine. A full buffer drops the event and logs it locally rather than
// stalling the transition that produced it.
type AsyncEmitter struct {
	sink   Sink
	logger *zap.Logger
	events chan Event
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAsyncEmitter creates an emitter with the given buffer size.
func NewAsyncEmitter(sink Sink, logger *zap.Logger, buffer int) *AsyncEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncEmitter{
		sink:   sink,
		logger: logger,
		events: make(chan Event, buffer),
	}
}

// Start begins draining the buffer. On ctx cancellation any events already
// queued are still delivered before the goroutine exits; audit records must
// not vanish on an orderly shutdown.
func (e *AsyncEmitter) Start(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			select {
			case ev := <-e.events:
				e.write(ctx, ev)
			case <-ctx.Done():
				for {
					select {
					case ev := <-e.events:
						// The run context is gone; the final flush gets its
						// own so the sink can still deliver.
						e.write(context.Background(), ev)
					default:
						return
					}
				}
			}
		}
	}()
}

func (e *AsyncEmitter) write(ctx context.Context, ev Event) {
	if err := e.sink.Write(ctx, ev); err != nil {
		e.logger.Warn("audit sink delivery failed",
			zap.String("event_type", ev.EventType),
			zap.String("actor", ev.Actor),
			zap.Error(err))
	}
}

// Emit queues the event without blocking.
func (e *AsyncEmitter) Emit(ctx context.Context, event Event) {
	select {
	case e.events <- event:
	default:
		e.logger.Warn("audit buffer full, event dropped",
			zap.String("event_type", event.EventType),
			zap.String("actor", event.Actor))
	}
}

// Close waits for the drain goroutine to finish.
func (e *AsyncEmitter) Close() {
	e.once.Do(func() { e.wg.Wait() })
}

// LogSink writes events to the process log. The default sink when no SIEM
// transport is wired in.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink returns a Sink backed by the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, event Event) error {
	s.logger.Info("audit event",
		zap.String("event_type", event.EventType),
		zap.String("severity", string(event.Severity)),
		zap.String("actor", event.Actor),
		zap.String("subject", event.Subject),
		zap.Int("risk_score", event.RiskScore),
		zap.Strings("tags", event.Tags),
		zap.Any("details", event.Details),
		zap.Time("timestamp", event.Timestamp))
	return nil
}

// NopEmitter discards events. Useful in tests that do not assert on audit.
type NopEmitter struct{}

func (NopEmitter) Emit(context.Context, Event) {}

// Recorder captures events in memory for test assertions.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, event)
}

// ByType returns recorded events matching the given type.
func (r *Recorder) ByType(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.Events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}
