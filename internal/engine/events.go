package engine

import (
	"time"

	"go.uber.org/zap"
)

// EventType enumerates the domain events the engine emits.
type EventType string

const (
	EventTradeOpened      EventType = "trade_opened"
	EventTradeClosed      EventType = "trade_closed"
	EventTradeCancelled   EventType = "trade_cancelled"
	EventProposalCreated  EventType = "proposal_created"
	EventProposalExecuted EventType = "proposal_executed"
	EventBreakerTripped   EventType = "breaker_tripped"
	EventBreakerReset     EventType = "breaker_reset"
)

// Event is one domain event. Fields carry event-specific detail.
type Event struct {
	Type   EventType
	Time   time.Time
	Actor  string
	Entity string
	Fields map[string]interface{}
}

// EventSink receives domain events. Delivery is best-effort and synchronous;
// sinks must not block.
type EventSink interface {
	Emit(Event)
}

// LogSink writes events to the structured log.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink creates a sink that logs every event at info level.
func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("events")}
}

// Emit implements EventSink.
func (s *LogSink) Emit(e Event) {
	fields := make([]zap.Field, 0, len(e.Fields)+3)
	fields = append(fields,
		zap.String("actor", e.Actor),
		zap.String("entity", e.Entity),
		zap.Time("at", e.Time))
	for k, v := range e.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	s.log.Info(string(e.Type), fields...)
}

// multiSink fans an event out to several sinks.
type multiSink []EventSink

func (m multiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
