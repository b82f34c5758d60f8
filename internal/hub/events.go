package hub

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/omnisocial/omnisocial/internal/models"
)

// EventType names a lifecycle event emitted by the hub.
type EventType string

const (
	EventConnected         EventType = "platform:connected"
	EventDisconnected      EventType = "platform:disconnected"
	EventError             EventType = "platform:error"
	EventHealthCheck       EventType = "platform:health_check"
	EventContentReceived   EventType = "content:received"
	EventContentPosted     EventType = "content:posted"
	EventRateLimitExceeded EventType = "rate_limit:exceeded"
)

// Event is the plain-data payload delivered to the event sink. Only the
// fields relevant to the event type are populated.
type Event struct {
	ID       string                 `json:"id"`
	Type     EventType              `json:"type"`
	Platform models.Platform        `json:"platform"`
	UserID   string                 `json:"userId,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Content  *models.ContentItem    `json:"content,omitempty"`
	PostID   string                 `json:"postId,omitempty"`
	Status   *models.PlatformStatus `json:"status,omitempty"`
	ResetAt  time.Time              `json:"resetAt,omitzero"`
	At       time.Time              `json:"at"`
}

// EventSink receives lifecycle events. Implementations must not block the
// hub for long; slow transports should buffer or drop.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the EventSink interface.
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// MultiSink fans one event out to several sinks.
type MultiSink []EventSink

func (m MultiSink) Publish(e Event) {
	for _, s := range m {
		s.Publish(e)
	}
}

// BufferedSink decouples the hub from slow event consumers with a bounded
// channel. When the consumer lags behind the buffer, events are dropped
// and counted rather than blocking the emitter.
type BufferedSink struct {
	ch     chan Event
	logger *slog.Logger
}

// NewBufferedSink builds a sink with the given buffer size.
func NewBufferedSink(size int, logger *slog.Logger) *BufferedSink {
	if size <= 0 {
		size = 256
	}
	return &BufferedSink{
		ch:     make(chan Event, size),
		logger: logger,
	}
}

// Publish enqueues the event, dropping it when the buffer is full.
func (s *BufferedSink) Publish(e Event) {
	select {
	case s.ch <- e:
	default:
		s.logger.Warn("event dropped, sink buffer full",
			"type", string(e.Type),
			"platform", e.Platform.String())
	}
}

// Events exposes the consumer side of the buffer.
func (s *BufferedSink) Events() <-chan Event {
	return s.ch
}

// Close releases the buffer. Publish must not be called afterwards.
func (s *BufferedSink) Close() {
	close(s.ch)
}

func newEvent(t EventType, p models.Platform) Event {
	return Event{
		ID:       uuid.NewString(),
		Type:     t,
		Platform: p,
		At:       time.Now(),
	}
}
