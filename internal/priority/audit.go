// Package priority scores mutation urgency from content-aware rules and
// records every scoring decision in an append-only audit log.
package priority

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relieflab/fieldsync/internal/models"
	"github.com/relieflab/fieldsync/internal/uuid"
)

// EventSink forwards audit entries for off-device retention.
type EventSink interface {
	AppendEvent(ctx context.Context, event *models.PriorityEvent) error
}

// DefaultAuditWindow bounds the in-memory audit history.
const DefaultAuditWindow = 500

// AuditLog is the append-only record of priority decisions. Entries are
// never mutated after creation; the in-memory window is bounded and
// discards oldest-first. Forwarding to the sink is best-effort.
type AuditLog struct {
	mu     sync.Mutex
	events []models.PriorityEvent
	max    int
	sink   EventSink
	logger *zap.Logger
}

// NewAuditLog creates an AuditLog. sink may be nil for local-only use.
func NewAuditLog(window int, sink EventSink, logger *zap.Logger) *AuditLog {
	if window <= 0 {
		window = DefaultAuditWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLog{
		max:    window,
		sink:   sink,
		logger: logger,
	}
}

// Append records an event, assigning id and timestamp when unset.
func (l *AuditLog) Append(event models.PriorityEvent) {
	if event.ID == "" {
		event.ID = uuid.New()
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	l.mu.Lock()
	l.events = append(l.events, event)
	if len(l.events) > l.max {
		l.events = l.events[len(l.events)-l.max:]
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := sink.AppendEvent(ctx, &event); err != nil {
				l.logger.Warn("failed to forward priority event",
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}()
	}
}

// Events returns a copy of the retained audit window, oldest first.
func (l *AuditLog) Events() []models.PriorityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.PriorityEvent, len(l.events))
	copy(out, l.events)
	return out
}

// Len returns the number of retained events.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
