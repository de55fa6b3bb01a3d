package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/domain/event"
)

const insertTimeout = 5 * time.Second

// EventSink appends every bus event to the events table. Rows are
// append-only; nothing in the system reads them back at runtime.
type EventSink struct {
	pool   *pgxpool.Pool
	log    *slog.Logger
	cancel func()
}

// NewEventSink creates a sink writing to the given pool.
func NewEventSink(pool *pgxpool.Pool, log *slog.Logger) *EventSink {
	return &EventSink{pool: pool, log: log}
}

// Attach subscribes the sink to every event on the bus.
func (s *EventSink) Attach(b *bus.Bus) {
	s.cancel = b.Subscribe("postgres.sink", s.record, event.TypeWildcard)
}

// Detach unsubscribes the sink. Safe to call more than once.
func (s *EventSink) Detach() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *EventSink) record(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	var correlation *string
	if ev.CorrelationID != "" {
		correlation = &ev.CorrelationID
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO events (id, type, priority, source, payload, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, string(ev.Type), int(ev.Priority), ev.Source, payload, correlation, ev.Timestamp,
	)
	if err != nil {
		s.log.Error("event insert failed", "event_id", ev.ID, "error", err)
		return fmt.Errorf("insert event: %w", err)
	}

	return nil
}
