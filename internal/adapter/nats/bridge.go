// Package nats bridges bus events out to a NATS JetStream stream so
// external consumers can follow the system without touching the
// in-process bus.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arbiterhq/sentinel/internal/bus"
	"github.com/arbiterhq/sentinel/internal/domain/event"
)

const streamName = "SENTINEL"

// Bridge republishes every bus event to `{prefix}.{type}` subjects.
type Bridge struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
	log    *slog.Logger

	cancelSub func()
}

// Connect establishes the NATS connection and ensures the stream
// covers the bridge's subject space.
func Connect(ctx context.Context, url, subjectPrefix string, log *slog.Logger) (*Bridge, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	log.Info("nats connected", "url", url, "stream", streamName)
	return &Bridge{
		nc:     nc,
		js:     js,
		prefix: subjectPrefix,
		log:    log.With("component", "nats"),
	}, nil
}

// Attach subscribes the bridge to every bus event.
func (b *Bridge) Attach(eventBus *bus.Bus) {
	b.cancelSub = eventBus.Subscribe("nats.egress", b.forward)
}

// forward republishes one event. Failures are returned so the bus
// records them as handler faults; delivery to NATS is best effort.
func (b *Bridge) forward(ctx context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}
	subject := fmt.Sprintf("%s.%s", b.prefix, ev.Type)
	if _, err := b.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Close detaches from the bus and shuts the connection down.
func (b *Bridge) Close() error {
	if b.cancelSub != nil {
		b.cancelSub()
		b.cancelSub = nil
	}
	b.nc.Close()
	return nil
}
