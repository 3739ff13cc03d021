package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"FeeRouter/internal/event"
	"FeeRouter/internal/projection"
)

// Envelope wraps a domain event for the wire.
// Subjects follow the pattern: fee.router.events.{event_type}.{vault}
type Envelope struct {
	EventType string      `json:"event_type"`
	Vault     string      `json:"vault"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NATSPublisher publishes committed domain events to JetStream and tees
// them into the archive channel. Implements service.EventPublisher.
// Events are published only after the page is durable in Postgres, so a
// publish failure loses a notification, never money.
type NATSPublisher struct {
	js          jetstream.JetStream
	archiveChan chan<- event.Event
	history     *projection.DayHistory
}

func NewNATSPublisher(js jetstream.JetStream, archiveChan chan<- event.Event, history *projection.DayHistory) *NATSPublisher {
	return &NATSPublisher{
		js:          js,
		archiveChan: archiveChan,
		history:     history,
	}
}

// Publish sends one event. The archive send is blocking: the archiver
// draining too slowly stalls publishing rather than dropping audit rows.
func (p *NATSPublisher) Publish(ctx context.Context, evt event.Event) error {
	if p.history != nil {
		p.history.Observe(evt)
	}
	if p.archiveChan != nil {
		select {
		case p.archiveChan <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	env := Envelope{
		EventType: evt.EventType().String(),
		Vault:     evt.EventVault().String(),
		Payload:   evt,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("fee.router.events.%s.%s", env.EventType, env.Vault)
	_, err = p.js.Publish(ctx, subject, data)
	return err
}

// EnsureEventStream creates the outbound events stream.
func EnsureEventStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "FEE_ROUTER_EVENTS",
		Subjects:  []string{"fee.router.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create events stream: %w", err)
	}
	log.Println("INFO: ensured stream FEE_ROUTER_EVENTS")
	return nil
}
