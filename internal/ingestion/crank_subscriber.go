package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"FeeRouter/internal/engine"
	"FeeRouter/internal/persistence"
	"FeeRouter/internal/service"
	"FeeRouter/internal/state"
)

// CrankRequest is the wire form of a crank trigger on fee.router.crank.>.
// External schedulers (a cron, a keeper bot) publish these instead of
// calling the HTTP API directly.
type CrankRequest struct {
	Vault     string `json:"vault"`
	PageStart uint32 `json:"page_start"`
	PageSize  uint32 `json:"page_size"`
}

// CrankSubscriber consumes crank triggers from JetStream and drives the
// crank service. Deterministic rejections (bad sequence, window not
// elapsed, malformed request) are ACKed so the broker does not redeliver a
// request that can never succeed; transient failures are NAKed for
// redelivery.
type CrankSubscriber struct {
	js       jetstream.JetStream
	svc      *service.CrankService
	consumer jetstream.ConsumeContext
}

func NewCrankSubscriber(js jetstream.JetStream, svc *service.CrankService) *CrankSubscriber {
	return &CrankSubscriber{
		js:  js,
		svc: svc,
	}
}

// Subscribe creates the durable consumer and starts processing triggers.
// The consumer uses explicit ACK, max_deliver=5, ack_wait=30s.
func (cs *CrankSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := cs.js.CreateOrUpdateConsumer(ctx, "FEE_ROUTER_CRANK", jetstream.ConsumerConfig{
		Durable:       "fee-router-crank",
		FilterSubject: "fee.router.crank.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create crank consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		cs.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume crank triggers: %w", err)
	}

	cs.consumer = cc
	log.Println("INFO: subscribed to fee.router.crank.> (consumer=fee-router-crank)")
	return nil
}

func (cs *CrankSubscriber) handle(ctx context.Context, msg jetstream.Msg) {
	var req CrankRequest
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		log.Printf("WARN: malformed crank request on %s: %v", msg.Subject(), err)
		msg.Ack()
		return
	}

	vault, err := state.AddressFromBase58(req.Vault)
	if err != nil {
		log.Printf("WARN: crank request with bad vault %q: %v", req.Vault, err)
		msg.Ack()
		return
	}

	_, err = cs.svc.Crank(ctx, vault, req.PageStart, req.PageSize)
	switch {
	case err == nil:
		msg.Ack()
	case isTerminal(err):
		// Redelivery would hit the same rejection
		log.Printf("INFO: crank rejected vault=%s page=%d: %v", req.Vault, req.PageStart, err)
		msg.Ack()
	default:
		log.Printf("WARN: crank failed vault=%s page=%d, will retry: %v", req.Vault, req.PageStart, err)
		msg.Nak()
	}
}

// isTerminal reports whether a crank error is deterministic for this
// request. CAS conflicts and infrastructure errors are retriable.
func isTerminal(err error) bool {
	return errors.Is(err, engine.ErrInvalidPaginationSequence) ||
		errors.Is(err, engine.ErrDistributionWindowNotElapsed) ||
		errors.Is(err, engine.ErrInvalidPagination) ||
		errors.Is(err, engine.ErrAccountCountMismatch) ||
		errors.Is(err, persistence.ErrNotFound)
}

// EnsureCrankStream creates the crank trigger stream.
func EnsureCrankStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "FEE_ROUTER_CRANK",
		Subjects:  []string{"fee.router.crank.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create crank stream: %w", err)
	}
	log.Println("INFO: ensured stream FEE_ROUTER_CRANK")
	return nil
}

// Stop gracefully stops the consumer.
func (cs *CrankSubscriber) Stop() {
	if cs.consumer != nil {
		cs.consumer.Stop()
	}
	log.Println("INFO: crank subscriber stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
