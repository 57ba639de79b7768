package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Subscriber delivers portfolio events from JetStream to live consumers.
type Subscriber struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSubscriber connects to NATS for consuming portfolio events.
func NewSubscriber(natsURL string, logger *slog.Logger) (*Subscriber, error) {
	nc, js, err := connect(natsURL, "folio-subscriber")
	if err != nil {
		return nil, err
	}

	logger.Info("NATS subscriber initialized", "nats_url", natsURL)

	return &Subscriber{nc: nc, js: js, logger: logger}, nil
}

// Subscribe streams new events for account (all accounts if empty) until ctx
// is done. The returned channel is closed when the subscription ends.
func (s *Subscriber) Subscribe(ctx context.Context, account string) (<-chan *PortfolioEvent, error) {
	// Ephemeral consumer, removed by the server once inactive.
	cons, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		FilterSubject: Subject(account),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	out := make(chan *PortfolioEvent, 10)
	var (
		mu     sync.Mutex
		closed bool
	)
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		defer func() { _ = msg.Ack() }()

		var event PortfolioEvent
		if err := json.Unmarshal(msg.Data(), &event); err != nil {
			s.logger.WarnContext(ctx, "failed to unmarshal portfolio event",
				"subject", msg.Subject(),
				"error", err,
			)
			return
		}

		// Handlers may still run after Stop; never send on a closed channel.
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- &event:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming messages: %w", err)
	}

	go func() {
		<-ctx.Done()
		cc.Stop()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	return out, nil
}

// Close closes the NATS connection.
func (s *Subscriber) Close() error {
	if s.nc != nil {
		s.nc.Close()
		s.logger.Info("NATS subscriber closed")
	}
	return nil
}
