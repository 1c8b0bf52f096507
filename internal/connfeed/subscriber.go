// Package connfeed consumes the connection-provisioning subsystem's status
// feed. Status changes drive the poller lifecycle: polling runs only while a
// connection is connected.
package connfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/model"
)

const (
	Exchange   = "connections"
	RoutingKey = "connection.status.v1"
	queueName  = "chatsync.connection-status"

	dialAttempts = 10
	dialBaseWait = time.Second
	maxDialWait  = 60 * time.Second
)

// Envelope is the versioned wire shape on the feed.
type Envelope struct {
	Meta struct {
		ID   string    `json:"id"`
		Time time.Time `json:"time"`
		Type string    `json:"type"`
	} `json:"meta"`
	Data StatusUpdate `json:"data"`
}

type StatusUpdate struct {
	ConnectionID string                 `json:"connection_id"`
	TenantID     string                 `json:"tenant_id"`
	Status       model.ConnectionStatus `json:"status"`
}

// Handler applies one status update. Returning an error requeues the
// delivery once more before it is dropped.
type Handler interface {
	HandleStatus(ctx context.Context, update StatusUpdate) error
}

type Subscriber struct {
	url     string
	handler Handler
}

func NewSubscriber(url string, handler Handler) *Subscriber {
	return &Subscriber{url: url, handler: handler}
}

// Run consumes the feed until ctx is cancelled, re-dialing with backoff when
// the broker connection drops.
func (s *Subscriber) Run(ctx context.Context) {
	for ctx.Err() == nil {
		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("connection feed interrupted, reconnecting")
		}
	}
}

func (s *Subscriber) consume(ctx context.Context) error {
	conn, err := dialWithRetry(ctx, s.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	queue, err := ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, RoutingKey, Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	deliveries, err := ch.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	log.Info().Str("queue", queue.Name).Str("routingKey", RoutingKey).Msg("connection feed subscribed")

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			s.dispatch(ctx, delivery)
		}
	}
}

func (s *Subscriber) dispatch(ctx context.Context, delivery amqp.Delivery) {
	update, err := Decode(delivery.Body)
	if err != nil {
		log.Warn().Err(err).Str("messageId", delivery.MessageId).Msg("connection feed: bad envelope, dropping")
		_ = delivery.Nack(false, false)
		return
	}

	if err := s.handler.HandleStatus(ctx, update); err != nil {
		log.Error().
			Err(err).
			Str("connectionId", update.ConnectionID).
			Bool("redelivered", delivery.Redelivered).
			Msg("connection feed: handler failed")
		_ = delivery.Nack(false, !delivery.Redelivered)
		return
	}

	_ = delivery.Ack(false)
}

// Decode parses and validates a feed envelope.
func Decode(body []byte) (StatusUpdate, error) {
	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return StatusUpdate{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if envelope.Data.ConnectionID == "" {
		return StatusUpdate{}, fmt.Errorf("envelope missing connection_id")
	}
	switch envelope.Data.Status {
	case model.ConnectionConnected, model.ConnectionDisconnected, model.ConnectionAwaitingScan:
	default:
		return StatusUpdate{}, fmt.Errorf("unknown connection status %q", envelope.Data.Status)
	}
	return envelope.Data, nil
}

// dialWithRetry connects with capped exponential backoff, respecting ctx for
// shutdown.
func dialWithRetry(ctx context.Context, url string) (*amqp.Connection, error) {
	var lastErr error

	for i := 1; i <= dialAttempts; i++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			if i > 1 {
				log.Info().Int("attempt", i).Msg("amqp connected")
			}
			return conn, nil
		}
		lastErr = err

		sleep := dialBaseWait * time.Duration(math.Pow(2, float64(i-1)))
		if sleep > maxDialWait {
			sleep = maxDialWait
		}

		log.Warn().Err(err).Int("attempt", i).Dur("sleep", sleep).Msg("amqp dial failed")

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("failed to connect to amqp after %d attempts: %w", dialAttempts, lastErr)
}
