package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/model"
	redisclient "github.com/zapdesk/chatsync-server/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
)

// Event kinds carried on the realtime bus.
const (
	EventMessageInserted     = "message.inserted"
	EventConversationUpsert  = "conversation.upserted"
	EventConnectionStatusSet = "connection.status"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func MessageInserted(msg *model.Message) Event {
	return Event{Type: EventMessageInserted, Data: msg.ToEventData()}
}

func ConversationUpserted(conv *model.Conversation) Event {
	data, _ := json.Marshal(conv)
	return Event{Type: EventConversationUpsert, Data: data}
}

func ConnectionStatus(connectionID string, status model.ConnectionStatus) Event {
	data, _ := json.Marshal(map[string]any{
		"connectionId": connectionID,
		"status":       status,
	})
	return Event{Type: EventConnectionStatusSet, Data: data}
}

type Client struct {
	TenantID string
	Events   chan Event
	Done     chan struct{}
}

// streamFunc opens the pub/sub message stream for one tenant channel. The
// returned channel closes once ctx is cancelled.
type streamFunc func(ctx context.Context, channel string) <-chan *redis.Message

// Broker fans realtime events out to subscribed clients. Events travel
// through Redis pub/sub keyed by tenant so every server instance sees writes
// made on any of them. One consumer goroutine runs per tenant while that
// tenant has clients; it is cancelled when the last client leaves.
type Broker struct {
	redis   *redisclient.Client
	stream  streamFunc
	clients map[string]map[*Client]bool   // tenantID -> set of clients
	stops   map[string]context.CancelFunc // tenantID -> consumer cancel
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		redis:   redisClient,
		clients: make(map[string]map[*Client]bool),
		stops:   make(map[string]context.CancelFunc),
		ctx:     ctx,
		cancel:  cancel,
	}
	b.stream = b.redisStream
	return b
}

func (b *Broker) redisStream(ctx context.Context, channel string) <-chan *redis.Message {
	pubsub := b.redis.Subscribe(ctx, channel)
	go func() {
		<-ctx.Done()
		pubsub.Close()
	}()
	return pubsub.Channel()
}

func (b *Broker) Subscribe(tenantID string) *Client {
	client := &Client{
		TenantID: tenantID,
		Events:   make(chan Event, 100),
		Done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[tenantID] == nil {
		b.clients[tenantID] = make(map[*Client]bool)
		consumerCtx, cancel := context.WithCancel(b.ctx)
		b.stops[tenantID] = cancel
		go b.consume(consumerCtx, tenantID)
	}
	b.clients[tenantID][client] = true
	clientCount := len(b.clients[tenantID])
	b.mu.Unlock()

	log.Info().
		Str("tenantId", tenantID).
		Int("clientCount", clientCount).
		Msg("bus client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.TenantID]; ok {
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.TenantID)
			if cancel, ok := b.stops[client.TenantID]; ok {
				cancel()
				delete(b.stops, client.TenantID)
			}
		}

		log.Info().
			Str("tenantId", client.TenantID).
			Int("clientCount", len(clients)).
			Msg("bus client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, tenantID string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.EventChannel(tenantID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) consume(ctx context.Context, tenantID string) {
	channel := redisclient.EventChannel(tenantID)
	ch := b.stream(ctx, channel)

	log.Debug().
		Str("tenantId", tenantID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal bus event")
				continue
			}

			b.broadcast(tenantID, event)
		}
	}
}

func (b *Broker) broadcast(tenantID string, event Event) {
	b.mu.RLock()
	clients := b.clients[tenantID]
	b.mu.RUnlock()

	for client := range clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("tenantId", tenantID).
				Str("eventType", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.stops = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(tenantID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[tenantID])
}
