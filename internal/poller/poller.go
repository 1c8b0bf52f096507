// Package poller is the polling fallback: while a connection is connected it
// periodically pulls the provider's own message log and feeds every item
// through the shared ingestion path. The dedup claim makes this safe to run
// alongside the realtime webhook.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/gateway"
	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/service"
)

// Fetcher pulls the external channel's recent message log.
type Fetcher interface {
	FetchRecentMessages(ctx context.Context, connectionID string, since time.Time) ([]gateway.LogItem, error)
}

// Ingestor is the shared ingestion function.
type Ingestor interface {
	Ingest(ctx context.Context, params service.IngestParams) (*service.IngestResult, error)
}

// Manager owns at most one fetch loop per connection. Start is idempotent so
// a re-mounting UI or a repeated status event can never spawn a duplicate
// loop, and Stop cancels the loop without leaking its ticker.
type Manager struct {
	fetcher  Fetcher
	ingestor Ingestor
	interval time.Duration
	lookback time.Duration

	mu    sync.Mutex
	loops map[string]context.CancelFunc
	wg    sync.WaitGroup
}

func NewManager(fetcher Fetcher, ingestor Ingestor, interval, lookback time.Duration) *Manager {
	return &Manager{
		fetcher:  fetcher,
		ingestor: ingestor,
		interval: interval,
		lookback: lookback,
		loops:    make(map[string]context.CancelFunc),
	}
}

// StartForConnection begins polling for the connection. A loop that is
// already running is left alone.
func (m *Manager) StartForConnection(conn *model.Connection) {
	if !conn.IsConnected() {
		return
	}

	m.mu.Lock()
	if _, running := m.loops[conn.ID]; running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.loops[conn.ID] = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(ctx, conn)

	log.Info().
		Str("connectionId", conn.ID).
		Dur("interval", m.interval).
		Msg("poll loop started")
}

// StopForConnection cancels the connection's loop, if any. Safe to call for
// connections that were never started.
func (m *Manager) StopForConnection(connectionID string) {
	m.mu.Lock()
	cancel, running := m.loops[connectionID]
	if running {
		delete(m.loops, connectionID)
	}
	m.mu.Unlock()

	if running {
		cancel()
		log.Info().Str("connectionId", connectionID).Msg("poll loop stopped")
	}
}

// Apply reacts to a connection status change from the provisioning feed.
func (m *Manager) Apply(conn *model.Connection) {
	if conn.IsConnected() {
		m.StartForConnection(conn)
	} else {
		m.StopForConnection(conn.ID)
	}
}

// Running reports whether a loop exists for the connection.
func (m *Manager) Running(connectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[connectionID]
	return ok
}

// Close stops every loop and waits for them to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	for id, cancel := range m.loops {
		cancel()
		delete(m.loops, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// run executes ticks sequentially in one goroutine, so ticks can never
// overlap even when a fetch outlasts the interval.
func (m *Manager) run(ctx context.Context, conn *model.Connection) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx, conn)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx, conn)
		}
	}
}

// tick tolerates partial failure: a bad item is logged and skipped, the rest
// of the batch still goes through.
func (m *Manager) tick(ctx context.Context, conn *model.Connection) {
	since := time.Now().Add(-m.lookback)

	items, err := m.fetcher.FetchRecentMessages(ctx, conn.ID, since)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("connectionId", conn.ID).Msg("poll fetch failed")
		}
		return
	}

	inserted := 0
	for _, item := range items {
		result, err := m.ingestor.Ingest(ctx, service.IngestParams{
			TenantID:          conn.TenantID,
			ChannelID:         conn.ID,
			ExternalMessageID: item.ExternalMessageID,
			ConversationID:    item.ConversationID,
			ContactID:         item.ContactID,
			Direction:         item.Direction,
			Kind:              item.Kind,
			Body:              item.Body,
			MediaURL:          item.MediaURL,
			FromOwnDevice:     item.FromOwnDevice,
			Timestamp:         item.Timestamp,
		})
		if err != nil {
			log.Warn().
				Err(err).
				Str("connectionId", conn.ID).
				Str("externalMessageId", item.ExternalMessageID).
				Msg("poll ingest failed, skipping item")
			continue
		}
		if result.Outcome == model.IngestInserted {
			inserted++
		}
	}

	if inserted > 0 {
		log.Debug().
			Str("connectionId", conn.ID).
			Int("inserted", inserted).
			Int("fetched", len(items)).
			Msg("poll tick ingested messages")
	}
}
