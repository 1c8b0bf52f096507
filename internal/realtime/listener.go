// Package realtime is the read side of the event bus: it keeps a view's
// in-memory state current and raises notifications. It holds no authority
// over dedup or persistence; everything it reacts to already went through
// ingestion.
package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/zapdesk/chatsync-server/internal/model"
	"github.com/zapdesk/chatsync-server/internal/sse"
)

// Notifier raises the audible/visual alert for an inbound message on a
// human-owned conversation.
type Notifier interface {
	Notify(conversationID string, msg *model.Message)
}

// Refresher is asked to reload the conversation list; every bus event
// triggers it.
type Refresher interface {
	RefreshConversations()
}

// ConversationReader resolves ownership for the notification policy.
type ConversationReader interface {
	FindByID(ctx context.Context, id string) (*model.Conversation, error)
}

// Listener consumes one subscribed bus client for one view. The active
// conversation is explicit per-listener state, not a process-wide global, so
// concurrent views (multi-tab) stay independent and correct.
type Listener struct {
	events    <-chan sse.Event
	reader    ConversationReader
	notifier  Notifier
	refresher Refresher

	mu       sync.Mutex
	activeID string
	view     []model.Message
}

func NewListener(events <-chan sse.Event, reader ConversationReader, notifier Notifier, refresher Refresher) *Listener {
	return &Listener{
		events:    events,
		reader:    reader,
		notifier:  notifier,
		refresher: refresher,
	}
}

// SetActiveConversation switches which conversation the view shows and
// clears the in-memory message window.
func (l *Listener) SetActiveConversation(conversationID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeID = conversationID
	l.view = nil
}

// ViewMessages returns a copy of the in-view messages in ledger order.
func (l *Listener) ViewMessages() []model.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Message, len(l.view))
	copy(out, l.view)
	return out
}

// Run consumes events until the channel closes or ctx is cancelled. The
// caller unsubscribes the bus client on teardown; re-subscription after that
// never leaves a duplicate handler behind.
func (l *Listener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-l.events:
			if !ok {
				return
			}
			l.handle(ctx, event)
		}
	}
}

func (l *Listener) handle(ctx context.Context, event sse.Event) {
	switch event.Type {
	case sse.EventMessageInserted:
		var msg model.Message
		if err := json.Unmarshal(event.Data, &msg); err != nil {
			log.Warn().Err(err).Msg("listener: bad message event payload")
			return
		}
		l.onMessageInserted(ctx, &msg)

	case sse.EventConversationUpsert, sse.EventConnectionStatusSet:
		l.refresher.RefreshConversations()
	}
}

func (l *Listener) onMessageInserted(ctx context.Context, msg *model.Message) {
	l.mu.Lock()
	if msg.ConversationID == l.activeID {
		l.insertOrdered(msg)
	}
	l.mu.Unlock()

	l.refresher.RefreshConversations()

	if msg.Direction != model.DirectionInbound {
		return
	}
	conv, err := l.reader.FindByID(ctx, msg.ConversationID)
	if err != nil {
		log.Warn().Err(err).Str("conversationId", msg.ConversationID).Msg("listener: ownership lookup failed")
		return
	}
	if conv != nil && conv.HumanOwned() {
		l.notifier.Notify(msg.ConversationID, msg)
	}
}

// insertOrdered keeps the view sorted by the ledger ordering key even when
// bus delivery order differs from ledger order. Duplicates by id are
// ignored; a redelivered event must not duplicate a bubble.
func (l *Listener) insertOrdered(msg *model.Message) {
	for _, existing := range l.view {
		if existing.ID == msg.ID {
			return
		}
	}

	idx := sort.Search(len(l.view), func(i int) bool {
		if l.view[i].CreatedAt.Equal(msg.CreatedAt) {
			return l.view[i].Seq > msg.Seq
		}
		return l.view[i].CreatedAt.After(msg.CreatedAt)
	})

	l.view = append(l.view, model.Message{})
	copy(l.view[idx+1:], l.view[idx:])
	l.view[idx] = *msg
}
