package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rmaffei/crmlink/internal/bus"
	"github.com/rmaffei/crmlink/internal/model"
	"github.com/rmaffei/crmlink/internal/wire"
	"go.uber.org/zap"
)

// ThreadCache holds the single conversation the agent currently has open,
// together with its message list. Messages are append-only and
// deduplicated by id, so at-least-once delivery of the same push event
// is a no-op. Events for any other conversation id are ignored.
type ThreadCache struct {
	fetcher ThreadFetcher
	bus     *bus.Bus
	logger  *zap.Logger

	mu     sync.Mutex
	convID string
	conv   *model.Conversation
	msgs   []model.Message
	err    string
	gen    uint64
}

// NewThreadCache creates an empty thread cache.
func NewThreadCache(fetcher ThreadFetcher, b *bus.Bus, logger *zap.Logger) *ThreadCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThreadCache{
		fetcher: fetcher,
		bus:     b,
		logger:  logger,
	}
}

// Open switches the cache to the given conversation and hydrates it from
// the REST API. A completion that lands after the agent switched to a
// different conversation (or after Clear) is discarded.
func (t *ThreadCache) Open(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	t.convID = conversationID
	t.conv = nil
	t.msgs = nil
	t.err = ""
	t.gen++
	start := t.gen
	t.mu.Unlock()

	conv, err := t.fetcher.GetConversation(ctx, conversationID)
	var msgs []model.Message
	if err == nil {
		msgs, err = t.fetcher.ListMessages(ctx, conversationID)
	}

	t.mu.Lock()
	if t.gen != start || t.convID != conversationID {
		t.mu.Unlock()
		t.logger.Debug("discarding stale thread load", zap.String("conversation_id", conversationID))
		return nil
	}
	if err != nil {
		t.err = err.Error()
		t.mu.Unlock()
		t.publishError(err)
		return err
	}
	t.conv = conv
	t.msgs = msgs
	t.err = ""
	t.gen++
	t.mu.Unlock()

	t.publish(bus.KindChatConversationUpdated)
	return nil
}

// ConversationID returns the id of the currently open conversation,
// or "" when none is open.
func (t *ThreadCache) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.convID
}

// Snapshot returns copies of the cached conversation (nil if not loaded),
// its messages, and the current error string.
func (t *ThreadCache) Snapshot() (*model.Conversation, []model.Message, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var conv *model.Conversation
	if t.conv != nil {
		cp := *t.conv
		conv = &cp
	}
	msgs := append([]model.Message(nil), t.msgs...)
	return conv, msgs, t.err
}

// ApplyNewMessage appends the pushed message unless a message with the
// same id is already cached. Events for other conversations are no-ops.
func (t *ThreadCache) ApplyNewMessage(evt wire.NewMessage, ts time.Time) {
	msg := model.Message{
		ID:             evt.MessageID,
		ConversationID: evt.ConversationID,
		FromUserID:     evt.FromUserID,
		Text:           evt.Text,
		MediaURL:       evt.MediaURL,
		CreatedAt:      ts,
	}
	t.Append(msg)
}

// Append adds a message to the open thread, deduplicated by id. Used for
// both pushed messages and acknowledged outbox sends.
func (t *ThreadCache) Append(msg model.Message) {
	t.mu.Lock()
	if t.convID == "" || msg.ConversationID != t.convID {
		t.mu.Unlock()
		return
	}
	for i := range t.msgs {
		if t.msgs[i].ID == msg.ID {
			t.mu.Unlock()
			return
		}
	}
	t.msgs = append(t.msgs, msg)
	if t.conv != nil && msg.CreatedAt.After(t.conv.LastMessageAt) {
		cp := *t.conv
		cp.LastMessageAt = msg.CreatedAt
		t.conv = &cp
	}
	t.gen++
	t.mu.Unlock()

	t.publish(bus.KindChatMessageAppended)
}

// ApplyConversationUpdated updates the open conversation's status. An
// event referencing a different conversation id is a no-op.
func (t *ThreadCache) ApplyConversationUpdated(evt wire.ConversationUpdated, ts time.Time) {
	t.mu.Lock()
	if t.conv == nil || evt.ConversationID != t.convID {
		t.mu.Unlock()
		return
	}
	cp := *t.conv
	if evt.Status != "" {
		cp.Status = model.ConversationStatus(evt.Status)
	}
	if ts.After(cp.LastMessageAt) {
		cp.LastMessageAt = ts
	}
	t.conv = &cp
	t.gen++
	t.mu.Unlock()

	t.publish(bus.KindChatConversationUpdated)
}

// Clear drops all cached state, including the open conversation id.
func (t *ThreadCache) Clear() {
	t.mu.Lock()
	t.convID = ""
	t.conv = nil
	t.msgs = nil
	t.err = ""
	t.gen++
	t.mu.Unlock()
}

func (t *ThreadCache) publish(kind string) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now()})
}

func (t *ThreadCache) publishError(err error) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(bus.Event{Kind: bus.KindChatError, Timestamp: time.Now(), Payload: err.Error()})
}
