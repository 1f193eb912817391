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

// ConversationCache holds the client-side conversation list plus its
// pagination metadata. All mutation goes through the reconciliation
// methods; reads get value copies. A nil list means "not loaded yet".
//
// The generation counter guards read-then-write cycles that span a
// network fetch: a fetch completion is only committed against the same
// generation it started from, otherwise the state is re-examined, so a
// slow hydration never clobbers an update that landed in the meantime.
type ConversationCache struct {
	fetcher  ListFetcher
	bus      *bus.Bus
	logger   *zap.Logger
	pageSize int

	mu   sync.Mutex
	list *model.ConversationList
	err  string
	gen  uint64
}

// NewConversationCache creates an empty conversation cache.
func NewConversationCache(fetcher ListFetcher, b *bus.Bus, logger *zap.Logger, pageSize int) *ConversationCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return &ConversationCache{
		fetcher:  fetcher,
		bus:      b,
		logger:   logger,
		pageSize: pageSize,
	}
}

// Snapshot returns a copy of the cached list (nil if not loaded) and the
// current error string ("" when healthy).
func (c *ConversationCache) Snapshot() (*model.ConversationList, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.list == nil {
		return nil, c.err
	}
	out := *c.list
	out.Items = append([]model.Conversation(nil), c.list.Items...)
	return &out, c.err
}

// Load fetches the full conversation list from the REST API. A load that
// completes after the cache was cleared or reloaded is discarded.
func (c *ConversationCache) Load(ctx context.Context) error {
	c.mu.Lock()
	start := c.gen
	c.mu.Unlock()

	fresh, err := c.fetcher.ListConversations(ctx, c.pageSize, 0)

	c.mu.Lock()
	if c.gen != start {
		c.mu.Unlock()
		c.logger.Debug("discarding stale conversation list load")
		return nil
	}
	if err != nil {
		c.err = err.Error()
		c.mu.Unlock()
		c.publishError(err)
		return err
	}
	c.list = fresh
	c.err = ""
	c.gen++
	c.mu.Unlock()

	c.publishUpdated()
	return nil
}

// ApplyNewMessage reconciles a new_message push event into the list:
// load the list first if it was never loaded, bump last_message_at in
// place when the conversation is cached, fetch-and-append when it is not.
func (c *ConversationCache) ApplyNewMessage(ctx context.Context, evt wire.NewMessage, ts time.Time) {
	if !c.ensureLoaded(ctx) {
		return
	}
	if c.updateExisting(evt.ConversationID, ts, "") {
		return
	}
	c.fetchAndAppend(ctx, evt.ConversationID, ts)
}

// ApplyConversationUpdated reconciles a conversation_updated push event.
// Same miss handling as ApplyNewMessage; a hit also carries the status.
func (c *ConversationCache) ApplyConversationUpdated(ctx context.Context, evt wire.ConversationUpdated, ts time.Time) {
	if !c.ensureLoaded(ctx) {
		return
	}
	if c.updateExisting(evt.ConversationID, ts, model.ConversationStatus(evt.Status)) {
		return
	}
	c.fetchAndAppend(ctx, evt.ConversationID, ts)
}

// Clear drops all cached state. In-flight fetch completions started
// before the clear are discarded when they land.
func (c *ConversationCache) Clear() {
	c.mu.Lock()
	c.list = nil
	c.err = ""
	c.gen++
	c.mu.Unlock()
}

// ensureLoaded loads the list when it is nil. Returns false when the
// list is still unavailable (load failed; the event is dropped and the
// error surfaced).
func (c *ConversationCache) ensureLoaded(ctx context.Context) bool {
	c.mu.Lock()
	loaded := c.list != nil
	c.mu.Unlock()
	if loaded {
		return true
	}
	if err := c.Load(ctx); err != nil {
		return false
	}
	c.mu.Lock()
	loaded = c.list != nil
	c.mu.Unlock()
	return loaded
}

// updateExisting replaces the matching entry with an updated copy,
// leaving every other entry and the order untouched. Returns false when
// the id is not cached. An empty status keeps the current one.
func (c *ConversationCache) updateExisting(id string, ts time.Time, st model.ConversationStatus) bool {
	c.mu.Lock()
	if c.list == nil {
		c.mu.Unlock()
		return false
	}
	idx := -1
	for i := range c.list.Items {
		if c.list.Items[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	items := append([]model.Conversation(nil), c.list.Items...)
	entry := items[idx]
	if ts.After(entry.LastMessageAt) {
		entry.LastMessageAt = ts
	}
	if st != "" {
		entry.Status = st
	}
	items[idx] = entry
	updated := *c.list
	updated.Items = items
	c.list = &updated
	c.err = ""
	c.gen++
	c.mu.Unlock()

	c.publishUpdated()
	return true
}

// fetchAndAppend hydrates a conversation missing from the cache and
// appends it at the end. If the conversation arrived while the fetch was
// in flight, the fetch result is discarded in favor of an in-place
// update. A fetch failure surfaces as the list error; the cache is left
// unmodified.
func (c *ConversationCache) fetchAndAppend(ctx context.Context, id string, ts time.Time) {
	c.mu.Lock()
	start := c.gen
	c.mu.Unlock()

	conv, err := c.fetcher.GetConversation(ctx, id)

	c.mu.Lock()
	if c.list == nil {
		// Cleared while fetching.
		c.mu.Unlock()
		return
	}
	if c.gen != start {
		for i := range c.list.Items {
			if c.list.Items[i].ID == id {
				c.mu.Unlock()
				c.updateExisting(id, ts, "")
				return
			}
		}
	}
	if err != nil {
		c.err = err.Error()
		c.mu.Unlock()
		c.logger.Warn("failed to hydrate conversation", zap.String("conversation_id", id), zap.Error(err))
		c.publishError(err)
		return
	}
	entry := *conv
	if ts.After(entry.LastMessageAt) {
		entry.LastMessageAt = ts
	}
	updated := *c.list
	updated.Items = append(append([]model.Conversation(nil), c.list.Items...), entry)
	updated.Total = c.list.Total + 1
	c.list = &updated
	c.err = ""
	c.gen++
	c.mu.Unlock()

	c.publishUpdated()
}

func (c *ConversationCache) publishUpdated() {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: bus.KindChatListUpdated, Timestamp: time.Now()})
}

func (c *ConversationCache) publishError(err error) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(bus.Event{Kind: bus.KindChatError, Timestamp: time.Now(), Payload: err.Error()})
}
