package sync

import (
	"context"

	"github.com/rmaffei/crmlink/internal/bus"
	"github.com/rmaffei/crmlink/internal/cache"
	"github.com/rmaffei/crmlink/internal/wire"
	"go.uber.org/zap"
)

// Engine routes decoded push events from the bus into the caches. It
// subscribes to "ws." events and applies reconciliations one at a time
// from a single goroutine, so every merge runs against the latest
// committed cache state and envelopes are consumed in transport order.
type Engine struct {
	convs  *cache.ConversationCache
	thread *cache.ThreadCache
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc
}

// NewEngine creates a new sync engine.
func NewEngine(convs *cache.ConversationCache, thread *cache.ThreadCache, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		convs:  convs,
		thread: thread,
		bus:    b,
		logger: logger,
	}
}

// Start subscribes to inbound realtime events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe(bus.NamespaceWS, 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine. Fetches in flight are cancelled; their
// completions are discarded by the caches.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.NamespaceWS + string(wire.TypeNewMessage):
		p, ok := evt.Payload.(wire.NewMessage)
		if !ok {
			return
		}
		e.thread.ApplyNewMessage(p, evt.Timestamp)
		e.convs.ApplyNewMessage(ctx, p, evt.Timestamp)

	case bus.NamespaceWS + string(wire.TypeConversationUpdated):
		p, ok := evt.Payload.(wire.ConversationUpdated)
		if !ok {
			return
		}
		e.thread.ApplyConversationUpdated(p, evt.Timestamp)
		e.convs.ApplyConversationUpdated(ctx, p, evt.Timestamp)

	case bus.NamespaceWS + string(wire.TypeOrderCreated):
		p, ok := evt.Payload.(wire.OrderCreated)
		if !ok {
			return
		}
		// No local cache for orders; re-publish for display consumers.
		e.bus.Publish(bus.Event{Kind: bus.KindChatOrderCreated, Timestamp: evt.Timestamp, Payload: p})

	case bus.NamespaceWS + string(wire.TypeSubscribed):
		p, ok := evt.Payload.(wire.Subscribed)
		if !ok {
			return
		}
		e.logger.Info("conversation subscription acknowledged", zap.String("conversation_id", p.ConversationID))

	case bus.NamespaceWS + string(wire.TypeError):
		p, ok := evt.Payload.(wire.ServerError)
		if !ok {
			return
		}
		e.logger.Warn("server error event", zap.String("message", p.Message))
	}
}
