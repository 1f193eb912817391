package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rmaffei/crmlink/internal/bus"
	"github.com/rmaffei/crmlink/internal/cache"
	"github.com/rmaffei/crmlink/internal/model"
	"github.com/rmaffei/crmlink/internal/rest"
	"go.uber.org/zap"
)

// MessageSender posts an outgoing message to the CRM API.
// Implemented by rest.Client.
type MessageSender interface {
	SendMessage(ctx context.Context, req rest.SendMessageRequest) (*rest.SendMessageResponse, error)
}

// Entry is a queued outgoing message.
type Entry struct {
	ClientMsgID    string
	ConversationID string
	Text           string
}

// Sender drains queued outgoing messages through the REST API. Each send
// is announced optimistically before the request and acknowledged or
// failed afterwards; the acknowledged server message merges into the
// thread cache idempotently.
type Sender struct {
	sender MessageSender
	thread *cache.ThreadCache
	bus    *bus.Bus
	logger *zap.Logger
	cancel context.CancelFunc

	mu      sync.Mutex
	pending []Entry
}

// NewSender creates a new outbox sender.
func NewSender(sender MessageSender, thread *cache.ThreadCache, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		sender: sender,
		thread: thread,
		bus:    b,
		logger: logger,
	}
}

// Enqueue queues a message for sending and returns its client id.
func (s *Sender) Enqueue(conversationID, text string) string {
	entry := Entry{
		ClientMsgID:    uuid.New().String(),
		ConversationID: conversationID,
		Text:           text,
	}
	s.mu.Lock()
	s.pending = append(s.pending, entry)
	s.mu.Unlock()
	return entry.ClientMsgID
}

// Start begins draining the queue.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Sender) processPending(ctx context.Context) {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, entry := range pending {
		// Optimistic: show the message in the thread immediately.
		now := time.Now()
		s.thread.Append(model.Message{
			ID:             entry.ClientMsgID,
			ConversationID: entry.ConversationID,
			Text:           entry.Text,
			CreatedAt:      now,
		})
		s.publish(bus.KindMessagePending, map[string]string{
			"client_msg_id":   entry.ClientMsgID,
			"conversation_id": entry.ConversationID,
		})

		resp, err := s.sender.SendMessage(ctx, rest.SendMessageRequest{
			ConversationID: entry.ConversationID,
			ClientMsgID:    entry.ClientMsgID,
			Text:           entry.Text,
		})
		if err != nil {
			s.logger.Error("failed to send message", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			s.publish(bus.KindMessageSendFailed, map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"error":         err.Error(),
			})
			continue
		}

		// The server echoes the stored message; merging it is a no-op
		// when the push event for it already arrived.
		s.thread.Append(resp.Message)

		s.logger.Info("message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("server_msg_id", resp.Message.ID))
		s.publish(bus.KindMessageSendAck, map[string]string{
			"client_msg_id": entry.ClientMsgID,
			"server_msg_id": resp.Message.ID,
		})
	}
}

func (s *Sender) publish(kind string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
