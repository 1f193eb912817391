package cache

import (
	"context"

	"github.com/rmaffei/crmlink/internal/model"
)

// ListFetcher hydrates the conversation list and individual conversations
// referenced by push events but missing from the cache. Implemented by
// rest.Client.
type ListFetcher interface {
	ListConversations(ctx context.Context, limit, offset int) (*model.ConversationList, error)
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
}

// ThreadFetcher hydrates a single conversation and its message history.
// Implemented by rest.Client.
type ThreadFetcher interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
}
