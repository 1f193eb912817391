package api

import (
	"net/http"

	"github.com/rmaffei/crmlink/internal/cache"
	"github.com/rmaffei/crmlink/internal/model"
	"github.com/rmaffei/crmlink/internal/realtime"
	"go.uber.org/zap"
)

// ConversationListResponse is the body of GET /v1/conversations.
type ConversationListResponse struct {
	Items  []model.Conversation `json:"items"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
	Error  string               `json:"error,omitempty"`
}

// ThreadResponse is the body of thread endpoints.
type ThreadResponse struct {
	Conversation *model.Conversation `json:"conversation,omitempty"`
	Messages     []model.Message     `json:"messages"`
	Error        string              `json:"error,omitempty"`
}

// ConversationService exposes the cached conversation list and the open
// thread. Opening a conversation also subscribes to its push events.
type ConversationService struct {
	convs  *cache.ConversationCache
	thread *cache.ThreadCache
	rt     *realtime.Client
	logger *zap.Logger
}

// NewConversationService creates the conversation service.
func NewConversationService(convs *cache.ConversationCache, thread *cache.ThreadCache, rt *realtime.Client, logger *zap.Logger) *ConversationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationService{
		convs:  convs,
		thread: thread,
		rt:     rt,
		logger: logger,
	}
}

// Register mounts the service routes.
func (s *ConversationService) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/conversations", s.handleList)
	mux.HandleFunc("POST /v1/conversations/{id}/open", s.handleOpen)
	mux.HandleFunc("GET /v1/conversations/{id}/messages", s.handleMessages)
}

func (s *ConversationService) handleList(w http.ResponseWriter, r *http.Request) {
	list, errStr := s.convs.Snapshot()
	if list == nil && errStr == "" {
		// First access: hydrate from the REST API.
		_ = s.convs.Load(r.Context())
		list, errStr = s.convs.Snapshot()
	}
	resp := ConversationListResponse{Error: errStr}
	if list != nil {
		resp.Items = list.Items
		resp.Total = list.Total
		resp.Limit = list.Limit
		resp.Offset = list.Offset
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *ConversationService) handleOpen(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.open(r, id); err != nil {
		conv, msgs, errStr := s.thread.Snapshot()
		writeJSON(w, http.StatusBadGateway, ThreadResponse{Conversation: conv, Messages: msgs, Error: errStr})
		return
	}
	conv, msgs, errStr := s.thread.Snapshot()
	writeJSON(w, http.StatusOK, ThreadResponse{Conversation: conv, Messages: msgs, Error: errStr})
}

func (s *ConversationService) handleMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.thread.ConversationID() != id {
		if err := s.open(r, id); err != nil {
			conv, msgs, errStr := s.thread.Snapshot()
			writeJSON(w, http.StatusBadGateway, ThreadResponse{Conversation: conv, Messages: msgs, Error: errStr})
			return
		}
	}
	conv, msgs, errStr := s.thread.Snapshot()
	writeJSON(w, http.StatusOK, ThreadResponse{Conversation: conv, Messages: msgs, Error: errStr})
}

// open hydrates the thread and subscribes to its push events. The
// subscribe is best-effort: with the socket still connecting it defers
// internally, and a failure is reported on the bus, not here.
func (s *ConversationService) open(r *http.Request, id string) error {
	if err := s.thread.Open(r.Context(), id); err != nil {
		return err
	}
	if err := s.rt.SubscribeConversation(r.Context(), id); err != nil {
		s.logger.Warn("subscribe failed", zap.String("conversation_id", id), zap.Error(err))
	}
	return nil
}
