package api

import (
	"encoding/json"
	"net/http"

	"github.com/rmaffei/crmlink/internal/outbox"
)

// SendRequest is the body of POST /v1/send.
type SendRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// SendResponse is the body of POST /v1/send.
type SendResponse struct {
	ClientMsgID string `json:"client_msg_id"`
}

// MessageService exposes the outgoing message queue.
type MessageService struct {
	sender *outbox.Sender
}

// NewMessageService creates the message service.
func NewMessageService(sender *outbox.Sender) *MessageService {
	return &MessageService{sender: sender}
}

// Register mounts the service routes.
func (s *MessageService) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/send", s.handleSend)
}

func (s *MessageService) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "conversation_id and text are required")
		return
	}
	id := s.sender.Enqueue(req.ConversationID, req.Text)
	writeJSON(w, http.StatusAccepted, SendResponse{ClientMsgID: id})
}
