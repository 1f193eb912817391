package bus

import "time"

// Event kinds are dot-separated, namespaced by the publishing component.
// Subscribers filter on a namespace prefix.
const (
	// Connection lifecycle, published by internal/realtime and internal/status.
	KindConnStateChanged = "conn.state_changed"
	KindConnError        = "conn.error"
	KindConnReconnecting = "conn.reconnecting"
	KindConnFailed       = "conn.failed"
	KindConnEmitFailed   = "conn.emit_failed"

	// Decoded inbound envelopes, published by the realtime read loop as
	// "ws.<event type>" with the typed wire payload.
	NamespaceWS = "ws."

	// Merged-state notifications, published by the sync engine.
	KindChatListUpdated         = "chat.list_updated"
	KindChatConversationUpdated = "chat.conversation_updated"
	KindChatMessageAppended     = "chat.message_appended"
	KindChatSuggestionsUpdated  = "chat.suggestions_updated"
	KindChatError               = "chat.error"
	KindChatOrderCreated        = "chat.order_created"

	// Outbound send pipeline, published by the outbox.
	KindMessagePending    = "message.pending"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
