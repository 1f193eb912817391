package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is stamped on every outbound envelope. Inbound envelopes
// may omit it; v0 payloads decode the same way.
const SchemaVersion = 1

// EventType discriminates the payload carried by an envelope.
type EventType string

const (
	// System events.
	TypeHealthPing EventType = "health_ping"
	TypeError      EventType = "error"

	// Outgoing events.
	TypeSubscribe EventType = "subscribe"

	// Incoming events.
	TypeSubscribed          EventType = "subscribed"
	TypeNewMessage          EventType = "new_message"
	TypeConversationUpdated EventType = "conversation_updated"
	TypeOrderCreated        EventType = "order_created"
	TypeCheckEvent          EventType = "check_event"
)

// ErrUnknownType is returned when an envelope carries a discriminator this
// client does not recognize. Consumers skip such envelopes; they never fail.
var ErrUnknownType = errors.New("wire: unknown event type")

// Envelope is the wrapper around every message on the realtime channel.
// Immutable once constructed.
type Envelope struct {
	V    int             `json:"v,omitempty"`
	Type EventType       `json:"type"`
	TS   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage is the payload of a new_message event.
type NewMessage struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	FromUserID     string `json:"from_user_id,omitempty"`
	Text           string `json:"text,omitempty"`
	MediaURL       string `json:"media_url,omitempty"`
}

// ConversationUpdated is the payload of a conversation_updated event.
type ConversationUpdated struct {
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status,omitempty"`
}

// OrderCreated is the payload of an order_created event.
type OrderCreated struct {
	OrderID        string `json:"order_id"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// Subscribe is the payload of an outgoing subscribe request.
type Subscribe struct {
	ConversationID string `json:"conversation_id"`
}

// Subscribed acknowledges a subscribe request.
type Subscribed struct {
	ConversationID string `json:"conversation_id"`
}

// ServerError is the payload of a server-side error event.
type ServerError struct {
	Message string `json:"message"`
}

// NewEnvelope builds an outbound envelope for the given payload,
// stamping the schema version and current time.
func NewEnvelope(t EventType, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{
		V:    SchemaVersion,
		Type: t,
		TS:   time.Now().UTC(),
		Data: data,
	}, nil
}

// Encode serializes an envelope for the wire.
func Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Decode parses raw bytes from the wire into an envelope.
// The payload stays opaque until DecodePayload.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, errors.New("decode envelope: missing type")
	}
	return env, nil
}

// DecodePayload unmarshals the envelope data into the typed payload for
// its discriminator. Unrecognized discriminators return ErrUnknownType.
func DecodePayload(env Envelope) (any, error) {
	switch env.Type {
	case TypeNewMessage:
		return decodeAs[NewMessage](env)
	case TypeConversationUpdated:
		return decodeAs[ConversationUpdated](env)
	case TypeOrderCreated:
		return decodeAs[OrderCreated](env)
	case TypeSubscribe:
		return decodeAs[Subscribe](env)
	case TypeSubscribed:
		return decodeAs[Subscribed](env)
	case TypeError:
		return decodeAs[ServerError](env)
	case TypeHealthPing, TypeCheckEvent:
		// No payload fields consumed by this client.
		return struct{}{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[T any](env Envelope) (T, error) {
	var p T
	if len(env.Data) == 0 {
		return p, fmt.Errorf("decode %s payload: empty data", env.Type)
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return p, nil
}
