package wire

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeNewMessage(t *testing.T) {
	raw := []byte(`{"v":1,"type":"new_message","ts":"2026-08-30T12:00:00Z","data":{"conversation_id":"42","message_id":"m1","text":"hi"}}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if env.Type != TypeNewMessage {
		t.Errorf("type = %q, want new_message", env.Type)
	}
	if env.V != 1 {
		t.Errorf("v = %d, want 1", env.V)
	}

	payload, err := DecodePayload(env)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	msg, ok := payload.(NewMessage)
	if !ok {
		t.Fatalf("payload type = %T, want NewMessage", payload)
	}
	if msg.ConversationID != "42" || msg.MessageID != "m1" || msg.Text != "hi" {
		t.Errorf("payload = %+v", msg)
	}
}

func TestDecodeWithoutVersion(t *testing.T) {
	// v is optional on the wire.
	raw := []byte(`{"type":"conversation_updated","ts":"2026-08-30T12:00:00Z","data":{"conversation_id":"7","status":"closed"}}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	payload, err := DecodePayload(env)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	upd := payload.(ConversationUpdated)
	if upd.ConversationID != "7" || upd.Status != "closed" {
		t.Errorf("payload = %+v", upd)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	raw := []byte(`{"type":"typing_indicator","ts":"2026-08-30T12:00:00Z","data":{}}`)

	env, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	_, err = DecodePayload(env)
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("error = %v, want ErrUnknownType", err)
	}
}

func TestDecodeMissingType(t *testing.T) {
	if _, err := Decode([]byte(`{"ts":"2026-08-30T12:00:00Z"}`)); err == nil {
		t.Error("Decode() expected error for missing type")
	}
}

func TestDecodeMalformed(t *testing.T) {
	if _, err := Decode([]byte(`{not json`)); err == nil {
		t.Error("Decode() expected error for malformed JSON")
	}
}

func TestNewEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(TypeSubscribe, Subscribe{ConversationID: "42"})
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	if env.V != SchemaVersion {
		t.Errorf("v = %d, want %d", env.V, SchemaVersion)
	}
	if env.TS.IsZero() || time.Since(env.TS) > time.Minute {
		t.Errorf("ts = %v, want recent", env.TS)
	}

	data, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	payload, err := DecodePayload(decoded)
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if sub := payload.(Subscribe); sub.ConversationID != "42" {
		t.Errorf("conversation_id = %q, want 42", sub.ConversationID)
	}
}

func TestHealthPingWithoutData(t *testing.T) {
	env := Envelope{Type: TypeHealthPing, TS: time.Now(), Data: json.RawMessage(`{}`)}
	if _, err := DecodePayload(env); err != nil {
		t.Errorf("DecodePayload() error = %v", err)
	}
	// Also fine with no data at all.
	env.Data = nil
	if _, err := DecodePayload(env); err != nil {
		t.Errorf("DecodePayload() without data error = %v", err)
	}
}
