// Package wire defines the JSON frames exchanged over the realtime channel.
// Frame delivery order per connection matches enqueue order; the write pump
// drains a single FIFO channel per connection.
package wire

import (
	"encoding/json"
	"time"

	"github.com/talkwave/realtime/internal/models"
)

// Client to server frame types.
const (
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSend         = "send"
	TypeAckDelivered = "ack_delivered"
	TypeAckRead      = "ack_read"
	TypeTyping       = "typing"
	TypeCallSignal   = "call_signal"
)

// Server to client frame types.
const (
	TypeMessage        = "message"
	TypeStatusUpdate   = "status_update"
	TypePresence       = "presence"
	TypeMessageDeleted = "message_deleted"
	TypeError          = "error"
)

// Inbound is the envelope read off a client connection.
type Inbound struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Payload   *models.Payload `json:"payload,omitempty"`
	ReplyTo   string          `json:"reply_to,omitempty"`
	IsTyping  bool            `json:"is_typing,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Signal    string          `json:"signal,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

func Message(m *models.Message) []byte {
	b, _ := json.Marshal(map[string]any{"type": TypeMessage, "message": m})
	return b
}

func StatusUpdate(messageID string, status models.ReceiptStatus) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":       TypeStatusUpdate,
		"message_id": messageID,
		"status":     status,
	})
	return b
}

func Presence(userID string, online bool, lastSeen time.Time) []byte {
	out := map[string]any{"type": TypePresence, "user_id": userID, "online": online}
	if !lastSeen.IsZero() {
		out["last_seen"] = lastSeen.UTC().Format(time.RFC3339)
	}
	b, _ := json.Marshal(out)
	return b
}

func Typing(chatID, userID string, isTyping bool) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":      TypeTyping,
		"chat_id":   chatID,
		"user_id":   userID,
		"is_typing": isTyping,
	})
	return b
}

func MessageDeleted(chatID, messageID string) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":       TypeMessageDeleted,
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return b
}

func CallSignal(callID, fromUserID, signal string, data json.RawMessage) []byte {
	b, _ := json.Marshal(map[string]any{
		"type":    TypeCallSignal,
		"call_id": callID,
		"user_id": fromUserID,
		"signal":  signal,
		"data":    data,
	})
	return b
}

func Error(code, detail string) []byte {
	b, _ := json.Marshal(map[string]any{"type": TypeError, "code": code, "detail": detail})
	return b
}
