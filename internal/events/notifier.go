package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Notifier hands offline-recipient and call-ring notifications to the push
// pipeline. Fire and forget: failures are logged and never block the caller.
type Notifier struct {
	writer *kafkago.Writer
	log    *zap.SugaredLogger
}

func NewNotifier(brokers []string, topic string, log *zap.SugaredLogger) *Notifier {
	return &Notifier{
		writer: &kafkago.Writer{
			Addr:     kafkago.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafkago.LeastBytes{},
			Async:    true,
		},
		log: log,
	}
}

type Notification struct {
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"` // "message" | "call"
	ChatID    string `json:"chat_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

func (n *Notifier) Notify(ctx context.Context, note Notification) {
	b, err := json.Marshal(note)
	if err != nil {
		return
	}
	err = n.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(note.UserID),
		Value: b,
		Time:  time.Now(),
	})
	if err != nil {
		n.log.Warnw("push notification enqueue", "user", note.UserID, "err", err)
	}
}

func (n *Notifier) Close() error {
	return n.writer.Close()
}
