package events

import (
	"context"
	"encoding/json"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

// Producer publishes domain events for downstream consumers (notification
// pipeline, analytics).
type Producer struct {
	messages *kafkago.Writer
	receipts *kafkago.Writer
}

func NewProducer(brokers []string, topicMessageSent, topicReceipt string) *Producer {
	newWriter := func(topic string) *kafkago.Writer {
		return &kafkago.Writer{
			Addr:         kafkago.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafkago.LeastBytes{},
			RequiredAcks: kafkago.RequireAll,
			Async:        false,
		}
	}
	return &Producer{
		messages: newWriter(topicMessageSent),
		receipts: newWriter(topicReceipt),
	}
}

type MessageSentEvent struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	SenderID  string    `json:"sender_id"`
	Seq       int64     `json:"seq"`
	SentAt    time.Time `json:"sent_at"`
}

type ReceiptEvent struct {
	MessageID string    `json:"message_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	At        time.Time `json:"at"`
}

func (p *Producer) PublishMessageSent(ctx context.Context, ev MessageSentEvent) error {
	return p.write(ctx, p.messages, ev.ChatID, ev)
}

func (p *Producer) PublishReceipt(ctx context.Context, ev ReceiptEvent) error {
	return p.write(ctx, p.receipts, ev.MessageID, ev)
}

func (p *Producer) write(ctx context.Context, w *kafkago.Writer, key string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(key),
		Value: b,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	err1 := p.messages.Close()
	err2 := p.receipts.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
