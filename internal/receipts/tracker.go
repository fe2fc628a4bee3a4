// Package receipts records per-recipient delivery and read acknowledgements
// and derives the aggregate chat-level status shown to the sender.
package receipts

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/events"
	"github.com/talkwave/realtime/internal/metrics"
	"github.com/talkwave/realtime/internal/models"
	"github.com/talkwave/realtime/internal/registry"
	"github.com/talkwave/realtime/internal/relay"
	"github.com/talkwave/realtime/internal/repository"
	"github.com/talkwave/realtime/internal/wire"
)

const stripes = 64

// Tracker applies idempotent, monotonic receipt transitions. Transitions for
// the same (chat, recipient) pair are serialized on a lock stripe so read is
// never recorded ahead of delivered even when acks race.
type Tracker struct {
	store    repository.Store
	reg      *registry.Registry
	producer *events.Producer // optional
	relay    *relay.Relay     // optional
	log      *zap.SugaredLogger
	locks    [stripes]sync.Mutex
	now      func() time.Time
}

func NewTracker(store repository.Store, reg *registry.Registry, producer *events.Producer, rly *relay.Relay, log *zap.SugaredLogger) *Tracker {
	return &Tracker{store: store, reg: reg, producer: producer, relay: rly, log: log, now: time.Now}
}

func (t *Tracker) stripe(chatID, userID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(chatID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	return &t.locks[h.Sum32()%stripes]
}

func (t *Tracker) AckDelivered(ctx context.Context, recipientID, messageID string) (models.ReceiptStatus, error) {
	return t.ack(ctx, recipientID, messageID, models.ReceiptDelivered)
}

func (t *Tracker) AckRead(ctx context.Context, recipientID, messageID string) (models.ReceiptStatus, error) {
	return t.ack(ctx, recipientID, messageID, models.ReceiptRead)
}

func (t *Tracker) ack(ctx context.Context, recipientID, messageID string, status models.ReceiptStatus) (models.ReceiptStatus, error) {
	m, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		return "", err
	}
	if _, err := t.store.GetReceipt(ctx, messageID, recipientID); err != nil {
		// only a missing receipt means the user is not a required recipient
		if errors.Is(err, errs.ErrNotFound) {
			return "", errs.ErrNotParticipant
		}
		return "", err
	}

	mu := t.stripe(m.ChatID, recipientID)
	mu.Lock()
	err = t.store.SetReceiptStatus(ctx, messageID, recipientID, status, t.now().UTC())
	mu.Unlock()
	if err != nil {
		return "", err
	}
	metrics.ReceiptTransitions.WithLabelValues(string(status)).Inc()

	agg, err := t.Aggregate(ctx, messageID)
	if err != nil {
		return "", err
	}
	// aggregate visible to the sender only
	frame := wire.StatusUpdate(messageID, agg)
	t.reg.PushToUser(m.SenderID, frame)
	if t.relay != nil {
		t.relay.PublishToUser(ctx, m.SenderID, frame)
	}

	if t.producer != nil {
		ev := events.ReceiptEvent{MessageID: messageID, UserID: recipientID, Status: string(status), At: t.now().UTC()}
		if err := t.producer.PublishReceipt(ctx, ev); err != nil {
			t.log.Warnw("receipt event publish", "message", messageID, "err", err)
		}
	}
	return agg, nil
}

// Aggregate derives the chat-level status: the minimum status across all
// required receipts.
func (t *Tracker) Aggregate(ctx context.Context, messageID string) (models.ReceiptStatus, error) {
	rs, err := t.store.ListReceipts(ctx, messageID)
	if err != nil {
		return "", err
	}
	agg := models.ReceiptRead
	for _, r := range rs {
		if r.Status.Rank() < agg.Rank() {
			agg = r.Status
		}
	}
	return agg, nil
}

// SetReaction records a reaction, replacing the user's previous one.
// Reactions never affect delivery status.
func (t *Tracker) SetReaction(ctx context.Context, userID, messageID, emoji string) error {
	m, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		return err
	}
	chat, err := t.store.GetChat(ctx, m.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasMember(userID) {
		return errs.ErrNotParticipant
	}
	return t.store.SetReaction(ctx, &models.MessageReaction{
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: t.now().UTC(),
	})
}

func (t *Tracker) ClearReaction(ctx context.Context, userID, messageID string) error {
	if _, err := t.store.GetMessage(ctx, messageID); err != nil {
		return err
	}
	return t.store.ClearReaction(ctx, messageID, userID)
}
