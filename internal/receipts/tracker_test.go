package receipts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/models"
	"github.com/talkwave/realtime/internal/registry"
	"github.com/talkwave/realtime/internal/repository"
)

type fakeConn struct {
	id     string
	userID string
	mu     sync.Mutex
	frames [][]byte
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() string { return f.userID }
func (f *fakeConn) Push(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeConn) pushed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func seedMessage(t *testing.T, store repository.Store, chatID, senderID string, members []string) *models.Message {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateChat(ctx, &models.Chat{
		ID:      chatID,
		Kind:    models.ChatGroup,
		Members: members,
	}))
	m := &models.Message{
		ID:        "m1",
		ChatID:    chatID,
		SenderID:  senderID,
		Seq:       1,
		Payload:   models.Payload{Kind: models.ContentText, Content: "hello"},
		CreatedAt: time.Now().UTC(),
	}
	var rs []*models.MessageReceipt
	for _, u := range members {
		if u == senderID {
			continue
		}
		rs = append(rs, &models.MessageReceipt{
			MessageID: m.ID, ChatID: chatID, UserID: u, Status: models.ReceiptSent,
		})
	}
	require.NoError(t, store.InsertMessageWithReceipts(ctx, m, rs))
	return m
}

func newTestTracker(store repository.Store) (*Tracker, *registry.Registry) {
	reg := registry.New()
	return NewTracker(store, reg, nil, nil, zap.NewNop().Sugar()), reg
}

func TestAggregateFollowsSlowestRecipient(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	tr, _ := newTestTracker(store)
	m := seedMessage(t, store, "g1", "alice", []string{"alice", "bob", "carol"})

	agg, err := tr.Aggregate(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptSent, agg)

	agg, err = tr.AckDelivered(ctx, "bob", m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptSent, agg, "carol still at sent")

	agg, err = tr.AckDelivered(ctx, "carol", m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptDelivered, agg)

	agg, err = tr.AckRead(ctx, "bob", m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptDelivered, agg, "carol has not read")

	agg, err = tr.AckRead(ctx, "carol", m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptRead, agg)
}

func TestAckNeverRegresses(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	tr, _ := newTestTracker(store)
	m := seedMessage(t, store, "d1", "alice", []string{"alice", "bob"})

	_, err := tr.AckRead(ctx, "bob", m.ID)
	require.NoError(t, err)

	// a late delivered ack must not undo read
	agg, err := tr.AckDelivered(ctx, "bob", m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptRead, agg)

	r, err := store.GetReceipt(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptRead, r.Status)
}

func TestReadImpliesDelivered(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	tr, _ := newTestTracker(store)
	m := seedMessage(t, store, "d1", "alice", []string{"alice", "bob"})

	_, err := tr.AckRead(ctx, "bob", m.ID)
	require.NoError(t, err)

	r, err := store.GetReceipt(ctx, m.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, r.DeliveredAt)
	require.NotNil(t, r.ReadAt)
	assert.Equal(t, *r.ReadAt, *r.DeliveredAt)
}

func TestAckIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	tr, _ := newTestTracker(store)
	m := seedMessage(t, store, "d1", "alice", []string{"alice", "bob"})

	first := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return first }
	_, err := tr.AckDelivered(ctx, "bob", m.ID)
	require.NoError(t, err)

	tr.now = func() time.Time { return first.Add(time.Minute) }
	_, err = tr.AckDelivered(ctx, "bob", m.ID)
	require.NoError(t, err)

	r, err := store.GetReceipt(ctx, m.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, r.DeliveredAt)
	assert.Equal(t, first, *r.DeliveredAt, "repeat ack keeps the first timestamp")
}

func TestAckFromNonParticipant(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	tr, _ := newTestTracker(store)
	m := seedMessage(t, store, "d1", "alice", []string{"alice", "bob"})

	_, err := tr.AckDelivered(ctx, "mallory", m.ID)
	assert.ErrorIs(t, err, errs.ErrNotParticipant)

	// the sender has no receipt of their own either
	_, err = tr.AckRead(ctx, "alice", m.ID)
	assert.ErrorIs(t, err, errs.ErrNotParticipant)
}

func TestAckUnknownMessage(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	tr, _ := newTestTracker(store)

	_, err := tr.AckDelivered(ctx, "bob", "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

// failingReceiptStore makes receipt lookups fail with a transient error.
type failingReceiptStore struct {
	repository.Store
}

func (s *failingReceiptStore) GetReceipt(ctx context.Context, messageID, userID string) (*models.MessageReceipt, error) {
	return nil, errors.New("connection reset")
}

func TestAckStoreFailurePropagates(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	m := seedMessage(t, store, "d1", "alice", []string{"alice", "bob"})
	tr, _ := newTestTracker(&failingReceiptStore{Store: store})

	_, err := tr.AckDelivered(ctx, "bob", m.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errs.ErrNotParticipant, "a store outage is not a membership verdict")
	assert.ErrorContains(t, err, "connection reset")
}

func TestAggregatePushedToSenderOnly(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	tr, reg := newTestTracker(store)
	m := seedMessage(t, store, "g1", "alice", []string{"alice", "bob", "carol"})

	sender := &fakeConn{id: "c-alice", userID: "alice"}
	other := &fakeConn{id: "c-carol", userID: "carol"}
	reg.Register(sender)
	reg.Register(other)

	_, err := tr.AckRead(ctx, "bob", m.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, sender.pushed())
	assert.Equal(t, 0, other.pushed(), "group read status goes to the sender only")
}

func TestConcurrentAcksStayMonotonic(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	tr, _ := newTestTracker(store)
	m := seedMessage(t, store, "d1", "alice", []string{"alice", "bob"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = tr.AckDelivered(ctx, "bob", m.ID)
		}()
		go func() {
			defer wg.Done()
			_, _ = tr.AckRead(ctx, "bob", m.ID)
		}()
	}
	wg.Wait()

	r, err := store.GetReceipt(ctx, m.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, models.ReceiptRead, r.Status)
}

func TestReactionRequiresMembership(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	tr, _ := newTestTracker(store)
	m := seedMessage(t, store, "d1", "alice", []string{"alice", "bob"})

	require.NoError(t, tr.SetReaction(ctx, "bob", m.ID, "👍"))
	assert.ErrorIs(t, tr.SetReaction(ctx, "mallory", m.ID, "👍"), errs.ErrNotParticipant)

	// last write wins per user
	require.NoError(t, tr.SetReaction(ctx, "bob", m.ID, "❤️"))
	rs, err := store.ListReactions(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "❤️", rs[0].Emoji)

	require.NoError(t, tr.ClearReaction(ctx, "bob", m.ID))
	rs, err = store.ListReactions(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, rs)
}
