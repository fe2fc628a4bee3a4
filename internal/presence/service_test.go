package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/talkwave/realtime/internal/directory"
	"github.com/talkwave/realtime/internal/models"
	"github.com/talkwave/realtime/internal/registry"
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

func (f *fakeConn) snapshot() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames...)
}

type presenceFrame struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	Online   bool   `json:"online"`
	LastSeen string `json:"last_seen"`
}

func decodePresence(t *testing.T, raw []byte) presenceFrame {
	t.Helper()
	var f presenceFrame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func newTestService(dir *directory.Static) (*Service, *Tracker, *registry.Registry) {
	tr := NewTracker()
	reg := registry.New()
	return NewService(tr, reg, dir, nil, zap.NewNop().Sugar()), tr, reg
}

func TestConnectBroadcastsToContactsOnce(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewStatic()
	dir.AddUser(&models.User{ID: "alice", LastSeenPrivacy: models.PrivacyEveryone})
	dir.AddContact("alice", "bob")
	svc, _, reg := newTestService(dir)

	bob := &fakeConn{id: "c-bob", userID: "bob"}
	reg.Register(bob)

	svc.HandleConnect(ctx, "alice", "c1")
	frames := bob.snapshot()
	require.Len(t, frames, 1)
	f := decodePresence(t, frames[0])
	assert.Equal(t, "presence", f.Type)
	assert.Equal(t, "alice", f.UserID)
	assert.True(t, f.Online)

	// a second device is not a transition, nothing more is sent
	svc.HandleConnect(ctx, "alice", "c2")
	assert.Len(t, bob.snapshot(), 1)
}

func TestDisconnectCarriesLastSeenWhenPermitted(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewStatic()
	dir.AddUser(&models.User{ID: "alice", LastSeenPrivacy: models.PrivacyEveryone})
	dir.AddContact("alice", "bob")
	svc, tr, reg := newTestService(dir)

	closeTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return closeTime }

	bob := &fakeConn{id: "c-bob", userID: "bob"}
	reg.Register(bob)

	svc.HandleConnect(ctx, "alice", "c1")
	svc.HandleDisconnect(ctx, "alice", "c1")

	frames := bob.snapshot()
	require.Len(t, frames, 2)
	f := decodePresence(t, frames[1])
	assert.False(t, f.Online)
	assert.Equal(t, closeTime.Format(time.RFC3339), f.LastSeen)
}

func TestLastSeenWithheldByPrivacy(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewStatic()
	dir.AddUser(&models.User{ID: "alice", LastSeenPrivacy: models.PrivacyNobody})
	dir.AddContact("alice", "bob")
	svc, tr, reg := newTestService(dir)
	tr.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	bob := &fakeConn{id: "c-bob", userID: "bob"}
	reg.Register(bob)

	svc.HandleConnect(ctx, "alice", "c1")
	svc.HandleDisconnect(ctx, "alice", "c1")

	frames := bob.snapshot()
	require.Len(t, frames, 2)
	f := decodePresence(t, frames[1])
	assert.False(t, f.Online, "the offline transition itself is still broadcast")
	assert.Empty(t, f.LastSeen, "timestamp withheld")

	_, ok := svc.LastSeenFor(ctx, "alice", "bob")
	assert.False(t, ok)
}

func TestLastSeenForContactsPrivacy(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewStatic()
	dir.AddUser(&models.User{ID: "alice", LastSeenPrivacy: models.PrivacyContacts})
	dir.AddContact("alice", "bob")
	svc, tr, _ := newTestService(dir)

	closeTime := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return closeTime }
	svc.HandleConnect(ctx, "alice", "c1")
	svc.HandleDisconnect(ctx, "alice", "c1")

	ts, ok := svc.LastSeenFor(ctx, "alice", "bob")
	require.True(t, ok)
	assert.Equal(t, closeTime, ts)

	_, ok = svc.LastSeenFor(ctx, "alice", "stranger")
	assert.False(t, ok)
}

func TestNonContactsGetNoBroadcast(t *testing.T) {
	ctx := context.Background()
	dir := directory.NewStatic()
	dir.AddUser(&models.User{ID: "alice", LastSeenPrivacy: models.PrivacyEveryone})
	svc, _, reg := newTestService(dir)

	stranger := &fakeConn{id: "c-s", userID: "stranger"}
	reg.Register(stranger)

	svc.HandleConnect(ctx, "alice", "c1")
	assert.Empty(t, stranger.snapshot())
}
