package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

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

func (f *fakeConn) pushed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func marshal(t *testing.T, env envelope) []byte {
	t.Helper()
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func TestHandleReplaysChatFrameLocally(t *testing.T) {
	reg := registry.New()
	bob := &fakeConn{id: "c-bob", userID: "bob"}
	reg.Register(bob)
	reg.Subscribe("c-bob", "chat1")

	r := New(nil, "rt:frames", "instance-a", reg, zap.NewNop().Sugar())
	r.handle(marshal(t, envelope{Origin: "instance-b", ChatID: "chat1", Frame: []byte(`{"type":"message"}`)}))

	assert.Equal(t, 1, bob.pushed())
}

func TestHandleDropsOwnFrames(t *testing.T) {
	reg := registry.New()
	bob := &fakeConn{id: "c-bob", userID: "bob"}
	reg.Register(bob)
	reg.Subscribe("c-bob", "chat1")

	r := New(nil, "rt:frames", "instance-a", reg, zap.NewNop().Sugar())
	r.handle(marshal(t, envelope{Origin: "instance-a", ChatID: "chat1", Frame: []byte(`{"type":"message"}`)}))

	assert.Zero(t, bob.pushed(), "a publisher never replays its own envelope")
}

func TestHandleUserFrameReachesAllDevices(t *testing.T) {
	reg := registry.New()
	c1 := &fakeConn{id: "c1", userID: "alice"}
	c2 := &fakeConn{id: "c2", userID: "alice"}
	reg.Register(c1)
	reg.Register(c2)

	r := New(nil, "rt:frames", "instance-a", reg, zap.NewNop().Sugar())
	r.handle(marshal(t, envelope{Origin: "instance-b", UserID: "alice", Frame: []byte(`{"type":"status_update"}`)}))

	assert.Equal(t, 1, c1.pushed())
	assert.Equal(t, 1, c2.pushed())
}

func TestHandleHonorsSkip(t *testing.T) {
	reg := registry.New()
	alice := &fakeConn{id: "c-alice", userID: "alice"}
	bob := &fakeConn{id: "c-bob", userID: "bob"}
	reg.Register(alice)
	reg.Register(bob)
	reg.Subscribe("c-alice", "chat1")
	reg.Subscribe("c-bob", "chat1")

	r := New(nil, "rt:frames", "instance-a", reg, zap.NewNop().Sugar())
	r.handle(marshal(t, envelope{Origin: "instance-b", ChatID: "chat1", Skip: "alice", Frame: []byte(`{"type":"typing"}`)}))

	assert.Zero(t, alice.pushed())
	assert.Equal(t, 1, bob.pushed())
}

func TestHandleIgnoresGarbage(t *testing.T) {
	reg := registry.New()
	r := New(nil, "rt:frames", "instance-a", reg, zap.NewNop().Sugar())
	r.handle([]byte("not json"))
}
