package presence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/talkwave/realtime/internal/directory"
	"github.com/talkwave/realtime/internal/registry"
	"github.com/talkwave/realtime/internal/wire"
)

// Service drives presence transitions from connection lifecycle events and
// broadcasts them to mutual contacts with visibility permission.
type Service struct {
	tracker *Tracker
	reg     *registry.Registry
	dir     directory.Directory
	mirror  *RedisStore // optional
	log     *zap.SugaredLogger
}

func NewService(tracker *Tracker, reg *registry.Registry, dir directory.Directory, mirror *RedisStore, log *zap.SugaredLogger) *Service {
	return &Service{tracker: tracker, reg: reg, dir: dir, mirror: mirror, log: log}
}

func (s *Service) HandleConnect(ctx context.Context, userID, connID string) {
	became := s.tracker.MarkOnline(userID, connID)
	if s.mirror != nil {
		if err := s.mirror.AddConnection(ctx, userID, connID, 24*time.Hour); err != nil {
			s.log.Warnw("presence mirror add", "user", userID, "err", err)
		}
	}
	if became {
		s.broadcast(ctx, userID, true, time.Time{})
	}
}

func (s *Service) HandleDisconnect(ctx context.Context, userID, connID string) {
	went, lastSeen := s.tracker.MarkOffline(userID, connID)
	if s.mirror != nil {
		if err := s.mirror.RemoveConnection(ctx, userID, connID, lastSeen); err != nil {
			s.log.Warnw("presence mirror remove", "user", userID, "err", err)
		}
	}
	if went {
		s.broadcast(ctx, userID, false, lastSeen)
	}
}

// IsOnline answers from local state first, then falls back to the mirror
// for users connected to another instance.
func (s *Service) IsOnline(ctx context.Context, userID string) bool {
	if s.tracker.IsOnline(userID) {
		return true
	}
	if s.mirror != nil {
		if online, _, err := s.mirror.GetPresence(ctx, userID); err == nil {
			return online
		}
	}
	return false
}

// LastSeenFor returns the owner's last-seen time as visible to the viewer.
// A withheld value comes back as the zero time with ok=false.
func (s *Service) LastSeenFor(ctx context.Context, ownerID, viewerID string) (time.Time, bool) {
	owner, err := s.dir.GetUser(ctx, ownerID)
	if err != nil {
		return time.Time{}, false
	}
	if !directory.CanSeeLastSeen(ctx, s.dir, owner, viewerID) {
		return time.Time{}, false
	}
	if ts, ok := s.tracker.LastSeen(ownerID); ok {
		return ts, true
	}
	if s.mirror != nil {
		if online, last, err := s.mirror.GetPresence(ctx, ownerID); err == nil && !online && !last.IsZero() {
			return last, true
		}
	}
	return time.Time{}, false
}

// broadcast notifies connected mutual contacts of a transition. One attempt
// per contact; a presence blip is not worth retrying.
func (s *Service) broadcast(ctx context.Context, userID string, online bool, lastSeen time.Time) {
	contacts, err := s.dir.Contacts(ctx, userID)
	if err != nil {
		s.log.Debugw("presence broadcast skipped", "user", userID, "err", err)
		return
	}
	owner, err := s.dir.GetUser(ctx, userID)
	if err != nil {
		return
	}
	for _, contact := range contacts {
		frame := wire.Presence(userID, online, time.Time{})
		if !online && directory.CanSeeLastSeen(ctx, s.dir, owner, contact) {
			frame = wire.Presence(userID, online, lastSeen)
		}
		s.reg.PushToUser(contact, frame)
	}
}
