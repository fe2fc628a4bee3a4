// Package calls manages call session lifecycle and relays signaling frames
// through the same connection registry messaging uses.
package calls

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/talkwave/realtime/internal/directory"
	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/events"
	"github.com/talkwave/realtime/internal/models"
	"github.com/talkwave/realtime/internal/registry"
	"github.com/talkwave/realtime/internal/relay"
	"github.com/talkwave/realtime/internal/repository"
	"github.com/talkwave/realtime/internal/wire"
)

type Service struct {
	store    repository.Store
	reg      *registry.Registry
	dir      directory.Directory
	notifier *events.Notifier // optional
	relay    *relay.Relay     // optional
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewService(store repository.Store, reg *registry.Registry, dir directory.Directory, notifier *events.Notifier, rly *relay.Relay, log *zap.SugaredLogger) *Service {
	return &Service{store: store, reg: reg, dir: dir, notifier: notifier, relay: rly, log: log, now: time.Now}
}

// pushUser delivers a signal to the user's local connections and shares it
// with the other instances.
func (s *Service) pushUser(ctx context.Context, userID string, frame []byte) {
	s.reg.PushToUser(userID, frame)
	if s.relay != nil {
		s.relay.PublishToUser(ctx, userID, frame)
	}
}

// Start creates a call session and rings the receiver.
func (s *Service) Start(ctx context.Context, callerID, receiverID string, video bool) (*models.Call, error) {
	if blocked, err := s.dir.IsBlocked(ctx, receiverID, callerID); err == nil && blocked {
		return nil, errs.ErrBlocked
	}
	c := &models.Call{
		ID:         uuid.NewString(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Video:      video,
		State:      models.CallInitiated,
		StartedAt:  s.now().UTC(),
	}
	if err := s.store.InsertCall(ctx, c); err != nil {
		return nil, err
	}
	if len(s.reg.ConnectionsForUser(receiverID)) > 0 {
		c.State = models.CallRinging
		_ = s.store.UpdateCall(ctx, c)
		s.pushUser(ctx, receiverID, wire.CallSignal(c.ID, callerID, "ring", nil))
	} else if s.notifier != nil {
		s.notifier.Notify(ctx, events.Notification{
			UserID: receiverID,
			Kind:   "call",
			CallID: c.ID,
			Title:  "Incoming call",
			Body:   "Incoming call",
		})
	}
	return c, nil
}

func (s *Service) Answer(ctx context.Context, userID, callID string) (*models.Call, error) {
	c, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if c.ReceiverID != userID {
		return nil, errs.ErrUnauthorized
	}
	now := s.now().UTC()
	c.State = models.CallOngoing
	c.AnsweredAt = &now
	if err := s.store.UpdateCall(ctx, c); err != nil {
		return nil, err
	}
	s.pushUser(ctx, c.CallerID, wire.CallSignal(c.ID, userID, "answered", nil))
	return c, nil
}

func (s *Service) Decline(ctx context.Context, userID, callID string) (*models.Call, error) {
	c, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if c.ReceiverID != userID {
		return nil, errs.ErrUnauthorized
	}
	now := s.now().UTC()
	c.State = models.CallDeclined
	c.EndedAt = &now
	if err := s.store.UpdateCall(ctx, c); err != nil {
		return nil, err
	}
	s.pushUser(ctx, c.CallerID, wire.CallSignal(c.ID, userID, "declined", nil))
	return c, nil
}

// End terminates the call. An unanswered call ended by the caller is
// recorded as missed for the receiver.
func (s *Service) End(ctx context.Context, userID, callID string) (*models.Call, error) {
	c, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}
	if userID != c.CallerID && userID != c.ReceiverID {
		return nil, errs.ErrUnauthorized
	}
	now := s.now().UTC()
	c.EndedAt = &now
	if c.AnsweredAt != nil {
		c.State = models.CallCompleted
		c.Duration = int(now.Sub(*c.AnsweredAt) / time.Second)
	} else {
		c.State = models.CallMissed
	}
	if err := s.store.UpdateCall(ctx, c); err != nil {
		return nil, err
	}
	other := c.CallerID
	if userID == c.CallerID {
		other = c.ReceiverID
	}
	s.pushUser(ctx, other, wire.CallSignal(c.ID, userID, "ended", nil))
	return c, nil
}

// Relay forwards a signaling payload (offer/answer/ice_candidate) to the
// call's other party, never back to the originator.
func (s *Service) Relay(ctx context.Context, userID, callID, signal string, data json.RawMessage) error {
	switch signal {
	case "offer", "answer", "ice_candidate":
	default:
		return errs.ErrPayloadInvalid
	}
	c, err := s.store.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if userID != c.CallerID && userID != c.ReceiverID {
		return errs.ErrUnauthorized
	}
	other := c.CallerID
	if userID == c.CallerID {
		other = c.ReceiverID
	}
	s.pushUser(ctx, other, wire.CallSignal(callID, userID, signal, data))
	return nil
}

// StartGroup opens a group call on a chat and rings subscribed members.
func (s *Service) StartGroup(ctx context.Context, initiatorID, chatID string, video bool) (*models.GroupCall, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasMember(initiatorID) {
		return nil, errs.ErrNotParticipant
	}
	gc := &models.GroupCall{
		ID:          uuid.NewString(),
		ChatID:      chatID,
		InitiatorID: initiatorID,
		Video:       video,
		StartedAt:   s.now().UTC(),
	}
	if err := s.store.InsertGroupCall(ctx, gc); err != nil {
		return nil, err
	}
	if err := s.store.UpsertGroupCallParticipant(ctx, &models.GroupCallParticipant{
		CallID:   gc.ID,
		UserID:   initiatorID,
		JoinedAt: gc.StartedAt,
	}); err != nil {
		return nil, err
	}
	frame := wire.CallSignal(gc.ID, initiatorID, "group_ring", nil)
	for _, member := range chat.Members {
		if member == initiatorID {
			continue
		}
		s.pushUser(ctx, member, frame)
	}
	return gc, nil
}

func (s *Service) JoinGroup(ctx context.Context, userID, callID string) error {
	gc, err := s.store.GetGroupCall(ctx, callID)
	if err != nil {
		return err
	}
	chat, err := s.store.GetChat(ctx, gc.ChatID)
	if err != nil {
		return err
	}
	if !chat.HasMember(userID) {
		return errs.ErrNotParticipant
	}
	return s.store.UpsertGroupCallParticipant(ctx, &models.GroupCallParticipant{
		CallID:   callID,
		UserID:   userID,
		JoinedAt: s.now().UTC(),
	})
}

func (s *Service) LeaveGroup(ctx context.Context, userID, callID string) error {
	now := s.now().UTC()
	return s.store.UpsertGroupCallParticipant(ctx, &models.GroupCallParticipant{
		CallID: callID,
		UserID: userID,
		LeftAt: &now,
	})
}

func (s *Service) EndGroup(ctx context.Context, userID, callID string) error {
	gc, err := s.store.GetGroupCall(ctx, callID)
	if err != nil {
		return err
	}
	if gc.InitiatorID != userID {
		return errs.ErrUnauthorized
	}
	now := s.now().UTC()
	gc.EndedAt = &now
	return s.store.UpdateGroupCall(ctx, gc)
}
