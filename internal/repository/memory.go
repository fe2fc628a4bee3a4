package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/models"
)

// MemoryStore is a process-local Store used in tests and single-node dev runs.
type MemoryStore struct {
	mu           sync.RWMutex
	chats        map[string]*models.Chat
	messages     map[string]*models.Message
	byChat       map[string][]*models.Message
	receipts     map[string]map[string]*models.MessageReceipt // messageID -> userID
	reactions    map[string]map[string]*models.MessageReaction
	statuses     map[string]*models.Status
	views        map[string]map[string]*models.StatusView
	calls        map[string]*models.Call
	groupCalls   map[string]*models.GroupCall
	participants map[string]map[string]*models.GroupCallParticipant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:        make(map[string]*models.Chat),
		messages:     make(map[string]*models.Message),
		byChat:       make(map[string][]*models.Message),
		receipts:     make(map[string]map[string]*models.MessageReceipt),
		reactions:    make(map[string]map[string]*models.MessageReaction),
		statuses:     make(map[string]*models.Status),
		views:        make(map[string]map[string]*models.StatusView),
		calls:        make(map[string]*models.Call),
		groupCalls:   make(map[string]*models.GroupCall),
		participants: make(map[string]map[string]*models.GroupCallParticipant),
	}
}

func (s *MemoryStore) CreateChat(ctx context.Context, c *models.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.chats[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, errs.ErrChatNotFound
	}
	cp := *c
	cp.Members = append([]string(nil), c.Members...)
	return &cp, nil
}

func (s *MemoryStore) NextSeq(ctx context.Context, chatID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return 0, errs.ErrChatNotFound
	}
	c.Seq++
	return c.Seq, nil
}

func (s *MemoryStore) RemoveMember(ctx context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[chatID]
	if !ok {
		return errs.ErrChatNotFound
	}
	out := c.Members[:0]
	for _, m := range c.Members {
		if m != userID {
			out = append(out, m)
		}
	}
	c.Members = out
	return nil
}

func (s *MemoryStore) InsertMessageWithReceipts(ctx context.Context, m *models.Message, receipts []*models.MessageReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mc := *m
	s.messages[m.ID] = &mc
	s.byChat[m.ChatID] = append(s.byChat[m.ChatID], &mc)
	set := make(map[string]*models.MessageReceipt, len(receipts))
	for _, r := range receipts {
		rc := *r
		set[r.UserID] = &rc
	}
	s.receipts[m.ID] = set
	return nil
}

func (s *MemoryStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	mc := *m
	return &mc, nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, chatID string, limit int64, before time.Time) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Message
	for _, m := range s.byChat[chatID] {
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		mc := *m
		out = append(out, &mc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (s *MemoryStore) MarkDeletedForEveryone(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return errs.ErrNotFound
	}
	m.Deletion = models.DeletionForEveryone
	m.Payload = models.Payload{Kind: models.ContentText, Content: models.Tombstone}
	return nil
}

func (s *MemoryStore) MarkDeletedFor(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return errs.ErrNotFound
	}
	for _, u := range m.DeletedBy {
		if u == userID {
			return nil
		}
	}
	m.DeletedBy = append(m.DeletedBy, userID)
	return nil
}

func (s *MemoryStore) GetReceipt(ctx context.Context, messageID, userID string) (*models.MessageReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[messageID][userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	rc := *r
	return &rc, nil
}

func (s *MemoryStore) ListReceipts(ctx context.Context, messageID string) ([]*models.MessageReceipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.receipts[messageID]
	if !ok {
		return nil, nil
	}
	out := make([]*models.MessageReceipt, 0, len(set))
	for _, r := range set {
		rc := *r
		out = append(out, &rc)
	}
	return out, nil
}

func (s *MemoryStore) SetReceiptStatus(ctx context.Context, messageID, userID string, status models.ReceiptStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.receipts[messageID][userID]
	if !ok {
		return errs.ErrNotFound
	}
	if status.Rank() <= r.Status.Rank() {
		return nil
	}
	r.Status = status
	switch status {
	case models.ReceiptDelivered:
		r.DeliveredAt = &at
	case models.ReceiptRead:
		r.ReadAt = &at
		if r.DeliveredAt == nil {
			r.DeliveredAt = &at
		}
	}
	return nil
}

func (s *MemoryStore) ListUndelivered(ctx context.Context, chatID, userID string) ([]*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Message
	for _, m := range s.byChat[chatID] {
		r, ok := s.receipts[m.ID][userID]
		if ok && r.Status == models.ReceiptSent {
			mc := *m
			out = append(out, &mc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *MemoryStore) SetReaction(ctx context.Context, r *models.MessageReaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reactions[r.MessageID]; !ok {
		s.reactions[r.MessageID] = make(map[string]*models.MessageReaction)
	}
	rc := *r
	s.reactions[r.MessageID][r.UserID] = &rc
	return nil
}

func (s *MemoryStore) ClearReaction(ctx context.Context, messageID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reactions[messageID], userID)
	return nil
}

func (s *MemoryStore) ListReactions(ctx context.Context, messageID string) ([]*models.MessageReaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.MessageReaction, 0, len(s.reactions[messageID]))
	for _, r := range s.reactions[messageID] {
		rc := *r
		out = append(out, &rc)
	}
	return out, nil
}

func (s *MemoryStore) InsertStatus(ctx context.Context, st *models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := *st
	s.statuses[st.ID] = &sc
	return nil
}

func (s *MemoryStore) GetStatus(ctx context.Context, id string) (*models.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statuses[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	sc := *st
	return &sc, nil
}

func (s *MemoryStore) ListActive(ctx context.Context, ownerIDs []string, now time.Time) ([]*models.Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make(map[string]struct{}, len(ownerIDs))
	for _, o := range ownerIDs {
		owners[o] = struct{}{}
	}
	var out []*models.Status
	for _, st := range s.statuses {
		if _, ok := owners[st.OwnerID]; !ok {
			continue
		}
		if !now.Before(st.ExpiresAt) {
			continue
		}
		sc := *st
		out = append(out, &sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteStatus(ctx context.Context, id, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	if !ok || st.OwnerID != ownerID {
		return errs.ErrNotFound
	}
	delete(s.statuses, id)
	delete(s.views, id)
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, st := range s.statuses {
		if !now.Before(st.ExpiresAt) {
			delete(s.statuses, id)
			delete(s.views, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) InsertView(ctx context.Context, v *models.StatusView) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.views[v.StatusID]; !ok {
		s.views[v.StatusID] = make(map[string]*models.StatusView)
	}
	if _, ok := s.views[v.StatusID][v.ViewerID]; ok {
		return false, nil
	}
	vc := *v
	s.views[v.StatusID][v.ViewerID] = &vc
	return true, nil
}

func (s *MemoryStore) ListViews(ctx context.Context, statusID string) ([]*models.StatusView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.StatusView, 0, len(s.views[statusID]))
	for _, v := range s.views[statusID] {
		vc := *v
		out = append(out, &vc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ViewedAt.Before(out[j].ViewedAt) })
	return out, nil
}

func (s *MemoryStore) InsertCall(ctx context.Context, c *models.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := *c
	s.calls[c.ID] = &cc
	return nil
}

func (s *MemoryStore) GetCall(ctx context.Context, id string) (*models.Call, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cc := *c
	return &cc, nil
}

func (s *MemoryStore) UpdateCall(ctx context.Context, c *models.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[c.ID]; !ok {
		return errs.ErrNotFound
	}
	cc := *c
	s.calls[c.ID] = &cc
	return nil
}

func (s *MemoryStore) InsertGroupCall(ctx context.Context, gc *models.GroupCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cc := *gc
	s.groupCalls[gc.ID] = &cc
	return nil
}

func (s *MemoryStore) GetGroupCall(ctx context.Context, id string) (*models.GroupCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gc, ok := s.groupCalls[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cc := *gc
	return &cc, nil
}

func (s *MemoryStore) UpdateGroupCall(ctx context.Context, gc *models.GroupCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groupCalls[gc.ID]; !ok {
		return errs.ErrNotFound
	}
	cc := *gc
	s.groupCalls[gc.ID] = &cc
	return nil
}

func (s *MemoryStore) UpsertGroupCallParticipant(ctx context.Context, p *models.GroupCallParticipant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.CallID]; !ok {
		s.participants[p.CallID] = make(map[string]*models.GroupCallParticipant)
	}
	pc := *p
	s.participants[p.CallID][p.UserID] = &pc
	return nil
}
