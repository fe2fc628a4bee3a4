package directory

import (
	"context"
	"sync"

	"github.com/talkwave/realtime/internal/errs"
	"github.com/talkwave/realtime/internal/models"
)

// Static is an in-memory Directory for tests and single-node dev runs.
type Static struct {
	mu       sync.RWMutex
	users    map[string]*models.User
	blocked  map[[2]string]bool
	contacts map[string][]string
}

func NewStatic() *Static {
	return &Static{
		users:    make(map[string]*models.User),
		blocked:  make(map[[2]string]bool),
		contacts: make(map[string][]string),
	}
}

func (s *Static) AddUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

func (s *Static) Block(blocker, blocked string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocked[[2]string{blocker, blocked}] = true
}

func (s *Static) AddContact(a, b string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[a] = append(s.contacts[a], b)
	s.contacts[b] = append(s.contacts[b], a)
}

func (s *Static) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Static) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocked[[2]string{a, b}] || s.blocked[[2]string{b, a}], nil
}

func (s *Static) Contacts(ctx context.Context, id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.contacts[id]...), nil
}
