// Package registry maps open realtime connections to users and the chats
// each connection is subscribed to.
package registry

import (
	"sync"
)

// Conn is the registry's view of one realtime connection.
type Conn interface {
	ID() string
	UserID() string
	// Push enqueues a frame on the connection's FIFO send queue. It never
	// blocks; a full or closed queue returns an error.
	Push(frame []byte) error
}

type room struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// Registry tracks connections, their owners and their chat subscriptions.
// The top-level maps are guarded by one RWMutex; each chat's subscriber set
// has its own lock so traffic on busy chats does not stall unrelated ones.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]Conn
	byUser map[string]map[string]Conn
	rooms  map[string]*room
	subs   map[string]map[string]struct{} // connID -> chatIDs
}

func New() *Registry {
	return &Registry{
		conns:  make(map[string]Conn),
		byUser: make(map[string]map[string]Conn),
		rooms:  make(map[string]*room),
		subs:   make(map[string]map[string]struct{}),
	}
}

func (r *Registry) Register(c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.ID()] = c
	if _, ok := r.byUser[c.UserID()]; !ok {
		r.byUser[c.UserID()] = make(map[string]Conn)
	}
	r.byUser[c.UserID()][c.ID()] = c
	r.subs[c.ID()] = make(map[string]struct{})
}

func (r *Registry) Subscribe(connID, chatID string) bool {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	rm, ok := r.rooms[chatID]
	if !ok {
		rm = &room{conns: make(map[string]Conn)}
		r.rooms[chatID] = rm
	}
	r.subs[connID][chatID] = struct{}{}
	r.mu.Unlock()

	rm.mu.Lock()
	rm.conns[connID] = c
	rm.mu.Unlock()
	return true
}

func (r *Registry) Unsubscribe(connID, chatID string) {
	r.mu.Lock()
	if set, ok := r.subs[connID]; ok {
		delete(set, chatID)
	}
	rm := r.rooms[chatID]
	r.mu.Unlock()
	if rm == nil {
		return
	}
	rm.mu.Lock()
	delete(rm.conns, connID)
	rm.mu.Unlock()
}

// RevokeUser drops every connection of the user from the chat's subscriber
// set. Called when a member is removed from a group.
func (r *Registry) RevokeUser(chatID, userID string) {
	r.mu.RLock()
	rm := r.rooms[chatID]
	userConns := make([]string, 0, 2)
	for id, c := range r.conns {
		if c.UserID() == userID {
			userConns = append(userConns, id)
		}
	}
	r.mu.RUnlock()
	if rm == nil {
		return
	}
	rm.mu.Lock()
	for _, id := range userConns {
		delete(rm.conns, id)
	}
	rm.mu.Unlock()
	r.mu.Lock()
	for _, id := range userConns {
		if set, ok := r.subs[id]; ok {
			delete(set, chatID)
		}
	}
	r.mu.Unlock()
}

// ConnectionsFor returns a snapshot of the chat's subscribers. Pushes happen
// outside the room lock.
func (r *Registry) ConnectionsFor(chatID string) []Conn {
	r.mu.RLock()
	rm := r.rooms[chatID]
	r.mu.RUnlock()
	if rm == nil {
		return nil
	}
	rm.mu.RLock()
	out := make([]Conn, 0, len(rm.conns))
	for _, c := range rm.conns {
		out = append(out, c)
	}
	rm.mu.RUnlock()
	return out
}

// ConnectionsForUser returns all open connections owned by the user.
func (r *Registry) ConnectionsForUser(userID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byUser[userID]
	out := make([]Conn, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	return out
}

// PushToUser enqueues the frame on every connection of the user. Best
// effort: connections with a full queue are skipped.
func (r *Registry) PushToUser(userID string, frame []byte) {
	for _, c := range r.ConnectionsForUser(userID) {
		_ = c.Push(frame)
	}
}

// Close removes the connection and all of its subscriptions.
func (r *Registry) Close(connID string) {
	r.mu.Lock()
	c, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	if set, ok := r.byUser[c.UserID()]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, c.UserID())
		}
	}
	chats := r.subs[connID]
	delete(r.subs, connID)
	rooms := make([]*room, 0, len(chats))
	for chatID := range chats {
		if rm, ok := r.rooms[chatID]; ok {
			rooms = append(rooms, rm)
		}
	}
	r.mu.Unlock()

	for _, rm := range rooms {
		rm.mu.Lock()
		delete(rm.conns, connID)
		rm.mu.Unlock()
	}
}

// Subscriptions returns the chats the connection is currently subscribed to.
func (r *Registry) Subscriptions(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.subs[connID]))
	for chatID := range r.subs[connID] {
		out = append(out, chatID)
	}
	return out
}
