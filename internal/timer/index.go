package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// LiveIndex holds the live sessions and serializes transitions on them.
//
// Implementations must apply Insert and Transition atomically: Insert fails
// with a *DuplicateActiveSessionError when the user already owns a live
// session, and Transition runs fn against the current state with no other
// transition on the same session in between. When fn returns an error the
// stored session is left unchanged. When fn leaves the session in a terminal
// status the session is removed from the index.
type LiveIndex interface {
	Insert(ctx context.Context, s Session) error
	Transition(ctx context.Context, sessionID string, fn func(*Session) error) (Session, error)
	// Get returns ErrNotFoundOrInvalidState for unknown sessions.
	Get(ctx context.Context, sessionID string) (Session, error)
	// FindByUser returns ErrNotFoundOrInvalidState when the user has no live
	// session.
	FindByUser(ctx context.Context, userID string) (Session, error)
}

// MemoryIndex is a process local LiveIndex. It is safe for concurrent use.
type MemoryIndex struct {
	mu       sync.Mutex
	sessions map[string]Session
	byUser   map[string]string
}

// NewMemoryIndex returns an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		sessions: make(map[string]Session),
		byUser:   make(map[string]string),
	}
}

// Insert implements LiveIndex.
func (x *MemoryIndex) Insert(_ context.Context, s Session) error {
	if s.ID == "" || s.UserID == "" {
		return errors.New("session id and user id are required")
	}
	if !s.Status.Live() {
		return fmt.Errorf("cannot index session in status %q", s.Status)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if existing, ok := x.byUser[s.UserID]; ok {
		return &DuplicateActiveSessionError{SessionID: existing}
	}
	if _, ok := x.sessions[s.ID]; ok {
		return fmt.Errorf("session id %s already in use", s.ID)
	}
	x.sessions[s.ID] = s.Clone()
	x.byUser[s.UserID] = s.ID
	return nil
}

// Transition implements LiveIndex.
func (x *MemoryIndex) Transition(_ context.Context, sessionID string, fn func(*Session) error) (Session, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur, ok := x.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFoundOrInvalidState
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return Session{}, err
	}
	// Identity fields are immutable.
	next.ID, next.UserID, next.StartTime = cur.ID, cur.UserID, cur.StartTime

	if next.Status.Terminal() {
		delete(x.sessions, sessionID)
		delete(x.byUser, cur.UserID)
	} else {
		x.sessions[sessionID] = next
	}
	return next.Clone(), nil
}

// Get implements LiveIndex.
func (x *MemoryIndex) Get(_ context.Context, sessionID string) (Session, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	s, ok := x.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFoundOrInvalidState
	}
	return s.Clone(), nil
}

// FindByUser implements LiveIndex.
func (x *MemoryIndex) FindByUser(_ context.Context, userID string) (Session, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	id, ok := x.byUser[userID]
	if !ok {
		return Session{}, ErrNotFoundOrInvalidState
	}
	return x.sessions[id].Clone(), nil
}

// Len returns the number of live sessions.
func (x *MemoryIndex) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.sessions)
}
