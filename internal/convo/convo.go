// Package convo holds the per-user conversational state: which screen a user
// is on and which chat session their free text belongs to.
package convo

import "sync"

// State is one of Idle, Chatting, OfferPrice or OfferComment.
type State interface {
	state()
}

// Idle is the top-level menu.
type Idle struct{}

// Chatting routes the user's messages into a chat session.
type Chatting struct {
	SessionID int64
}

// OfferPrice waits for a price for a counter-offer on ListingID.
type OfferPrice struct {
	ListingID int64
}

// OfferComment waits for an optional comment after the price was accepted.
type OfferComment struct {
	ListingID int64
	Price     float64
}

func (Idle) state()         {}
func (Chatting) state()     {}
func (OfferPrice) state()   {}
func (OfferComment) state() {}

// Store keeps one State per user, keyed by internal user ID. Missing users
// are Idle.
type Store struct {
	mu     sync.RWMutex
	states map[int64]State
}

func NewStore() *Store {
	return &Store{states: make(map[int64]State)}
}

func (s *Store) Get(userID int64) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[userID]; ok {
		return st
	}
	return Idle{}
}

func (s *Store) Set(userID int64, st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, idle := st.(Idle); idle || st == nil {
		delete(s.states, userID)
		return
	}
	s.states[userID] = st
}

// Reset returns the user to Idle.
func (s *Store) Reset(userID int64) {
	s.Set(userID, Idle{})
}

// ActiveSession returns the session the user is chatting in, if any.
func (s *Store) ActiveSession(userID int64) (int64, bool) {
	if c, ok := s.Get(userID).(Chatting); ok {
		return c.SessionID, true
	}
	return 0, false
}
