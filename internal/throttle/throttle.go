// Package throttle drops rapid or duplicate events per user and serializes
// the events it lets through, so each user has one action in flight.
package throttle

import (
	"sync"
	"time"
)

type Config struct {
	// AnyInterval is the minimum gap between any two events of one user.
	AnyInterval time.Duration
	// SameInterval is the minimum gap between two identical events.
	SameInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		AnyInterval:  300 * time.Millisecond,
		SameInterval: 1500 * time.Millisecond,
	}
}

type entry struct {
	lastKey  string
	lastSeen time.Time
	lastAny  time.Time
	inFlight int
	mu       sync.Mutex
}

// Limiter holds one entry per user. Entries are evicted by Sweep.
type Limiter struct {
	cfg     Config
	now     func() time.Time
	mu      sync.Mutex
	entries map[int64]*entry
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg,
		now:     time.Now,
		entries: make(map[int64]*entry),
	}
}

// Acquire admits an event with fingerprint key from userID. When admitted it
// blocks until the user's previous event is released and returns the release
// func for this one.
func (l *Limiter) Acquire(userID int64, key string) (release func(), ok bool) {
	l.mu.Lock()
	now := l.now()
	e, found := l.entries[userID]
	if !found {
		e = &entry{}
		l.entries[userID] = e
	}

	if !e.lastAny.IsZero() && now.Sub(e.lastAny) < l.cfg.AnyInterval {
		l.mu.Unlock()
		return nil, false
	}
	if e.lastKey == key && now.Sub(e.lastSeen) < l.cfg.SameInterval {
		l.mu.Unlock()
		return nil, false
	}

	e.lastKey = key
	e.lastSeen = now
	e.lastAny = now
	e.inFlight++
	l.mu.Unlock()

	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			l.mu.Lock()
			e.inFlight--
			l.mu.Unlock()
		})
	}, true
}

// Sweep evicts entries idle for longer than maxAge and returns how many were
// removed. Entries with an event in flight are kept.
func (l *Limiter) Sweep(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-maxAge)
	removed := 0
	for id, e := range l.entries {
		if e.inFlight == 0 && e.lastAny.Before(cutoff) {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked users.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
