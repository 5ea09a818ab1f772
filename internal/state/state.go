// Package state holds the single UI-facing state value and broadcasts every
// committed replacement to subscribers.
package state

import (
	"sync"
	"time"

	"github.com/mr1hm/go-hazard-watch/internal/models"
)

// UIState is replaced as a whole on every commit. Slices and maps inside are
// shared between versions and must be treated as read-only; reducers copy
// before changing them.
type UIState struct {
	Snapshot    models.Snapshot     `json:"snapshot"`
	HasSnapshot bool                `json:"has_snapshot"`
	Position    *models.Position    `json:"position,omitempty"`
	Banner      models.BannerState  `json:"banner"`
	ActiveZone  *models.RiskZone    `json:"active_zone,omitempty"`
	Realtime    models.ChannelState `json:"realtime"`
	Syncing     bool                `json:"syncing"`
	// SyncError is the message of the last failed sync, cleared by the next
	// successful one.
	SyncError string `json:"sync_error,omitempty"`
	// ZoneFreshness holds the receive time of zones applied from the realtime
	// channel, keyed by zone id.
	ZoneFreshness map[string]time.Time `json:"-"`
	Version       uint64               `json:"version"`
}

type Store struct {
	// writeMu serializes commits and their delivery so subscribers observe
	// versions in order.
	writeMu sync.Mutex

	mu     sync.RWMutex
	state  UIState
	subs   map[uint64]func(UIState)
	nextID uint64
}

func NewStore(initial UIState) *Store {
	return &Store{
		state: initial,
		subs:  make(map[uint64]func(UIState)),
	}
}

// Get returns the last committed state.
func (s *Store) Get() UIState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Update applies fn to the current state and commits the result. Subscribers
// receive the new state before Update returns. fn and subscribers must not
// call Update themselves.
func (s *Store) Update(fn func(UIState) UIState) UIState {
	next, _ := s.UpdateIf(func(cur UIState) (UIState, bool) {
		return fn(cur), true
	})
	return next
}

// UpdateIf is Update where fn may decline to commit by returning false; the
// current state is returned unchanged and nobody is notified.
func (s *Store) UpdateIf(fn func(UIState) (UIState, bool)) (UIState, bool) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.Get()
	next, ok := fn(cur)
	if !ok {
		return cur, false
	}
	next.Version = cur.Version + 1

	s.mu.Lock()
	s.state = next
	subs := make([]func(UIState), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
	return next, true
}

// Subscribe delivers the current state to fn immediately and then every
// committed state. The returned func unsubscribes and is safe to call twice.
func (s *Store) Subscribe(fn func(UIState)) (unsubscribe func()) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	cur := s.state
	s.mu.Unlock()

	fn(cur)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
