package ensure

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot pins one generation of claims. Snapshots are immutable.
type Snapshot struct {
	Generation  uint64
	Set         *ClaimSet
	PublishedAt time.Time
}

// View is what a transaction reads: a snapshot together with the health of
// the most recent refresh attempt at the time the view was published.
type View struct {
	Snapshot  *Snapshot
	Online    bool
	Trusted   bool
	LastError error
}

// Store holds the active claim view. Publishing swaps a pointer, so readers
// never block and always observe claims from exactly one generation.
type Store struct {
	view atomic.Pointer[View]

	// Publish is single-writer; mu only orders writers and guards updated.
	mu      sync.Mutex
	updated chan struct{}
}

// NewStore returns a store seeded with the empty, offline, untrusted
// generation 0.
func NewStore() *Store {
	s := &Store{updated: make(chan struct{})}
	seed := NewClaimSet()
	seed.Offline = true
	s.view.Store(&View{
		Snapshot: &Snapshot{Generation: 0, Set: seed},
		Online:   false,
		Trusted:  false,
	})
	return s
}

// Current returns the active view.
func (s *Store) Current() *View {
	return s.view.Load()
}

// Generation returns the active snapshot generation.
func (s *Store) Generation() uint64 {
	return s.view.Load().Snapshot.Generation
}

// Publish installs set as the next generation and returns its snapshot.
// The set must not be modified by the caller afterwards.
func (s *Store) Publish(set *ClaimSet) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.view.Load()
	snap := &Snapshot{
		Generation:  prev.Snapshot.Generation + 1,
		Set:         set,
		PublishedAt: time.Now(),
	}
	s.view.Store(&View{
		Snapshot: snap,
		Online:   !set.Offline,
		Trusted:  set.Trusted,
	})

	updated := s.updated
	s.updated = make(chan struct{})
	close(updated)
	return snap
}

// MarkFailed keeps the current snapshot and records a failed refresh. A
// verification failure clears Trusted, anything else clears Online.
func (s *Store) MarkFailed(err error, verification bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.view.Load()
	next := &View{
		Snapshot:  prev.Snapshot,
		Online:    prev.Online,
		Trusted:   prev.Trusted,
		LastError: err,
	}
	if verification {
		next.Trusted = false
	} else {
		next.Online = false
	}
	s.view.Store(next)
}

// Updated returns a channel that is closed on the next Publish.
func (s *Store) Updated() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updated
}
