package ensure

import "sync"

// Handle is an opaque transaction reference. The low 32 bits hold the
// 1-based arena slot, the high 32 bits the slot generation, so a handle
// that outlived its transaction never resolves to a newer one.
type Handle uint64

func makeHandle(slot int, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(uint32(slot+1)))
}

func (h Handle) slot() int   { return int(uint32(h)) - 1 }
func (h Handle) gen() uint32 { return uint32(uint64(h) >> 32) }

type arenaSlot struct {
	gen uint32
	tx  *Transaction
}

// arena owns all open transactions of an engine.
type arena struct {
	mu    sync.Mutex
	slots []arenaSlot
	free  []int
	open  int
}

func newArena() *arena {
	return &arena{}
}

func (a *arena) alloc(tx *Transaction) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx int
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot{gen: 1})
		idx = len(a.slots) - 1
	}
	a.slots[idx].tx = tx
	a.open++
	h := makeHandle(idx, a.slots[idx].gen)
	tx.handle = h
	return h
}

func (a *arena) lookup(h Handle) (*Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := h.slot()
	if h == 0 || idx < 0 || idx >= len(a.slots) {
		return nil, ErrEnsureInvalidTransaction
	}
	s := a.slots[idx]
	if s.tx == nil || s.gen != h.gen() {
		return nil, ErrEnsureInvalidTransaction
	}
	return s.tx, nil
}

// release frees the slot of h. The slot generation is bumped so the
// handle can never be resolved again.
func (a *arena) release(h Handle) (*Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := h.slot()
	if h == 0 || idx < 0 || idx >= len(a.slots) {
		return nil, ErrEnsureInvalidTransaction
	}
	s := &a.slots[idx]
	if s.tx == nil || s.gen != h.gen() {
		return nil, ErrEnsureInvalidTransaction
	}
	tx := s.tx
	s.tx = nil
	s.gen++
	a.free = append(a.free, idx)
	a.open--
	return tx, nil
}

// invalidate drops every open transaction.
func (a *arena) invalidate() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	dropped := 0
	for idx := range a.slots {
		s := &a.slots[idx]
		if s.tx == nil {
			continue
		}
		s.tx = nil
		s.gen++
		a.free = append(a.free, idx)
		dropped++
	}
	a.open = 0
	return dropped
}

func (a *arena) openCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.open
}
