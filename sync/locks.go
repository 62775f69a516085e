package sync

import "sync"

// lockTable serializes downloads per attachment identity. A keyed table
// instead of one global mutex, so unrelated attachments download in parallel
// while the same identity never has two in-flight fetches.
type lockTable struct {
	mu   sync.Mutex
	held map[uint]struct{}
}

func newLockTable() *lockTable {
	return &lockTable{held: make(map[uint]struct{})}
}

// TryAcquire claims the lock for an attachment id. Returns false when another
// worker already holds it.
func (t *lockTable) TryAcquire(id uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[id]; ok {
		return false
	}
	t.held[id] = struct{}{}
	return true
}

// Release frees the lock. Releasing an unheld lock is a no-op.
func (t *lockTable) Release(id uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.held, id)
}
