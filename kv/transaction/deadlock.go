package transaction

import (
	"sync"
)

// deadlockDetector keeps the wait-for graph of blocked lock requests. An
// edge a → b means transaction a is waiting for a lock held by b. A request
// that would close a cycle is rejected before it ever blocks.
type deadlockDetector struct {
	mu      sync.Mutex
	waitFor map[uint64]map[uint64]struct{}
}

func newDeadlockDetector() *deadlockDetector {
	return &deadlockDetector{
		waitFor: make(map[uint64]map[uint64]struct{}),
	}
}

// detectAndRegister checks whether waiting on holders would create a cycle.
// If not, the edges are registered and false is returned; otherwise nothing
// is registered and true is returned.
func (d *deadlockDetector) detectAndRegister(txnID uint64, holders []uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range holders {
		if d.reachableLocked(h, txnID, make(map[uint64]struct{})) {
			return true
		}
	}
	edges, ok := d.waitFor[txnID]
	if !ok {
		edges = make(map[uint64]struct{})
		d.waitFor[txnID] = edges
	}
	for _, h := range holders {
		edges[h] = struct{}{}
	}
	return false
}

// reachableLocked walks the wait-for graph from `from` looking for `target`.
func (d *deadlockDetector) reachableLocked(from, target uint64, visited map[uint64]struct{}) bool {
	if from == target {
		return true
	}
	if _, seen := visited[from]; seen {
		return false
	}
	visited[from] = struct{}{}
	for next := range d.waitFor[from] {
		if d.reachableLocked(next, target, visited) {
			return true
		}
	}
	return false
}

// clearWaits removes every outgoing edge of txnID. Called when the
// transaction stops waiting, whether it was granted the lock or gave up.
func (d *deadlockDetector) clearWaits(txnID uint64) {
	d.mu.Lock()
	delete(d.waitFor, txnID)
	d.mu.Unlock()
}
