package lockwaiter

import (
	"sync"
	"time"
)

// Manager parks transactions that lost a race for a key lock and wakes them
// when the key is released. Waiters are keyed by the lock key's fingerprint.
// A woken waiter re-races for the lock; the Manager itself grants nothing.
type Manager struct {
	mu            sync.Mutex
	waitingQueues map[uint64]*queue
}

func NewManager() *Manager {
	return &Manager{
		waitingQueues: map[uint64]*queue{},
	}
}

type queue struct {
	waiters []*Waiter
}

// removeWaiter removes the correspond waiter from pending array
// it should be used under map lock protection
func (q *queue) removeWaiter(w *Waiter) {
	for i, waiter := range q.waiters {
		if waiter == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			break
		}
	}
}

type Position int

const (
	// WaitOK means the key was released and the waiter should retry.
	WaitOK Position = iota
	// WaitTimeout means the configured wait bound expired first.
	WaitTimeout Position = -1
)

type Waiter struct {
	timeout time.Duration
	ch      chan Position
	TxnID   uint64
	KeyHash uint64
}

// Wait blocks until the waiter is woken or the timeout expires.
func (w *Waiter) Wait() Position {
	if w.timeout <= 0 {
		return WaitTimeout
	}
	select {
	case <-time.After(w.timeout):
		return WaitTimeout
	case result := <-w.ch:
		return result
	}
}

// NewWaiter registers a waiter for keyHash. The caller must still hold
// whatever lock protects the key's state, so a release cannot slip between
// the failed acquisition and the registration.
func (lw *Manager) NewWaiter(txnID, keyHash uint64, timeout time.Duration) *Waiter {
	q := new(queue)
	q.waiters = make([]*Waiter, 0, 8)
	waiter := &Waiter{
		timeout: timeout,
		ch:      make(chan Position, 1),
		TxnID:   txnID,
		KeyHash: keyHash,
	}
	q.waiters = append(q.waiters, waiter)
	lw.mu.Lock()
	if old, ok := lw.waitingQueues[keyHash]; ok {
		old.waiters = append(old.waiters, waiter)
	} else {
		lw.waitingQueues[keyHash] = q
	}
	lw.mu.Unlock()
	return waiter
}

// WakeUp wakes every waiter parked on keyHash. The woken waiters race for
// the lock again in arrival order only by scheduling luck; fairness is left
// to the lock table.
func (lw *Manager) WakeUp(keyHash uint64) {
	lw.mu.Lock()
	q, ok := lw.waitingQueues[keyHash]
	if ok {
		delete(lw.waitingQueues, keyHash)
	}
	lw.mu.Unlock()
	if !ok {
		return
	}
	for _, w := range q.waiters {
		select {
		case w.ch <- WaitOK:
		default:
		}
	}
}

// CleanUp removes a waiter that timed out before being woken.
func (lw *Manager) CleanUp(w *Waiter) {
	lw.mu.Lock()
	if q, ok := lw.waitingQueues[w.KeyHash]; ok {
		q.removeWaiter(w)
		if len(q.waiters) == 0 {
			delete(lw.waitingQueues, w.KeyHash)
		}
	}
	lw.mu.Unlock()
}
