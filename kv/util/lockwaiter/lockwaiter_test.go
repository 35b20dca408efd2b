package lockwaiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaiterTimeout(t *testing.T) {
	mgr := NewManager()
	w := mgr.NewWaiter(1, 100, 10*time.Millisecond)
	start := time.Now()
	assert.Equal(t, WaitTimeout, w.Wait())
	assert.True(t, time.Since(start) >= 10*time.Millisecond)
	mgr.CleanUp(w)
	assert.Equal(t, 0, len(mgr.waitingQueues))
}

func TestWaiterWakeUp(t *testing.T) {
	mgr := NewManager()
	w := mgr.NewWaiter(1, 100, time.Second)
	done := make(chan Position, 1)
	go func() {
		done <- w.Wait()
	}()
	mgr.WakeUp(100)
	select {
	case pos := <-done:
		assert.Equal(t, WaitOK, pos)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
}

func TestWakeUpOnlyMatchingKey(t *testing.T) {
	mgr := NewManager()
	w1 := mgr.NewWaiter(1, 100, 20*time.Millisecond)
	w2 := mgr.NewWaiter(2, 200, 20*time.Millisecond)
	mgr.WakeUp(100)
	assert.Equal(t, WaitOK, w1.Wait())
	assert.Equal(t, WaitTimeout, w2.Wait())
	mgr.CleanUp(w2)
}

func TestExpiredTimeoutFailsFast(t *testing.T) {
	mgr := NewManager()
	w := mgr.NewWaiter(1, 100, -time.Millisecond)
	assert.Equal(t, WaitTimeout, w.Wait())
	mgr.CleanUp(w)
}
