package kernel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls until cond() is true or the deadline passes, giving
// goroutine-scheduled kernel threads a chance to run between checks.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}

func TestSchedulerFIFOWithinPriority(t *testing.T) {
	k := New(1)

	var order []string
	var mu sync.Mutex

	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	main := k.NewThread("main", 200, -1, func(self *Thread) {
		k.NewThread("t1", 100, -1, func(self *Thread) { record("t1") }, nil)
		k.NewThread("t2", 100, -1, func(self *Thread) { record("t2") }, nil)
		k.NewThread("t3", 100, -1, func(self *Thread) { record("t3") }, nil)
		self.PrioritySet(50)
		self.Sleep(0)
	}, nil)
	_ = main

	k.Start()

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"t1", "t2", "t3"}, order)
}

func TestSemaphoreTimeout(t *testing.T) {
	k := New(1)
	sem := k.NewSemaphore("s", 0)

	result := make(chan ReturnCode, 1)
	k.NewThread("waiter", 100, -1, func(self *Thread) {
		result <- self.Pend(sem, 3)
	}, nil)
	k.Start()

	// the deadline is measured from the tick at which Pend runs, so let
	// the waiter block before advancing time
	waitFor(t, func() bool { return sem.Count() < 0 })
	for i := 0; i < 3; i++ {
		k.Tick()
	}

	select {
	case rc := <-result:
		assert.Equal(t, WokeTimeout, rc)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pend to return")
	}
}

func TestSemaphorePostCancelsTimeout(t *testing.T) {
	k := New(1)
	sem := k.NewSemaphore("s", 0)

	result := make(chan ReturnCode, 1)
	k.NewThread("waiter", 100, -1, func(self *Thread) {
		result <- self.Pend(sem, 3)
	}, nil)
	k.Start()

	waitFor(t, func() bool { return sem.Count() < 0 })
	sem.Post()

	select {
	case rc := <-result:
		assert.Equal(t, WokeNormally, rc)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pend to return")
	}
}

func TestRecursiveMutex(t *testing.T) {
	k := New(1)
	m := k.NewMutex("m")

	done := make(chan struct{})
	k.NewThread("owner", 100, -1, func(self *Thread) {
		self.PendMutex(m, WaitForever)
		self.PendMutex(m, WaitForever)
		assert.Equal(t, self, m.Owner())
		self.PostMutex(m)
		assert.Equal(t, self, m.Owner())
		self.PostMutex(m)
		assert.Nil(t, m.Owner())
		close(done)
	}, nil)
	k.Start()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("mutex test did not complete")
	}
}

func TestMQueueSendGet(t *testing.T) {
	k := New(1)
	q := k.NewMQueue("q", 4, 2)

	got := make(chan []uint32, 1)
	k.NewThread("reader", 100, -1, func(self *Thread) {
		out := make([]uint32, 2)
		if self.Get(q, out, WaitForever) {
			got <- out
		}
	}, nil)
	k.NewThread("writer", 100, -1, func(self *Thread) {
		q.Send([]uint32{7, 8})
	}, nil)
	k.Start()

	select {
	case msg := <-got:
		assert.Equal(t, []uint32{7, 8}, msg)
	case <-time.After(time.Second):
		t.Fatal("queue message never arrived")
	}
}
