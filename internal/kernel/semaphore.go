package kernel

import "sort"

// Semaphore is a counting semaphore with timeout-based pend and a
// priority-sorted waiter list. count > 0 means tokens are available;
// count <= 0 means -count threads are queued, highest priority first.
type Semaphore struct {
	k       *Kernel
	Name    string
	count   int
	waiters []*Thread
}

// NewSemaphore creates a semaphore with the given initial count.
func (k *Kernel) NewSemaphore(name string, count int) *Semaphore {
	return &Semaphore{k: k, Name: name, count: count}
}

// Count returns the current count (negative means waiters are queued).
func (s *Semaphore) Count() int {
	s.k.crit.lock()
	defer s.k.crit.unlock()
	return s.count
}

func (s *Semaphore) waiterInsert(t *Thread) {
	i := sort.Search(len(s.waiters), func(i int) bool {
		return s.waiters[i].Priority < t.Priority
	})
	s.waiters = append(s.waiters, nil)
	copy(s.waiters[i+1:], s.waiters[i:])
	s.waiters[i] = t
}

func (s *Semaphore) removeWaiterLocked(t *Thread) {
	for i, w := range s.waiters {
		if w == t {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

// Pend decrements the semaphore and blocks the calling thread if no token
// was available. ticks is the maximum number of ticks to wait, 0 to poll
// without blocking, or WaitForever. Returns WokeNormally or WokeTimeout.
func (t *Thread) Pend(s *Semaphore, ticks int64) ReturnCode {
	k := t.kernel
	k.crit.lock()
	s.count--
	if s.count >= 0 {
		k.crit.unlock()
		return WokeNormally
	}
	if ticks == 0 {
		s.count++
		k.crit.unlock()
		return WokeTimeout
	}

	k.readyRemove(t)
	t.state = ThreadPend
	t.pendingOn = s
	s.waiterInsert(t)
	if ticks != WaitForever {
		k.timeoutInsert(t, k.tick+ticks)
	}
	k.rescheduleLocked(false)
	k.crit.unlock()

	t.park()
	return t.returnCode
}

// Post increments the semaphore, waking the highest-priority waiter if
// any. Safe to call from ISR context (it never blocks).
func (s *Semaphore) Post() {
	k := s.k
	k.crit.lock()
	s.count++
	if s.count <= 0 && len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		w.pendingOn = nil
		k.timeoutRemove(w)
		w.returnCode = WokeNormally
		w.state = ThreadReady
		k.readyInsert(w)
	}
	k.rescheduleLocked(false)
	k.crit.unlock()
}
