package kernel

import "sort"

// TimerMsgKind tags the three-word message a Timer posts on expiry:
// {TimerMsgKind, timer-handle, info}.
const TimerMsgKind = 1

// Timer fires once (Restart == 0) or periodically (Restart == period in
// ticks), posting {TimerMsgKind, handle, Info} to Queue each time it
// expires. All timers in a Kernel are serviced by one dedicated thread
// (see NewTimerService) so a busy queue only delays that timer's owner,
// never the rest of the kernel.
type Timer struct {
	k       *Kernel
	Name    string
	Handle  uint32
	Queue   *MQueue
	Info    uint32
	restart int64

	deadline int64
	active   bool
}

// TimerService owns the sorted timer list and the thread that drains it.
type TimerService struct {
	k      *Kernel
	mu     *Mutex
	timers []*Timer
	wake   *Semaphore
	thread *Thread
	nextID uint32
}

// NewTimerService creates the dedicated timer thread at the given
// priority. Call Start after constructing the Kernel.
func (k *Kernel) NewTimerService(priority Priority) *TimerService {
	ts := &TimerService{
		k:    k,
		mu:   k.NewMutex("timer.list"),
		wake: k.NewSemaphore("timer.wake", 0),
	}
	ts.thread = k.NewThread("timer", priority, -1, ts.run, nil)
	return ts
}

// NewTimer creates a timer under this service. handle is the opaque value
// posted back to Queue so the receiver can tell timers apart.
func (ts *TimerService) NewTimer(name string, queue *MQueue, info uint32) *Timer {
	ts.nextID++
	return &Timer{k: ts.k, Name: name, Handle: ts.nextID, Queue: queue, Info: info}
}

// Start arms t to fire after delay ticks, then every restart ticks
// (restart == 0 means one-shot).
func (ts *TimerService) Start(t *Timer, delay, restart int64) {
	ts.thread.PendMutex(ts.mu, WaitForever)
	t.restart = restart
	t.deadline = ts.k.Now() + delay
	if !t.active {
		t.active = true
		ts.insert(t)
	} else {
		ts.resort(t)
	}
	ts.thread.PostMutex(ts.mu)
	ts.wake.Post()
}

// Stop disarms t. It is a no-op if the timer was not active.
func (ts *TimerService) Stop(t *Timer) {
	ts.thread.PendMutex(ts.mu, WaitForever)
	if t.active {
		ts.remove(t)
		t.active = false
	}
	ts.thread.PostMutex(ts.mu)
	ts.wake.Post()
}

func (ts *TimerService) insert(t *Timer) {
	i := sort.Search(len(ts.timers), func(i int) bool {
		return ts.timers[i].deadline > t.deadline
	})
	ts.timers = append(ts.timers, nil)
	copy(ts.timers[i+1:], ts.timers[i:])
	ts.timers[i] = t
}

func (ts *TimerService) remove(t *Timer) {
	for i, r := range ts.timers {
		if r == t {
			ts.timers = append(ts.timers[:i], ts.timers[i+1:]...)
			return
		}
	}
}

func (ts *TimerService) resort(t *Timer) {
	ts.remove(t)
	ts.insert(t)
}

// run is the timer thread's body: sleep until the nearest deadline (or
// forever if no timer is armed), drain every timer whose deadline has
// passed, and re-arm periodic ones. It is woken early whenever Start/Stop
// changes the head of the list.
func (ts *TimerService) run(self *Thread) {
	for {
		ts.thread.PendMutex(ts.mu, WaitForever)
		var delay int64 = WaitForever
		if len(ts.timers) > 0 {
			delay = ts.timers[0].deadline - ts.k.Now()
			if delay < 0 {
				delay = 0
			}
		}
		ts.thread.PostMutex(ts.mu)

		self.Pend(ts.wake, delay)

		ts.thread.PendMutex(ts.mu, WaitForever)
		now := ts.k.Now()
		var expired []*Timer
		for len(ts.timers) > 0 && ts.timers[0].deadline <= now {
			t := ts.timers[0]
			ts.timers = ts.timers[1:]
			expired = append(expired, t)
			if t.restart > 0 {
				t.deadline = now + t.restart
				ts.insert(t)
			} else {
				t.active = false
			}
		}
		ts.thread.PostMutex(ts.mu)

		for _, t := range expired {
			Log.Debug("timer fired", "name", t.Name, "info", t.Info)
			t.Queue.Send([]uint32{TimerMsgKind, t.Handle, t.Info})
		}
	}
}
