package kernel

import "fmt"

// ThreadState is the coarse state of a Thread as seen by the scheduler.
type ThreadState int

const (
	ThreadReady ThreadState = iota
	ThreadRunning
	ThreadPend
	ThreadDead
)

func (s ThreadState) String() string {
	switch s {
	case ThreadReady:
		return "READY"
	case ThreadRunning:
		return "RUNNING"
	case ThreadPend:
		return "PEND"
	case ThreadDead:
		return "DEAD"
	default:
		return "?"
	}
}

// threadMagic is the stack-overflow sentinel checked at every simulated
// context switch. It has no real stack to guard in Go, but keeping the
// field and the check preserves the original's invariant and gives test
// harnesses a place to inject corruption for the negative-path test.
const threadMagic = 0x5442

// Thread is one schedulable unit of work. A Thread is created with
// NewThread and does not begin running until the owning Kernel is started
// (or, if created after Start, until the scheduler picks it).
type Thread struct {
	kernel *Kernel

	Name     string
	Priority Priority
	CPULock  int // -1 = no affinity, else a specific CPU index

	state ThreadState
	cpu   int // which CPU slot is running this thread, -1 if not running

	fn  func(*Thread)
	arg any

	resume chan struct{} // buffered(1): the context-switch primitive, see runLoop and park

	returnCode ReturnCode
	timeout    int64 // absolute tick deadline, valid only while pending
	hasTimeout bool
	pendingOn  *Semaphore // semaphore this thread is queued on, if any

	info  uintptr
	magic uint32

	exited chan struct{}
}

// NewThread allocates a Thread and links it onto the ready list. cpuLock of
// -1 means the thread may run on any CPU. The thread does not begin
// executing fn until the scheduler selects it to run.
func (k *Kernel) NewThread(name string, priority Priority, cpuLock int, fn func(*Thread), arg any) *Thread {
	t := &Thread{
		kernel:   k,
		Name:     name,
		Priority: priority,
		CPULock:  cpuLock,
		cpu:      -1,
		fn:       fn,
		arg:      arg,
		resume:   make(chan struct{}, 1),
		magic:    threadMagic,
		exited:   make(chan struct{}),
	}

	k.crit.lock()
	t.state = ThreadReady
	k.readyInsert(t)
	k.all = append(k.all, t)
	if k.started {
		k.rescheduleLocked(false)
	}
	k.crit.unlock()

	go t.runLoop()
	return t
}

// Self returns the thread argument passed to fn — Go closures make the
// original's thread-local "current thread" pointer lookup unnecessary, but
// the accessor is kept for call sites that were written against it.
func (t *Thread) Self() *Thread { return t }

// InfoSet/InfoGet store one user-defined word on the thread, as the
// original's OS_ThreadInfoSet/Get do.
func (t *Thread) InfoSet(info uintptr) { t.info = info }
func (t *Thread) InfoGet() uintptr     { return t.info }

// PriorityGet/PrioritySet read or change a thread's scheduling priority.
// Changing priority re-sorts the ready list and may trigger a reschedule.
func (t *Thread) PriorityGet() Priority { return t.Priority }

func (t *Thread) PrioritySet(p Priority) {
	k := t.kernel
	k.crit.lock()
	defer k.crit.unlock()
	if t.state == ThreadReady {
		k.readyRemove(t)
		t.Priority = p
		k.readyInsert(t)
	} else {
		t.Priority = p
	}
	k.rescheduleLocked(false)
}

func (t *Thread) checkMagic() {
	if t.magic != threadMagic {
		Assert("thread %q stack sentinel corrupted", t.Name)
	}
}

// runLoop is the goroutine body for every thread: park until resumed, pin
// to a real core if the thread is CPU-locked, run the entry function
// exactly once, then exit the kernel. This goroutine is the Go
// realization of the original's saved machine context; resume is the only
// channel anything sends on to unpark it, and it is the only place this
// goroutine itself blocks once running. A CPU-locked thread's fn is
// expected to loop forever (see TimerService.run for the shape), so
// pinning here binds the goroutine for the thread's entire lifetime, not
// just its first scheduling quantum.
func (t *Thread) runLoop() {
	<-t.resume
	t.checkMagic()
	if t.CPULock >= 0 {
		pinToCPU(t.CPULock)
	}
	if t.fn != nil {
		t.fn(t)
	}
	t.kernel.exit(t)
	close(t.exited)
}

// park blocks the calling thread's goroutine until the scheduler resumes
// it again. Every suspension point (Pend, MQueue.Get, Sleep) calls this
// immediately after asking the scheduler to reschedule.
func (t *Thread) park() {
	<-t.resume
	t.checkMagic()
}

// Sleep blocks the calling thread for the given number of ticks (or
// WaitForever, which for Sleep has no meaning and is rejected).
func (t *Thread) Sleep(ticks int64) error {
	if ticks < 0 {
		return fmt.Errorf("kernel: Sleep requires a non-negative tick count")
	}
	k := t.kernel
	k.crit.lock()
	if ticks == 0 {
		k.crit.unlock()
		return nil
	}
	k.readyRemove(t)
	t.state = ThreadPend
	k.timeoutInsert(t, k.tick+ticks)
	k.rescheduleLocked(false)
	k.crit.unlock()
	t.park()
	return nil
}
