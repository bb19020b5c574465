package kernel

import (
	"runtime"
	"sort"

	"golang.org/x/sys/unix"
)

// cpu is one simulated processor. CPUCount == 1 is the common uniprocessor
// build; CPUCount > 1 enables the SMP reschedule rule below.
type cpu struct {
	index   int
	current *Thread
}

// Kernel is the explicit scheduling context: ready list, timeout list, and
// per-CPU current-thread pointers. Unlike the original's module-level
// globals, a Kernel is a value callers create and pass around, per the
// spec's guidance to avoid a hidden singleton even though a process
// normally runs exactly one.
type Kernel struct {
	crit critical

	cpus []*cpu

	ready   []*Thread // sorted by descending priority; FIFO within a band
	timeout []*Thread // sorted by ascending absolute timeout tick
	all     []*Thread // every thread not yet exited, for introspection only

	tick int64

	swapEnabled    bool
	needReschedule bool
	needRoundRobin bool
	isrDepth       int
	started        bool
}

// New creates a Kernel with the given number of simulated CPUs. cpuCount
// must be at least 1.
func New(cpuCount int) *Kernel {
	if cpuCount < 1 {
		cpuCount = 1
	}
	k := &Kernel{
		swapEnabled: true,
	}
	k.cpus = make([]*cpu, cpuCount)
	for i := range k.cpus {
		k.cpus[i] = &cpu{index: i}
	}
	return k
}

// CPUCount reports how many simulated CPUs this kernel schedules across.
func (k *Kernel) CPUCount() int { return len(k.cpus) }

// Start performs the kernel's first scheduling decision, picking the
// highest-priority ready thread(s) to become each CPU's current thread and
// resuming them. Call it once, after creating the initial threads.
func (k *Kernel) Start() {
	k.crit.lock()
	k.started = true
	k.rescheduleLocked(false)
	k.crit.unlock()
}

// pinToCPU locks the calling goroutine to its OS thread and, where the
// host's affinity syscalls are available, pins it to cpuIndex mod the
// host's core count — the same CPU-affinity idiom used elsewhere in this
// corpus to pin packet-processing goroutines. It is called from
// Thread.runLoop, the one goroutine that ever executes a CPU-locked
// thread's body, so the pin actually lands on the long-running work it is
// meant to bind rather than on a throwaway goroutine.
func pinToCPU(cpuIndex int) {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuIndex % runtime.NumCPU())
	_ = unix.SchedSetaffinity(0, &set)
}

func (k *Kernel) readyInsert(t *Thread) {
	i := sort.Search(len(k.ready), func(i int) bool {
		return k.ready[i].Priority < t.Priority
	})
	k.ready = append(k.ready, nil)
	copy(k.ready[i+1:], k.ready[i:])
	k.ready[i] = t
}

func (k *Kernel) readyRemove(t *Thread) {
	for i, r := range k.ready {
		if r == t {
			k.ready = append(k.ready[:i], k.ready[i+1:]...)
			return
		}
	}
}

func (k *Kernel) timeoutInsert(t *Thread, absTick int64) {
	t.timeout = absTick
	t.hasTimeout = true
	i := sort.Search(len(k.timeout), func(i int) bool {
		return k.timeout[i].timeout > absTick
	})
	k.timeout = append(k.timeout, nil)
	copy(k.timeout[i+1:], k.timeout[i:])
	k.timeout[i] = t
}

func (k *Kernel) timeoutRemove(t *Thread) {
	if !t.hasTimeout {
		return
	}
	for i, r := range k.timeout {
		if r == t {
			k.timeout = append(k.timeout[:i], k.timeout[i+1:]...)
			break
		}
	}
	t.hasTimeout = false
}

// rescheduleLocked selects, for each CPU, the best ready thread respecting
// CPU affinity, and resumes any thread that becomes current. It must be
// called with the critical section held. roundRobin requests the
// equal-priority rotation rule on a tick. Because the ready list is kept
// sorted by descending priority, the head of the list (restricted to
// affinity-eligible entries) is always the correct candidate; the only
// question is whether it outranks — or, on a tick, ties — whatever is
// presently running.
func (k *Kernel) rescheduleLocked(roundRobin bool) {
	if !k.swapEnabled || k.isrDepth > 0 {
		k.needReschedule = true
		k.needRoundRobin = k.needRoundRobin || roundRobin
		return
	}
	k.needReschedule = false
	k.needRoundRobin = false

	for _, c := range k.cpus {
		old := c.current
		head := k.pickFor(c)

		needSwitch := false
		switch {
		case old == nil:
			needSwitch = head != nil
		case old.state != ThreadRunning:
			needSwitch = true
		case head != nil && head.Priority > old.Priority:
			needSwitch = true
		case head != nil && head.Priority == old.Priority && roundRobin:
			needSwitch = true
		}
		if !needSwitch {
			continue
		}

		if old != nil {
			if old.state == ThreadRunning {
				old.state = ThreadReady
				k.readyInsert(old)
			}
			old.cpu = -1
		}

		if head == nil {
			c.current = nil
			continue
		}

		k.readyRemove(head)
		head.state = ThreadRunning
		head.cpu = c.index
		c.current = head

		select {
		case head.resume <- struct{}{}:
		default:
		}
	}
}

// pickFor finds the highest-priority ready thread eligible to run on c,
// respecting per-thread CPU affinity. The ready list is sorted by
// descending priority, so the first eligible entry is the best one.
func (k *Kernel) pickFor(c *cpu) *Thread {
	for _, t := range k.ready {
		if t.CPULock == -1 || t.CPULock == c.index {
			return t
		}
	}
	return nil
}

// Tick advances the kernel's notion of time by one period, waking every
// thread whose timeout has elapsed (setting its return code to
// WokeTimeout) and then performing a round-robin reschedule. The host
// binary's simulated timer ISR calls this once per period.
func (k *Kernel) Tick() {
	k.crit.lock()
	k.tick++
	now := k.tick
	for len(k.timeout) > 0 && k.timeout[0].timeout <= now {
		t := k.timeout[0]
		k.timeout = k.timeout[1:]
		t.hasTimeout = false
		if t.pendingOn != nil {
			t.pendingOn.removeWaiterLocked(t)
			t.pendingOn.count++
			t.pendingOn = nil
		}
		t.returnCode = WokeTimeout
		t.state = ThreadReady
		k.readyInsert(t)
	}
	k.rescheduleLocked(true)
	k.crit.unlock()
}

// Now returns the current tick count.
func (k *Kernel) Now() int64 {
	k.crit.lock()
	defer k.crit.unlock()
	return k.tick
}

// exit removes a finished thread from all scheduling lists and reschedules
// its CPU.
func (k *Kernel) exit(t *Thread) {
	k.crit.lock()
	defer k.crit.unlock()
	t.state = ThreadDead
	k.readyRemove(t)
	k.timeoutRemove(t)
	k.allRemoveLocked(t)
	if t.cpu >= 0 {
		k.cpus[t.cpu].current = nil
		t.cpu = -1
	}
	k.rescheduleLocked(false)
}

func (k *Kernel) allRemoveLocked(t *Thread) {
	for i, r := range k.all {
		if r == t {
			k.all = append(k.all[:i], k.all[i+1:]...)
			return
		}
	}
}

// enterISR/exitISR bracket a simulated interrupt-service routine: while
// depth > 0, rescheduleLocked only records that a reschedule is owed; the
// outermost exitISR performs it. Mirrors the original's
// threadSwapEnabled/needReschedule pair.
func (k *Kernel) enterISR() {
	k.crit.lock()
	k.isrDepth++
	k.crit.unlock()
}

func (k *Kernel) exitISR() {
	k.crit.lock()
	k.isrDepth--
	if k.isrDepth == 0 && k.needReschedule {
		k.rescheduleLocked(k.needRoundRobin)
	}
	k.crit.unlock()
}

// RunISR brackets fn as a simulated interrupt-service routine, the host
// binary's entry point for both the timer tick and the Ethernet
// receive-ready interrupt: reschedule requests raised while fn runs
// (Sleep, Semaphore.Post, MQueue.Send, ...) are deferred until fn
// returns and then applied in one batch, instead of preempting fn
// mid-handler the way a real ISR never would be.
func (k *Kernel) RunISR(fn func()) {
	k.enterISR()
	defer k.exitISR()
	fn()
}

// ThreadSnapshot is one read-only row of the thread table, the
// introspection-safe subset of Thread.
type ThreadSnapshot struct {
	Name     string
	Priority Priority
	State    ThreadState
	CPU      int
	CPULock  int
}

// Threads returns a point-in-time snapshot of every thread that has not
// yet exited, safe to call from any goroutine (cmd/ktop's render loop
// among them) without perturbing the scheduler it inspects.
func (k *Kernel) Threads() []ThreadSnapshot {
	k.crit.lock()
	defer k.crit.unlock()
	out := make([]ThreadSnapshot, len(k.all))
	for i, t := range k.all {
		out[i] = ThreadSnapshot{
			Name:     t.Name,
			Priority: t.Priority,
			State:    t.state,
			CPU:      t.cpu,
			CPULock:  t.CPULock,
		}
	}
	return out
}
