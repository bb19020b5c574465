// Package kernel implements a small preemptive, priority-based multitasking
// core: threads, a ready/timeout scheduler, counting semaphores, recursive
// mutexes, fixed-size message queues, and a timer service. There is no
// hardware timer or interrupt controller here — the host process drives the
// kernel's notion of time by calling Tick, and "ISR context" is whatever
// goroutine calls the ISR-safe entry points (Semaphore.Post, MQueue.Send).
package kernel

import (
	"errors"
	"fmt"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Log is the kernel's structured logger. It defaults to a quiet level;
// callers (cmd/plasmakernel) raise it with -v.
var Log = charmlog.NewWithOptions(nil, charmlog.Options{
	Prefix: "kernel",
	Level:  charmlog.WarnLevel,
})

// WaitForever requests a pend with no timeout.
const WaitForever = -1

// Priority is a thread's scheduling priority. Higher values run first.
type Priority int

// ReturnCode is left on a woken thread so it can tell a normal wake from a
// timeout.
type ReturnCode int

const (
	// WokeNormally means the thread was posted to or its queue produced data.
	WokeNormally ReturnCode = 0
	// WokeTimeout means the thread's pend deadline elapsed first.
	WokeTimeout ReturnCode = -1
)

// ErrInvariant is the error Assert wraps panics in, so test harnesses can
// recover and inspect the cause instead of crashing the whole process.
var ErrInvariant = errors.New("kernel: invariant violated")

// Assert is the kernel's single fatal-error entry point: heap corruption,
// stack-sentinel corruption, a mutex post by a non-owner, and similar
// invariant violations all funnel through here. A real target would trap to
// a debugger; this port logs at Error and panics.
func Assert(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Log.Error(msg)
	panic(fmt.Errorf("%w: %s", ErrInvariant, msg))
}

// critical is the kernel's sole means of atomicity across threads: a
// single mutex standing in for "disable interrupts", used unchanged when
// the kernel runs on several CPUs (no per-thread held-spin-lock count is
// kept). All scheduler list edits and all semaphore count changes run
// under a Kernel's critical section; the netstack frame pool guards its
// lists with its own mutex.
type critical struct {
	mu sync.Mutex
}

func (c *critical) lock() { c.mu.Lock() }

func (c *critical) unlock() { c.mu.Unlock() }
