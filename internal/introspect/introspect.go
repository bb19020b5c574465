// Package introspect publishes a lock-free, point-in-time snapshot of
// kernel and network stack state for diagnostics — the thread table,
// socket table, and frame-pool gauge cmd/ktop renders. Publish takes the
// kernel's critical section and the netstack's socket-table and pool
// locks only while it copies their state, then swaps in the freshly-built
// Snapshot; any number of readers load it concurrently without taking
// any lock.
package introspect

import (
	"sync/atomic"

	"github.com/cezamee/plasmakernel/internal/kernel"
	"github.com/cezamee/plasmakernel/internal/netstack"
)

// ThreadInfo is one row of the thread table.
type ThreadInfo struct {
	Name     string
	Priority kernel.Priority
	State    kernel.ThreadState
	CPU      int
	CPULock  int
}

// SocketInfo is one row of the socket table.
type SocketInfo struct {
	State      netstack.SocketState
	LocalPort  uint16
	RemotePort uint16
	RemoteIP   netstack.IP
}

// PoolGauge is the frame pool's free/total block count.
type PoolGauge struct {
	Free  int
	Total int
}

// Snapshot is one immutable point-in-time view of the system, the value
// cmd/ktop's render loop reads each tick.
type Snapshot struct {
	Threads []ThreadInfo
	Sockets []SocketInfo
	Pool    PoolGauge
}

// Publisher holds the most recently built Snapshot behind an atomic
// pointer. The zero value is not usable; construct with NewPublisher.
type Publisher struct {
	current atomic.Pointer[Snapshot]
}

// NewPublisher returns a Publisher with an empty initial snapshot, so
// Load never returns nil before the first Publish.
func NewPublisher() *Publisher {
	p := &Publisher{}
	p.current.Store(&Snapshot{})
	return p
}

// Publish builds a fresh Snapshot from k and s and makes it the one Load
// returns. Safe to call from the host binary's periodic snapshot
// goroutine while kernel and netstack goroutines keep running.
func (p *Publisher) Publish(k *kernel.Kernel, s *netstack.Stack) {
	threads := k.Threads()
	snap := &Snapshot{
		Threads: make([]ThreadInfo, len(threads)),
		Sockets: nil,
	}
	for i, t := range threads {
		snap.Threads[i] = ThreadInfo{
			Name:     t.Name,
			Priority: t.Priority,
			State:    t.State,
			CPU:      t.CPU,
			CPULock:  t.CPULock,
		}
	}

	if s != nil {
		socks := s.Sockets()
		snap.Sockets = make([]SocketInfo, len(socks))
		for i, sock := range socks {
			snap.Sockets[i] = SocketInfo{
				State:      sock.State,
				LocalPort:  sock.LocalPort,
				RemotePort: sock.RemotePort,
				RemoteIP:   sock.RemoteIP,
			}
		}
		free, total := s.PoolGauge()
		snap.Pool = PoolGauge{Free: free, Total: total}
	}

	p.current.Store(snap)
}

// Load returns the most recently published Snapshot. Never blocks, never
// returns nil.
func (p *Publisher) Load() *Snapshot {
	return p.current.Load()
}
