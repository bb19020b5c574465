package netstack

import (
	"sync"

	"github.com/cezamee/plasmakernel/internal/kernel"
)

// packetSize is the maximum frame the pool buffers, matching the
// original's 1,500-byte PACKET_SIZE.
const packetSize = 1500

// frameState tags where a Frame sits: free in the pool, checked out to a
// caller, or linked onto one of the send/resend/socket-read lists.
type frameState int

const (
	frameFree frameState = iota
	frameAllocated
	frameLinked
)

// Frame is a fixed packet buffer plus the bookkeeping the dispatcher and
// TCP retransmitter need. It is never garbage-collected: the Pool holds a
// fixed arena of these for the process lifetime, the same static-sizing
// discipline the original used to avoid a heap dependency from interrupt
// context.
type Frame struct {
	Packet [packetSize]byte
	Length int

	state    frameState
	prev     *Frame
	next     *Frame
	listHead **Frame
	listTail **Frame

	Socket   *Socket
	RetryCnt int
	Timeout  int64
	SeqEnd   uint32
}

// Pool is the fixed-size frame arena plus the send/resend FIFOs that ride
// on top of it. One mutex protects all list mutation, mirroring the
// original's single IPMutex.
type Pool struct {
	mu sync.Mutex

	arena     []*Frame
	freeHead  *Frame
	freeCount int

	sendHead, sendTail     *Frame
	resendHead, resendTail *Frame
}

// NewPool allocates count frames and links them onto the free list.
func NewPool(count int) *Pool {
	p := &Pool{arena: make([]*Frame, count)}
	for i := range p.arena {
		f := &Frame{}
		p.arena[i] = f
		f.next = p.freeHead
		p.freeHead = f
	}
	p.freeCount = count
	return p
}

// Get returns a free frame, or nil if fewer than reserve+1 remain free.
// Passing reserve=0 means "take the last one if needed"; higher reserves
// protect pool capacity for other callers (e.g. FrameCountSend reserves
// frames for outbound traffic ahead of inbound reads). Safe to call from
// a simulated ISR.
func (p *Pool) Get(reserve int) *Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.freeCount <= reserve {
		return nil
	}
	f := p.freeHead
	if f == nil {
		return nil
	}
	p.freeHead = f.next
	p.freeCount--
	f.state = frameAllocated
	f.next = nil
	f.prev = nil
	f.Length = 0
	f.Socket = nil
	f.RetryCnt = 0
	f.Timeout = 0
	f.SeqEnd = 0
	return f
}

// Free returns a checked-out, unlinked frame to the pool.
func (p *Pool) Free(f *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kernelAssertFrameState(f, frameAllocated)
	f.state = frameFree
	f.next = p.freeHead
	p.freeHead = f
	p.freeCount++
}

// FreeCount reports how many frames are currently unallocated.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freeCount
}

// Total reports the fixed arena size this pool was created with, for
// rendering a free/total gauge (internal/introspect).
func (p *Pool) Total() int {
	return len(p.arena)
}

func (p *Pool) insert(head, tail **Frame, f *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kernelAssertFrameState(f, frameAllocated)
	f.state = frameLinked
	f.listHead, f.listTail = head, tail
	f.prev = nil
	f.next = *head
	if *head != nil {
		(*head).prev = f
	}
	*head = f
	if *tail == nil {
		*tail = f
	}
}

func (p *Pool) remove(f *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kernelAssertFrameState(f, frameLinked)
	f.state = frameAllocated
	if f.prev != nil {
		f.prev.next = f.next
	} else if f.listHead != nil {
		*f.listHead = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	} else if f.listTail != nil {
		*f.listTail = f.prev
	}
	f.prev, f.next = nil, nil
	f.listHead, f.listTail = nil, nil
}

func (p *Pool) insertSend(f *Frame)   { p.insert(&p.sendHead, &p.sendTail, f) }
func (p *Pool) insertResend(f *Frame) { p.insert(&p.resendHead, &p.resendTail, f) }

// popSend removes and returns the oldest queued outbound frame, or nil.
func (p *Pool) popSend() *Frame {
	p.mu.Lock()
	tail := p.sendTail
	p.mu.Unlock()
	if tail == nil {
		return nil
	}
	p.remove(tail)
	return tail
}

// tickResend decrements every resend-list frame's timeout, returning those
// that just expired (caller decides retransmit-vs-drop).
func (p *Pool) tickResend() []*Frame {
	p.mu.Lock()
	var expired []*Frame
	for f := p.resendHead; f != nil; {
		next := f.next
		f.Timeout--
		if f.Timeout <= 0 {
			expired = append(expired, f)
		}
		f = next
	}
	p.mu.Unlock()
	for _, f := range expired {
		p.remove(f)
	}
	return expired
}

// ackResend frees every resend-list frame belonging to socket s whose
// SeqEnd has been cumulatively acknowledged by ack.
func (p *Pool) ackResend(s *Socket, ack uint32) {
	p.mu.Lock()
	var done []*Frame
	for f := p.resendHead; f != nil; {
		next := f.next
		if f.Socket == s && int32(ack-f.SeqEnd) >= 0 {
			done = append(done, f)
		}
		f = next
	}
	p.mu.Unlock()
	for _, f := range done {
		p.remove(f)
		p.Free(f)
	}
}

// disownSocket detaches socket s from every frame still in flight (send or
// resend), so a closed socket's frames are neither retransmitted nor
// double-freed once it goes away.
func (p *Pool) disownSocket(s *Socket) {
	p.mu.Lock()
	for f := p.sendHead; f != nil; f = f.next {
		if f.Socket == s {
			f.Socket = nil
		}
	}
	var toFree []*Frame
	for f := p.resendHead; f != nil; {
		next := f.next
		if f.Socket == s {
			toFree = append(toFree, f)
		}
		f = next
	}
	p.mu.Unlock()
	for _, f := range toFree {
		p.remove(f)
		p.Free(f)
	}
}

func kernelAssertFrameState(f *Frame, want frameState) {
	if f.state != want {
		kernel.Assert("netstack: frame in state %d, want %d", f.state, want)
	}
}
