package netstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestPoolGetFreeRoundTrip(t *testing.T) {
	p := NewPool(4)
	assert.Equal(t, 4, p.FreeCount())

	f1 := p.Get(0)
	require.NotNil(t, f1)
	assert.Equal(t, 3, p.FreeCount())

	p.Free(f1)
	assert.Equal(t, 4, p.FreeCount())
}

func TestPoolGetRespectsReserve(t *testing.T) {
	p := NewPool(2)
	p.Get(0)
	assert.Nil(t, p.Get(1), "only one frame free, reserve of 1 should refuse it")

	p2 := NewPool(2)
	f := p2.Get(1)
	assert.NotNil(t, f, "two frames free, reserve of 1 should allow one")
}

func TestPoolSendFIFOIsOldestFirst(t *testing.T) {
	p := NewPool(4)
	a, b, c := p.Get(0), p.Get(0), p.Get(0)
	p.insertSend(a)
	p.insertSend(b)
	p.insertSend(c)

	assert.Same(t, a, p.popSend())
	assert.Same(t, b, p.popSend())
	assert.Same(t, c, p.popSend())
	assert.Nil(t, p.popSend())
}

func TestPoolTickResendReturnsExpired(t *testing.T) {
	p := NewPool(2)
	f := p.Get(0)
	f.Timeout = 2
	p.insertResend(f)

	assert.Empty(t, p.tickResend(), "timeout 2 -> 1, not yet expired")
	expired := p.tickResend()
	require.Len(t, expired, 1)
	assert.Same(t, f, expired[0])
}

func TestPoolAckResendFreesOnlyAcked(t *testing.T) {
	p := NewPool(4)
	sock := &Socket{}
	other := &Socket{}

	acked := p.Get(0)
	acked.Socket = sock
	acked.SeqEnd = 100
	p.insertResend(acked)

	pending := p.Get(0)
	pending.Socket = sock
	pending.SeqEnd = 500
	p.insertResend(pending)

	foreign := p.Get(0)
	foreign.Socket = other
	foreign.SeqEnd = 50
	p.insertResend(foreign)

	assert.Equal(t, 1, p.FreeCount())
	p.ackResend(sock, 200)

	assert.Equal(t, 2, p.FreeCount(), "the acked frame (seqEnd=100<=200) should be freed")
	assert.Same(t, foreign, p.resendHead)
	assert.Same(t, pending, p.resendHead.next)
}

func TestPoolDisownSocketDetachesSendFreesResend(t *testing.T) {
	p := NewPool(4)
	sock := &Socket{}

	queued := p.Get(0)
	queued.Socket = sock
	p.insertSend(queued)

	inFlight := p.Get(0)
	inFlight.Socket = sock
	p.insertResend(inFlight)

	p.disownSocket(sock)

	assert.Nil(t, queued.Socket, "send-list frame stays queued but loses its owner")
	assert.Equal(t, 3, p.FreeCount(), "resend-list frame is freed outright")
}

// TestAckResendInvariant is the quantified invariant: after ackResend(s, ack),
// every frame remaining on the resend list that belongs to s has a SeqEnd
// strictly ahead of ack (mod 2^32, compared the same way the implementation
// does — as a signed 32-bit difference).
func TestAckResendInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		count := rapid.IntRange(1, 12).Draw(rt, "count")
		p := NewPool(count + 1)
		sock := &Socket{}

		for i := 0; i < count; i++ {
			f := p.Get(0)
			if f == nil {
				break
			}
			f.Socket = sock
			f.SeqEnd = rapid.Uint32().Draw(rt, "seqEnd")
			p.insertResend(f)
		}

		ack := rapid.Uint32().Draw(rt, "ack")
		p.ackResend(sock, ack)

		for f := p.resendHead; f != nil; f = f.next {
			if f.Socket != sock {
				continue
			}
			if int32(ack-f.SeqEnd) >= 0 {
				rt.Fatalf("frame with seqEnd=%d survived ackResend(ack=%d)", f.SeqEnd, ack)
			}
		}
	})
}
