package netstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestTCPThreeWayHandshakeAndData drives a server-side accept through SYN ->
// SYN+ACK -> data segment -> ACK, the concrete scenario of a LISTEN socket
// taking a connection and receiving its first payload.
func TestTCPThreeWayHandshakeAndData(t *testing.T) {
	cs := newCapturingStack(testConfig())

	var notified []SocketState
	cs.Open(false, zeroIP, 80, func(sock *Socket) {
		notified = append(notified, sock.state)
	})

	clientSeq := uint32(1000)
	syn := buildTCP(testPeerIP, testLocalIP, 12345, 80, clientSeq, 0, tcpSYN, nil)
	cs.Deliver(syn)

	sent := cs.drain()
	require.Len(t, sent, 1, "SYN should provoke exactly one SYN+ACK")
	synack := sent[0]
	assert.Equal(t, byte(tcpSYN|tcpACK), synack[offTCPFlags])
	assert.Equal(t, []byte{2, 4, 2, 24}, synack[offTCPData:offTCPData+4], "MSS option")
	assert.Equal(t, clientSeq+1, be32(synack[offTCPAck:offTCPAck+4]))

	established := findSocketByState(cs.Stack, StateTCP)
	require.NotNil(t, established)
	assert.Equal(t, clientSeq+1, established.ack)
	// the wire SYN+ACK's seq is pre-increment; the SYN itself consumes one
	// sequence number, so the socket's seq (and the ack a real client would
	// send back) is one past what went on the wire.
	assert.Equal(t, be32(synack[offTCPSeq:offTCPSeq+4])+1, established.seq)

	// six bytes makes offTCPData+len(payload) land exactly on the 60-byte
	// Ethernet minimum buildTCP pads to, so the received frame carries no
	// extra padding byte for Read to (correctly) return along with it.
	payload := []byte("hello!")
	data := buildTCP(testPeerIP, testLocalIP, 12345, 80, clientSeq+1, established.seq, tcpACK, payload)
	cs.Deliver(data)

	require.Len(t, notified, 1, "data segment should notify OnEvent once")
	assert.Equal(t, StateTCP, notified[0])

	buf := make([]byte, 32)
	n := cs.Read(established, buf)
	assert.Equal(t, payload, buf[:n])

	acks := cs.drain()
	require.Len(t, acks, 1, "data segment should be answered with a bare ACK")
	assert.Equal(t, byte(tcpACK), acks[0][offTCPFlags])
	assert.Equal(t, clientSeq+1+uint32(len(payload)), be32(acks[0][offTCPAck:offTCPAck+4]))
}

// TestTCPDuplicateSYNIsDropped covers the 5-tuple-already-established guard
// in handleSYN: a retransmitted SYN for a connection already accepted must
// not spawn a second socket or a second SYN+ACK.
func TestTCPDuplicateSYNIsDropped(t *testing.T) {
	cs := newCapturingStack(testConfig())
	cs.Open(false, zeroIP, 80, nil)

	syn := buildTCP(testPeerIP, testLocalIP, 12345, 80, 1000, 0, tcpSYN, nil)
	cs.Deliver(syn)
	require.Len(t, cs.drain(), 1)

	cs.Deliver(syn)
	assert.Empty(t, cs.drain(), "duplicate SYN on an already-accepted 5-tuple must be silently dropped")

	count := 0
	for _, sock := range cs.sockets.snapshot() {
		if sock.state == StateTCP {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one established socket, not two")
}

// TestReschedulePacketRetransmitsThenDrops is the retransmission-then-drop
// scenario: an unacknowledged data frame is retried MaxRetransmits times,
// each time actually resent on the wire, then freed instead of requeued on
// the next timeout.
func TestReschedulePacketRetransmitsThenDrops(t *testing.T) {
	c := testConfig()
	c.Timing.RetransmitTicks = 1
	c.Pool.MaxRetransmits = 4
	cs := newCapturingStack(c)
	cs.Open(false, zeroIP, 80, nil)

	// Accept a connection and clear its SYN+ACK off the resend list (by
	// ACKing it from the peer) so only the segment under test is pending.
	syn := buildTCP(testPeerIP, testLocalIP, 12345, 80, 1000, 0, tcpSYN, nil)
	cs.Deliver(syn)
	cs.drain()
	sock := findSocketByState(cs.Stack, StateTCP)
	require.NotNil(t, sock)
	bareAck := buildTCP(testPeerIP, testLocalIP, 12345, 80, sock.ack, sock.seq, tcpACK, nil)
	cs.Deliver(bareAck)
	cs.drain()

	n := cs.Write(sock, []byte("x"))
	require.Equal(t, 1, n)
	cs.WriteFlush(sock)
	require.Len(t, cs.drain(), 1, "buffered write flushed as one segment")

	for i := 1; i <= c.Pool.MaxRetransmits; i++ {
		cs.Tick()
		resent := cs.drain()
		require.Lenf(t, resent, 1, "retry %d should retransmit the unacked segment", i)
	}

	cs.Tick()
	assert.Empty(t, cs.drain(), "after MaxRetransmits retries the frame is dropped, not resent again")
}

// TestTCPFINTransitionsToFinClient covers the peer-initiated close path: a
// FIN is ACKed and the socket moves to FIN_CLIENT instead of being torn down
// immediately (our side may still have unflushed data to send).
func TestTCPFINTransitionsToFinClient(t *testing.T) {
	cs := newCapturingStack(testConfig())
	cs.Open(false, zeroIP, 80, nil)

	syn := buildTCP(testPeerIP, testLocalIP, 12345, 80, 1000, 0, tcpSYN, nil)
	cs.Deliver(syn)
	synack := cs.drain()[0]
	serverSeq := be32(synack[offTCPSeq : offTCPSeq+4])

	sock := findSocketByState(cs.Stack, StateTCP)
	require.NotNil(t, sock)

	fin := buildTCP(testPeerIP, testLocalIP, 12345, 80, 1001, serverSeq, tcpFIN|tcpACK, nil)
	cs.Deliver(fin)

	assert.Equal(t, StateFinClient, sock.state)
	assert.Equal(t, uint32(1002), sock.ack)
}
