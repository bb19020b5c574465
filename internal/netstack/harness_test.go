package netstack

import (
	"sync"

	cfg "github.com/cezamee/plasmakernel/internal/config"
)

// capturingStack wires a Stack to an in-memory slice of transmitted wire
// frames instead of a real MAC engine, so tests can inspect exactly what
// the dispatcher would have put on the link.
type capturingStack struct {
	*Stack
	mu  sync.Mutex
	out [][]byte
}

func newCapturingStack(c *cfg.Config) *capturingStack {
	cs := &capturingStack{}
	cs.Stack = New(nil, c, func(frame []byte) {
		cs.mu.Lock()
		cs.out = append(cs.out, append([]byte(nil), frame...))
		cs.mu.Unlock()
	})
	return cs
}

func (cs *capturingStack) drain() [][]byte {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := cs.out
	cs.out = nil
	return out
}

// testConfig returns a Default config with the local/peer addresses this
// package's tests build packets against.
func testConfig() *cfg.Config {
	c := cfg.Default()
	c.Network.LocalMACHex = "020000000001"
	c.Network.LocalIP = "192.168.1.42"
	c.Network.Gateway = "192.168.1.1"
	return c
}

var (
	testLocalMAC = MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	testLocalIP  = IP{192, 168, 1, 42}
	testPeerMAC  = MAC{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	testPeerIP   = IP{192, 168, 1, 99}
)

// buildTCP assembles a minimal, correctly checksummed Ethernet+IPv4+TCP
// segment from peer to local, with no options (20-byte TCP header).
func buildTCP(srcIP, dstIP IP, srcPort, dstPort uint16, seq, ack uint32, flags byte, payload []byte) []byte {
	total := offTCPData + len(payload)
	if total < 60 {
		total = 60
	}
	p := make([]byte, total)
	copy(p[offEthDest:offEthDest+6], testLocalMAC[:])
	copy(p[offEthSrc:offEthSrc+6], testPeerMAC[:])
	p[offEthType], p[offEthType+1] = 0x08, 0x00
	p[offIPVerLen] = 0x45
	p[offIPTTL] = 0x80
	p[offIPProto] = 0x06
	copy(p[offIPSrc:offIPSrc+4], srcIP[:])
	copy(p[offIPDst:offIPDst+4], dstIP[:])
	putBE16(p[offTCPSrcPort:offTCPSrcPort+2], srcPort)
	putBE16(p[offTCPDstPort:offTCPDstPort+2], dstPort)
	putBE32(p[offTCPSeq:offTCPSeq+4], seq)
	putBE32(p[offTCPAck:offTCPAck+4], ack)
	p[offTCPHdrLen] = 0x50
	p[offTCPFlags] = flags
	putBE16(p[offTCPWindow:offTCPWindow+2], 0xffff)
	copy(p[offTCPData:], payload)

	length := offTCPData + len(payload)
	fillIPLength(p, length)
	fillTCPChecksum(p, length-offTCPSrcPort)
	fillIPChecksum(p)
	return p
}

func findSocketByState(s *Stack, state SocketState) *Socket {
	for _, sock := range s.sockets.snapshot() {
		if sock.state == state {
			return sock
		}
	}
	return nil
}
