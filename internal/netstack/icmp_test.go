package netstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPing(srcIP, dstIP IP, id, seq uint16, payload []byte) []byte {
	total := offPingData + len(payload)
	if total < 60 {
		total = 60
	}
	p := make([]byte, total)
	copy(p[offEthDest:offEthDest+6], testLocalMAC[:])
	copy(p[offEthSrc:offEthSrc+6], testPeerMAC[:])
	p[offEthType], p[offEthType+1] = 0x08, 0x00
	p[offIPVerLen] = 0x45
	p[offIPTTL] = 0x80
	p[offIPProto] = 0x01
	copy(p[offIPSrc:offIPSrc+4], srcIP[:])
	copy(p[offIPDst:offIPDst+4], dstIP[:])
	p[offPingType] = 8
	putBE16(p[offPingID:offPingID+2], id)
	putBE16(p[offPingSeq:offPingSeq+2], seq)
	copy(p[offPingData:], payload)

	length := offPingData + len(payload)
	fillIPLength(p, length)
	fillPingChecksum(p, length)
	fillIPChecksum(p)
	return p
}

// TestICMPEchoRequestIsAnswered covers handlePing's swap-and-reply path: an
// echo request gets an echo reply with the same identifier, sequence, and
// payload, addressed back to the requester.
func TestICMPEchoRequestIsAnswered(t *testing.T) {
	cs := newCapturingStack(testConfig())

	payload := []byte("ping-payload")
	req := buildPing(testPeerIP, testLocalIP, 0x1234, 7, payload)
	cs.Deliver(req)

	sent := cs.drain()
	require.Len(t, sent, 1)
	reply := sent[0]

	assert.Equal(t, byte(0), reply[offPingType], "type 8 (echo request) flips to 0 (echo reply)")
	assert.Equal(t, testPeerMAC[:], reply[offEthDest:offEthDest+6])
	assert.Equal(t, testLocalMAC[:], reply[offEthSrc:offEthSrc+6])
	assert.Equal(t, testPeerIP[:], reply[offIPDst:offIPDst+4])
	assert.Equal(t, testLocalIP[:], reply[offIPSrc:offIPSrc+4])
	assert.Equal(t, uint16(0x1234), be16(reply[offPingID:offPingID+2]))
	assert.Equal(t, uint16(7), be16(reply[offPingSeq:offPingSeq+2]))
	assert.Equal(t, payload, reply[offPingData:offPingData+len(payload)])
}
