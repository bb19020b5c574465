package netstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// TestChecksumRoundTrip is the Internet checksum's defining property: a
// buffer whose checksum field was filled correctly always verifies to
// zero, and corrupting any single bit always breaks that.
func TestChecksumRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(8, 200).Draw(rt, "n")
		data := rapid.SliceOfN(rapid.Byte(), n, n).Draw(rt, "data")

		sum := checksum(0xffff, data)

		// An odd trailing byte is summed as if followed by a zero byte, so
		// the checksum field goes after that implied zero, on a word boundary.
		end := n + n%2
		verify := make([]byte, end+2)
		copy(verify, data)
		putBE16(verify[end:end+2], sum)
		if checksum(0xffff, verify) != 0 {
			rt.Fatalf("checksum with its own trailer did not verify to zero")
		}

		bitIdx := rapid.IntRange(0, len(verify)*8-1).Draw(rt, "bit")
		flipped := append([]byte(nil), verify...)
		flipped[bitIdx/8] ^= 1 << uint(bitIdx%8)
		if checksum(0xffff, flipped) == 0 {
			rt.Fatalf("flipping bit %d left the checksum verifying", bitIdx)
		}
	})
}

// TestChecksumChaining confirms the seed-from-prior-call convention: summing
// a buffer in one call must equal summing it split across two chained calls
// (pseudo-header then segment), which is how fillTCPChecksum/fillUDPChecksum
// combine the pseudo-header with the segment. The split must land on a word
// boundary, exactly as every real caller's pseudo-header (12 bytes) does —
// an odd-length first part would shift the second part's byte pairing.
func TestChecksumChaining(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 100).Draw(rt, "n") * 2
		data := rapid.SliceOfN(rapid.Byte(), n, n).Draw(rt, "data")
		split := rapid.IntRange(0, n/2).Draw(rt, "split") * 2

		whole := checksum(0xffff, data)
		chained := checksum(int(checksum(0xffff, data[:split])), data[split:])

		assert.Equal(t, whole, chained)
	})
}

func TestFillIPChecksumVerifies(t *testing.T) {
	packet := make([]byte, offIPVerLen+20)
	packet[offIPVerLen] = 0x45
	packet[offIPTTL] = 0x40
	packet[offIPProto] = 0x06
	copy(packet[offIPSrc:offIPSrc+4], testPeerIP[:])
	copy(packet[offIPDst:offIPDst+4], testLocalIP[:])
	putBE16(packet[offIPLength:offIPLength+2], 20)

	fillIPChecksum(packet)

	assert.Equal(t, uint16(0), ipHeaderChecksum(packet))
}
