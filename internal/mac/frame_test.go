package mac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var testMAC = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

func padFrame(payload []byte) []byte {
	padded := make([]byte, len(payload))
	copy(padded, payload)
	for len(padded) < 60 || len(padded)%4 != 0 {
		padded = append(padded, 0)
	}
	return padded
}

func writeFrame(t *testing.T, ring *Ring, offset int, payload []byte) {
	t.Helper()
	wire := Frame(payload)
	ring.Write(offset, wire)
}

func TestEngineReceiveConcreteScenario(t *testing.T) {
	ring := NewRing()
	engine := NewEngine(ring, testMAC)

	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	// addressed to our MAC: first 6 payload bytes are conventionally the
	// destination address on a real Ethernet frame, but the MAC engine
	// itself only inspects the 6 bytes immediately after the 0x5D marker
	// (which Frame() writes as the nibble-swapped payload, same as any
	// other payload byte), so point the filter at broadcast to keep this
	// test about framing, not addressing.
	broadcastEngine := NewEngine(ring, [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	_ = engine

	writeFrame(t, ring, 0, payload)

	buf := make([]byte, 1500)
	n := broadcastEngine.Receive(buf, false)
	require.Greater(t, n, 0)
	assert.Equal(t, padFrame(payload), buf[:n])

	// the consumed span is back to the sentinel
	assert.Equal(t, byte(byteEmpty), ring.at(0))
}

func TestEngineReceiveNoFrameYet(t *testing.T) {
	ring := NewRing()
	engine := NewEngine(ring, testMAC)
	buf := make([]byte, 1500)
	assert.Equal(t, 0, engine.Receive(buf, false))
}

func TestEngineReceiveRewindsOnPartialFrame(t *testing.T) {
	ring := NewRing()
	engine := NewEngine(ring, [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})

	wire := Frame(make([]byte, 40))
	ring.Write(0, wire[:len(wire)-4]) // drop the CRC trailer: frame never completes

	buf := make([]byte, 1500)
	assert.Equal(t, 0, engine.Receive(buf, false))
	// the frame starts at the 0x5D marker, which follows the 7 preamble
	// bytes written at offset 0
	assert.Equal(t, len(Preamble)-1, engine.index)
	assert.Equal(t, 1, engine.checkedBefore)
}

func TestRoundTripTransmitReceive(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(46, 1500).Draw(rt, "n")
		payload := rapid.SliceOfN(rapid.Byte(), n, n).Draw(rt, "payload")

		ring := NewRing()
		engine := NewEngine(ring, [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
		wire := Frame(payload)
		ring.Write(0, wire)

		buf := make([]byte, 1500)
		got := engine.Receive(buf, false)
		if got == 0 {
			rt.Fatalf("no frame detected for payload len %d", n)
		}
		want := padFrame(payload)
		if got != len(want) {
			rt.Fatalf("length mismatch: got %d want %d", got, len(want))
		}
		for i := range want {
			if buf[i] != want[i] {
				rt.Fatalf("byte %d mismatch: got %x want %x", i, buf[i], want[i])
			}
		}
	})
}

func TestCRCTrailerIsDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(46, 1500).Draw(rt, "n")
		payload := rapid.SliceOfN(rapid.Byte(), n, n).Draw(rt, "payload")
		padded := padFrame(payload)

		var crc CRC
		crc.Reset()
		for _, b := range padded {
			crc.Update(b)
		}
		trailer := crc.TrailerBytes()

		// Feeding the trailer's *original* bytes back through the CRC
		// (i.e. verifying over payload+trailer the way a receiver would
		// with a textbook CRC check) is a different construction than
		// this wire format's rolling-match check; here we assert the
		// textbook property directly: recomputing CRC over payload and
		// comparing against TrailerBytes is deterministic and stable.
		var crc2 CRC
		crc2.Reset()
		for _, b := range padded {
			crc2.Update(b)
		}
		assert.Equal(rt, trailer, crc2.TrailerBytes())
	})
}

func TestFlipAnyBitBreaksCRC(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(46, 200).Draw(rt, "n")
		payload := rapid.SliceOfN(rapid.Byte(), n, n).Draw(rt, "payload")
		padded := padFrame(payload)

		var crc CRC
		crc.Reset()
		for _, b := range padded {
			crc.Update(b)
		}
		want := crc.TrailerBytes()

		bitIdx := rapid.IntRange(0, len(padded)*8-1).Draw(rt, "bit")
		flipped := make([]byte, len(padded))
		copy(flipped, padded)
		flipped[bitIdx/8] ^= 1 << uint(bitIdx%8)

		var crc2 CRC
		crc2.Reset()
		for _, b := range flipped {
			crc2.Update(b)
		}
		assert.NotEqual(rt, want, crc2.TrailerBytes())
	})
}
