package mac

import "sync"

// Preamble is the fixed byte sequence that opens every transmitted frame:
// seven 0x55 sync bytes followed by the 0x5D start-of-frame marker.
var Preamble = [8]byte{0x55, 0x55, 0x55, 0x55, 0x55, 0x55, 0x55, startByte}

// Transmitter serializes access to the shared transmit window the way the
// original's SemEthTransmit semaphore does, so concurrent senders don't
// interleave frames.
type Transmitter struct {
	mu sync.Mutex
}

// Frame pads payload to the Ethernet minimum (60 bytes, a multiple of 4),
// prepends the preamble, nibble-swaps every payload byte for the wire, and
// appends the CRC-32 trailer. The returned slice is exactly what a real
// transmit-DMA engine would be handed: preamble, wire-order payload,
// 4-byte trailer.
func Frame(payload []byte) []byte {
	padded := make([]byte, len(payload))
	copy(padded, payload)
	for len(padded) < 60 || len(padded)%4 != 0 {
		padded = append(padded, 0)
	}

	out := make([]byte, 0, len(Preamble)+len(padded)+4)
	out = append(out, Preamble[:]...)

	var crc CRC
	crc.Reset()
	for _, b := range padded {
		out = append(out, NibbleSwap(b))
		crc.Update(b)
	}

	trailer := crc.TrailerBytes()
	out = append(out, trailer[:]...)
	return out
}

// Transmit builds the wire frame for payload and hands it to send, having
// first serialized against any other in-flight transmit — the Go
// realization of pending SemEthTransmit before touching the shared
// transmit window and posting it again once the control-register write
// that kicks DMA has been issued. Transmit itself never touches a
// control register: send is expected to be a MemIO-backed sink
// (internal/simhw.Device.Send against a simulated device, or a real
// hardware backend's equivalent) that performs that write, keeping this
// package's framing logic independent of whatever device it is wired to.
func (tx *Transmitter) Transmit(payload []byte, send func(wire []byte)) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	send(Frame(payload))
}
