package mac

import (
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Log is the MAC engine's structured logger, quiet by default — the
// rewind/advance-by-one events it traces at Debug are expected and
// frequent, mirroring the original's silent drop-and-retry policy.
var Log = charmlog.NewWithOptions(nil, charmlog.Options{
	Prefix: "mac",
	Level:  charmlog.WarnLevel,
})

const (
	byteEmpty = 0xDE // sentinel written into consumed ring positions
	startByte = 0x5D // bit pattern 01011101, the frame-start marker
	indexMask = 0xFFFF
	ringSize  = indexMask + 1
)

// Ring is the receive ring buffer: a fixed-size circular byte array
// written by the simulated (or real) NIC and scanned by Engine.Receive.
// Consumed positions are overwritten with byteEmpty so a scan never
// revisits stale data.
type Ring struct {
	mu  sync.Mutex
	buf [ringSize]byte
}

// NewRing returns a ring pre-filled with the sentinel, as EthernetInit
// clears the hardware receive buffer before enabling interrupts.
func NewRing() *Ring {
	r := &Ring{}
	for i := range r.buf {
		r.buf[i] = byteEmpty
	}
	return r
}

// Write deposits len(data) bytes into the ring starting at offset
// (mod ringSize), the role the NIC's DMA engine plays in hardware. It is
// the only way test code or internal/simhw injects wire-order bytes.
func (r *Ring) Write(offset int, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range data {
		r.buf[(offset+i)&indexMask] = b
	}
}

func (r *Ring) at(i int) byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf[i&indexMask]
}

func (r *Ring) set(i int, val byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[i&indexMask] = val
}

func (r *Ring) fill(from, to int, val byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := from; i != to; i = (i + 1) & indexMask {
		r.buf[i&indexMask] = val
	}
	r.buf[to&indexMask] = val
}

// destMAC is gDestMac in the original: byte 0 is the frame-start marker,
// the remaining 6 are matched against the destination MAC with 0xFF
// treated as wildcard on either side: a broadcast frame matches any
// engine, and an engine built for the broadcast address accepts "any"
// destination.
type destMAC [7]byte

// Engine is the Ethernet MAC framing core: one Ring, one destination MAC
// filter, and the scanning cursor and retry counter that make
// EthernetReceive safe to call repeatedly on a still-arriving frame.
type Engine struct {
	ring *Ring
	dest destMAC

	index         int
	checkedBefore int
}

// NewEngine creates a MAC engine that accepts frames addressed to mac (or
// broadcast) on ring.
func NewEngine(ring *Ring, mac [6]byte) *Engine {
	e := &Engine{ring: ring}
	e.dest[0] = startByte
	for i := 0; i < 6; i++ {
		e.dest[i+1] = NibbleSwap(mac[i])
	}
	return e
}

// Receive scans the ring for the next complete, CRC-valid frame and
// copies its payload (every byte after the start marker, destination MAC
// included, before the CRC trailer) into buffer. It returns the
// number of payload bytes copied, or 0 if no complete frame is available
// yet — callers are expected to call Receive again later, exactly as the
// original's EthernetThread loop does. len(buffer) bounds how many bytes
// will be copied before Receive gives up and rewinds. packetExpected
// should reflect whether the hardware's receive-pending interrupt status
// is currently set: when it is not, seeing the sentinel byte while
// scanning is conclusive proof the ring is idle and the scan can stop
// immediately rather than walking the full ring.
func (e *Engine) Receive(buffer []byte, packetExpected bool) int {
	start, found := e.findFrameStart(packetExpected)
	if !found {
		return 0
	}

	e.ring.fill2(e.index, start, byteEmpty)
	e.index = start

	consumeIndex := (e.index + 1) & indexMask // skip the 0x5D marker
	var crc CRC
	crc.Reset()

	count := 0
	for count < len(buffer) {
		wireByte := e.ring.at(consumeIndex)
		consumeIndex = (consumeIndex + 1) & indexMask

		orig := NibbleSwap(wireByte)
		buffer[count] = orig
		count++
		crc.Update(orig)

		if count >= 40 {
			if e.probeEndOfFrame(crc, consumeIndex) {
				e.ring.fill(start, (start+count+4)&indexMask, byteEmpty)
				newIndex := (consumeIndex + 4) & indexMask
				for newIndex&3 != 0 {
					e.ring.set(newIndex, byteEmpty)
					newIndex = (newIndex + 1) & indexMask
				}
				e.index = newIndex
				e.checkedBefore = 0
				Log.Debug("frame received", "bytes", count)
				return count
			}
		}
	}

	// No end-of-frame found within len(buffer): rewind and try again
	// later, unless this candidate has already failed twice, in which
	// case step past it by one byte to escape a run of garbage that
	// happens to start with a 0x5D-and-matching-MAC coincidence.
	e.index = start
	e.checkedBefore++
	Log.Debug("end of frame not found, rewinding", "start", start, "attempt", e.checkedBefore)
	if e.checkedBefore > 1 {
		e.ring.set(e.index, byteEmpty)
		e.index = (e.index + 1) & indexMask
		Log.Debug("advancing past frame candidate", "start", start)
	}
	return 0
}

// probeEndOfFrame checks whether the next 4 ring bytes starting at
// consumeIndex equal the CRC trailer implied by crc's current value —
// the rolling end-of-frame test run from byte 40 onward.
func (e *Engine) probeEndOfFrame(crc CRC, consumeIndex int) bool {
	trailer := crc.TrailerBytes()
	for i, want := range trailer {
		got := e.ring.at((consumeIndex + i) & indexMask)
		if got != want {
			return false
		}
	}
	return true
}

// findFrameStart scans from e.index for the start marker followed by a
// matching (or wildcard) destination MAC, wrapping around the ring. Bytes
// skipped along the way are zero-filled with the sentinel only once a
// candidate is found (mirroring the original, which only advances gIndex
// up to the found offset, not while scanning). Returns false if no
// candidate exists, including the legitimate "ring is genuinely idle"
// case recognized by seeing the sentinel while no packet is pending.
func (e *Engine) findFrameStart(packetExpected bool) (int, bool) {
	for offset := 0; offset <= indexMask; offset++ {
		idx := (e.index + offset) & indexMask
		b := e.ring.at(idx)
		if b == startByte {
			matched := true
			for i := 1; i < len(e.dest); i++ {
				j := (idx + i) & indexMask
				bb := e.ring.at(j)
				if bb != 0xFF && e.dest[i] != 0xFF && bb != e.dest[i] {
					matched = false
					break
				}
			}
			if matched {
				return idx, true
			}
		} else if b == byteEmpty && !packetExpected {
			return 0, false
		}
	}
	return 0, false
}

// fill2 zero-fills the sentinel from `from` (inclusive) up to but not
// including `to` — the loop the original runs between finding a
// frame-start candidate and beginning the CRC scan. It does not move the
// engine's index; Receive sets that itself afterwards.
func (r *Ring) fill2(from, to int, val byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := from
	for i != to {
		r.buf[i] = val
		i = (i + 1) & indexMask
	}
}
