// Package simhw is the in-memory stand-in for the FPGA soft-core's
// memory-mapped Ethernet NIC: a byte-addressable receive ring a producer
// goroutine writes into, a transmit window the MAC engine writes out of,
// and the handful of 32-bit control/status registers real driver code
// would twiddle through MMIO. A hardware backend implements the same
// MemIO interface against real registers; nothing upstream of MemIO
// needs to know which one it is talking to.
package simhw

import (
	"sync"

	charmlog "github.com/charmbracelet/log"

	"github.com/cezamee/plasmakernel/internal/mac"
)

// Log is this package's structured logger, quiet by default like the
// rest of the corpus.
var Log = charmlog.NewWithOptions(nil, charmlog.Options{
	Prefix: "simhw",
	Level:  charmlog.WarnLevel,
})

// MemIO is the abstracted memory-mapped I/O surface: MemoryRead/MemoryWrite
// in the original, Read32/Write32 here. A Device is the one implementation
// in this repo; tests may supply their own to assert on register traffic
// without a live Device behind it.
type MemIO interface {
	Read32(addr uint32) uint32
	Write32(addr uint32, val uint32)
}

// Register addresses on the simulated device. The exact values are
// arbitrary (this hardware does not exist outside this package) but fixed
// once chosen, since Device.Init's SMI/PHY write targets RegSMIConfig by
// address the same way real driver code would.
const (
	RegControl   uint32 = 0x1000 // write (word count + 4) to kick a transmit
	RegIntStatus uint32 = 0x1004 // IntRXPending | IntTXComplete; write-one-to-clear
	RegIntMask   uint32 = 0x1008 // read/write: which IntStatus bits raise Notify
	RegSMIConfig uint32 = 0x100C // PHY config word, written once at Init
)

// Interrupt status/mask bits.
const (
	IntRXPending  uint32 = 1 << 0
	IntTXComplete uint32 = 1 << 1
)

// phyConfig10MFull is the 32-bit SMI/PHY configuration word Init issues:
// 10 Mb/s, full duplex.
const phyConfig10MFull uint32 = 0x5F800100

// Device is a simulated Ethernet NIC: a receive Ring the producer
// goroutine deposits frames into, a control/status/mask register file,
// and a wake channel standing in for the hardware interrupt line.
type Device struct {
	ring *mac.Ring

	mu        sync.Mutex
	control   uint32
	intStatus uint32
	intMask   uint32
	smiConfig uint32

	notify chan struct{} // buffered(1): posted on every raise that leaves intStatus&intMask nonzero

	onTransmit func(wire []byte) // set by NewDevice; records the last frame Send pushed onto the wire
}

// NewDevice creates a Device backed by ring. onWire is called with the raw
// wire-order bytes every time Send is asked to transmit a frame — the
// loopback or real-link sink the host binary wires in; Device itself only
// manages registers and the ring, it does not know where transmitted
// bytes end up.
func NewDevice(ring *mac.Ring, onWire func(wire []byte)) *Device {
	return &Device{
		ring:       ring,
		notify:     make(chan struct{}, 1),
		onTransmit: onWire,
	}
}

// Init clears pending interrupts, unmasks both receive and transmit
// interrupts, and issues the SMI/PHY configuration write the original's
// EthernetInit performs once at startup.
func (d *Device) Init() {
	d.mu.Lock()
	d.intStatus = 0
	d.intMask = IntRXPending | IntTXComplete
	d.smiConfig = phyConfig10MFull
	d.mu.Unlock()
	Log.Debug("phy configured", "word", phyConfig10MFull)
}

// Read32 reads one of the simulated registers. Unknown addresses read as
// zero, the same permissive behavior a real bus would not have but that
// keeps a misaddressed read from panicking a simulated kernel.
func (d *Device) Read32(addr uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch addr {
	case RegControl:
		return d.control
	case RegIntStatus:
		return d.intStatus
	case RegIntMask:
		return d.intMask
	case RegSMIConfig:
		return d.smiConfig
	default:
		return 0
	}
}

// Write32 writes one of the simulated registers. Writing RegIntStatus
// clears the written bits (write-one-to-clear, the usual MMIO interrupt
// idiom); writing RegControl only stores the value. Send is what
// transmits and raises IntTXComplete.
func (d *Device) Write32(addr uint32, val uint32) {
	d.mu.Lock()
	switch addr {
	case RegControl:
		d.control = val
	case RegIntStatus:
		d.intStatus &^= val
	case RegIntMask:
		d.intMask = val
	case RegSMIConfig:
		d.smiConfig = val
	}
	d.mu.Unlock()
}

// Send transmits wire (the fully-framed bytes mac.Frame produced),
// writing the word count to RegControl as §7's transmit step requires,
// handing the bytes to the wired-in onTransmit sink, and raising
// IntTXComplete. This is the function internal/mac.Transmitter.Transmit
// is meant to be called with as its send callback.
func (d *Device) Send(wire []byte) {
	words := (len(wire) + 3) / 4
	d.mu.Lock()
	d.control = uint32(words) + 4
	d.mu.Unlock()

	if d.onTransmit != nil {
		d.onTransmit(wire)
	}

	d.raise(IntTXComplete)
}

// DeliverFrame writes a complete wire-order frame (preamble, nibble-swapped
// payload, CRC trailer — exactly what mac.Frame produces) into the
// receive ring at the given offset and raises IntRXPending. This is the
// hardware DMA write in the original; here it is the one entry point test
// code and RunProducer use to inject incoming frames.
func (d *Device) DeliverFrame(offset int, wire []byte) {
	d.ring.Write(offset, wire)
	d.raise(IntRXPending)
}

func (d *Device) raise(bit uint32) {
	d.mu.Lock()
	d.intStatus |= bit
	wake := d.intStatus&d.intMask != 0
	d.mu.Unlock()
	if wake {
		select {
		case d.notify <- struct{}{}:
		default:
		}
	}
}

// Notify returns the channel the host binary's Ethernet-RX ISR goroutine
// selects on: every raised interrupt (receive or transmit-complete) posts
// to it while any unmasked status bit is set. It is buffered(1) and coalescing, like a
// level-triggered interrupt line collapsed to an edge the goroutine only
// needs to notice once per batch of work.
func (d *Device) Notify() <-chan struct{} {
	return d.notify
}

// RunProducer is the receive-ring DMA producer: it reads wire-order
// frames from frames and writes each one into the ring at a free-running
// offset, standing in for the PHY/MAC hardware that would otherwise own
// this write. It returns when frames is closed or ctx-like cancellation
// is signaled via done.
func (d *Device) RunProducer(frames <-chan []byte, done <-chan struct{}) {
	offset := 0
	for {
		select {
		case <-done:
			return
		case wire, ok := <-frames:
			if !ok {
				return
			}
			d.DeliverFrame(offset, wire)
			offset = (offset + len(wire) + 16) & 0xFFFF
		}
	}
}
