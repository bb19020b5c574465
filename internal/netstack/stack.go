package netstack

import (
	charmlog "github.com/charmbracelet/log"

	cfgpkg "github.com/cezamee/plasmakernel/internal/config"
	"github.com/cezamee/plasmakernel/internal/kernel"
)

// Log is this package's structured logger, quiet by default like
// internal/kernel and internal/mac.
var Log = charmlog.NewWithOptions(nil, charmlog.Options{
	Prefix: "netstack",
	Level:  charmlog.WarnLevel,
})

// SendFunc hands a fully-built, checksummed Ethernet frame to the MAC
// transmit path. The dispatcher does not know about internal/mac directly
// so it can be unit-tested without a simulated NIC.
type SendFunc func(frame []byte)

// Stack is the IPv4 dispatcher: frame pool, socket table, ARP/DHCP/DNS
// state, and the local network identity. One Stack per kernel, passed
// explicitly rather than kept in package globals (internal/kernel.Kernel
// follows the same convention).
type Stack struct {
	k       *kernel.Kernel
	cfg     *cfgpkg.Config
	send    SendFunc
	pool    *Pool
	sockets *socketTable

	localMAC   MAC
	localIP    IP
	gatewayIP  IP
	gatewayMAC MAC
	dnsIP      IP

	dhcp dhcpState

	seconds        int64
	nextSourcePort uint16
}

// New builds a Stack bound to kernel k, configured from c, transmitting
// finished frames through send.
func New(k *kernel.Kernel, c *cfgpkg.Config, send SendFunc) *Stack {
	s := &Stack{
		k:              k,
		cfg:            c,
		send:           send,
		pool:           NewPool(c.Pool.FrameCount),
		sockets:        newSocketTable(),
		nextSourcePort: 0x1007,
	}
	s.localMAC = parseMAC(c.Network.LocalMACHex)
	s.localIP = parseIP(c.Network.LocalIP)
	s.gatewayIP = parseIP(c.Network.Gateway)
	s.gatewayMAC = broadcastMAC
	s.dnsIP = parseIP(c.Network.DNS)
	return s
}

// Start kicks off DHCP (if configured) or accepts the static address as
// final. Call once after the Stack and its owning kernel threads exist.
func (s *Stack) Start() {
	if s.cfg.Network.UseDHCP {
		s.dhcpBegin()
	}
}

// Tick advances per-second bookkeeping: DHCP retry/lease countdown,
// resend-list retransmission, and idle-socket timeout — the original's
// IPTick, called once per second by the host binary's timer thread.
func (s *Stack) Tick() {
	s.seconds++
	if s.cfg.Network.UseDHCP {
		s.dhcpTick()
	}

	for _, f := range s.pool.tickResend() {
		s.sendFrame(f)
	}

	for _, sock := range s.sockets.snapshot() {
		if sock.timeout == 0 {
			continue
		}
		sock.timeout--
		if sock.timeout == 0 {
			sock.timeout = s.cfg.Timing.SocketTimeout / 10
			switch sock.state {
			case StateTCP, StateFinClient:
				s.close(sock)
			default:
				s.close2(sock)
			}
		}
	}
}

// SocketSnapshot is one read-only row of the socket table, the
// introspection-safe subset of Socket.
type SocketSnapshot struct {
	State      SocketState
	LocalPort  uint16
	RemotePort uint16
	RemoteIP   IP
}

// Sockets returns a point-in-time snapshot of every open socket, safe to
// call from any goroutine (cmd/ktop's render loop among them) without
// perturbing the stack it inspects.
func (s *Stack) Sockets() []SocketSnapshot {
	socks := s.sockets.snapshot()
	out := make([]SocketSnapshot, len(socks))
	for i, sock := range socks {
		out[i] = SocketSnapshot{
			State:      sock.state,
			LocalPort:  be16(sock.headerSend[offTCPSrcPort : offTCPSrcPort+2]),
			RemotePort: be16(sock.headerSend[offTCPDstPort : offTCPDstPort+2]),
			RemoteIP:   IP(sock.headerSend[offIPDst : offIPDst+4]),
		}
	}
	return out
}

// PoolGauge reports the frame pool's current free/total block counts.
func (s *Stack) PoolGauge() (free, total int) {
	return s.pool.FreeCount(), s.pool.Total()
}

// DrainSend pops and returns the oldest queued outbound frame's wire bytes,
// or nil if nothing is queued. Frames land on the send FIFO only when the
// Stack was built with a nil SendFunc (see sendFrame); the host binaries
// pass a SendFunc and do not call DrainSend.
func (s *Stack) DrainSend() []byte {
	f := s.pool.popSend()
	if f == nil {
		return nil
	}
	wire := append([]byte(nil), f.Packet[:f.Length]...)
	s.reschedule(f)
	return wire
}

// sendFrame is IPSendFrame: hand the frame's current bytes to the transmit
// path (or the send FIFO if none is wired yet), then reschedule it for
// retransmission. Every transmit — first send and every retry — goes
// through here.
func (s *Stack) sendFrame(f *Frame) {
	if s.send != nil {
		s.send(append([]byte(nil), f.Packet[:f.Length]...))
		s.reschedule(f)
		return
	}
	s.pool.insertSend(f)
}

// reschedule is IPFrameReschedule: a frame that just finished transmitting
// either goes onto the resend list (TCP data/SYN/FIN awaiting ACK) or is
// freed outright (UDP, ACK-only, or already retried 4 times).
func (s *Stack) reschedule(f *Frame) {
	length := f.Length - offTCPData
	if f.Packet[offTCPFlags]&(tcpFIN|tcpSYN) != 0 {
		length++
	}
	if f.Socket == nil || f.Socket.state == StateUDP || length <= 0 {
		s.pool.Free(f)
		return
	}
	f.RetryCnt++
	if f.RetryCnt > s.cfg.Pool.MaxRetransmits {
		s.pool.Free(f)
		return
	}
	f.Timeout = s.cfg.Timing.RetransmitTicks
	s.pool.insertResend(f)
}

func parseMAC(hex string) MAC {
	var m MAC
	if len(hex) != 12 {
		return m
	}
	for i := 0; i < 6; i++ {
		m[i] = hexByte(hex[i*2], hex[i*2+1])
	}
	return m
}

func hexByte(hi, lo byte) byte { return hexNibble(hi)<<4 | hexNibble(lo) }

func hexNibble(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	return 0
}

func parseIP(s string) IP {
	var ip IP
	part, idx := 0, 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '.' {
			ip[idx] = byte(part)
			idx++
			part = 0
			if idx == 4 {
				break
			}
			continue
		}
		part = part*10 + int(s[i]-'0')
	}
	return ip
}
