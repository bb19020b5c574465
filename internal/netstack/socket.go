package netstack

import "sync"

// SocketState is the coarse connection state of an IPSocket.
type SocketState int

const (
	StateListen SocketState = iota
	StateTCP
	StateUDP
	StateFinClient
	StateFinServer
)

func (s SocketState) String() string {
	switch s {
	case StateListen:
		return "LISTEN"
	case StateTCP:
		return "TCP"
	case StateUDP:
		return "UDP"
	case StateFinClient:
		return "FIN_CLIENT"
	case StateFinServer:
		return "FIN_SERVER"
	default:
		return "?"
	}
}

// Callback notifies the owner of a socket that new data has arrived, a
// connection completed its handshake, or the peer closed — the original's
// IPFuncPtr.
type Callback func(*Socket)

// Socket is one TCP or UDP endpoint. headerSend/headerRcv are protocol
// header templates (their first 38 bytes, up to TCP_SEQ, are used) used to stamp outgoing
// frames and match incoming ones without rebuilding the Ethernet/IP/TCP
// header from scratch every time — exactly the original's layout.
type Socket struct {
	state SocketState

	headerSend [64]byte
	headerRcv  [64]byte

	seq         uint32
	ack         uint32
	seqReceived uint32

	frameReadHead, frameReadTail *Frame
	readOffset                   int

	frameSend  *Frame
	sendOffset int

	timeout int64

	OnEvent Callback
	UserPtr any

	dnsUserFunc func(ip IP)
}

// socketTable is the global list of open sockets, one mutex-guarded slice
// replacing the original's intrusive doubly-linked SocketHead.
type socketTable struct {
	mu      sync.Mutex
	sockets []*Socket
}

func newSocketTable() *socketTable { return &socketTable{} }

func (st *socketTable) add(s *Socket) {
	st.mu.Lock()
	st.sockets = append(st.sockets, s)
	st.mu.Unlock()
}

func (st *socketTable) remove(s *Socket) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, r := range st.sockets {
		if r == s {
			st.sockets = append(st.sockets[:i], st.sockets[i+1:]...)
			return
		}
	}
}

func (st *socketTable) snapshot() []*Socket {
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]*Socket, len(st.sockets))
	copy(out, st.sockets)
	return out
}
