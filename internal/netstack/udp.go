package netstack

// handleUDP matches an incoming UDP datagram to an established (5-tuple)
// socket first, falling back to a listening socket on destination port,
// and hands the frame to the socket's read queue. Returns true if the
// frame was adopted (caller must not free it).
func (s *Stack) handleUDP(f *Frame) bool {
	packet := f.Packet[:f.Length]

	sock := s.findEstablished(packet, 0x11)
	if sock == nil {
		sock = s.findListening(packet, 0x11)
	}
	if sock == nil {
		return false
	}
	s.pool.insert(&sock.frameReadHead, &sock.frameReadTail, f)
	if sock.OnEvent != nil {
		sock.OnEvent(sock)
	}
	return true
}

func (s *Stack) findEstablished(packet []byte, protocol byte) *Socket {
	for _, sock := range s.sockets.snapshot() {
		if sock.headerRcv[offIPProto] != protocol {
			continue
		}
		if string(sock.headerRcv[offIPSrc:offIPSrc+8]) != string(packet[offIPSrc:offIPSrc+8]) {
			continue
		}
		if string(sock.headerRcv[offTCPSrcPort:offTCPSrcPort+4]) != string(packet[offTCPSrcPort:offTCPSrcPort+4]) {
			continue
		}
		return sock
	}
	return nil
}

func (s *Stack) findListening(packet []byte, protocol byte) *Socket {
	for _, sock := range s.sockets.snapshot() {
		if sock.headerRcv[offIPProto] != protocol {
			continue
		}
		if string(sock.headerRcv[offTCPDstPort:offTCPDstPort+2]) == string(packet[offTCPDstPort:offTCPDstPort+2]) {
			return sock
		}
	}
	return nil
}
