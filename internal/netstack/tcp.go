package netstack

// handleTCP is IPProcessTCPPacket: accept new connections on LISTEN
// sockets, then dispatch FIN/RST/data/ack handling for established ones.
// Returns true if frameIn was adopted into a socket's read queue (caller
// must not free it).
func (s *Stack) handleTCP(f *Frame) bool {
	packet := f.Packet[:f.Length]
	ipLength := int(be16(packet[offIPLength : offIPLength+2]))
	seq := be32(packet[offTCPSeq : offTCPSeq+4])
	ack := be32(packet[offTCPAck : offTCPAck+4])
	flags := packet[offTCPFlags]

	if flags&(tcpSYN|tcpACK) == tcpSYN {
		s.handleSYN(packet, f.Length, seq)
		return false
	}

	sock := s.findEstablished(packet, 0x06)
	if sock == nil {
		return false
	}

	if flags&tcpFIN != 0 {
		sock.timeout = s.cfg.Timing.SocketTimeout
		sock.ack++
		s.ackOnly(sock)
		if sock.state == StateFinServer {
			s.close2(sock)
		} else {
			sock.state = StateFinClient
			s.notify(sock)
		}
		return false
	}

	if flags&tcpRST != 0 {
		if sock.state == StateFinServer {
			s.close2(sock)
		} else {
			sock.state = StateFinClient
			s.notify(sock)
		}
		return false
	}

	if ack != sock.seqReceived {
		s.pool.ackResend(sock, ack)
		sock.seqReceived = ack
	}

	bytes := ipLength - (offTCPData - offIPVerLen)

	if flags&(tcpSYN|tcpACK) == (tcpSYN | tcpACK) {
		sock.ack = seq + 1
		s.ackOnly(sock)
		s.notify(sock)
		return false
	}
	if packet[offTCPHdrLen] != 0x50 {
		Log.Debug("tcp segment with unexpected header length")
		return false
	}

	if sock.ack == seq && bytes > 0 {
		sock.timeout = s.cfg.Timing.SocketTimeout
		s.pool.insert(&sock.frameReadHead, &sock.frameReadTail, f)
		sock.ack += uint32(bytes)
		s.ackOnly(sock)
		s.notify(sock)
		return true
	}

	if bytes > 0 {
		s.ackOnly(sock)
	}
	return false
}

// handleSYN accepts a connection on a matching LISTEN socket, or silently
// drops a duplicate SYN on an already-established 5-tuple.
func (s *Stack) handleSYN(packet []byte, length int, seq uint32) {
	for _, sock := range s.sockets.snapshot() {
		if sock.state == StateListen {
			continue
		}
		if sock.headerRcv[offIPProto] != packet[offIPProto] {
			continue
		}
		if string(sock.headerRcv[offIPSrc:offIPSrc+8]) == string(packet[offIPSrc:offIPSrc+8]) &&
			string(sock.headerRcv[offTCPSrcPort:offTCPSrcPort+4]) == string(packet[offTCPSrcPort:offTCPSrcPort+4]) {
			return // duplicate SYN, already have this connection
		}
	}

	for _, listener := range s.sockets.snapshot() {
		if listener.state != StateListen || listener.headerRcv[offIPProto] != packet[offIPProto] {
			continue
		}
		if string(listener.headerRcv[offTCPDstPort:offTCPDstPort+2]) != string(packet[offTCPDstPort:offTCPDstPort+2]) {
			continue
		}

		f := s.pool.Get(s.cfg.Pool.FrameCountSend)
		if f == nil {
			return
		}
		sock := &Socket{
			state:   StateTCP,
			timeout: s.cfg.Timing.SocketTimeout * 3,
			OnEvent: listener.OnEvent,
		}
		sock.ack = seq + 1
		sock.seq = sock.ack + 0x12345678
		sock.seqReceived = sock.seq

		out := f.Packet[:length]
		createResponse(out, packet, length)
		copy(sock.headerRcv[:offTCPSeq], packet[:offTCPSeq])
		copy(sock.headerSend[:offTCPSeq], out[:offTCPSeq])

		out[offTCPFlags] = tcpSYN | tcpACK
		out[offTCPData], out[offTCPData+1], out[offTCPData+2], out[offTCPData+3] = 2, 4, 2, 24
		s.tcpSend(sock, f, offTCPData+4)
		sock.seq++

		s.sockets.add(sock)
		return
	}
}

// ackOnly sends a bare ACK carrying the socket's current seq/ack.
func (s *Stack) ackOnly(sock *Socket) {
	f := s.pool.Get(s.cfg.Pool.FrameCountSend)
	if f == nil {
		return
	}
	f.Packet[offTCPFlags] = tcpACK
	s.tcpSend(sock, f, offTCPData)
}

func (s *Stack) notify(sock *Socket) {
	if sock.OnEvent != nil {
		sock.OnEvent(sock)
	}
}

// tcpSend is TCPSendPacket: stamp the socket's header template, sequence
// numbers, and advertised window onto the frame, then hand off to the
// generic IP send path.
func (s *Stack) tcpSend(sock *Socket, f *Frame, length int) {
	packet := f.Packet[:length]
	flags := packet[offTCPFlags]
	copy(packet[:offTCPSeq], sock.headerSend[:offTCPSeq])
	packet[offTCPFlags] = flags
	if flags&tcpSYN != 0 {
		packet[offTCPHdrLen] = 0x60
	} else {
		packet[offTCPHdrLen] = 0x50
	}
	putBE32(packet[offTCPSeq:offTCPSeq+4], sock.seq)
	putBE32(packet[offTCPAck:offTCPAck+4], sock.ack)

	window := s.pool.FreeCount() - s.cfg.Pool.FrameCountWin
	if window < 1 {
		window = 1
	}
	window *= 512
	if window > 0xffff {
		window = 0xffff
	}
	putBE16(packet[offTCPWindow:offTCPWindow+2], uint16(window))
	packet[offTCPUrgent], packet[offTCPUrgent+1] = 0, 0

	s.ipSend(sock, f, length)
}

// ipSend is IPSendPacket: fill in length/checksums for whichever protocol
// the frame carries, compute the frame's seqEnd if it belongs to a TCP
// socket, and queue it for transmission.
func (s *Stack) ipSend(sock *Socket, f *Frame, length int) {
	packet := f.Packet[:length]
	f.Length = length

	if packet[offEthType+1] == 0x00 {
		fillIPLength(packet, length)
		fillIPChecksum(packet)
		switch packet[offIPProto] {
		case 0x01:
			fillPingChecksum(packet, length)
		case 0x11:
			fillUDPChecksum(packet, length-offUDPSrcPort)
		case 0x06:
			fillTCPChecksum(packet, length-offTCPSrcPort)
		}
	}

	payload := length - offTCPData
	if sock != nil && packet[offTCPFlags]&(tcpFIN|tcpSYN) != 0 {
		payload = 1
	}
	f.Socket = sock
	f.Timeout = 0
	f.RetryCnt = 0
	if sock != nil {
		f.SeqEnd = sock.seq + uint32(payload)
	}

	s.sendFrame(f)
}

// Open creates a socket. remoteIP == zeroIP means "listen on port"
// (server side); otherwise this initiates an outbound connection/UDP
// association to remoteIP:port, the original's IPOpen.
func (s *Stack) Open(udp bool, remoteIP IP, port uint16, cb Callback) *Socket {
	sock := &Socket{state: StateListen, OnEvent: cb}

	if remoteIP == zeroIP {
		putBE16(sock.headerRcv[offTCPDstPort:offTCPDstPort+2], port)
	} else {
		copy(sock.headerSend[offEthDest:offEthDest+6], s.gatewayMAC[:])
		copy(sock.headerSend[offEthSrc:offEthSrc+6], s.localMAC[:])
		sock.headerSend[offEthType], sock.headerSend[offEthType+1] = 0x08, 0x00
		sock.headerSend[offIPVerLen] = 0x45
		sock.headerSend[offIPTTL] = 0x80
		copy(sock.headerSend[offIPSrc:offIPSrc+4], s.localIP[:])
		copy(sock.headerSend[offIPDst:offIPDst+4], remoteIP[:])
		copy(sock.headerRcv[offIPSrc:offIPSrc+4], remoteIP[:])
		copy(sock.headerRcv[offIPDst:offIPDst+4], s.localIP[:])

		srcPort := s.nextSourcePort
		s.nextSourcePort++
		putBE16(sock.headerSend[offTCPSrcPort:offTCPSrcPort+2], srcPort)
		putBE16(sock.headerSend[offTCPDstPort:offTCPDstPort+2], port)
		putBE16(sock.headerRcv[offTCPSrcPort:offTCPSrcPort+2], port)
		putBE16(sock.headerRcv[offTCPDstPort:offTCPDstPort+2], srcPort)
	}

	if udp {
		sock.state = StateUDP
		sock.headerSend[offIPProto] = 0x11
		sock.headerRcv[offIPProto] = 0x11
	} else {
		if remoteIP != zeroIP {
			sock.state = StateTCP
		}
		sock.headerSend[offIPProto] = 0x06
		sock.headerRcv[offIPProto] = 0x06
	}

	s.sockets.add(sock)

	if !udp && remoteIP != zeroIP {
		f := s.pool.Get(0)
		if f != nil {
			f.Packet[offTCPFlags] = tcpSYN
			f.Packet[offTCPData], f.Packet[offTCPData+1], f.Packet[offTCPData+2], f.Packet[offTCPData+3] = 2, 4, 2, 24
			s.tcpSend(sock, f, offTCPData+4)
			sock.seq++
		}
	}
	return sock
}

// WriteFlush sends whatever has been buffered by Write as a single ACK
// segment.
func (s *Stack) WriteFlush(sock *Socket) {
	if sock.frameSend == nil || sock.state == StateUDP {
		return
	}
	sock.frameSend.Packet[offTCPFlags] = tcpACK
	s.tcpSend(sock, sock.frameSend, offTCPData+sock.sendOffset)
	sock.seq += uint32(sock.sendOffset)
	sock.frameSend = nil
	sock.sendOffset = 0
}

// Write buffers up to 512 bytes per TCP segment (flushing at the limit)
// or sends a UDP datagram immediately per call, returning bytes accepted.
func (s *Stack) Write(sock *Socket, buf []byte) int {
	count := 0
	for len(buf) > 0 {
		if sock.frameSend == nil {
			sock.frameSend = s.pool.Get(s.cfg.Pool.FrameCountSend)
			sock.sendOffset = 0
		}
		f := sock.frameSend
		if f == nil {
			break
		}
		offset := sock.sendOffset
		n := 512 - offset
		if n > len(buf) {
			n = len(buf)
		}
		sock.sendOffset += n

		if sock.state != StateUDP {
			copy(f.Packet[offTCPData+offset:], buf[:n])
			if sock.sendOffset >= 512 {
				s.WriteFlush(sock)
			}
		} else {
			copy(f.Packet[offUDPData+offset:], buf[:n])
			copy(f.Packet[:offUDPLength], sock.headerSend[:offUDPLength])
			s.ipSend(sock, f, offUDPData+sock.sendOffset)
			sock.frameSend = nil
		}
		count += n
		buf = buf[n:]
	}
	return count
}

// Read drains up to len(buf) bytes from the socket's read queue (oldest
// frame first), freeing frames as they are fully consumed.
func (s *Stack) Read(sock *Socket, buf []byte) int {
	offset := offTCPData
	if sock.state == StateUDP {
		offset = offUDPData
	}
	count := 0
	for len(buf) > 0 {
		f := sock.frameReadTail
		if f == nil {
			break
		}
		avail := f.Length - offset - sock.readOffset
		n := avail
		if n > len(buf) {
			n = len(buf)
		}
		if n <= 0 {
			break
		}
		copy(buf, f.Packet[offset+sock.readOffset:offset+sock.readOffset+n])
		buf = buf[n:]
		sock.readOffset += n
		count += n
		if sock.readOffset == f.Length-offset {
			sock.readOffset = 0
			s.pool.remove(f)
			s.pool.Free(f)
		}
	}
	return count
}

// Close flushes pending output, then for TCP sends FIN+ACK and transitions
// to FIN_SERVER (or closes outright if the peer already sent its FIN).
func (s *Stack) close(sock *Socket) {
	s.WriteFlush(sock)
	if sock.state == StateUDP {
		s.close2(sock)
		return
	}
	f := s.pool.Get(0)
	if f == nil {
		return
	}
	f.Packet[offTCPFlags] = tcpFIN | tcpACK
	s.tcpSend(sock, f, offTCPData)
	sock.seq++
	if sock.state == StateFinClient {
		s.close2(sock)
	} else {
		sock.state = StateFinServer
	}
}

// Close is the exported form of close, for callers outside this package.
func (s *Stack) Close(sock *Socket) { s.close(sock) }

// close2 is IPClose2: detach the socket from in-flight frames, free its
// read queue, and drop it from the socket table.
func (s *Stack) close2(sock *Socket) {
	s.pool.disownSocket(sock)
	for f := sock.frameReadHead; f != nil; {
		next := f.next
		s.pool.remove(f)
		s.pool.Free(f)
		f = next
	}
	s.sockets.remove(sock)
}
