package netstack

// maxPacketSize bounds an accepted Ethernet payload, the original's
// PACKET_SIZE guard in IPProcessEthernetPacket.
const maxPacketSize = packetSize

// ProcessEthernetFrame is IPProcessEthernetPacket: dispatch an inbound
// frame to ARP, DHCP, ICMP, TCP, or UDP handling. Returns true if the
// frame was adopted by a socket's read queue (caller must not free it).
func (s *Stack) ProcessEthernetFrame(f *Frame) bool {
	packet := f.Packet[:f.Length]
	length := f.Length

	if packet[offEthType] != 0x08 || length > maxPacketSize {
		return false
	}

	if packet[offEthType+1] == 0x06 {
		s.handleARP(packet, length)
		return false
	}

	if length < offUDPData {
		return false
	}
	ipLength := int(be16(packet[offIPLength : offIPLength+2]))
	if ipLength > length-offIPVerLen {
		return false
	}
	if packet[offEthType+1] != 0x00 || packet[offIPVerLen] != 0x45 {
		return false
	}

	if packet[offIPProto] == 0x11 &&
		packet[offUDPSrcPort] == 0 && packet[offUDPSrcPort+1] == 67 &&
		packet[offUDPDstPort] == 0 && packet[offUDPDstPort+1] == 68 {
		s.handleDHCPReply(packet, length)
		return false
	}

	if MAC(packet[offEthDest:offEthDest+6]) != s.localMAC ||
		IP(packet[offIPDst:offIPDst+4]) != s.localIP {
		return false
	}
	if !verifyChecksums(packet, length) { // logged, not enforced — see §7
		Log.Warn("checksum verification failed; frame processed anyway")
	}

	switch packet[offIPProto] {
	case 0x01:
		s.handlePing(packet, length)
		return false
	case 0x06:
		return s.handleTCP(f)
	case 0x11:
		return s.handleUDP(f)
	}
	return false
}

// Deliver feeds a fully received, wire-order frame (already copied out of
// the MAC receive ring) into the dispatcher, freeing it if unused. This is
// the host binary's call site for every frame internal/mac hands up.
func (s *Stack) Deliver(raw []byte) {
	f := s.pool.Get(s.cfg.Pool.FrameCountRcv)
	if f == nil {
		Log.Debug("frame dropped: pool exhausted")
		return
	}
	n := copy(f.Packet[:], raw)
	f.Length = n
	if !s.ProcessEthernetFrame(f) {
		s.pool.Free(f)
	}
}
