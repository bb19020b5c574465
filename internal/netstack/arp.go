package netstack

// handleARP is IPProcessEthernetPacket's ARP branch: either an ARP reply
// resolving the gateway's MAC, or an ARP request for our own IP, answered
// immediately. No cache is kept beyond the single gateway entry — this
// port never originates ARP requests to hosts other than the gateway.
func (s *Stack) handleARP(packet []byte, length int) {
	dest := MAC(packet[offEthDest : offEthDest+6])

	if dest == s.localMAC && be16(packet[offARPOp:offARPOp+2]) == 2 &&
		IP(packet[offARPIPSrc:offARPIPSrc+4]) == s.gatewayIP {
		s.gatewayMAC = MAC(packet[offARPEthSrc : offARPEthSrc+6])
		Log.Debug("arp reply resolved gateway MAC", "mac", s.gatewayMAC)
		return
	}

	if dest != broadcastMAC ||
		be16(packet[offARPOp:offARPOp+2]) != 1 ||
		IP(packet[offARPIPDst:offARPIPDst+4]) != s.localIP {
		return
	}

	out := s.pool.Get(0)
	if out == nil {
		return
	}
	op := out.Packet[:length]
	copy(op, packet[:length])
	copy(op[offEthDest:offEthDest+6], packet[offEthSrc:offEthSrc+6])
	copy(op[offEthSrc:offEthSrc+6], s.localMAC[:])
	putBE16(op[offARPOp:offARPOp+2], 2)
	copy(op[offARPEthSrc:offARPEthSrc+6], s.localMAC[:])
	copy(op[offARPIPSrc:offARPIPSrc+4], packet[offARPIPDst:offARPIPDst+4])
	copy(op[offARPEthDst:offARPEthDst+6], packet[offARPEthSrc:offARPEthSrc+6])
	copy(op[offARPIPDst:offARPIPDst+4], packet[offARPIPSrc:offARPIPSrc+4])
	s.sendRaw(out, length)
}

// arpRequestGateway emits an ARP request asking who owns gatewayIP, used
// when a DHCP ACK arrives from a source other than the learned gateway.
func (s *Stack) arpRequestGateway() {
	out := s.pool.Get(0)
	if out == nil {
		return
	}
	p := out.Packet[:60]
	for i := range p {
		p[i] = 0
	}
	copy(p[offEthDest:offEthDest+6], broadcastMAC[:])
	copy(p[offEthSrc:offEthSrc+6], s.localMAC[:])
	p[offEthType], p[offEthType+1] = 0x08, 0x06
	p[offARPHardType+1] = 0x01
	p[offARPProtType] = 0x08
	p[offARPHardSize] = 0x06
	p[offARPProtSize] = 0x04
	p[offARPOp+1] = 1
	copy(p[offARPEthSrc:offARPEthSrc+6], s.localMAC[:])
	copy(p[offARPIPSrc:offARPIPSrc+4], s.localIP[:])
	copy(p[offARPIPDst:offARPIPDst+4], s.gatewayIP[:])
	s.sendRaw(out, 60)
}

// sendRaw queues a frame that needs no further checksum/length work (ARP
// has none) onto the send list, the IPSendFrame fast path for frames with
// no owning socket.
func (s *Stack) sendRaw(f *Frame, length int) {
	f.Length = length
	f.Socket = nil
	f.Timeout = 0
	f.RetryCnt = 0
	s.sendFrame(f)
}
