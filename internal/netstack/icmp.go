package netstack

// handlePing answers an ICMP echo request in place, the original's PING
// branch of IPProcessEthernetPacket: swap addresses, flip type 8→0, leave
// the rest of the payload untouched.
func (s *Stack) handlePing(packet []byte, length int) {
	if packet[offPingType] != 8 {
		return
	}
	f := s.pool.Get(s.cfg.Pool.FrameCountSend)
	if f == nil {
		return
	}
	out := f.Packet[:length]
	createResponse(out, packet, length)
	out[offPingType] = 0
	fillPingChecksum(out, length)
	fillIPChecksum(out)
	s.sendRaw(f, length)
}

// createResponse is EthernetCreateResponse: swap Ethernet/IP/port fields to
// turn a request into the skeleton of its reply.
func createResponse(out, in []byte, length int) {
	copy(out, in[:length])
	copy(out[offEthDest:offEthDest+6], in[offEthSrc:offEthSrc+6])
	copy(out[offEthSrc:offEthSrc+6], in[offEthDest:offEthDest+6])
	if in[offEthType+1] != 0x00 {
		return
	}
	copy(out[offIPSrc:offIPSrc+4], in[offIPDst:offIPDst+4])
	copy(out[offIPDst:offIPDst+4], in[offIPSrc:offIPSrc+4])
	if in[offIPProto] == 0x06 || in[offIPProto] == 0x11 {
		copy(out[offTCPSrcPort:offTCPSrcPort+2], in[offTCPDstPort:offTCPDstPort+2])
		copy(out[offTCPDstPort:offTCPDstPort+2], in[offTCPSrcPort:offTCPSrcPort+2])
	}
}
