package netstack

// dhcpState is the client's position in IDLE → DISCOVER → OFFER → REQUEST
// → ACK → BOUND, named request exactly as the original's static `request`
// variable (0 = idle/bound, else the DHCP message type just sent).
type dhcpState struct {
	request     int
	retryTicks  int64
	transaction uint32
	offered     IP // yiaddr of the OFFER being answered, echoed in option 50
}

const (
	dhcpMagicCookie = 0x63825363
)

// dhcpBegin sends the initial DISCOVER, the original's IPDhcp(NULL, _, 1)
// called from IPInit.
func (s *Stack) dhcpBegin() {
	s.sendDiscoverOrRequest(dhcpDiscover, nil)
	s.dhcp.request = dhcpDiscover
	s.dhcp.retryTicks = s.cfg.Timing.DHCPRetryTicks
	Log.Debug("dhcp discover sent")
}

// dhcpTick drives the retry timer; it is called once per Stack.Tick
// (nominally once per second).
func (s *Stack) dhcpTick() {
	s.dhcp.retryTicks--
	if s.dhcp.retryTicks <= 0 {
		if s.dhcp.request == 0 {
			// bound: this is the lease-refresh countdown reaching zero
			s.dhcpBegin()
		} else {
			s.sendDiscoverOrRequest(s.dhcp.request, nil)
			s.dhcp.retryTicks = s.cfg.Timing.DHCPRetryTicks
		}
	}
}

// handleDHCPReply is IPDhcp(packet, length, 2): dispatch on the incoming
// message type and our outstanding request.
func (s *Stack) handleDHCPReply(packet []byte, length int) {
	if MAC(packet[offDHCPClientEth:offDHCPClientEth+6]) != s.localMAC {
		return
	}
	msgType := findDHCPOption(packet, length, optDHCPMessageType)
	switch {
	case msgType == dhcpOffer && s.dhcp.request == dhcpDiscover:
		offeredServer := IP(packet[offDHCPServerIP : offDHCPServerIP+4])
		s.dhcp.offered = IP(packet[offDHCPYourIP : offDHCPYourIP+4])
		s.sendDiscoverOrRequest(dhcpRequest, &offeredServer)
		s.dhcp.request = dhcpRequest
		Log.Debug("dhcp offer received, request sent")

	case msgType == dhcpAck && s.dhcp.request == dhcpRequest:
		s.dhcp.request = 0
		s.dhcp.retryTicks = s.cfg.Timing.DHCPLeaseTicks
		s.localIP = IP(packet[offDHCPYourIP : offDHCPYourIP+4])
		s.gatewayIP = IP(packet[offDHCPGatewayIP : offDHCPGatewayIP+4])
		if s.gatewayIP == zeroIP {
			s.gatewayIP = IP(packet[offDHCPServerIP : offDHCPServerIP+4])
		}
		s.gatewayMAC = MAC(packet[offEthSrc : offEthSrc+6])

		if dns, ok := dhcpOptionIP(packet, length, paramDNS); ok {
			s.dnsIP = dns
		}
		Log.Info("dhcp bound", "ip", s.localIP, "gateway", s.gatewayIP, "dns", s.dnsIP)

		if IP(packet[offIPSrc:offIPSrc+4]) != s.gatewayIP {
			s.arpRequestGateway()
		}
	}
}

// sendDiscoverOrRequest builds a DISCOVER (server == nil) or REQUEST
// (server != nil, carrying the offered IP + server ID options) and queues
// it as a broadcast UDP/67 packet.
func (s *Stack) sendDiscoverOrRequest(msgType int, server *IP) {
	f := s.pool.Get(0)
	if f == nil {
		return
	}
	p := f.Packet[:400]
	for i := range p {
		p[i] = 0
	}
	copy(p[offEthDest:offEthDest+6], broadcastMAC[:])
	copy(p[offEthSrc:offEthSrc+6], s.localMAC[:])
	p[offEthType], p[offEthType+1] = 0x08, 0x00
	p[offIPVerLen] = 0x45
	p[offIPTTL] = 0x80
	p[offIPProto] = 0x11
	copy(p[offIPDst:offIPDst+4], []byte{0xff, 0xff, 0xff, 0xff})
	putBE16(p[offUDPSrcPort:offUDPSrcPort+2], 68)
	putBE16(p[offUDPDstPort:offUDPDstPort+2], 67)

	p[offDHCPOp] = 1
	p[offDHCPHwType] = 1
	p[offDHCPHwLen] = 6
	putBE32(p[offDHCPXID:offDHCPXID+4], 0x01344566)
	copy(p[offDHCPClientEth:offDHCPClientEth+6], s.localMAC[:])
	putBE32(p[offDHCPCookie:offDHCPCookie+4], dhcpMagicCookie)

	opt := p[offDHCPOptions:]
	n := 0
	opt[n], opt[n+1], opt[n+2] = optDHCPMessageType, 1, byte(msgType)
	n += 3
	opt[n], opt[n+1] = 0x3d, 7
	opt[n+2] = 0x01
	copy(opt[n+3:n+9], s.localMAC[:])
	n += 9
	opt[n], opt[n+1] = 0x0c, 6
	copy(opt[n+2:n+8], []byte("plasma"))
	n += 8
	opt[n], opt[n+1], opt[n+2], opt[n+3], opt[n+4] = 0x37, 3, paramSubnet, paramRouter, paramDNS
	n += 5
	if server != nil {
		opt[n], opt[n+1] = optDHCPRequestedIP, 4
		copy(opt[n+2:n+6], s.dhcp.offered[:])
		opt[n+6], opt[n+7] = optDHCPServerID, 4
		copy(opt[n+8:n+12], (*server)[:])
		n += 12
	}
	opt[n] = optDHCPEnd
	n++

	length := offDHCPOptions + n
	fillIPLength(p, length)
	fillUDPChecksum(p, length-offUDPSrcPort)
	fillIPChecksum(p)
	s.sendRaw(f, 400)
}

func fillIPLength(p []byte, length int) {
	putBE16(p[offIPLength:offIPLength+2], uint16(length-offIPVerLen))
}

// findDHCPOption scans the variable-length option list for tag, returning
// its single byte value (or -1 if absent/not length-1).
func findDHCPOption(packet []byte, length, tag int) int {
	ptr := offDHCPCookie + 4
	for ptr < length && packet[ptr] != optDHCPEnd {
		t := int(packet[ptr])
		l := int(packet[ptr+1])
		if t == tag && l == 1 {
			return int(packet[ptr+2])
		}
		ptr += 2 + l
	}
	return -1
}

// dhcpOptionIP scans for a 4-byte IP-valued option (e.g. DNS server).
func dhcpOptionIP(packet []byte, length, tag int) (IP, bool) {
	ptr := offDHCPCookie + 4
	for ptr < length && packet[ptr] != optDHCPEnd {
		t := int(packet[ptr])
		l := int(packet[ptr+1])
		if t == tag && l >= 4 {
			return IP(packet[ptr+2 : ptr+6]), true
		}
		ptr += 2 + l
	}
	return IP{}, false
}
