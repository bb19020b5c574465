// Package netstack implements the ARP/DHCP/ICMP/UDP/TCP/DNS state machine
// that rides on top of internal/mac. It is a direct, field-for-field port
// of the original kernel's single-threaded IP dispatcher, generalized into
// a *Stack value with an injected *kernel.Kernel instead of module-level
// globals.
package netstack

import (
	"encoding/binary"
	"fmt"
)

// Byte offsets into an Ethernet II frame carrying an IPv4 payload. Names and
// values mirror the original C macros field for field.
const (
	offEthDest  = 0
	offEthSrc   = 6
	offEthType  = 12 // 2 bytes: IP=0x0800, ARP=0x0806

	offARPHardType = 14
	offARPProtType = 16
	offARPHardSize = 18
	offARPProtSize = 19
	offARPOp       = 20
	offARPEthSrc   = 22
	offARPIPSrc    = 28
	offARPEthDst   = 32
	offARPIPDst    = 38

	offIPVerLen  = 14
	offIPTOS     = 15
	offIPLength  = 16
	offIPID      = 18
	offIPFrag    = 20
	offIPTTL     = 22
	offIPProto   = 23
	offIPCheck   = 24
	offIPSrc     = 26
	offIPDst     = 30

	offUDPSrcPort = 34
	offUDPDstPort = 36
	offUDPLength  = 38
	offUDPCheck   = 40
	offUDPData    = 42

	offDHCPOp        = 42
	offDHCPHwType    = 43
	offDHCPHwLen     = 44
	offDHCPHops      = 45
	offDHCPXID       = 46
	offDHCPSecs      = 50
	offDHCPFlags     = 52
	offDHCPClientIP  = 54
	offDHCPYourIP    = 58
	offDHCPServerIP  = 62
	offDHCPGatewayIP = 66
	offDHCPClientEth = 70
	offDHCPCookie    = 278
	offDHCPOptions   = 282

	optDHCPMessageType = 53
	optDHCPRequestedIP = 50
	optDHCPServerID    = 54
	optDHCPParamList   = 55
	optDHCPEnd         = 0xff

	dhcpDiscover = 1
	dhcpOffer    = 2
	dhcpRequest  = 3
	dhcpAck      = 5

	paramSubnet = 1
	paramRouter = 3
	paramDNS    = 6

	offTCPSrcPort  = 34
	offTCPDstPort  = 36
	offTCPSeq      = 38
	offTCPAck      = 42
	offTCPHdrLen   = 46
	offTCPFlags    = 47
	offTCPWindow   = 48
	offTCPCheck    = 50
	offTCPUrgent   = 52
	offTCPData     = 54

	tcpFIN = 0x01
	tcpSYN = 0x02
	tcpRST = 0x04
	tcpACK = 0x10

	offPingType  = 34
	offPingCode  = 35
	offPingCheck = 36
	offPingID    = 38
	offPingSeq   = 40
	offPingData  = 44

	dnsQuestions     = 12
	dnsFlagsOff      = 2
	dnsNumQuestions  = 4
	dnsNumAnswers    = 6
	dnsIDOff         = 0
	dnsPort          = 53
)

func be16(b []byte) uint16 { return binary.BigEndian.Uint16(b) }
func putBE16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func be32(b []byte) uint32 { return binary.BigEndian.Uint32(b) }
func putBE32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }

// IP is a dotted-quad IPv4 address stored big-endian, matching the
// original's 4-byte arrays.
type IP [4]byte

func (ip IP) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3])
}

// Uint32 returns the address as a big-endian uint32, the form used in
// arithmetic comparisons against wire fields.
func (ip IP) Uint32() uint32 { return be32(ip[:]) }

// IPFromUint32 reconstructs an IP from its big-endian uint32 form.
func IPFromUint32(v uint32) IP {
	var ip IP
	putBE32(ip[:], v)
	return ip
}

// MAC is a 6-byte Ethernet hardware address.
type MAC [6]byte

var broadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
var zeroIP = IP{0, 0, 0, 0}
