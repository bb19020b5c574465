// Package cfg holds the network and timing parameters the original kernel
// wired as compile-time macros (NetLocalIP, FRAME_COUNT, RETRANSMIT_TIME,
// and so on). Here they load from an optional YAML file on top of
// Default(); no command-line flag sets an individual field.
package cfg

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Network holds the static fallback network identity used until DHCP (if
// enabled) replaces it, plus the protocol engine's tuning knobs.
type Network struct {
	LocalMAC    [6]byte `yaml:"-"`
	LocalMACHex string  `yaml:"local_mac"`
	LocalIP     string  `yaml:"local_ip"`
	Gateway     string  `yaml:"gateway"`
	Netmask     string  `yaml:"netmask"`
	DNS         string  `yaml:"dns"`

	UseDHCP bool `yaml:"use_dhcp"`
}

// Timing holds the tick-denominated constants. TickPeriodMS is the kernel
// tick period; the other fields are counted in netstack Stack.Tick calls,
// which the host binary makes once per second.
type Timing struct {
	TickPeriodMS int `yaml:"tick_period_ms"`

	RetransmitTicks int64 `yaml:"retransmit_ticks"`
	SocketTimeout   int64 `yaml:"socket_timeout_ticks"`
	DHCPRetryTicks  int64 `yaml:"dhcp_retry_ticks"`
	DHCPLeaseTicks  int64 `yaml:"dhcp_lease_ticks"`
}

// Pool sizes the static frame arena and its send/receive/window reserves.
type Pool struct {
	FrameCount      int `yaml:"frame_count"`
	FrameCountSend  int `yaml:"frame_count_send"`
	FrameCountRcv   int `yaml:"frame_count_rcv"`
	FrameCountWin   int `yaml:"frame_count_window"`
	MaxRetransmits  int `yaml:"max_retransmits"`
}

// Config is the full set of knobs this port exposes, loaded from YAML by
// cmd/plasmakernel and cmd/ktop (their flags do not set these fields).
type Config struct {
	Network Network `yaml:"network"`
	Timing  Timing  `yaml:"timing"`
	Pool    Pool    `yaml:"pool"`

	Verbose bool `yaml:"-"`
}

// Default returns the configuration the bare kernel boots with absent a
// a file: 100 kernel ticks per second (a 10 ms period), a modest frame
// pool, and a static (non-DHCP) address — the same figures the original
// wired as macros.
func Default() *Config {
	return &Config{
		Network: Network{
			LocalMACHex: "020000000001",
			LocalIP:     "192.168.1.42",
			Gateway:     "192.168.1.1",
			Netmask:     "255.255.255.0",
			DNS:         "8.8.8.8",
			UseDHCP:     false,
		},
		Timing: Timing{
			TickPeriodMS:    10,
			RetransmitTicks: 2,      // 2s: Stack.Tick runs once per second
			SocketTimeout:   30,     // 30s
			DHCPRetryTicks:  5,      // 5s
			DHCPLeaseTicks:  14_400, // 4h lease refresh
		},
		Pool: Pool{
			FrameCount:     32,
			FrameCountSend: 8,
			FrameCountRcv:  8,
			FrameCountWin:  4,
			MaxRetransmits: 4,
		},
	}
}

// Load reads a YAML file on top of Default(), returning Default() unchanged
// if path is empty.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	return c, nil
}
