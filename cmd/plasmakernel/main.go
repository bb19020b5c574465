// Command plasmakernel is the host binary: it wires internal/kernel,
// internal/mac, internal/netstack, and internal/simhw together and drives
// the simulated timer-tick and Ethernet-RX interrupts that make the rest
// of the system run, the same role the original's board-support package
// and its two hardware ISRs play on real silicon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/cezamee/plasmakernel/internal/config"
	"github.com/cezamee/plasmakernel/internal/introspect"
	"github.com/cezamee/plasmakernel/internal/kernel"
	"github.com/cezamee/plasmakernel/internal/mac"
	"github.com/cezamee/plasmakernel/internal/netstack"
	"github.com/cezamee/plasmakernel/internal/simhw"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML configuration file (defaults baked in if omitted)")
	verbose := pflag.BoolP("verbose", "v", false, "enable debug logging on every subsystem")
	cpus := pflag.IntP("cpus", "n", 1, "number of simulated CPUs the scheduler runs across")
	loopback := pflag.BoolP("loopback", "l", true, "loop transmitted frames back into the receive ring; disable once a real MemIO backend exists")
	help := pflag.BoolP("help", "h", false, "display help text")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "plasmakernel - a small preemptive kernel with a simulated Ethernet/IPv4 stack.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: plasmakernel [options]\n\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "plasmakernel: loading config: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		for _, l := range []*charmlog.Logger{kernel.Log, mac.Log, netstack.Log, simhw.Log} {
			l.SetLevel(charmlog.DebugLevel)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k := kernel.New(*cpus)
	ring := mac.NewRing()
	engine := mac.NewEngine(ring, decodeMAC(cfg.Network.LocalMACHex))
	tx := &mac.Transmitter{}

	frames := make(chan []byte, 16)
	device := simhw.NewDevice(ring, func(wire []byte) {
		if !*loopback {
			return
		}
		select {
		case frames <- wire:
		default:
			simhw.Log.Warn("loopback ring full, dropping transmitted frame")
		}
	})
	device.Init()

	stack := netstack.New(k, cfg, func(frame []byte) {
		tx.Transmit(frame, device.Send)
	})

	pub := introspect.NewPublisher()

	for i := 0; i < k.CPUCount(); i++ {
		cpuIndex := i
		k.NewThread(fmt.Sprintf("idle/cpu%d", cpuIndex), 1, cpuIndex, func(t *kernel.Thread) {
			for {
				if err := t.Sleep(int64(cfg.Timing.TickPeriodMS)); err != nil {
					return
				}
			}
		}, nil)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return runTimerISR(ctx, k, stack, cfg) })
	g.Go(func() error { return runRXISR(ctx, k, stack, engine, device) })
	g.Go(func() error { device.RunProducer(frames, ctx.Done()); return nil })
	g.Go(func() error { return runIntrospection(ctx, pub, k, stack) })

	stack.Start()
	k.Start()

	kernel.Log.Info("plasmakernel started", "cpus", k.CPUCount(), "local_ip", cfg.Network.LocalIP, "loopback", *loopback)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "plasmakernel: %v\n", err)
		os.Exit(1)
	}
}

// runTimerISR fires once per configured tick period, the simulated
// equivalent of the original's periodic timer interrupt: it advances the
// kernel's notion of time every period and the netstack's one-per-second
// bookkeeping (DHCP retry, resend, idle-socket timeout) once enough
// periods have elapsed to make up a second.
func runTimerISR(ctx context.Context, k *kernel.Kernel, stack *netstack.Stack, cfg *cfgpkg.Config) error {
	period := time.Duration(cfg.Timing.TickPeriodMS) * time.Millisecond
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	ticksPerSecond := int(time.Second / period)
	if ticksPerSecond < 1 {
		ticksPerSecond = 1
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	elapsed := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			k.RunISR(func() {
				k.Tick()
				elapsed++
				if elapsed >= ticksPerSecond {
					elapsed = 0
					stack.Tick()
				}
			})
		}
	}
}

// runRXISR waits on the simulated device's interrupt line and, on each
// wake, drains every complete frame currently in the ring through the MAC
// engine and into the stack's dispatcher — the simulated equivalent of
// the original's EthernetThread pending on SemEthReceive.
func runRXISR(ctx context.Context, k *kernel.Kernel, stack *netstack.Stack, engine *mac.Engine, device *simhw.Device) error {
	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-device.Notify():
			k.RunISR(func() {
				for {
					n := engine.Receive(buf, true)
					if n == 0 {
						break
					}
					stack.Deliver(buf[:n])
				}
			})
			device.Write32(simhw.RegIntStatus, simhw.IntRXPending)
		}
	}
}

// runIntrospection periodically publishes a fresh snapshot for cmd/ktop
// (or any other reader) to load, independent of how fast the timer and RX
// ISRs are firing.
func runIntrospection(ctx context.Context, pub *introspect.Publisher, k *kernel.Kernel, stack *netstack.Stack) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pub.Publish(k, stack)
		}
	}
}

// decodeMAC parses a 12 hex-digit MAC address, the same format
// internal/config stores LocalMACHex in. Malformed input decodes to the
// zero address rather than panicking, matching internal/netstack's own
// permissive hex parsing.
func decodeMAC(hex string) [6]byte {
	var m [6]byte
	if len(hex) != 12 {
		return m
	}
	for i := 0; i < 6; i++ {
		hi := hexNibble(hex[i*2])
		lo := hexNibble(hex[i*2+1])
		m[i] = hi<<4 | lo
	}
	return m
}

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
