// Command ktop is a terminal dashboard over a plasmakernel instance's
// introspection snapshot: thread table, socket table, and frame-pool
// gauge, refreshed live. It boots a kernel, MAC transmitter, netstack and
// simhw device, always in loopback mode, and renders whatever
// internal/introspect.Publisher captures from them. Unlike
// cmd/plasmakernel it runs no MAC receive engine or RX drain and never
// calls the netstack's once-per-second Tick.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	cfgpkg "github.com/cezamee/plasmakernel/internal/config"
	"github.com/cezamee/plasmakernel/internal/introspect"
	"github.com/cezamee/plasmakernel/internal/kernel"
	"github.com/cezamee/plasmakernel/internal/mac"
	"github.com/cezamee/plasmakernel/internal/netstack"
	"github.com/cezamee/plasmakernel/internal/simhw"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4FC1FF"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#569CD6"))

	rowStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#DCDCAA"))

	gaugeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CE9178"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#808080"))
)

type tickMsg time.Time

type model struct {
	pub    *introspect.Publisher
	width  int
	height int
}

func (m model) Init() tea.Cmd {
	return tickCmd()
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tickCmd()
	}
	return m, nil
}

func (m model) View() string {
	var s strings.Builder
	snap := m.pub.Load()

	s.WriteString(titleStyle.Render("plasmakernel — ktop") + "\n\n")

	s.WriteString(headerStyle.Render(fmt.Sprintf("threads (%d)", len(snap.Threads))) + "\n")
	for _, t := range snap.Threads {
		s.WriteString(rowStyle.Render(fmt.Sprintf("  %-16s prio=%-4d state=%-8s cpu=%-2d lock=%d",
			t.Name, t.Priority, t.State, t.CPU, t.CPULock)) + "\n")
	}

	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("sockets (%d)", len(snap.Sockets))) + "\n")
	for _, sock := range snap.Sockets {
		s.WriteString(rowStyle.Render(fmt.Sprintf("  state=%-10v local=%-6d remote=%s:%d",
			sock.State, sock.LocalPort, sock.RemoteIP, sock.RemotePort)) + "\n")
	}

	s.WriteString("\n")
	s.WriteString(gaugeStyle.Render(fmt.Sprintf("frame pool: %d/%d free", snap.Pool.Free, snap.Pool.Total)) + "\n")

	s.WriteString("\n" + helpStyle.Render("q or ctrl+c to quit"))
	return s.String()
}

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML configuration file (defaults baked in if omitted)")
	cpus := pflag.IntP("cpus", "n", 1, "number of simulated CPUs the inspected kernel runs across")
	help := pflag.BoolP("help", "h", false, "display help text")
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ktop: loading config: %v\n", err)
		os.Exit(1)
	}

	if _, _, err := term.GetSize(int(os.Stdin.Fd())); err != nil {
		fmt.Fprintf(os.Stderr, "ktop: not attached to a terminal: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	k := kernel.New(*cpus)
	ring := mac.NewRing()
	tx := &mac.Transmitter{}
	frames := make(chan []byte, 16)
	device := simhw.NewDevice(ring, func(wire []byte) {
		select {
		case frames <- wire:
		default:
		}
	})
	device.Init()

	stack := netstack.New(k, cfg, func(frame []byte) { tx.Transmit(frame, device.Send) })
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

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(time.Duration(cfg.Timing.TickPeriodMS) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				k.RunISR(func() { k.Tick() })
			}
		}
	})
	g.Go(func() error { device.RunProducer(frames, gctx.Done()); return nil })
	g.Go(func() error {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				pub.Publish(k, stack)
			}
		}
	})

	stack.Start()
	k.Start()

	p := tea.NewProgram(model{pub: pub}, tea.WithAltScreen())
	go func() {
		<-gctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ktop: %v\n", err)
		os.Exit(1)
	}
	stop()
	_ = g.Wait()
}
