package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/deskctl/pkg/desk"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print height and speed telemetry as it arrives",
	Long: `Connect to the desk and print every position notification until Ctrl+C,
the --duration elapses or the desk disconnects.

Rising samples are printed in green, falling ones in yellow.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

var monitorDuration time.Duration

func init() {
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop after this long (0 for indefinite)")
}

// telemetryPrinter renders samples as lines. Calls arrive on the notification goroutine.
type telemetryPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	rising  *color.Color
	falling *color.Color
	now     func() time.Time
}

func newTelemetryPrinter(out io.Writer) *telemetryPrinter {
	return &telemetryPrinter{
		out:     out,
		rising:  color.New(color.FgGreen),
		falling: color.New(color.FgYellow),
		now:     time.Now,
	}
}

func (p *telemetryPrinter) sample(heightMm int, speedMmPerSec float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	line := fmt.Sprintf("%s  %4d mm  %+6.1f mm/s", p.now().Format("15:04:05.000"), heightMm, speedMmPerSec)
	switch {
	case speedMmPerSec > 0:
		_, _ = p.rising.Fprintln(p.out, line)
	case speedMmPerSec < 0:
		_, _ = p.falling.Fprintln(p.out, line)
	default:
		fmt.Fprintln(p.out, line)
	}
}

func (p *telemetryPrinter) state(s desk.State, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		fmt.Fprintf(p.out, "-- %s: %v\n", s, err)
		return
	}
	fmt.Fprintf(p.out, "-- %s\n", s)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	ctx, cancel := interruptContext(context.Background(), out, "disconnecting")
	defer cancel()

	printer := newTelemetryPrinter(out)
	lost := make(chan error, 1)
	var connected atomic.Bool

	onState := func(s desk.State, err error) {
		if !connected.Load() {
			return
		}
		printer.state(s, err)
		if s == desk.StateDisconnected || s == desk.StateError {
			select {
			case lost <- desk.ErrNotConnected:
			default:
			}
		}
	}

	d, err := openDesk(ctx, cmd, cfg, logger, onState, desk.WithTelemetryHandler(printer.sample))
	if err != nil {
		return err
	}
	defer func() { _ = d.Disconnect() }()
	connected.Store(true)
	if d.State() != desk.StateConnected {
		return desk.ErrNotConnected
	}

	fmt.Fprintf(out, "Monitoring %s (%s), Ctrl+C to exit\n", d.Name(), d.Address())

	var timeout <-chan time.Time
	if monitorDuration > 0 {
		timer := time.NewTimer(monitorDuration)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return nil
	case <-timeout:
		return nil
	case err := <-lost:
		return err
	}
}
