package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/spf13/cobra"
	"github.com/srg/deskctl/internal/motion"
	"github.com/srg/deskctl/pkg/desk"
)

var moveCmd = &cobra.Command{
	Use:   "move <height-mm>",
	Short: "Move the desk to an absolute height",
	Long: `Move the desk to the given height in millimetres and wait until it stops.

Modes:
  reference_input  - send the target to the desk and let it position itself (default)
  up_down          - hold up/down until the target is crossed

Desks without reference input always use up_down. Ctrl+C stops the desk.

Examples:
  deskctl move 1100
  deskctl move 720 --mode up_down`,
	Args: cobra.ExactArgs(1),
	RunE: runMove,
}

var moveMode string

func init() {
	moveCmd.Flags().StringVar(&moveMode, "mode", "", "Motion mode: reference_input or up_down (default: motion.mode from config)")
}

func runMove(cmd *cobra.Command, args []string) error {
	target, err := strconv.Atoi(args[0])
	if err != nil || target <= 0 {
		return fmt.Errorf("invalid height %q: must be a positive number of millimetres", args[0])
	}

	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	if moveMode != "" {
		cfg.Motion.Mode = moveMode
	}
	mode, err := motion.ParseMode(cfg.Motion.Mode)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	ctx, cancel := interruptContext(context.Background(), out, "stopping the desk")
	defer cancel()

	var live atomic.Pointer[ProgressPrinter]
	d, err := openDesk(ctx, cmd, cfg, logger, nil, desk.WithTelemetryHandler(func(heightMm int, _ float64) {
		if p := live.Load(); p != nil {
			p.Callback()(fmt.Sprintf("%d mm", heightMm))
		}
	}))
	if err != nil {
		return err
	}
	defer func() { _ = d.Disconnect() }()

	start := "?"
	if t, ok := d.Telemetry(); ok {
		start = fmt.Sprintf("%d mm", t.HeightMm)
	}
	progress := NewProgressPrinter(out, fmt.Sprintf("Moving to %d mm", target), start)
	live.Store(progress)
	progress.Start()
	err = d.MoveToMode(ctx, target, mode)
	live.Store(nil)
	progress.Stop()

	final := "unknown"
	if t, ok := d.Telemetry(); ok {
		final = fmt.Sprintf("%d mm", t.HeightMm)
	}

	switch {
	case err == nil:
		fmt.Fprintf(out, "Desk at %s\n", final)
		return nil
	case errors.Is(err, desk.ErrCancelled) || errors.Is(err, context.Canceled):
		fmt.Fprintf(out, "Move cancelled, desk stopped at %s\n", final)
		return nil
	default:
		return err
	}
}
