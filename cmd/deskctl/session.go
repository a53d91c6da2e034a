package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/deskctl/internal/groutine"
	"github.com/srg/deskctl/pkg/config"
	"github.com/srg/deskctl/pkg/desk"
)

// deskFactory builds the desk controller for a command. Tests replace it to run
// commands against a simulated desk.
var deskFactory = func(cfg *config.Config, opts ...desk.Option) (*desk.Desk, error) {
	return desk.New(cfg, opts...)
}

// interruptContext returns a context cancelled by Ctrl+C or SIGTERM.
func interruptContext(parent context.Context, out io.Writer, what string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	groutine.Go(ctx, "deskctl-interrupt", func(ctx context.Context) {
		defer signal.Stop(sigCh)
		select {
		case <-sigCh:
			fmt.Fprintf(out, "\nCtrl+C pressed, %s...\n", what)
			cancel()
		case <-ctx.Done():
		}
	})
	return ctx, cancel
}

// openDesk connects to the configured desk while showing connection progress.
// onState, when set, sees every state change after the progress line has.
func openDesk(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *logrus.Logger, onState func(desk.State, error), extra ...desk.Option) (*desk.Desk, error) {
	out := cmd.OutOrStdout()
	progress := NewProgressPrinter(out, "Connecting to desk", "Scanning", desk.StateConnected.String())
	phase := progress.Callback()

	opts := []desk.Option{
		desk.WithLogger(logger),
		desk.WithStateHandler(func(s desk.State, err error) {
			switch {
			case s == desk.StateConnecting && err != nil:
				phase("Retrying")
			case s == desk.StateConnecting:
				phase("Scanning")
			default:
				phase(s.String())
			}
			if onState != nil {
				onState(s, err)
			}
		}),
	}
	opts = append(opts, extra...)

	d, err := deskFactory(cfg, opts...)
	if err != nil {
		return nil, err
	}

	progress.Start()
	err = d.Connect(ctx)
	progress.Stop()
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"name":    d.Name(),
		"address": d.Address(),
	}).Debug("Desk session opened")
	return d, nil
}
