package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Send a stop command to the desk",
	Args:  cobra.NoArgs,
	RunE:  runStop,
}

var stopTimeout time.Duration

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second, "Overall timeout including scan and connect")
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	d, err := openDesk(ctx, cmd, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = d.Disconnect() }()

	if err := d.Stop(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Desk stopped")
	return nil
}
