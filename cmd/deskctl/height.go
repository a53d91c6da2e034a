package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var heightCmd = &cobra.Command{
	Use:   "height",
	Short: "Print the current desk height",
	Long: `Connect to the desk, read its height in millimetres and disconnect.

Examples:
  deskctl height
  deskctl height --address AA:BB:CC:DD:EE:FF`,
	Args: cobra.NoArgs,
	RunE: runHeight,
}

var heightTimeout time.Duration

func init() {
	heightCmd.Flags().DurationVar(&heightTimeout, "timeout", 30*time.Second, "Overall timeout including scan and connect")
}

func runHeight(cmd *cobra.Command, args []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	out := cmd.OutOrStdout()
	ctx, cancel := interruptContext(context.Background(), out, "disconnecting")
	defer cancel()
	ctx, timeoutCancel := context.WithTimeout(ctx, heightTimeout)
	defer timeoutCancel()

	d, err := openDesk(ctx, cmd, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = d.Disconnect() }()

	h, err := d.ReadPosition(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d mm\n", h)
	return nil
}
