package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deskctl",
	Short: "Motorized desk controller",
	Long: `Control a Bluetooth Low Energy standing desk from the command line:

- Find desks advertising nearby
- Read the current height
- Move to an absolute height, using the desk's own positioning when available
- Stop a running move
- Follow height and speed telemetry live

Settings are read from the per-user config file; see --config.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		_, _ = color.New(color.FgRed, color.Bold).Fprint(os.Stderr, "ERROR: ")
		fmt.Fprintln(os.Stderr, FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("deskctl {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(heightCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(monitorCmd)

	// Global flags
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default: per-user deskctl/config.yaml)")
	rootCmd.PersistentFlags().String("address", "", "Connect to the desk with this address instead of scanning by name")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
