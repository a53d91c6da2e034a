package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/deskctl/internal/device"
	goble "github.com/srg/deskctl/internal/device/go-ble"
	"github.com/srg/deskctl/pkg/desk"
	"github.com/srg/deskctl/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find desks advertising nearby",
	Long: `Scan for desks and list their names, addresses and signal strength.

By default only devices matching the configured name prefix or advertising the
desk control service are listed. Use --all to list every BLE device.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAll      bool
)

// scannerFactory opens the BLE scanner. Tests replace it with a static scanner.
var scannerFactory = func(logger *logrus.Logger) (*scanner.Scanner, error) {
	central, err := goble.NewCentral(logger)
	if err != nil {
		return nil, err
	}
	return scanner.NewScanner(central, logger)
}

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default: scan_timeout from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "List every BLE device, not only desks")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := desk.SelectionOptions(cfg)
	if scanDuration > 0 {
		opts.Duration = scanDuration
	}
	if scanAll {
		opts.NamePrefix = ""
		opts.ServiceUUIDs = nil
	}

	s, err := scannerFactory(logger)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}

	out := cmd.OutOrStdout()
	ctx, cancel := interruptContext(context.Background(), out, "cancelling scan")
	defer cancel()

	progress := NewCountdownProgressPrinter(out, "Scanning for desks", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	devices, err := s.Scan(ctx, &opts, progress.Callback())
	progress.Stop()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("scan failed")
		return err
	}

	if scanFormat == "json" {
		return displayDevicesJSON(out, devices)
	}
	return displayDevicesTable(out, devices)
}

func displayDevicesTable(out io.Writer, devices []device.DeviceInfo) error {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No desks discovered")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES")
	fmt.Fprintln(w, strings.Repeat("-", 72))

	for _, dev := range devices {
		name := dev.Name()
		if name == "" {
			name = "(unnamed)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(dev.AdvertisedServices(), ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, dev.Address(), dev.RSSI(), services)
	}
	return w.Flush()
}

type deviceJSON struct {
	Name     string   `json:"name"`
	Address  string   `json:"address"`
	RSSI     int      `json:"rssi"`
	Services []string `json:"services,omitempty"`
}

func displayDevicesJSON(out io.Writer, devices []device.DeviceInfo) error {
	list := make([]deviceJSON, len(devices))
	for i, dev := range devices {
		list[i] = deviceJSON{
			Name:     dev.Name(),
			Address:  dev.Address(),
			RSSI:     dev.RSSI(),
			Services: dev.AdvertisedServices(),
		}
	}
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(list)
}
