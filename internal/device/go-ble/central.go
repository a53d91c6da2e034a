// Package goble adapts github.com/go-ble/ble to the device interfaces used by the
// desk controller: advertisement scanning, dialing and GATT characteristic access.
package goble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/device"
)

// DefaultConnectTimeout bounds a single dial including profile discovery.
const DefaultConnectTimeout = 10 * time.Second

// Central owns the host adapter and implements device.ScanningDevice and device.Dialer.
type Central struct {
	dev     ble.Device
	scanner *bleScanner
	logger  *logrus.Logger

	ConnectTimeout time.Duration
}

// NewCentral opens the host Bluetooth adapter.
func NewCentral(logger *logrus.Logger) (*Central, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dev, err := DeviceFactory()
	if err != nil {
		logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return &Central{
		dev:            dev,
		scanner:        &bleScanner{dev: dev},
		logger:         logger,
		ConnectTimeout: DefaultConnectTimeout,
	}, nil
}

// Scan implements device.ScanningDevice.
func (c *Central) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	return c.scanner.Scan(ctx, allowDup, handler)
}

// Dial connects to address and discovers its GATT profile.
func (c *Central) Dial(ctx context.Context, address string) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	connCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	defer cancel()

	c.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": c.ConnectTimeout,
	}).Debug("Dialing BLE device...")

	client, err := c.dev.Dial(connCtx, ble.NewAddr(address))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	link := newLink(client, address, client.Name(), profile, c.logger)
	c.logger.WithFields(logrus.Fields{
		"address":  address,
		"name":     link.Name(),
		"services": len(profile.Services),
	}).Info("BLE device connected")
	return link, nil
}
