package goble

import (
	"context"

	ble "github.com/go-ble/ble"
	"github.com/srg/deskctl/internal/device"
)

// bleScanner wraps ble.Device to implement a device.ScanningDevice interface
type bleScanner struct {
	dev ble.Device
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (s *bleScanner) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := s.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	if err != nil && ctx.Err() == nil {
		return NormalizeError(err)
	}
	return ctx.Err()
}
