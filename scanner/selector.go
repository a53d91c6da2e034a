package scanner

import (
	"context"
	"fmt"

	"github.com/srg/deskctl/internal/device"
)

// Selector picks the first advertising device that matches its options.
// It implements device.Selector.
type Selector struct {
	scanner *Scanner
	opts    ScanOptions
}

// NewSelector creates a selector scanning with opts.
func NewSelector(s *Scanner, opts ScanOptions) *Selector {
	return &Selector{scanner: s, opts: opts}
}

// Select scans until a matching device appears. It fails with device.ErrNoDevice when
// the scan window closes without a match.
func (sel *Selector) Select(ctx context.Context) (device.DeviceInfo, error) {
	var selected device.DeviceInfo
	err := sel.scanner.run(ctx, &sel.opts, func(info device.DeviceInfo) bool {
		if selected == nil {
			selected = info
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if selected == nil {
		return nil, fmt.Errorf("%w: no desk advertised within %v", device.ErrNoDevice, sel.opts.Duration)
	}

	sel.scanner.logger.WithField("address", selected.Address()).Debug("Device selected")
	return selected, nil
}
