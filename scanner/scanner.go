package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

type DeviceEvent struct {
	Type       DeviceEventType
	DeviceInfo device.DeviceInfo
}

// ScanOptions configures scanning behavior.
//
// NamePrefix and ServiceUUIDs are alternatives: an advertisement matches when its name
// has the prefix or it advertises any of the services. AllowList and BlockList are
// applied on top by address.
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	NamePrefix      string
	ServiceUUIDs    []string
	AllowList       []string
	BlockList       []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// discovered is a device seen during a scan. It is updated by later advertisements.
type discovered struct {
	mu       sync.RWMutex
	address  string
	name     string
	rssi     int
	services []string
}

func newDiscovered(adv device.Advertisement) *discovered {
	d := &discovered{address: adv.Addr()}
	d.update(adv)
	return d
}

func (d *discovered) update(adv device.Advertisement) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name := adv.LocalName(); name != "" {
		d.name = name
	}
	d.rssi = adv.RSSI()
	if services := adv.Services(); len(services) > 0 {
		d.services = device.NormalizeUUIDs(services)
	}
}

func (d *discovered) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *discovered) Address() string { return d.address }

func (d *discovered) RSSI() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.rssi
}

func (d *discovered) AdvertisedServices() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.services...)
}

// Scanner handles BLE device discovery
type Scanner struct {
	dev    device.ScanningDevice
	logger *logrus.Logger
	events chan DeviceEvent

	mu      sync.Mutex
	devices *hashmap.Map[string, *discovered]
	order   *orderedmap.OrderedMap[string, *discovered]
}

// NewScanner creates a new BLE scanner on top of dev.
func NewScanner(dev device.ScanningDevice, logger *logrus.Logger) (*Scanner, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: scanning device is required", device.ErrNoDevice)
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		dev:    dev,
		logger: logger,
		events: make(chan DeviceEvent, 100),
	}, nil
}

// Scan performs BLE discovery with provided options and returns the matching devices
// in discovery order.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]device.DeviceInfo, error) {
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	progressCallback("Scanning")
	if err := s.run(ctx, opts, nil); err != nil {
		return nil, err
	}
	progressCallback("Processing results")

	return s.results(), nil
}

// run scans until ctx ends, the duration elapses or stop reports true for a new device.
func (s *Scanner) run(ctx context.Context, opts *ScanOptions, stop func(device.DeviceInfo) bool) error {
	if opts == nil {
		opts = DefaultScanOptions()
	}

	s.mu.Lock()
	s.devices = hashmap.New[string, *discovered]()
	s.order = orderedmap.New[string, *discovered]()
	s.mu.Unlock()

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Duration > 0 {
		scanCtx, cancel = context.WithTimeout(scanCtx, opts.Duration)
		defer cancel()
	}

	s.logger.WithFields(logrus.Fields{
		"duration":    opts.Duration,
		"name_prefix": opts.NamePrefix,
		"services":    len(opts.ServiceUUIDs),
	}).Info("Starting BLE scan...")

	filter := newFilter(opts)
	err := s.dev.Scan(scanCtx, !opts.DuplicateFilter, func(adv device.Advertisement) {
		info, isNew := s.handleAdvertisement(adv, filter)
		if isNew && stop != nil && stop(info) {
			cancel()
		}
	})

	// Cancellation of the caller's context is reported; our own timeout or stop is not.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	return nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv device.Advertisement, f filter) (device.DeviceInfo, bool) {
	s.mu.Lock()
	devices, order := s.devices, s.order
	s.mu.Unlock()

	deviceID := adv.Addr()
	dev, existing := devices.Get(deviceID)
	if !existing {
		if !f.matches(adv) {
			return nil, false
		}
		dev, existing = devices.GetOrInsert(deviceID, newDiscovered(adv))
	}

	event := DeviceEvent{DeviceInfo: dev}
	if existing {
		dev.update(adv)
		event.Type = EventUpdated
	} else {
		s.mu.Lock()
		order.Set(deviceID, dev)
		s.mu.Unlock()

		s.logger.WithFields(logrus.Fields{
			"device":  dev.Name(),
			"address": dev.Address(),
			"rssi":    dev.RSSI(),
		}).Info("Discovered new device")
		event.Type = EventNew
	}

	select {
	case s.events <- event:
	default:
		s.logger.WithField("address", deviceID).Debug("Scan event dropped, no reader")
	}
	return dev, !existing
}

// results returns a snapshot of discovered devices in discovery order.
func (s *Scanner) results() []device.DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	devs := make([]device.DeviceInfo, 0, s.order.Len())
	for pair := s.order.Oldest(); pair != nil; pair = pair.Next() {
		devs = append(devs, pair.Value)
	}
	return devs
}

// Events return a read-only channel of device events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events
}

// filter is the compiled form of ScanOptions.
type filter struct {
	namePrefix string
	services   map[string]struct{}
	allow      map[string]struct{}
	block      map[string]struct{}
}

func newFilter(opts *ScanOptions) filter {
	f := filter{
		namePrefix: strings.ToLower(opts.NamePrefix),
		services:   toSet(device.NormalizeUUIDs(opts.ServiceUUIDs)),
		allow:      toSet(upperAll(opts.AllowList)),
		block:      toSet(upperAll(opts.BlockList)),
	}
	return f
}

// matches applies allow/block/name/service filters
func (f filter) matches(adv device.Advertisement) bool {
	addr := strings.ToUpper(adv.Addr())

	if _, blocked := f.block[addr]; blocked {
		return false
	}
	if len(f.allow) > 0 {
		if _, allowed := f.allow[addr]; !allowed {
			return false
		}
	}

	if f.namePrefix == "" && len(f.services) == 0 {
		return true
	}
	if f.namePrefix != "" && strings.HasPrefix(strings.ToLower(adv.LocalName()), f.namePrefix) {
		return true
	}
	for _, svc := range adv.Services() {
		if _, ok := f.services[device.NormalizeUUID(svc)]; ok {
			return true
		}
	}
	return false
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func upperAll(values []string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToUpper(strings.TrimSpace(v))
	}
	return out
}
