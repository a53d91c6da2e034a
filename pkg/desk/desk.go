// Package desk is the public entry point for controlling a motorized desk over BLE.
//
// A Desk owns one connection at a time. Connection state and telemetry are published
// through the handlers passed to New:
//
//	d, err := desk.New(cfg,
//	    desk.WithStateHandler(func(s desk.State, err error) { ... }),
//	    desk.WithTelemetryHandler(func(heightMm int, speed float64) { ... }),
//	)
//	if err != nil { ... }
//	if err := d.Connect(ctx); err != nil { ... }
//	defer d.Disconnect()
//	err = d.MoveTo(ctx, 1050)
package desk

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/connection"
	"github.com/srg/deskctl/internal/device"
	goble "github.com/srg/deskctl/internal/device/go-ble"
	"github.com/srg/deskctl/internal/motion"
	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/pkg/config"
	"github.com/srg/deskctl/scanner"
)

// State is the connection state published to the state handler.
type State = connection.State

const (
	StateDisconnected = connection.StateDisconnected
	StateConnecting   = connection.StateConnecting
	StateConnected    = connection.StateConnected
	StateError        = connection.StateError
)

// Mode selects the motion algorithm.
type Mode = motion.Mode

const (
	ModeReferenceInput = motion.ModeReferenceInput
	ModeUpDown         = motion.ModeUpDown
)

// Errors returned by Desk operations.
var (
	ErrNotConnected          = device.ErrNotConnected
	ErrDeviceSelectionFailed = connection.ErrDeviceSelectionFailed
	ErrCancelled             = motion.ErrCancelled
	ErrIncomplete            = motion.ErrIncomplete
)

// Telemetry is a decoded position sample.
type Telemetry struct {
	HeightMm      int
	SpeedMmPerSec float64
}

// Desk controls a single desk.
type Desk struct {
	cfg    *config.Config
	logger *logrus.Logger
	codec  protocol.Codec
	mode   Mode

	selector     device.Selector
	dialer       device.Dialer
	connOpts     connection.Options
	motionParams motion.Params

	onState     func(State, error)
	onTelemetry func(heightMm int, speedMmPerSec float64)
	hooks       []logrus.Hook

	conn   *connection.Manager
	motion *motion.Controller
}

// New creates a desk controller. Without WithSelector or WithDialer the host Bluetooth
// adapter is opened.
func New(cfg *config.Config, opts ...Option) (*Desk, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mode, err := motion.ParseMode(cfg.Motion.Mode)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	d := &Desk{
		cfg:          cfg,
		codec:        protocol.Codec{BaseHeightMm: cfg.BaseHeightMm},
		mode:         mode,
		connOpts:     connection.DefaultOptions(),
		motionParams: motion.DefaultParams(),
	}
	d.motionParams.ReferenceMaxIterations = cfg.Motion.ReferenceMaxIterations
	d.motionParams.UpDownMaxIterations = cfg.Motion.UpDownMaxIterations

	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = cfg.NewLogger()
	}
	for _, hook := range d.hooks {
		d.logger.AddHook(hook)
	}

	if d.selector == nil || d.dialer == nil {
		central, err := goble.NewCentral(d.logger)
		if err != nil {
			return nil, err
		}
		central.ConnectTimeout = cfg.ConnectTimeout
		if d.dialer == nil {
			d.dialer = central
		}
		if d.selector == nil {
			sc, err := scanner.NewScanner(central, d.logger)
			if err != nil {
				return nil, err
			}
			d.selector = scanner.NewSelector(sc, SelectionOptions(cfg))
		}
	}

	d.conn = connection.NewManager(d.selector, d.dialer, d.connOpts, d.logger)
	d.motion = motion.NewController(d.conn, d.motionParams, d.logger)
	d.motion.SetCodec(d.codec)

	d.conn.SetPositionHandler(d.handlePosition)
	d.conn.SetStateHandler(d.handleState)
	return d, nil
}

// SelectionOptions returns the scan filter for cfg: the configured address when set,
// otherwise the name prefix or the desk control service.
func SelectionOptions(cfg *config.Config) scanner.ScanOptions {
	opts := scanner.ScanOptions{
		Duration:        cfg.ScanTimeout,
		DuplicateFilter: true,
	}
	if cfg.Address != "" {
		opts.AllowList = []string{cfg.Address}
		return opts
	}
	opts.NamePrefix = cfg.NamePrefix
	opts.ServiceUUIDs = []string{protocol.ControlServiceUUID}
	return opts
}

// handlePosition decodes a position payload, feeds the motion cache and republishes it.
func (d *Desk) handlePosition(data []byte) {
	t, err := d.codec.DecodePosition(data)
	if err != nil {
		d.logger.WithField("error", err).Warn("Dropping malformed position payload")
		return
	}
	if !d.codec.Plausible(t) {
		d.logger.WithFields(logrus.Fields{
			"height_mm": t.HeightMm,
			"payload":   fmt.Sprintf("% x", data),
		}).Warn("Desk height outside travel range")
	}

	d.motion.Observe(t)
	if d.onTelemetry != nil {
		d.onTelemetry(t.HeightMm, t.SpeedMmPerSec())
	}
}

func (d *Desk) handleState(s State, err error) {
	if s == StateDisconnected || s == StateError {
		d.motion.Reset()
	}
	if d.onState != nil {
		d.onState(s, err)
	}
}

// Connect selects a desk and connects to it, retrying failed attempts.
func (d *Desk) Connect(ctx context.Context) error {
	return d.conn.Connect(ctx)
}

// Disconnect closes the link. In-flight moves end with ErrNotConnected.
func (d *Desk) Disconnect() error {
	return d.conn.Disconnect()
}

// MoveTo moves to heightMm with the configured mode.
func (d *Desk) MoveTo(ctx context.Context, heightMm int) error {
	return d.MoveToMode(ctx, heightMm, d.mode)
}

// MoveToMode moves to heightMm with an explicit mode. Reference input falls back to
// up/down on desks without the reference input service.
func (d *Desk) MoveToMode(ctx context.Context, heightMm int, mode Mode) error {
	return d.motion.MoveTo(ctx, heightMm, mode)
}

// Stop cancels any move and sends a stop command.
func (d *Desk) Stop(ctx context.Context) error {
	return d.motion.Stop(ctx)
}

// ReadPosition reads the current height from the desk.
func (d *Desk) ReadPosition(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	char, ok := d.conn.Characteristic(protocol.RolePosition)
	if !ok {
		return 0, ErrNotConnected
	}

	data, err := char.Read(d.motionParams.ReadTimeout)
	if err != nil {
		return 0, fmt.Errorf("read position: %w", err)
	}
	t, err := d.codec.DecodePosition(data)
	if err != nil {
		return 0, err
	}
	d.motion.Observe(t)
	return t.HeightMm, nil
}

// Telemetry returns the latest observed sample.
func (d *Desk) Telemetry() (Telemetry, bool) {
	t, ok := d.motion.Telemetry()
	return Telemetry{HeightMm: t.HeightMm, SpeedMmPerSec: t.SpeedMmPerSec()}, ok
}

// State returns the current connection state.
func (d *Desk) State() State {
	return d.conn.State()
}

// Moving reports whether a move is in flight.
func (d *Desk) Moving() bool {
	return d.motion.Moving()
}

// ReferenceInput reports whether the connected desk accepts absolute targets.
func (d *Desk) ReferenceInput() bool {
	return d.conn.Capabilities().ReferenceInput
}

// Name returns the connected desk's name.
func (d *Desk) Name() string {
	return d.conn.Name()
}

// Address returns the connected desk's address.
func (d *Desk) Address() string {
	return d.conn.Address()
}

// Logger returns the logger used by the desk.
func (d *Desk) Logger() *logrus.Logger {
	return d.logger
}
