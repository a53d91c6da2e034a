package desk

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/connection"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/motion"
)

// Option configures a Desk.
type Option func(*Desk)

// WithStateHandler receives every connection state change. err carries the failure
// message for StateError and for retries while connecting.
func WithStateHandler(h func(State, error)) Option {
	return func(d *Desk) { d.onState = h }
}

// WithTelemetryHandler receives every decoded position sample in delivery order.
func WithTelemetryHandler(h func(heightMm int, speedMmPerSec float64)) Option {
	return func(d *Desk) { d.onTelemetry = h }
}

// WithLogger replaces the logger built from the config.
func WithLogger(logger *logrus.Logger) Option {
	return func(d *Desk) { d.logger = logger }
}

// WithDiagnosticHook attaches a logrus hook that sees every log entry of the desk.
func WithDiagnosticHook(hook logrus.Hook) Option {
	return func(d *Desk) { d.hooks = append(d.hooks, hook) }
}

// WithSelector replaces the BLE scan used to pick the desk.
func WithSelector(s device.Selector) Option {
	return func(d *Desk) { d.selector = s }
}

// WithDialer replaces the BLE transport.
func WithDialer(dialer device.Dialer) Option {
	return func(d *Desk) { d.dialer = dialer }
}

// WithConnectionOptions overrides the connection timing.
func WithConnectionOptions(opts connection.Options) Option {
	return func(d *Desk) { d.connOpts = opts }
}

// WithMotionParams overrides the motion timing and limits, including the iteration
// caps taken from the config.
func WithMotionParams(p motion.Params) Option {
	return func(d *Desk) { d.motionParams = p }
}
