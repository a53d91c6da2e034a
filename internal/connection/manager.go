// Package connection owns the desk link lifecycle: device selection, GATT connect
// with retry, characteristic binding, the activation handshake, position
// notifications and disconnect detection.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/activation"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/groutine"
	"github.com/srg/deskctl/internal/protocol"
)

// State is the externally observable connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// StateHandler receives state transitions in order. err is set for StateError and for
// transient StateConnecting updates after a failed attempt. Handlers must not call
// back into the Manager synchronously.
type StateHandler func(state State, err error)

// ErrDeviceSelectionFailed is returned when no desk could be selected. It is not retried.
var ErrDeviceSelectionFailed = errors.New("device selection failed")

// ConnectError is returned after every connection attempt failed.
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connection failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Capabilities lists the optional desk services found during discovery.
type Capabilities struct {
	ReferenceInput bool
	Activation     bool
}

// Options tunes the connection procedure.
type Options struct {
	Attempts         int
	SettleDelay      time.Duration // wait after dial before using the link
	RetryDelay       time.Duration // wait between failed attempts
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration // activation response wait before falling back to a read
}

// DefaultOptions returns the connection timing the desk firmware expects.
func DefaultOptions() Options {
	return Options{
		Attempts:         3,
		SettleDelay:      500 * time.Millisecond,
		RetryDelay:       1000 * time.Millisecond,
		ReadTimeout:      2 * time.Second,
		HandshakeTimeout: activation.DefaultResponseTimeout,
	}
}

// Manager owns at most one desk link at a time.
type Manager struct {
	selector device.Selector
	dialer   device.Dialer
	opts     Options
	logger   *logrus.Logger

	connectMu sync.Mutex // serializes Connect
	emitMu    sync.Mutex // orders state emissions

	mu            sync.RWMutex
	state         State
	link          device.Link
	bound         map[protocol.Role]device.Characteristic
	caps          Capabilities
	gen           uint64
	monitorStop   chan struct{}
	cancelConnect context.CancelFunc
	onState       StateHandler
	onPosition    func([]byte)
}

// NewManager creates a manager. A zero Attempts in opts falls back to DefaultOptions.
func NewManager(selector device.Selector, dialer device.Dialer, opts Options, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Attempts <= 0 {
		opts = DefaultOptions()
	}
	return &Manager{
		selector: selector,
		dialer:   dialer,
		opts:     opts,
		logger:   logger,
		state:    StateDisconnected,
	}
}

// SetStateHandler registers the state observer.
func (m *Manager) SetStateHandler(h StateHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = h
}

// SetPositionHandler registers the receiver of raw position payloads, both notified
// and read. Payloads are delivered in order on the transport's notification goroutine.
func (m *Manager) SetPositionHandler(h func([]byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPosition = h
}

// Connect selects a desk and establishes a link, retrying failed attempts.
func (m *Manager) Connect(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return device.ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancelConnect = cancel
	m.mu.Unlock()

	defer func() {
		cancel()
		m.mu.Lock()
		m.cancelConnect = nil
		m.mu.Unlock()
	}()

	m.setState(StateConnecting, nil)

	info, err := m.selector.Select(ctx)
	if err != nil {
		m.logger.WithField("error", err).Warn("No desk selected")
		m.setState(StateDisconnected, nil)
		return fmt.Errorf("%w: %w", ErrDeviceSelectionFailed, err)
	}

	m.logger.WithFields(logrus.Fields{
		"name":    info.Name(),
		"address": info.Address(),
		"rssi":    info.RSSI(),
	}).Info("Desk selected")

	var lastErr error
	for attempt := 1; attempt <= m.opts.Attempts; attempt++ {
		var gen uint64
		gen, lastErr = m.attempt(ctx, info.Address())
		if lastErr == nil {
			lastErr = m.promote(gen)
		}
		if lastErr == nil {
			m.logger.WithFields(logrus.Fields{
				"address":         info.Address(),
				"attempt":         attempt,
				"reference_input": m.Capabilities().ReferenceInput,
			}).Info("Desk connected")
			return nil
		}

		m.teardown()

		if ctx.Err() != nil {
			m.setState(StateDisconnected, nil)
			return ctx.Err()
		}

		m.logger.WithFields(logrus.Fields{
			"address": info.Address(),
			"attempt": attempt,
			"error":   lastErr,
		}).Warn("Connection attempt failed")

		if attempt < m.opts.Attempts {
			m.setState(StateConnecting, fmt.Errorf("attempt %d/%d failed: %w", attempt, m.opts.Attempts, lastErr))
			if err := groutine.Sleep(ctx, m.opts.RetryDelay); err != nil {
				m.setState(StateDisconnected, nil)
				return err
			}
		}
	}

	m.setState(StateError, lastErr)
	return &ConnectError{Attempts: m.opts.Attempts, Err: lastErr}
}

// attempt runs one dial-to-seed sequence and returns the link generation it created.
func (m *Manager) attempt(ctx context.Context, address string) (uint64, error) {
	link, err := m.dialer.Dial(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", address, err)
	}

	stop := make(chan struct{})
	m.mu.Lock()
	m.link = link
	m.gen++
	gen := m.gen
	m.monitorStop = stop
	m.mu.Unlock()

	groutine.Go(context.Background(), "desk-link-monitor", func(ctx context.Context) {
		select {
		case <-link.Disconnected():
			m.handleLinkLoss(ctx, gen)
		case <-stop:
		}
	})

	if err := groutine.Sleep(ctx, m.opts.SettleDelay); err != nil {
		return gen, err
	}
	select {
	case <-link.Disconnected():
		return gen, fmt.Errorf("%w: dropped while settling", device.ErrLinkLost)
	default:
	}

	bound, caps, err := m.bind(link)
	if err != nil {
		return gen, err
	}
	m.mu.Lock()
	m.bound = bound
	m.caps = caps
	m.mu.Unlock()

	if char := bound[protocol.RoleActivation]; char != nil {
		hs := activation.New(char, m.logger)
		hs.ResponseTimeout = m.opts.HandshakeTimeout
		outcome, err := hs.Run(ctx)
		if err != nil {
			m.logger.WithField("error", err).Warn("Activation handshake failed, continuing without it")
		} else {
			m.logger.WithField("outcome", outcome).Debug("Activation handshake finished")
		}
		if ctx.Err() != nil {
			return gen, ctx.Err()
		}
	}

	position := bound[protocol.RolePosition]
	if err := position.Subscribe(func(data []byte) {
		m.deliverPosition(gen, data)
	}); err != nil {
		return gen, fmt.Errorf("subscribe to position notifications: %w", err)
	}

	data, err := position.Read(m.opts.ReadTimeout)
	if err != nil {
		return gen, fmt.Errorf("read initial position: %w", err)
	}
	m.deliverPosition(gen, data)
	return gen, nil
}

// bind resolves every characteristic role. Optional roles may be missing.
func (m *Manager) bind(link device.Link) (map[protocol.Role]device.Characteristic, Capabilities, error) {
	bound := make(map[protocol.Role]device.Characteristic, len(protocol.Bindings))
	for _, b := range protocol.Bindings {
		char, err := link.Characteristic(b.Service, b.Characteristic)
		if err != nil {
			var notFound *device.NotFoundError
			if b.Optional && errors.As(err, &notFound) {
				m.logger.WithField("role", b.Role).Debug("Optional desk characteristic not present")
				continue
			}
			return nil, Capabilities{}, fmt.Errorf("bind %s characteristic: %w", b.Role, err)
		}
		bound[b.Role] = char
	}

	caps := Capabilities{
		ReferenceInput: bound[protocol.RoleReferenceInput] != nil,
		Activation:     bound[protocol.RoleActivation] != nil,
	}
	return bound, caps, nil
}

// promote publishes StateConnected unless the link of gen dropped in the meantime.
func (m *Manager) promote(gen uint64) error {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if m.gen != gen || m.link == nil {
		m.mu.Unlock()
		return fmt.Errorf("%w: replaced during connect", device.ErrLinkLost)
	}
	select {
	case <-m.link.Disconnected():
		m.mu.Unlock()
		return fmt.Errorf("%w: dropped during connect", device.ErrLinkLost)
	default:
	}
	m.state = StateConnected
	h := m.onState
	m.mu.Unlock()

	if h != nil {
		h(StateConnected, nil)
	}
	return nil
}

// Disconnect tears down the link and any in-flight Connect. Safe to call repeatedly.
func (m *Manager) Disconnect() error {
	m.mu.RLock()
	cancel := m.cancelConnect
	m.mu.RUnlock()
	if cancel != nil {
		cancel()
	}

	_, err := m.teardown()
	m.setState(StateDisconnected, nil)
	return err
}

// handleLinkLoss routes an asynchronous disconnect through the regular teardown.
func (m *Manager) handleLinkLoss(ctx context.Context, gen uint64) {
	m.mu.RLock()
	current := m.gen == gen && m.state == StateConnected
	m.mu.RUnlock()
	if !current {
		return
	}

	m.logger.WithFields(logrus.Fields{
		"generation": gen,
		"goroutine":  groutine.GetName(ctx),
	}).Warn("Desk link lost")
	if done, _ := m.teardown(); done {
		m.setState(StateDisconnected, nil)
	}
}

// teardown releases the link and invalidates the bindings. Reports whether a link was held.
func (m *Manager) teardown() (bool, error) {
	m.mu.Lock()
	link := m.link
	position := m.bound[protocol.RolePosition]
	stop := m.monitorStop
	m.link = nil
	m.bound = nil
	m.caps = Capabilities{}
	m.monitorStop = nil
	m.gen++
	m.mu.Unlock()

	if link == nil {
		return false, nil
	}
	if stop != nil {
		close(stop)
	}
	if position != nil {
		if err := position.Unsubscribe(); err != nil {
			m.logger.WithField("error", err).Debug("Failed to unsubscribe from position notifications")
		}
	}

	err := link.Close()
	if err != nil {
		m.logger.WithField("error", err).Warn("Desk link closed with errors")
	} else {
		m.logger.Debug("Desk link closed")
	}
	return true, err
}

func (m *Manager) deliverPosition(gen uint64, data []byte) {
	m.mu.RLock()
	current := m.gen == gen
	h := m.onPosition
	m.mu.RUnlock()

	if current && h != nil {
		h(data)
	}
}

// setState records and publishes a transition. Repeating the current state without a
// cause is not published.
func (m *Manager) setState(s State, err error) {
	m.emitMu.Lock()
	defer m.emitMu.Unlock()

	m.mu.Lock()
	if m.state == s && err == nil {
		m.mu.Unlock()
		return
	}
	m.state = s
	h := m.onState
	m.mu.Unlock()

	entry := m.logger.WithField("state", s)
	if err != nil {
		entry = entry.WithField("error", err)
	}
	entry.Debug("Connection state changed")

	if h != nil {
		h(s, err)
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether a bound link is available for commands.
func (m *Manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateConnected && m.link != nil
}

// Characteristic returns the characteristic bound to role while connected.
func (m *Manager) Characteristic(role protocol.Role) (device.Characteristic, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateConnected || m.link == nil {
		return nil, false
	}
	char, ok := m.bound[role]
	return char, ok
}

// Capabilities reports the optional services of the connected desk.
func (m *Manager) Capabilities() Capabilities {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.caps
}

// Address returns the address of the connected desk, or "".
func (m *Manager) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.link == nil {
		return ""
	}
	return m.link.Address()
}

// Name returns the name of the connected desk, or "".
func (m *Manager) Name() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.link == nil {
		return ""
	}
	return m.link.Name()
}
