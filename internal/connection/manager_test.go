package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type stateEvent struct {
	State State
	Err   error
}

// stateRecorder collects state transitions from the manager.
type stateRecorder struct {
	mu     sync.Mutex
	events []stateEvent
}

func (r *stateRecorder) handle(s State, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, stateEvent{State: s, Err: err})
}

func (r *stateRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.events))
	for i, e := range r.events {
		out[i] = e.State
	}
	return out
}

func (r *stateRecorder) last() stateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return stateEvent{State: -1}
	}
	return r.events[len(r.events)-1]
}

// positionRecorder collects raw position payloads.
type positionRecorder struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (r *positionRecorder) handle(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, append([]byte(nil), data...))
}

func (r *positionRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func (r *positionRecorder) first() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.payloads) == 0 {
		return nil
	}
	return r.payloads[0]
}

type ManagerTestSuite struct {
	testutils.SimDeskSuite

	states    *stateRecorder
	positions *positionRecorder
}

func testOptions() Options {
	return Options{
		Attempts:         3,
		SettleDelay:      5 * time.Millisecond,
		RetryDelay:       20 * time.Millisecond,
		ReadTimeout:      100 * time.Millisecond,
		HandshakeTimeout: 20 * time.Millisecond,
	}
}

func (s *ManagerTestSuite) newManager(dialer device.Dialer) *Manager {
	var m *Manager
	m, s.states, s.positions = newRecordedManager(&s.SimDeskSuite, dialer)
	return m
}

func newRecordedManager(s *testutils.SimDeskSuite, dialer device.Dialer) (*Manager, *stateRecorder, *positionRecorder) {
	states := &stateRecorder{}
	positions := &positionRecorder{}

	m := NewManager(s.Desk, dialer, testOptions(), s.Logger)
	m.SetStateHandler(states.handle)
	m.SetPositionHandler(positions.handle)
	return m, states, positions
}

func (s *ManagerTestSuite) TestConnectBindsAndSeedsPosition() {
	// GOAL: Verify a successful connect binds every role, activates and seeds the height
	//
	// TEST SCENARIO: healthy desk → Connecting, Connected → initial position delivered
	m := s.newManager(s.Desk)

	s.Require().NoError(m.Connect(context.Background()))

	s.Equal([]State{StateConnecting, StateConnected}, s.states.states())
	s.True(m.IsConnected())
	s.Equal(Capabilities{ReferenceInput: true, Activation: true}, m.Capabilities())
	s.Equal("AA:BB:CC:DD:EE:FF", m.Address())
	s.Equal("Desk 4711", m.Name())

	for _, role := range []protocol.Role{protocol.RolePosition, protocol.RoleControl, protocol.RoleReferenceInput, protocol.RoleActivation} {
		_, ok := m.Characteristic(role)
		s.True(ok, "role %s must be bound", role)
	}

	s.True(s.Desk.Subscribed(protocol.RolePosition))
	s.Equal(byte(0x01), s.Desk.UserID()[0], "activation handshake must run on connect")

	s.Require().GreaterOrEqual(s.positions.count(), 1)
	tel, err := protocol.DecodePosition(s.positions.first())
	s.Require().NoError(err)
	s.Equal(800, tel.HeightMm)
}

func (s *ManagerTestSuite) TestConnectTwiceIsRejected() {
	m := s.newManager(s.Desk)
	s.Require().NoError(m.Connect(context.Background()))

	s.ErrorIs(m.Connect(context.Background()), device.ErrAlreadyConnected)
	s.Equal(1, s.Desk.DialCount())
}

func (s *ManagerTestSuite) TestRetriesThenSucceeds() {
	// GOAL: Verify failed attempts are retried with a delay and reported as transient
	//
	// TEST SCENARIO: first dial fails → Connecting(err) → second dial succeeds → Connected
	s.Desk.FailDials(errors.New("le-connection-abort-by-local"))
	m := s.newManager(s.Desk)

	start := time.Now()
	s.Require().NoError(m.Connect(context.Background()))

	s.GreaterOrEqual(time.Since(start), testOptions().RetryDelay)
	s.Equal(2, s.Desk.DialCount())
	s.Equal([]State{StateConnecting, StateConnecting, StateConnected}, s.states.states())
	s.True(m.IsConnected())
}

func (s *ManagerTestSuite) TestExhaustedAttemptsEndInError() {
	// GOAL: Verify three failed attempts end in StateError carrying the last failure
	//
	// TEST SCENARIO: every dial fails → 3 dials, 2 retry delays → ConnectError, StateError
	s.Desk.FailDials(errors.New("first"), errors.New("second"), errors.New("third"))
	m := s.newManager(s.Desk)

	start := time.Now()
	err := m.Connect(context.Background())

	var connErr *ConnectError
	s.Require().ErrorAs(err, &connErr)
	s.Equal(3, connErr.Attempts)
	s.Contains(err.Error(), "third")

	s.GreaterOrEqual(time.Since(start), 2*testOptions().RetryDelay)
	s.Equal(3, s.Desk.DialCount())

	last := s.states.last()
	s.Equal(StateError, last.State)
	s.Require().Error(last.Err)
	s.Contains(last.Err.Error(), "third")
	s.False(m.IsConnected())
}

func (s *ManagerTestSuite) TestSelectionFailureIsNotRetried() {
	s.Desk.FailSelect(device.ErrNoDevice)
	m := s.newManager(s.Desk)

	err := m.Connect(context.Background())
	s.ErrorIs(err, ErrDeviceSelectionFailed)
	s.ErrorIs(err, device.ErrNoDevice)
	s.Equal(0, s.Desk.DialCount())
	s.Equal(StateDisconnected, m.State())
	s.Equal([]State{StateConnecting, StateDisconnected}, s.states.states())
}

func (s *ManagerTestSuite) TestSeedReadFailureRetries() {
	// GOAL: Verify a failing initial read fails the attempt and closes the link
	//
	// TEST SCENARIO: position reads fail → 3 attempts → every opened link closed
	s.Desk.FailReads(protocol.RolePosition, errors.New("read timeout"))
	m := s.newManager(s.Desk)

	err := m.Connect(context.Background())
	s.Require().Error(err)
	s.Equal(3, s.Desk.DialCount())
	s.Equal(3, s.Desk.CloseCount())
	s.Equal(StateError, m.State())
}

func (s *ManagerTestSuite) TestLinkLossGoesDisconnected() {
	// GOAL: Verify an unexpected disconnect invalidates every binding
	//
	// TEST SCENARIO: connect → desk drops the link → Disconnected, no characteristics
	m := s.newManager(s.Desk)
	s.Require().NoError(m.Connect(context.Background()))

	s.Desk.Drop()

	s.Eventually(func() bool {
		return m.State() == StateDisconnected
	}, time.Second, 5*time.Millisecond)

	s.False(m.IsConnected())
	_, ok := m.Characteristic(protocol.RoleControl)
	s.False(ok)
	s.Equal(StateDisconnected, s.states.last().State)
}

func (s *ManagerTestSuite) TestNotificationsAfterDisconnectAreDropped() {
	m := s.newManager(s.Desk)
	s.Require().NoError(m.Connect(context.Background()))
	s.Require().NoError(m.Disconnect())

	before := s.positions.count()
	s.Desk.Notify(protocol.DefaultCodec.EncodePosition(protocol.Telemetry{HeightMm: 900}))
	s.Equal(before, s.positions.count())
}

func (s *ManagerTestSuite) TestDisconnectIsIdempotent() {
	m := s.newManager(s.Desk)
	s.Require().NoError(m.Connect(context.Background()))

	s.NoError(m.Disconnect())
	s.NoError(m.Disconnect())

	s.Equal(1, s.Desk.CloseCount())
	s.Equal([]State{StateConnecting, StateConnected, StateDisconnected}, s.states.states())
	s.False(s.Desk.Subscribed(protocol.RolePosition))
}

func (s *ManagerTestSuite) TestDisconnectCancelsPendingConnect() {
	// GOAL: Verify Disconnect aborts a connect waiting between attempts
	//
	// TEST SCENARIO: dials fail with a long retry delay → Disconnect → Connect returns early
	s.Desk.FailDials(errors.New("busy"), errors.New("busy"), errors.New("busy"))
	s.states = &stateRecorder{}
	opts := testOptions()
	opts.RetryDelay = time.Minute
	m := NewManager(s.Desk, s.Desk, opts, s.Logger)
	m.SetStateHandler(s.states.handle)

	done := make(chan error, 1)
	go func() { done <- m.Connect(context.Background()) }()

	s.Eventually(func() bool { return s.Desk.DialCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	s.Require().NoError(m.Disconnect())

	select {
	case err := <-done:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(time.Second):
		s.Fail("connect did not return after disconnect")
	}
	s.Equal(StateDisconnected, m.State())
}

func (s *ManagerTestSuite) TestMissingRequiredCharacteristicFailsAttempt() {
	m := s.newManager(&withoutControl{desk: s.Desk})

	err := m.Connect(context.Background())

	var notFound *device.NotFoundError
	s.Require().ErrorAs(err, &notFound)
	s.Equal(StateError, m.State())
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}

type MinimalDeskSuite struct {
	testutils.SimDeskSuite
}

func (s *MinimalDeskSuite) SetupTest() {
	s.WithDesk().ReferenceInput = false
	s.WithDesk().Activation = false
	s.SimDeskSuite.SetupTest() // Call parent last to apply configuration
}

func (s *MinimalDeskSuite) TestOptionalServicesMayBeMissing() {
	// GOAL: Verify a desk without reference input and activation services still connects
	//
	// TEST SCENARIO: minimal desk → Connected, capabilities empty, roles unbound
	m, _, _ := newRecordedManager(&s.SimDeskSuite, s.Desk)
	s.Require().NoError(m.Connect(context.Background()))

	s.Equal(Capabilities{}, m.Capabilities())
	_, ok := m.Characteristic(protocol.RoleReferenceInput)
	s.False(ok)
	_, ok = m.Characteristic(protocol.RoleControl)
	s.True(ok)
}

func TestMinimalDeskSuite(t *testing.T) {
	suite.Run(t, new(MinimalDeskSuite))
}

func TestStateString(t *testing.T) {
	for state, want := range map[State]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateError:        "error",
		State(42):         "unknown",
	} {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

// withoutControl dials the simulated desk but hides the control service.
type withoutControl struct {
	desk *testutils.SimDesk
}

func (w *withoutControl) Dial(ctx context.Context, address string) (device.Link, error) {
	link, err := w.desk.Dial(ctx, address)
	if err != nil {
		return nil, err
	}
	return &controlHidingLink{Link: link}, nil
}

type controlHidingLink struct {
	device.Link
}

func (l *controlHidingLink) Characteristic(service, uuid string) (device.Characteristic, error) {
	if device.NormalizeUUID(service) == device.NormalizeUUID(protocol.ControlServiceUUID) {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	return l.Link.Characteristic(service, uuid)
}
