package testutils

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/protocol"
)

// SimDeskOptions configures a simulated desk.
type SimDeskOptions struct {
	Name            string
	Address         string
	InitialHeightMm int
	StepMm          int           // travel per physics tick
	Tick            time.Duration // physics tick
	SpeedRaw        int16         // reported speed magnitude while moving
	HoldWindow      time.Duration // how long a single up/down command keeps the motor running

	ReferenceInput   bool
	Activation       bool
	ActivationUserID []byte
	ActivationNotify bool
}

// DefaultSimDeskOptions returns a fast desk with every optional service.
func DefaultSimDeskOptions() SimDeskOptions {
	return SimDeskOptions{
		Name:             "Desk 4711",
		Address:          "AA:BB:CC:DD:EE:FF",
		InitialHeightMm:  800,
		StepMm:           2,
		Tick:             2 * time.Millisecond,
		SpeedRaw:         380,
		HoldWindow:       30 * time.Millisecond,
		ReferenceInput:   true,
		Activation:       true,
		ActivationUserID: []byte{0x00, 0x11, 0x22, 0x33},
		ActivationNotify: true,
	}
}

// SimDesk simulates the desk control box behind the device.Link, device.Dialer and
// device.Selector interfaces. Position notifications are produced by a physics
// goroutine while a link is open.
type SimDesk struct {
	opts  SimDeskOptions
	codec protocol.Codec

	mu           sync.Mutex
	connected    bool
	disconnected chan struct{}
	stop         chan struct{}
	heightMm     int
	speed        int16
	target       *int
	holdDir      protocol.Direction
	holdUntil    time.Time
	userID       []byte
	handlers     map[protocol.Role]func([]byte)
	writes       map[protocol.Role][][]byte
	writeErrs    map[protocol.Role]error
	readErrs     map[protocol.Role]error
	dialErrs     []error
	selectErr    error
	dialCount    int
	closeCount   int
	lateWrites   int
	lastResponse []byte
	ignoreRef    bool
	gates        []*writeGate
}

type writeGate struct {
	role    protocol.Role
	payload []byte
	release chan struct{}
	blocked int
}

// NewSimDesk creates a simulated desk.
func NewSimDesk(opts SimDeskOptions) *SimDesk {
	d := &SimDesk{
		opts:         opts,
		codec:        protocol.DefaultCodec,
		disconnected: make(chan struct{}),
		heightMm:     opts.InitialHeightMm,
		userID:       append([]byte(nil), opts.ActivationUserID...),
		handlers:     make(map[protocol.Role]func([]byte)),
		writes:       make(map[protocol.Role][][]byte),
		writeErrs:    make(map[protocol.Role]error),
		readErrs:     make(map[protocol.Role]error),
	}
	close(d.disconnected)
	return d
}

// Select implements device.Selector.
func (d *SimDesk) Select(ctx context.Context) (device.DeviceInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.selectErr != nil {
		return nil, d.selectErr
	}
	return StaticDeviceInfo{DeviceName: d.opts.Name, DeviceAddress: d.opts.Address, DeviceRSSI: -50}, nil
}

// Dial implements device.Dialer. Queued dial errors are returned first.
func (d *SimDesk) Dial(ctx context.Context, address string) (device.Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dialCount++
	if len(d.dialErrs) > 0 {
		err := d.dialErrs[0]
		d.dialErrs = d.dialErrs[1:]
		return nil, err
	}

	d.connected = true
	d.disconnected = make(chan struct{})
	d.stop = make(chan struct{})
	d.handlers = make(map[protocol.Role]func([]byte))
	go d.run(d.stop, d.opts.Tick)
	return d, nil
}

func (d *SimDesk) Address() string { return d.opts.Address }

func (d *SimDesk) Name() string { return d.opts.Name }

// Characteristic implements device.Link.
func (d *SimDesk) Characteristic(service, uuid string) (device.Characteristic, error) {
	for _, b := range protocol.Bindings {
		if device.NormalizeUUID(b.Service) != device.NormalizeUUID(service) {
			continue
		}
		if !d.has(b.Role) {
			return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
		}
		if device.NormalizeUUID(b.Characteristic) != device.NormalizeUUID(uuid) {
			return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
		}
		return &SimCharacteristic{desk: d, role: b.Role, uuid: device.NormalizeUUID(uuid)}, nil
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
}

// Disconnected implements device.Link.
func (d *SimDesk) Disconnected() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnected
}

// Close implements device.Link.
func (d *SimDesk) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeCount++
	d.dropLocked()
	return nil
}

// Drop simulates the peripheral dropping the link.
func (d *SimDesk) Drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropLocked()
}

func (d *SimDesk) dropLocked() {
	if !d.connected {
		return
	}
	d.connected = false
	d.target = nil
	d.holdUntil = time.Time{}
	d.speed = 0
	close(d.disconnected)
	close(d.stop)
}

func (d *SimDesk) has(role protocol.Role) bool {
	switch role {
	case protocol.RoleReferenceInput:
		return d.opts.ReferenceInput
	case protocol.RoleActivation:
		return d.opts.Activation
	default:
		return true
	}
}

// FailDials queues errors returned by the next Dial calls.
func (d *SimDesk) FailDials(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialErrs = append(d.dialErrs, errs...)
}

// FailSelect makes Select return err.
func (d *SimDesk) FailSelect(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selectErr = err
}

// FailWrites makes writes to role return err; nil clears it.
func (d *SimDesk) FailWrites(role protocol.Role, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeErrs[role] = err
}

// FailReads makes reads of role return err; nil clears it.
func (d *SimDesk) FailReads(role protocol.Role, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readErrs[role] = err
}

// IgnoreReferenceInput makes the desk record reference writes without moving, so it
// never reports any speed for them.
func (d *SimDesk) IgnoreReferenceInput() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ignoreRef = true
}

// BlockWrites holds every write of payload to role until release is called. blocked
// reports how many writes are currently held.
func (d *SimDesk) BlockWrites(role protocol.Role, payload []byte) (blocked func() int, release func()) {
	g := &writeGate{role: role, payload: append([]byte(nil), payload...), release: make(chan struct{})}
	d.mu.Lock()
	d.gates = append(d.gates, g)
	d.mu.Unlock()

	var once sync.Once
	blocked = func() int {
		d.mu.Lock()
		defer d.mu.Unlock()
		return g.blocked
	}
	release = func() { once.Do(func() { close(g.release) }) }
	return blocked, release
}

// Notify pushes a raw payload to the position subscriber.
func (d *SimDesk) Notify(payload []byte) {
	d.mu.Lock()
	h := d.handlers[protocol.RolePosition]
	d.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

// SetHeight moves the simulated desk instantly.
func (d *SimDesk) SetHeight(mm int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.heightMm = mm
}

func (d *SimDesk) Height() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.heightMm
}

// Writes returns a copy of the successful writes to role.
func (d *SimDesk) Writes(role protocol.Role) [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.writes[role]))
	copy(out, d.writes[role])
	return out
}

// WriteCount counts successful writes of payload to role.
func (d *SimDesk) WriteCount(role protocol.Role, payload []byte) int {
	n := 0
	for _, w := range d.Writes(role) {
		if bytes.Equal(w, payload) {
			n++
		}
	}
	return n
}

// TotalWrites counts successful writes across all roles.
func (d *SimDesk) TotalWrites() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, w := range d.writes {
		n += len(w)
	}
	return n
}

// ResetWrites forgets recorded writes.
func (d *SimDesk) ResetWrites() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = make(map[protocol.Role][][]byte)
}

// LateWrites counts writes attempted while the link was down.
func (d *SimDesk) LateWrites() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lateWrites
}

func (d *SimDesk) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dialCount
}

func (d *SimDesk) CloseCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closeCount
}

// UserID returns the stored activation user id.
func (d *SimDesk) UserID() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.userID...)
}

// Subscribed reports whether role has a notification subscriber.
func (d *SimDesk) Subscribed(role protocol.Role) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[role] != nil
}

func (d *SimDesk) run(stop <-chan struct{}, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.step()
		}
	}
}

func (d *SimDesk) step() {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return
	}

	prev := d.speed
	switch {
	case d.target != nil:
		diff := *d.target - d.heightMm
		if diff == 0 {
			d.target = nil
			d.speed = 0
			break
		}
		d.moveLocked(diff)
	case time.Now().Before(d.holdUntil):
		if d.holdDir == protocol.DirectionUp {
			d.moveLocked(d.opts.StepMm)
		} else {
			d.moveLocked(-d.opts.StepMm)
		}
	default:
		d.speed = 0
	}

	if prev == 0 && d.speed == 0 {
		d.mu.Unlock()
		return
	}
	payload := d.codec.EncodePosition(protocol.Telemetry{HeightMm: d.heightMm, SpeedRaw: d.speed})
	h := d.handlers[protocol.RolePosition]
	d.mu.Unlock()

	if h != nil {
		h(payload)
	}
}

// moveLocked travels up to one step by delta within the physical range.
func (d *SimDesk) moveLocked(delta int) {
	step := d.opts.StepMm
	if delta < 0 {
		step = -step
		if delta > step {
			step = delta
		}
		d.speed = -d.opts.SpeedRaw
	} else {
		if delta < step {
			step = delta
		}
		d.speed = d.opts.SpeedRaw
	}

	h := d.heightMm + step
	lo, hi := d.codec.BaseHeightMm, d.codec.BaseHeightMm+protocol.TravelMm
	if h < lo || h > hi {
		d.speed = 0
		d.target = nil
		return
	}
	d.heightMm = h
}

func (d *SimDesk) read(role protocol.Role) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return nil, device.ErrNotConnected
	}
	if err := d.readErrs[role]; err != nil {
		return nil, err
	}
	switch role {
	case protocol.RolePosition:
		return d.codec.EncodePosition(protocol.Telemetry{HeightMm: d.heightMm, SpeedRaw: d.speed}), nil
	case protocol.RoleActivation:
		return append([]byte(nil), d.lastResponse...), nil
	default:
		return nil, device.ErrUnsupported
	}
}

func (d *SimDesk) write(role protocol.Role, data []byte) error {
	d.mu.Lock()
	for _, g := range d.gates {
		if g.role != role || !bytes.Equal(g.payload, data) {
			continue
		}
		g.blocked++
		d.mu.Unlock()
		<-g.release
		d.mu.Lock()
		g.blocked--
	}
	if !d.connected {
		d.lateWrites++
		d.mu.Unlock()
		return device.ErrNotConnected
	}
	if err := d.writeErrs[role]; err != nil {
		d.mu.Unlock()
		return err
	}
	d.writes[role] = append(d.writes[role], append([]byte(nil), data...))

	var notify func([]byte)
	var response []byte

	switch role {
	case protocol.RoleControl:
		if len(data) > 0 {
			switch data[0] {
			case protocol.OpStop:
				d.target = nil
				d.holdUntil = time.Time{}
			case protocol.OpMoveUp:
				d.holdDir = protocol.DirectionUp
				d.holdUntil = time.Now().Add(d.opts.HoldWindow)
			case protocol.OpMoveDown:
				d.holdDir = protocol.DirectionDown
				d.holdUntil = time.Now().Add(d.opts.HoldWindow)
			}
		}
	case protocol.RoleReferenceInput:
		if len(data) >= 2 && !d.ignoreRef {
			raw := int(int16(binary.LittleEndian.Uint16(data)))
			target := d.codec.BaseHeightMm + raw/10
			d.target = &target
		}
	case protocol.RoleActivation:
		switch {
		case bytes.Equal(data, protocol.EncodeActivationRead()):
			d.lastResponse = append([]byte{protocol.ActivationSuccess, byte(len(d.userID))}, d.userID...)
			if d.opts.ActivationNotify {
				notify = d.handlers[protocol.RoleActivation]
				response = append([]byte(nil), d.lastResponse...)
			}
		case len(data) > 3 && data[2] == protocol.ActivationWrite:
			d.userID = append([]byte(nil), data[3:]...)
		}
	}
	d.mu.Unlock()

	if notify != nil {
		notify(response)
	}
	return nil
}

func (d *SimDesk) subscribe(role protocol.Role, h func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return device.ErrNotConnected
	}
	d.handlers[role] = h
	return nil
}

func (d *SimDesk) unsubscribe(role protocol.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, role)
	return nil
}

// SimCharacteristic is a characteristic of a SimDesk.
type SimCharacteristic struct {
	desk *SimDesk
	role protocol.Role
	uuid string
}

func (c *SimCharacteristic) UUID() string { return c.uuid }

func (c *SimCharacteristic) Read(timeout time.Duration) ([]byte, error) {
	return c.desk.read(c.role)
}

func (c *SimCharacteristic) Write(data []byte, withResponse bool, timeout time.Duration) error {
	return c.desk.write(c.role, data)
}

func (c *SimCharacteristic) Subscribe(handler func([]byte)) error {
	return c.desk.subscribe(c.role, handler)
}

func (c *SimCharacteristic) Unsubscribe() error {
	return c.desk.unsubscribe(c.role)
}
