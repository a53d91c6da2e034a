// Package motion drives the desk to an absolute height.
//
// Two algorithms are available. Reference input writes the absolute target to the
// desk and waits for the reported speed to rise and fall back to zero. Up/down holds a
// directional command until the cached height crosses the target. Both are bounded by
// an iteration cap and always end with a stop command while the link is up.
//
// Moves are cancelled cooperatively through a per-move context that the loops check
// once per tick. Only one move runs at a time; a new move cancels the previous one
// and waits for it to finish before sending anything.
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/groutine"
	"github.com/srg/deskctl/internal/protocol"
	"golang.org/x/time/rate"
)

// Link gives the controller access to the bound desk characteristics.
type Link interface {
	IsConnected() bool
	Characteristic(role protocol.Role) (device.Characteristic, bool)
}

type activeMove struct {
	id     ulid.ULID
	cancel context.CancelFunc
	done   chan struct{}
}

// Controller owns the telemetry cache and the single in-flight move.
type Controller struct {
	link   Link
	params Params
	codec  protocol.Codec
	logger *logrus.Logger

	mu         sync.Mutex
	telemetry  protocol.Telemetry
	known      bool
	motionSeen bool
	active     *activeMove
}

// NewController creates a controller using the default codec.
func NewController(link Link, params Params, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		link:   link,
		params: params,
		codec:  protocol.DefaultCodec,
		logger: logger,
	}
}

// SetCodec replaces the codec used for synchronous position reads.
func (c *Controller) SetCodec(codec protocol.Codec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codec = codec
}

// Observe records a telemetry sample. Samples must be observed in delivery order.
func (c *Controller) Observe(t protocol.Telemetry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.telemetry = t
	c.known = true
	if t.Moving() {
		c.motionSeen = true
	}
}

// Reset forgets the cached telemetry, typically after the link went away.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.telemetry = protocol.Telemetry{}
	c.known = false
	c.motionSeen = false
}

// Telemetry returns the latest sample and whether one was observed.
func (c *Controller) Telemetry() (protocol.Telemetry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.telemetry, c.known
}

// Moving reports whether a move is in flight.
func (c *Controller) Moving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// MoveTo moves the desk to targetMm with the given mode.
func (c *Controller) MoveTo(ctx context.Context, targetMm int, mode Mode) error {
	return c.Move(ctx, NewRequest(targetMm, mode))
}

// Move runs req to completion. It returns nil when the target was reached, ErrCancelled,
// ErrIncomplete, device.ErrNotConnected or a *WriteError.
//
// A move in flight is cancelled and Move waits for it to exit before sending anything,
// even when the new move is itself superseded in the meantime. A deadline on ctx ends
// the move once it has passed, at the next iteration boundary.
func (c *Controller) Move(ctx context.Context, req Request) error {
	if !c.link.IsConnected() {
		return device.ErrNotConnected
	}

	moveCtx, cancel := context.WithCancel(ctx)
	mv := &activeMove{id: req.ID, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	prev := c.active
	c.active = mv
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.active == mv {
			c.active = nil
		}
		c.mu.Unlock()
		cancel()
		close(mv.done)
	}()

	log := c.logger.WithFields(logrus.Fields{
		"move_id":   req.ID.String(),
		"target_mm": req.TargetMm,
	})

	if prev != nil {
		log.WithField("superseded", prev.id.String()).Debug("Cancelling previous move")
		prev.cancel()
		// prev is cancelled and its writes time out, so this wait is bounded.
		<-prev.done
		if moveCtx.Err() != nil {
			return ErrCancelled
		}
	}

	current, err := c.currentHeight()
	if err != nil {
		return err
	}

	mode := req.Mode
	if mode == ModeReferenceInput {
		if _, ok := c.link.Characteristic(protocol.RoleReferenceInput); !ok {
			log.Info("Desk has no reference input, using up/down commands")
			mode = ModeUpDown
		}
	}
	log = log.WithFields(logrus.Fields{"mode": mode, "from_mm": current})

	if abs(current-req.TargetMm) <= c.params.tolerance(mode) {
		log.Debug("Desk already within tolerance of target")
		return nil
	}

	log.Info("Moving desk")
	start := time.Now()

	if mode == ModeUpDown {
		err = c.runUpDown(moveCtx, current, req.TargetMm)
	} else {
		err = c.runReference(moveCtx, req.TargetMm)
	}

	if !errors.Is(err, device.ErrNotConnected) {
		c.sendFinalStop(log)
	}

	t, _ := c.Telemetry()
	log = log.WithFields(logrus.Fields{"height_mm": t.HeightMm, "elapsed": time.Since(start).Round(time.Millisecond)})
	switch {
	case err == nil:
		log.Info("Desk reached target")
	case errors.Is(err, ErrCancelled):
		log.Info("Move cancelled")
	default:
		log.WithField("error", err).Warn("Move failed")
	}
	return err
}

// Stop cancels the in-flight move, waits for it to exit and writes an explicit stop.
// Every move waits for the one it superseded, so once the newest move is done no
// older one is still running.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	mv := c.active
	c.mu.Unlock()

	if mv != nil {
		mv.cancel()
		select {
		case <-mv.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	control, ok := c.link.Characteristic(protocol.RoleControl)
	if !ok {
		return device.ErrNotConnected
	}
	if err := control.Write(protocol.EncodeStop(), false, c.params.WriteTimeout); err != nil {
		return c.writeFailure(protocol.RoleControl, err)
	}
	return nil
}

// runReference sends the target until the desk has started and come to rest again.
func (c *Controller) runReference(ctx context.Context, targetMm int) error {
	control, ok := c.link.Characteristic(protocol.RoleControl)
	if !ok {
		return device.ErrNotConnected
	}
	if err := control.Write(protocol.EncodeWakeup(), false, c.params.WriteTimeout); err != nil {
		return c.writeFailure(protocol.RoleControl, err)
	}
	if err := control.Write(protocol.EncodeStop(), false, c.params.WriteTimeout); err != nil {
		return c.writeFailure(protocol.RoleControl, err)
	}
	if err := groutine.Sleep(ctx, c.params.ReferenceSettle); err != nil {
		return ErrCancelled
	}

	c.mu.Lock()
	c.motionSeen = false
	c.mu.Unlock()

	payload := c.codec.EncodeReferenceTarget(targetMm)
	pacer := newPacer(c.params.ReferencePeriod)
	started := false
	for i := 0; i < c.params.ReferenceMaxIterations; i++ {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		ref, ok := c.link.Characteristic(protocol.RoleReferenceInput)
		if !ok {
			return device.ErrNotConnected
		}
		if err := ref.Write(payload, false, c.params.WriteTimeout); err != nil {
			return c.writeFailure(protocol.RoleReferenceInput, err)
		}

		if err := pacer.Wait(ctx); err != nil {
			return ErrCancelled
		}

		c.mu.Lock()
		started = started || c.motionSeen
		speed := c.telemetry.SpeedRaw
		c.mu.Unlock()

		if started && speed == 0 {
			return nil
		}
	}
	return ErrIncomplete
}

// runUpDown holds one direction, chosen from the starting height, until the target is crossed.
func (c *Controller) runUpDown(ctx context.Context, currentMm, targetMm int) error {
	dir := protocol.DirectionTo(currentMm, targetMm)
	tolerance := c.params.UpDownToleranceMm

	control, ok := c.link.Characteristic(protocol.RoleControl)
	if !ok {
		return device.ErrNotConnected
	}
	if err := control.Write(protocol.EncodeWakeup(), false, c.params.WriteTimeout); err != nil {
		return c.writeFailure(protocol.RoleControl, err)
	}
	if err := groutine.Sleep(ctx, c.params.WakeDelay); err != nil {
		return ErrCancelled
	}

	command := protocol.EncodeMove(dir)
	pacer := newPacer(c.params.UpDownPeriod)
	for i := 0; i < c.params.UpDownMaxIterations; i++ {
		if ctx.Err() != nil {
			return ErrCancelled
		}
		control, ok := c.link.Characteristic(protocol.RoleControl)
		if !ok {
			return device.ErrNotConnected
		}

		t, _ := c.Telemetry()
		if crossed(dir, t.HeightMm, targetMm, tolerance) {
			return nil
		}

		if err := control.Write(command, false, c.params.WriteTimeout); err != nil {
			return c.writeFailure(protocol.RoleControl, err)
		}
		if err := pacer.Wait(ctx); err != nil {
			return ErrCancelled
		}
	}
	return ErrIncomplete
}

func crossed(dir protocol.Direction, heightMm, targetMm, tolerance int) bool {
	if dir == protocol.DirectionUp {
		return heightMm >= targetMm-tolerance
	}
	return heightMm <= targetMm+tolerance
}

func (c *Controller) sendFinalStop(log *logrus.Entry) {
	control, ok := c.link.Characteristic(protocol.RoleControl)
	if !ok {
		log.Debug("Desk disconnected, skipping final stop")
		return
	}
	if err := control.Write(protocol.EncodeStop(), false, c.params.WriteTimeout); err != nil {
		log.WithField("error", err).Warn("Final stop command failed")
	}
}

// currentHeight returns the cached height, reading the position once when nothing was observed yet.
func (c *Controller) currentHeight() (int, error) {
	if t, ok := c.Telemetry(); ok {
		return t.HeightMm, nil
	}

	position, ok := c.link.Characteristic(protocol.RolePosition)
	if !ok {
		return 0, device.ErrNotConnected
	}
	data, err := position.Read(c.params.ReadTimeout)
	if err != nil {
		if !c.link.IsConnected() {
			return 0, device.ErrNotConnected
		}
		return 0, fmt.Errorf("read position: %w", err)
	}

	c.mu.Lock()
	codec := c.codec
	c.mu.Unlock()

	t, err := codec.DecodePosition(data)
	if err != nil {
		return 0, err
	}
	c.Observe(t)
	return t.HeightMm, nil
}

// writeFailure classifies a failed write: a write that failed because the link went
// away is reported as not connected.
func (c *Controller) writeFailure(role protocol.Role, err error) error {
	if !c.link.IsConnected() {
		return device.ErrNotConnected
	}
	return &WriteError{Role: role, Err: err}
}

// pacer admits one loop iteration per period.
type pacer struct {
	limiter *rate.Limiter
}

// newPacer returns a pacer whose initial token is spent, so the first Wait blocks a
// full period after the first write.
func newPacer(period time.Duration) *pacer {
	l := rate.NewLimiter(rate.Every(period), 1)
	l.Allow()
	return &pacer{limiter: l}
}

// Wait blocks until the next iteration is due. Unlike rate.Limiter.Wait it does not
// fail up front when the ctx deadline falls before the next token; it sleeps until the
// deadline actually passes.
func (p *pacer) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r := p.limiter.Reserve()
	if err := groutine.Sleep(ctx, r.Delay()); err != nil {
		r.Cancel()
		return err
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
