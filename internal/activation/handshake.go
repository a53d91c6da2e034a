// Package activation unlocks the desk for externally issued motion commands.
//
// The control box only accepts motion commands from a client whose stored user
// profile carries the activation flag. The handshake reads the user id over the
// DPG characteristic and, when the flag is clear, writes it back with the flag set.
// Desks that do not implement the DPG service work without it, so every failure is
// reported to the caller as an Outcome for logging and never blocks the connection.
package activation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/protocol"
)

const (
	// DefaultResponseTimeout bounds the wait for the user id notification before
	// falling back to a direct read.
	DefaultResponseTimeout = 2 * time.Second

	// DefaultIOTimeout bounds each characteristic read and write.
	DefaultIOTimeout = 2 * time.Second
)

// Outcome describes how a handshake ended.
type Outcome int

const (
	OutcomeUnavailable Outcome = iota
	OutcomeAlreadyActive
	OutcomeActivated
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnavailable:
		return "unavailable"
	case OutcomeAlreadyActive:
		return "already_active"
	case OutcomeActivated:
		return "activated"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// HandshakeError records the step at which the handshake failed.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("activation handshake failed during %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Handshake runs the activation protocol against the DPG characteristic.
type Handshake struct {
	char   device.Characteristic
	logger *logrus.Logger

	ResponseTimeout time.Duration
	IOTimeout       time.Duration
}

// New creates a handshake with default timeouts.
func New(char device.Characteristic, logger *logrus.Logger) *Handshake {
	if logger == nil {
		logger = logrus.New()
	}
	return &Handshake{
		char:            char,
		logger:          logger,
		ResponseTimeout: DefaultResponseTimeout,
		IOTimeout:       DefaultIOTimeout,
	}
}

// Run performs the handshake once. The returned error is non-nil only together with
// OutcomeFailed and is meant for logging.
func (h *Handshake) Run(ctx context.Context) (Outcome, error) {
	responses := make(chan []byte, 1)
	err := h.char.Subscribe(func(data []byte) {
		buf := make([]byte, len(data))
		copy(buf, data)
		select {
		case responses <- buf:
		default:
		}
	})
	if err != nil {
		h.logger.WithField("error", err).Debug("DPG notifications unavailable, will read the response directly")
	} else {
		defer func() {
			if err := h.char.Unsubscribe(); err != nil {
				h.logger.WithField("error", err).Debug("Failed to unsubscribe from DPG notifications")
			}
		}()
	}

	if err := h.char.Write(protocol.EncodeActivationRead(), false, h.IOTimeout); err != nil {
		return OutcomeFailed, &HandshakeError{Step: "user id request", Err: err}
	}

	resp, err := h.awaitResponse(ctx, responses)
	if err != nil {
		return OutcomeFailed, &HandshakeError{Step: "user id response", Err: err}
	}

	if len(resp) < protocol.ActivationHeaderLen+1 || resp[0] != protocol.ActivationSuccess {
		h.logger.WithField("response", fmt.Sprintf("% x", resp)).Debug("Desk did not return a user id, activation not required")
		return OutcomeUnavailable, nil
	}

	userID := make([]byte, len(resp)-protocol.ActivationHeaderLen)
	copy(userID, resp[protocol.ActivationHeaderLen:])

	if userID[0] == protocol.ActivationSuccess {
		h.logger.Debug("Desk user profile already activated")
		return OutcomeAlreadyActive, nil
	}

	userID[0] = protocol.ActivationSuccess
	if err := h.char.Write(protocol.EncodeActivationWrite(userID), false, h.IOTimeout); err != nil {
		return OutcomeFailed, &HandshakeError{Step: "user id write", Err: err}
	}

	h.logger.WithField("user_id_len", len(userID)).Info("Desk user profile activated")
	return OutcomeActivated, nil
}

// awaitResponse waits for the notified response and falls back to a read on timeout.
func (h *Handshake) awaitResponse(ctx context.Context, responses <-chan []byte) ([]byte, error) {
	timer := time.NewTimer(h.ResponseTimeout)
	defer timer.Stop()

	select {
	case resp := <-responses:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		h.logger.WithField("timeout", h.ResponseTimeout).Debug("No DPG notification, reading response")
		return h.char.Read(h.IOTimeout)
	}
}
