package main

import (
	"errors"
	"testing"
	"time"

	"github.com/srg/deskctl/internal/connection"
	"github.com/srg/deskctl/internal/protocol"
	"github.com/srg/deskctl/pkg/desk"
	"github.com/stretchr/testify/suite"
)

type DeskCommandsTestSuite struct {
	CommandTestSuite
}

func (s *DeskCommandsTestSuite) TestHeight() {
	// GOAL: Verify height connects, prints the current height and disconnects
	//
	// TEST SCENARIO: desk at 800 mm → "800 mm" printed → link closed
	out, err := s.Deskctl("height")
	s.Require().NoError(err)

	s.Contains(out, "800 mm")
	s.Equal(1, s.Desk.CloseCount(), "command must disconnect")
}

func (s *DeskCommandsTestSuite) TestMoveReferenceInput() {
	// GOAL: Verify move drives the desk to the requested height and reports it
	//
	// TEST SCENARIO: move 900 → desk near 900, final stop sent, "Desk at" printed
	out, err := s.Deskctl("move", "900")
	s.Require().NoError(err)

	s.Contains(out, "Desk at")
	s.InDelta(900, s.Desk.Height(), 4)
	s.NotEmpty(s.Desk.Writes(protocol.RoleReferenceInput))
	s.GreaterOrEqual(s.Desk.WriteCount(protocol.RoleControl, protocol.EncodeStop()), 1)
}

func (s *DeskCommandsTestSuite) TestMoveUpDownMode() {
	out, err := s.Deskctl("move", "760", "--mode", "up_down")
	s.Require().NoError(err)

	s.Contains(out, "Desk at")
	s.InDelta(760, s.Desk.Height(), 8)
	s.Empty(s.Desk.Writes(protocol.RoleReferenceInput))
}

func (s *DeskCommandsTestSuite) TestMoveRejectsBadArguments() {
	tests := []struct {
		name string
		args []string
	}{
		{name: "not a number", args: []string{"move", "tall"}},
		{name: "negative", args: []string{"move", "-5"}},
		{name: "unknown mode", args: []string{"move", "900", "--mode", "sideways"}},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			moveMode = ""
			_, err := s.Deskctl(tt.args...)
			s.Error(err)
		})
	}
	s.Zero(s.Desk.DialCount(), "invalid input must not touch the desk")
}

func (s *DeskCommandsTestSuite) TestStop() {
	out, err := s.Deskctl("stop")
	s.Require().NoError(err)

	s.Contains(out, "Desk stopped")
	s.Equal(1, s.Desk.WriteCount(protocol.RoleControl, protocol.EncodeStop()))
}

func (s *DeskCommandsTestSuite) TestMonitorPrintsTelemetry() {
	// GOAL: Verify monitor prints telemetry until its duration elapses
	//
	// TEST SCENARIO: --duration 100ms, one pushed sample → seed and pushed heights printed
	go func() {
		time.Sleep(50 * time.Millisecond)
		s.Desk.Notify(protocol.DefaultCodec.EncodePosition(protocol.Telemetry{HeightMm: 812, SpeedRaw: 100}))
	}()

	out, err := s.Deskctl("monitor", "--duration", "150ms")
	s.Require().NoError(err)

	s.Contains(out, "Monitoring Desk 4711 (AA:BB:CC:DD:EE:FF)")
	s.Contains(out, "800 mm")
	s.Contains(out, "812 mm")
}

func (s *DeskCommandsTestSuite) TestMonitorEndsOnLinkLoss() {
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.Desk.Drop()
	}()

	out, err := s.Deskctl("monitor")

	s.ErrorIs(err, desk.ErrNotConnected)
	s.Contains(out, "-- disconnected")
}

func (s *DeskCommandsTestSuite) TestSelectionFailure() {
	s.Desk.FailSelect(errors.New("no desk advertised within 10s"))

	_, err := s.Deskctl("height")

	s.Require().ErrorIs(err, connection.ErrDeviceSelectionFailed)
	s.Contains(FormatUserError(err), "no desk found")
	s.Zero(s.Desk.DialCount())
}

func (s *DeskCommandsTestSuite) TestConnectRetriesExhausted() {
	s.Desk.FailDials(errors.New("first"), errors.New("second"), errors.New("third"))

	_, err := s.Deskctl("height")

	var connectErr *connection.ConnectError
	s.Require().ErrorAs(err, &connectErr)
	s.Equal(3, connectErr.Attempts)
	msg := FormatUserError(err)
	s.Contains(msg, "could not connect to the desk after 3 attempts")
	s.Contains(msg, "third")
}

func TestDeskCommandsTestSuite(t *testing.T) {
	suite.Run(t, new(DeskCommandsTestSuite))
}
