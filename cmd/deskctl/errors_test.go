package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/deskctl/internal/connection"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/motion"
	"github.com/srg/deskctl/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "bluetooth off",
			err:      fmt.Errorf("scan failed: %w", device.ErrBluetoothOff),
			expected: "Bluetooth is turned off; enable it and try again",
		},
		{
			name:     "selection failure",
			err:      fmt.Errorf("%w: %w", connection.ErrDeviceSelectionFailed, device.ErrNoDevice),
			expected: "no desk found: no matching device found (is it powered and not connected to another controller?)",
		},
		{
			name:     "connect error",
			err:      &connection.ConnectError{Attempts: 3, Err: errors.New("dial: timeout")},
			expected: "could not connect to the desk after 3 attempts: dial: timeout",
		},
		{
			name:     "not connected",
			err:      device.ErrNotConnected,
			expected: "lost the connection to the desk",
		},
		{
			name:     "incomplete",
			err:      motion.ErrIncomplete,
			expected: "the desk did not reach the target height in time",
		},
		{
			name:     "write error",
			err:      &motion.WriteError{Role: protocol.RoleControl, Err: errors.New("att: write not permitted")},
			expected: "the desk rejected a control command: att: write not permitted",
		},
		{
			name:     "passthrough",
			err:      context.DeadlineExceeded,
			expected: "context deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatUserError(tt.err))
		})
	}
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
}
