package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/srg/deskctl/internal/connection"
	"github.com/srg/deskctl/internal/device"
	"github.com/srg/deskctl/internal/motion"
)

// FormatUserError turns engine errors into one-line messages for the terminal.
func FormatUserError(err error) string {
	var connectErr *connection.ConnectError
	var writeErr *motion.WriteError

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.Is(err, connection.ErrDeviceSelectionFailed):
		cause := strings.TrimPrefix(err.Error(), connection.ErrDeviceSelectionFailed.Error()+": ")
		return fmt.Sprintf("no desk found: %s (is it powered and not connected to another controller?)", cause)
	case errors.As(err, &connectErr):
		return fmt.Sprintf("could not connect to the desk after %d attempts: %v", connectErr.Attempts, connectErr.Err)
	case errors.Is(err, device.ErrNotConnected), errors.Is(err, device.ErrLinkLost):
		return "lost the connection to the desk"
	case errors.Is(err, motion.ErrIncomplete):
		return "the desk did not reach the target height in time"
	case errors.As(err, &writeErr):
		return fmt.Sprintf("the desk rejected a %s command: %v", writeErr.Role, writeErr.Err)
	case errors.Is(err, device.ErrUnsupported):
		return "this platform has no supported Bluetooth stack"
	default:
		return err.Error()
	}
}
