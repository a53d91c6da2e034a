package device

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		expected string
	}{
		{
			name:     "resource only",
			err:      &NotFoundError{Resource: "service"},
			expected: "service not found",
		},
		{
			name:     "service UUID",
			err:      &NotFoundError{Resource: "service", UUIDs: []string{"99fa0030"}},
			expected: `service "99fa0030" not found`,
		},
		{
			name:     "characteristic in service",
			err:      &NotFoundError{Resource: "characteristic", UUIDs: []string{"99fa0030", "99fa0031"}},
			expected: `characteristic "99fa0031" not found in service "99fa0030"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestConnectionError(t *testing.T) {
	t.Run("formats state and message", func(t *testing.T) {
		err := &ConnectionError{State: NotConnected, Msg: "desk is asleep"}
		assert.Equal(t, "not_connected: desk is asleep", err.Error())
		assert.Equal(t, "not_connected", ErrNotConnected.Error())
	})

	t.Run("compares by state through wrapping", func(t *testing.T) {
		err := fmt.Errorf("move aborted: %w", &ConnectionError{State: NotConnected, Msg: "gone"})

		assert.ErrorIs(t, err, ErrNotConnected)
		assert.NotErrorIs(t, err, ErrAlreadyConnected)
		assert.True(t, IsConnectionState(err, NotConnected))
		assert.False(t, IsConnectionState(errors.New("plain"), NotConnected))
	})

	t.Run("nil receiver", func(t *testing.T) {
		var err *ConnectionError
		assert.Equal(t, "<nil>", err.Error())
		assert.False(t, err.Is(ErrNotConnected))
	})
}
