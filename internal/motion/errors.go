package motion

import (
	"errors"
	"fmt"

	"github.com/srg/deskctl/internal/protocol"
)

var (
	// ErrCancelled is returned when a move was stopped, superseded or its context ended.
	ErrCancelled = errors.New("move cancelled")

	// ErrIncomplete is returned when the iteration cap ran out before the target was reached.
	ErrIncomplete = errors.New("move did not complete within its iteration limit")
)

// WriteError reports a failed command write that aborted a move.
type WriteError struct {
	Role protocol.Role
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to %s characteristic failed: %v", e.Role, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
