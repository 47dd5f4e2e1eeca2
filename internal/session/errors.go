package session

import (
	"fmt"
	"time"
)

// LaunchError reports that the child process could not be started.
type LaunchError struct {
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// SendError reports a failed write to the child's stdin.
type SendError struct {
	Command string
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %q: %v", e.Command, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// ShutdownError reports that the graceful quit did not complete.
// Killed is true when the forced termination that followed succeeded.
type ShutdownError struct {
	Timeout time.Duration
	Killed  bool
	Err     error
}

func (e *ShutdownError) Error() string {
	if e.Killed {
		return fmt.Sprintf("graceful shutdown failed, process killed: %v", e.Err)
	}
	return fmt.Sprintf("shutdown failed: %v", e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }
