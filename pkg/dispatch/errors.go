package dispatch

import (
	"fmt"
	"time"
)

// TimeoutError reports a hook that exceeded its budget.
type TimeoutError struct {
	Hook  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("hook %s timed out after %s", e.Hook, e.After)
}

// ExecError reports a hook that could not be started, exited with a code
// outside the contract, or returned an error in-process.
type ExecError struct {
	Hook     string
	ExitCode int
	Err      error
}

func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("hook %s: %v", e.Hook, e.Err)
	}
	return fmt.Sprintf("hook %s exited with non-contract code %d", e.Hook, e.ExitCode)
}

func (e *ExecError) Unwrap() error { return e.Err }
