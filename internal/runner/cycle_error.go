package runner

import (
	"fmt"
	"time"
)

// CycleError reports a failed cycle. The loop logs it and waits for the next tick.
type CycleError struct {
	Started time.Time
	Err     error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle started %s: %v", e.Started.Format(time.RFC3339), e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

func wrapCycle(started time.Time, err error) error {
	if err == nil {
		return nil
	}
	return &CycleError{Started: started, Err: err}
}
