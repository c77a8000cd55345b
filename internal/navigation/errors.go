package navigation

import (
	"errors"
	"fmt"
)

var (
	// ErrSelectorNotFound reports that no candidate selector of a step could be clicked.
	ErrSelectorNotFound = errors.New("selector not found")
	// ErrVerificationTimeout reports that a step's expected element never appeared.
	ErrVerificationTimeout = errors.New("verification timed out")
)

// Kind classifies a navigation failure.
type Kind int

const (
	KindSelectorNotFound Kind = iota + 1
	KindVerificationTimeout
)

func (k Kind) String() string {
	switch k {
	case KindSelectorNotFound:
		return "selector_not_found"
	case KindVerificationTimeout:
		return "verification_timeout"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindSelectorNotFound:
		return ErrSelectorNotFound
	case KindVerificationTimeout:
		return ErrVerificationTimeout
	default:
		return nil
	}
}

// Error describes a failed step. It matches ErrSelectorNotFound or
// ErrVerificationTimeout with errors.Is, according to Kind.
type Error struct {
	Kind     Kind
	Facility string
	Step     int
	Selector string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: facility %s step %d (%s)", e.Kind.sentinel(), e.Facility, e.Step, e.Selector)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel for Kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the navigation failure kind carried by err, or 0.
func KindOf(err error) Kind {
	var navErr *Error
	if errors.As(err, &navErr) {
		return navErr.Kind
	}
	return 0
}
