package rpc

import (
	"fmt"
	"strings"
)

// RemoteError is a call the peer answered with a failure status.
type RemoteError struct {
	Method  string
	Status  int
	Message string
	Errors  []string
}

func (e *RemoteError) Error() string {
	if len(e.Errors) > 1 {
		return fmt.Sprintf("rpc %s: %s (%d errors)", e.Method, e.Message, len(e.Errors))
	}
	return fmt.Sprintf("rpc %s: %s", e.Method, e.Message)
}

// Retryable reports whether the status suggests a transient failure.
func (e *RemoteError) Retryable() bool {
	return e.Status >= 500
}

// ErrorList aggregates independent failures into one error. Handlers that
// return one send every message to the caller.
type ErrorList []error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, err := range l {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(l), strings.Join(msgs, "; "))
}

func (l ErrorList) Unwrap() []error {
	return l
}

// Strings returns the message of each error.
func Strings(errs []error) []string {
	out := make([]string, 0, len(errs))
	for _, err := range errs {
		out = append(out, err.Error())
	}
	return out
}

// UnavailableError marks a handler failure the caller may retry.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return e.Err.Error() }

func (e *UnavailableError) Unwrap() error { return e.Err }

// Unavailable wraps err as retryable.
func Unavailable(err error) error {
	return &UnavailableError{Err: err}
}
