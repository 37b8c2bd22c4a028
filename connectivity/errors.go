package connectivity

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrStatus is a non-2xx upstream reply.
type ErrStatus struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *ErrStatus) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("connectivity: %s %s: status %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("connectivity: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Temporary reports whether retrying the same call may succeed.
func (e *ErrStatus) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ErrCircuitOpen is returned when the breaker for a service is open and
// the call was rejected without reaching the upstream.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("connectivity: circuit open: %s", e.Service)
}

// ErrPanic wraps a recovered panic value as an error.
type ErrPanic struct {
	Value any
}

func (e *ErrPanic) Error() string {
	return fmt.Sprintf("connectivity: handler panicked: %v", e.Value)
}

// IsStatus reports whether err carries an upstream reply with the given status.
func IsStatus(err error, status int) bool {
	var se *ErrStatus
	return errors.As(err, &se) && se.Status == status
}

// Retryable reports whether err is worth another attempt: transport errors
// and temporary statuses are, client errors, open circuits and panics are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		se *ErrStatus
		co *ErrCircuitOpen
		pe *ErrPanic
	)
	switch {
	case errors.As(err, &se):
		return se.Temporary()
	case errors.As(err, &co), errors.As(err, &pe):
		return false
	}
	return true
}
