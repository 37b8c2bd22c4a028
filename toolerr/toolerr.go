// Package toolerr defines the error taxonomy shared by tool bodies, the
// session store and the dispatcher.
//
// Three classes exist:
//
//   - UserError: the agent or end user can act on it (bad input, unknown ref,
//     navigation refused, rate limited). Its message is returned verbatim.
//   - ConnectionError: a transport failure against the remote browser that
//     survived the reconnect budget. Its message is returned verbatim.
//   - anything else: internal. Logged in full, surfaced as a generic message.
package toolerr

import (
	"errors"
	"fmt"
	"time"
)

// GenericMessage is what callers see for internal failures.
const GenericMessage = "internal error while executing tool"

// UserError is a failure whose message is meant for the agent.
type UserError struct {
	Msg   string
	Cause error
}

func (e *UserError) Error() string { return e.Msg }

func (e *UserError) Unwrap() error { return e.Cause }

// User builds a UserError from a format string.
func User(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

// UserWrap builds a UserError that keeps cause for errors.Is/As.
func UserWrap(cause error, format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// RateLimitError is returned when the rate gate denies a call.
type RateLimitError struct {
	Limit      int
	Period     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d calls per %s, retry in %s",
		e.Limit, e.Period, e.RetryAfter.Round(time.Second))
}

// ConnectionError is a remote browser transport failure for one domain.
type ConnectionError struct {
	Domain   string
	Attempts int
	Cause    error
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("browser connection for %s failed after %d attempts: %v", e.Domain, e.Attempts, e.Cause)
	}
	return fmt.Sprintf("browser connection for %s failed: %v", e.Domain, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// IsUser reports whether err is user-facing (UserError or RateLimitError).
func IsUser(err error) bool {
	var ue *UserError
	var rl *RateLimitError
	return errors.As(err, &ue) || errors.As(err, &rl)
}

// IsConnection reports whether err carries a ConnectionError.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

// Public returns the message safe to hand back over the protocol.
func Public(err error) string {
	if err == nil {
		return ""
	}
	if IsUser(err) || IsConnection(err) {
		return err.Error()
	}
	return GenericMessage
}
