package browser

import (
	"errors"
	"fmt"
)

// errNotConnected is wrapped in a ConnectionError when an operation needs a
// page but Connect has not succeeded.
var errNotConnected = errors.New("not connected")

// ConnectionError reports a failure to attach to or keep a browser session.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string { return fmt.Sprintf("browser: connection: %v", e.Err) }

func (e *ConnectionError) Unwrap() error { return e.Err }

// NavigationError reports a page load that failed or timed out.
type NavigationError struct {
	URL string
	Err error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("browser: navigate %s: %v", e.URL, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// SendKind classifies a failed send action.
type SendKind string

const (
	// SendRejected means the platform refused this one send (already sent,
	// rate limited). Retrying the same target will not help.
	SendRejected SendKind = "rejected"
	// SendNotFound means an expected element was missing; the page structure
	// did not match and a reload may help.
	SendNotFound SendKind = "not_found"
	// SendTimeout means a step exceeded its time budget.
	SendTimeout SendKind = "timeout"
)

// SendActionError reports a failed send action.
type SendActionError struct {
	Kind   SendKind
	Reason string
	Err    error
}

func (e *SendActionError) Error() string {
	msg := fmt.Sprintf("browser: send %s: %s", e.Kind, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SendActionError) Unwrap() error { return e.Err }

// IsRejected reports whether err is a SendActionError of kind SendRejected.
func IsRejected(err error) bool {
	var se *SendActionError
	return errors.As(err, &se) && se.Kind == SendRejected
}
