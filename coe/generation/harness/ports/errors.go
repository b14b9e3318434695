package harnessports

import (
	"errors"
	"fmt"
)

// ErrNetworkUnreachable marks connectivity failures (DNS, refused, reset) that
// survived the fallback retry.
var ErrNetworkUnreachable = errors.New("backend unreachable")

// ErrMultipleTools is returned by a Toolkit asked for a single named tool when
// it can only expose several.
var ErrMultipleTools = errors.New("toolkit exposes more than one tool")

// ProtocolError reports a reachable backend that answered with a non-2xx
// status, a body that is not JSON, or did not answer before the deadline.
type ProtocolError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Body       string
	Err        error
}

func (e *ProtocolError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("backend %s returned %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("backend %s returned %d: %s", e.URL, e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("backend %s: %v", e.URL, e.Err)
	}
}

func (e *ProtocolError) Unwrap() error { return e.Err }
