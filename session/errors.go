package session

import "errors"

// ErrClosed is returned by Submit when the engine has been closed, either
// by the caller or because the transport dropped out from under it.
var ErrClosed = errors.New("session: engine closed")

// ErrConnectTimeout is returned by Start when the transport never signals
// it is connected within the configured timeout.
var ErrConnectTimeout = errors.New("session: timed out waiting for transport to connect")

// TimeoutError is returned by Submit when a command is written but no
// reply arrives before the engine's command timeout elapses. The command
// may or may not have been processed by the device; callers cannot tell.
type TimeoutError struct {
	Line string
}

func (e *TimeoutError) Error() string {
	return "session: timed out waiting for reply to " + e.Line
}
