package ttp

import "fmt"

// ProtocolError wraps a device "-ERR" reply so callers can distinguish a
// rejected command from a transport or timeout failure via errors.As.
type ProtocolError struct {
	Command string
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("command %q rejected: %s", e.Command, e.Message)
}

// AsProtocolError builds a *ProtocolError from an Error-kind Response.
func AsProtocolError(command string, resp Response) *ProtocolError {
	return &ProtocolError{Command: command, Message: resp.ErrMessage}
}
