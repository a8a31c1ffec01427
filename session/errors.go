package session

import "fmt"

// ConnectionError means the transport to the relay couldn't be established.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("can't connect to the relay: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError means the relay sent a reply we didn't expect at this point
// of the session, or a line that isn't a reply at all.
type ProtocolError struct {
	// Step names the command the reply answered, e.g., "RCPT TO"
	Step string
	// Code and Expected are zero for malformed replies
	Code     int
	Expected Class
	// Message is the relay's reply text, verbatim, or "malformed reply"
	Message string
	// Line is the offending line for malformed replies
	Line string
}

// Error returns the relay's own message, so callers can show users exactly
// why their mail was refused.
func (e *ProtocolError) Error() string {
	return e.Message
}

// IOError means reading from or writing to an established transport failed.
type IOError struct {
	Step string
	Err  error
}

func (e *IOError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("relay connection failed: %v", e.Err)
	}
	return fmt.Sprintf("relay connection failed during %v: %v", e.Step, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
