package peering

import (
	"errors"
	"fmt"
)

var ErrPieceIndex = errors.New("piece index out of range")

// TransportError wraps failures of the underlying connection or HTTP
// exchange: dial errors, short reads and writes, timeouts, closed streams.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("peering: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a peer or tracker that broke the wire protocol.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("peering: protocol error: %s: %v", e.Msg, e.Err)
	}
	return "peering: protocol error: " + e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

func protocolErrorf(format string, args ...any) error {
	return &ProtocolError{Msg: fmt.Sprintf(format, args...)}
}

// IntegrityError means a fully assembled piece did not match its hash. The
// data has been discarded.
type IntegrityError struct {
	Index    int
	Expected [20]byte
	Actual   [20]byte
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("peering: piece %d hash mismatch: expected %x, got %x", e.Index, e.Expected, e.Actual)
}
