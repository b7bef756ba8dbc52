package rpc

import (
    "fmt"
    "time"
)

// ConnectionError reports a transport that was down or dropped mid-call.
// Recoverable by dialing a new session; the core never retries on its own.
type ConnectionError struct {
    Op    string
    State ConnectionState
    Err   error
}

func (e *ConnectionError) Error() string {
    if e.Err != nil {
        return fmt.Sprintf("rpc: %s: connection %s: %v", e.Op, e.State, e.Err)
    }
    return fmt.Sprintf("rpc: %s: connection %s", e.Op, e.State)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports that no response arrived within the session's call budget.
type TimeoutError struct {
    Method string
    Budget time.Duration
}

func (e *TimeoutError) Error() string {
    return fmt.Sprintf("rpc: %s: no response within %s", e.Method, e.Budget)
}

// ProtocolError reports an unknown method or a malformed payload.
// Fatal to the call, not to the session.
type ProtocolError struct {
    Method string
    Reason string
}

func (e *ProtocolError) Error() string {
    return fmt.Sprintf("rpc: %s: protocol error: %s", e.Method, e.Reason)
}

// RemoteError carries a failure the server reported for a method it executed.
// The message is surfaced verbatim.
type RemoteError struct {
    Method  string
    Message string
}

func (e *RemoteError) Error() string {
    return fmt.Sprintf("rpc: %s: remote error: %s", e.Method, e.Message)
}

// ArgError reports a call argument that could not be decoded into the
// handler's expected type. Server-side it maps to a bad-payload status.
type ArgError struct {
    Index int
    Err   error
}

func (e *ArgError) Error() string {
    return fmt.Sprintf("rpc: argument %d: %v", e.Index, e.Err)
}

func (e *ArgError) Unwrap() error { return e.Err }
