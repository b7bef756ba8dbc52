package rpc

// ConnectionState is the observable lifecycle phase of the underlying
// transport. Transitions are driven by the transport; the session only
// observes and reports.
type ConnectionState int32

const (
    StateInitial ConnectionState = iota
    StateConnected
    StateDisconnected
    StateReset
    StateUnknown
)

func (s ConnectionState) String() string {
    switch s {
    case StateInitial:
        return "initial"
    case StateConnected:
        return "connected"
    case StateDisconnected:
        return "disconnected"
    case StateReset:
        return "reset"
    default:
        return "unknown"
    }
}
