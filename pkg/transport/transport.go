// Package transport defines the narrow connection capability the RPC layer
// depends on, plus concrete TCP, QUIC, in-memory and named-pipe variants.
package transport

import (
    "context"
    "net"
)

// Kind identifies the transport/link type.
type Kind int

const (
    KindUnknown Kind = iota
    KindTCP
    KindQUIC
    KindMem
    KindWinPipe
)

func (k Kind) String() string {
    switch k {
    case KindTCP:
        return "tcp"
    case KindQUIC:
        return "quic"
    case KindMem:
        return "mem"
    case KindWinPipe:
        return "winpipe"
    default:
        return "unknown"
    }
}

// Conn is a bidirectional message-frame stream. SendBytes is safe for
// concurrent use; RecvBytes expects a single reader goroutine.
type Conn interface {
    // SendBytes sends one frame as opaque bytes.
    SendBytes([]byte) error
    // RecvBytes receives the next frame.
    RecvBytes() ([]byte, error)
    LocalAddr() net.Addr
    RemoteAddr() net.Addr
    Close() error
}

// Listener accepts inbound connections.
type Listener interface {
    // Accept blocks until an inbound connection is available or ctx is done.
    Accept(ctx context.Context) (Conn, error)
    // Addr returns the local listening address.
    Addr() net.Addr
    // Close stops the listener and unblocks Accept.
    Close() error
}

// Transport provides dialing/listening for a specific link kind.
type Transport interface {
    Kind() Kind
    // Listen starts accepting inbound connections on address (transport-specific format).
    Listen(ctx context.Context, address string) (Listener, error)
    // Dial creates an outbound connection to address.
    Dial(ctx context.Context, address string) (Conn, error)
}
