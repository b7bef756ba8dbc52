// Package factory constructs transports by configured kind name.
package factory

import (
    "fmt"

    "simlink/pkg/transport"
    "simlink/pkg/transport/mem"
    "simlink/pkg/transport/quic"
    "simlink/pkg/transport/tcp"
)

// shared mem transport so dialers and listeners in one process can meet.
var sharedMem = mem.New()

// NewByKind returns a transport for a kind name: tcp|quic|mem|winpipe.
// winpipe is only available on windows builds.
func NewByKind(kind string) (transport.Transport, error) {
    switch kind {
    case "tcp":
        return tcp.New(), nil
    case "quic":
        return quic.New()
    case "mem":
        return sharedMem, nil
    case "winpipe":
        return newWinPipe()
    default:
        return nil, fmt.Errorf("unknown transport kind: %q", kind)
    }
}
