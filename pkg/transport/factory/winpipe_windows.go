//go:build windows

package factory

import (
    "simlink/pkg/transport"
    "simlink/pkg/transport/winpipe"
)

func newWinPipe() (transport.Transport, error) {
    return winpipe.New(), nil
}
