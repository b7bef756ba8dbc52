//go:build !windows

package factory

import (
    "errors"

    "simlink/pkg/transport"
)

func newWinPipe() (transport.Transport, error) {
    return nil, errors.New("winpipe transport requires windows")
}
