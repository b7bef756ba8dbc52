package stream

import (
    "simlink/pkg/protocol"
    "simlink/pkg/transport"
)

// Conn adapts a transport connection to typed Envelope exchange.
type Conn struct {
    c transport.Conn
}

func New(c transport.Conn) *Conn { return &Conn{c: c} }

func (c *Conn) Send(e *protocol.Envelope) error {
    frame, err := e.EncodeFrame()
    if err != nil { return err }
    return c.c.SendBytes(frame)
}

func (c *Conn) Recv(e *protocol.Envelope) error {
    buf, err := c.c.RecvBytes()
    if err != nil { return err }
    return e.DecodeFrame(buf)
}

func (c *Conn) Close() error { return c.c.Close() }
