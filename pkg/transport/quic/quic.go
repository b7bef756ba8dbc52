package quic

import (
    "bufio"
    "context"
    "crypto/rand"
    "crypto/rsa"
    "crypto/tls"
    "crypto/x509"
    "encoding/binary"
    "errors"
    "fmt"
    "io"
    "math/big"
    "net"
    "sync"
    "time"

    quicgo "github.com/quic-go/quic-go"

    "simlink/pkg/transport"
)

const alpnProto = "simlink"

// Transport implements QUIC-based connections with length-prefixed frames over
// a single bidirectional control stream (opened by the dialer; accepted by the
// listener).
type Transport struct {
    tlsConf  *tls.Config
    quicConf *quicgo.Config
}

func New() (*Transport, error) {
    // Ephemeral self-signed certificate for the server side; clients skip
    // verification, the sim protocol carries no authentication surface.
    cert, err := selfSignedCert()
    if err != nil { return nil, fmt.Errorf("quic: generate certificate: %w", err) }
    tlsConf := &tls.Config{
        Certificates: []tls.Certificate{cert},
        NextProtos:   []string{alpnProto},
        MinVersion:   tls.VersionTLS13,
    }
    return &Transport{tlsConf: tlsConf, quicConf: &quicgo.Config{}}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
    l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
    if err != nil { return nil, err }
    ql := &listener{l: l, closeCh: make(chan struct{})}
    go func() { <-ctx.Done(); _ = ql.Close() }()
    return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
    tlsClient := &tls.Config{
        InsecureSkipVerify: true,
        NextProtos:         []string{alpnProto},
        MinVersion:         tls.VersionTLS13,
    }
    c, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
    if err != nil { return nil, err }
    st, err := c.OpenStreamSync(ctx)
    if err != nil {
        _ = c.CloseWithError(0, "open stream")
        return nil, err
    }
    return newConn(c, st), nil
}

type listener struct {
    l       *quicgo.Listener
    closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
    select {
    case <-l.closeCh:
        return nil, errors.New("quic listener closed")
    default:
    }
    c, err := l.l.Accept(ctx)
    if err != nil { return nil, err }
    // The dialer opens the control stream; accept it here so the conn is
    // ready for frame exchange.
    sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
    st, err := c.AcceptStream(sctx)
    cancel()
    if err != nil {
        _ = c.CloseWithError(0, "accept stream")
        return nil, err
    }
    return newConn(c, st), nil
}

func (l *listener) Close() error {
    select { case <-l.closeCh: default: close(l.closeCh) }
    return l.l.Close()
}

type conn struct {
    mu sync.Mutex
    c  quicgo.Connection
    st quicgo.Stream
    br *bufio.Reader
    bw *bufio.Writer
}

func newConn(c quicgo.Connection, st quicgo.Stream) *conn {
    return &conn{c: c, st: st, br: bufio.NewReader(st), bw: bufio.NewWriter(st)}
}

func (c *conn) LocalAddr() net.Addr  { return c.c.LocalAddr() }
func (c *conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }

func (c *conn) Close() error {
    _ = c.st.Close()
    return c.c.CloseWithError(0, "")
}

// Frame methods: length-prefixed frames (u32 LE)
func (c *conn) SendBytes(b []byte) error {
    c.mu.Lock(); defer c.mu.Unlock()
    var lenbuf [4]byte
    binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
    if _, err := c.bw.Write(lenbuf[:]); err != nil { return err }
    if _, err := c.bw.Write(b); err != nil { return err }
    return c.bw.Flush()
}

func (c *conn) RecvBytes() ([]byte, error) {
    var lenbuf [4]byte
    if _, err := io.ReadFull(c.br, lenbuf[:]); err != nil { return nil, err }
    n := int(binary.LittleEndian.Uint32(lenbuf[:]))
    if n < 0 || n > (1<<30) { return nil, errors.New("invalid frame size") }
    buf := make([]byte, n)
    if _, err := io.ReadFull(c.br, buf); err != nil { return nil, err }
    return buf, nil
}

// selfSignedCert generates a short-lived self-signed TLS certificate for local QUIC use.
func selfSignedCert() (tls.Certificate, error) {
    priv, err := rsa.GenerateKey(rand.Reader, 2048)
    if err != nil { return tls.Certificate{}, err }
    tmpl := x509.Certificate{
        SerialNumber:          big.NewInt(time.Now().UnixNano()),
        NotBefore:             time.Now().Add(-time.Minute),
        NotAfter:              time.Now().Add(24 * time.Hour),
        KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
        ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
        BasicConstraintsValid: true,
        DNSNames:              []string{"localhost"},
    }
    der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
    if err != nil { return tls.Certificate{}, err }
    return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
