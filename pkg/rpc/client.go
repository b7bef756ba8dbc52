// Package rpc implements the typed remote-call session against a vehicle
// simulation server: connection-state tracking, blocking call dispatch with a
// session-wide timeout, version negotiation and cancellable long-running
// task handles.
package rpc

import (
    "context"
    "errors"
    "fmt"
    "io"
    "net"
    "sync"
    "sync/atomic"
    "syscall"
    "time"

    "go.uber.org/zap"

    "simlink/pkg/protocol"
    "simlink/pkg/protocol/codec"
    "simlink/pkg/protocol/stream"
    "simlink/pkg/transport"
)

// Options configures a client session. CallTimeout applies to every call on
// the session as a whole-call budget; multi-hour maneuvers need a
// correspondingly large value here, not per call.
type Options struct {
    Address   string
    Transport transport.Transport

    DialTimeout  time.Duration // transport dial budget (default 20s)
    CallTimeout  time.Duration // whole-call response budget (default 60s)
    PollInterval time.Duration // ConfirmConnection poll pause (default 1s)

    Format   protocol.Format // wire body format (default canonical CBOR)
    Registry *codec.Registry // nil uses the built-in registry

    Version          int  // client version reported in negotiation (default ClientVersion)
    MinServerVersion int  // oldest acceptable server (default MinRequiredServerVersion)
    Strict           bool // close the session on version mismatch

    // Progress, when set, receives one indicator byte per unsuccessful
    // connection poll ("X", matching the reference client output).
    Progress io.Writer
}

func (o *Options) withDefaults() Options {
    out := *o
    if out.DialTimeout <= 0 { out.DialTimeout = 20 * time.Second }
    if out.CallTimeout <= 0 { out.CallTimeout = 60 * time.Second }
    if out.PollInterval <= 0 { out.PollInterval = time.Second }
    if out.Format == protocol.FormatUnknown { out.Format = protocol.FormatCBOR }
    if out.Registry == nil { out.Registry = codec.NewRegistry() }
    if out.Version == 0 { out.Version = ClientVersion }
    if out.MinServerVersion == 0 { out.MinServerVersion = MinRequiredServerVersion }
    return out
}

// Client is one live (or recently live) session to a simulation server. It
// exclusively owns its transport connection; all calls are serialized onto
// it and block the calling goroutine until a response or the call budget.
type Client struct {
    opts Options
    cdc  codec.Codec

    state atomic.Int32

    mu        sync.Mutex
    sc        *stream.Conn
    pending   map[[16]byte]chan *protocol.Envelope
    tasks     map[string]*Task
    lastTask  *Task
    earlyDone map[string]taskDoneBody
    taskCalls int // CallTask invocations between send and handle registration

    closed    chan struct{}
    closeOnce sync.Once
}

// Dial starts a session. Establishment is asynchronous: the returned client
// starts in StateInitial and callers poll State or use ConfirmConnection,
// since the transport may take time to come up.
func Dial(opts Options) (*Client, error) {
    if opts.Transport == nil {
        return nil, errors.New("rpc: no transport")
    }
    if opts.Address == "" {
        return nil, errors.New("rpc: no address")
    }
    opts = opts.withDefaults()
    cdc, err := protocol.CodecFor(opts.Registry, opts.Format)
    if err != nil { return nil, err }
    c := &Client{
        opts:      opts,
        cdc:       cdc,
        pending:   make(map[[16]byte]chan *protocol.Envelope),
        tasks:     make(map[string]*Task),
        earlyDone: make(map[string]taskDoneBody),
        closed:    make(chan struct{}),
    }
    c.state.Store(int32(StateInitial))
    go c.dialAndServe()
    return c, nil
}

// State reports the current connection state. Safe to call from any
// goroutine while I/O is in flight.
func (c *Client) State() ConnectionState { return ConnectionState(c.state.Load()) }

// Ping checks server liveness. False on any failure.
func (c *Client) Ping() bool {
    var ok bool
    if err := c.Call("ping", &ok); err != nil {
        return false
    }
    return ok
}

// Reset asks the server to reset the simulation to its initial state. Local
// session bookkeeping is untouched beyond whatever the transport reports.
func (c *Client) Reset() error { return c.Call("reset", nil) }

// Close tears the session down. Outstanding calls fail with ConnectionError
// and outstanding task handles resolve as failed.
func (c *Client) Close() error {
    c.state.Store(int32(StateDisconnected))
    c.mu.Lock()
    sc := c.sc
    c.mu.Unlock()
    var err error
    if sc != nil { err = sc.Close() }
    c.shutdown()
    return err
}

// ConfirmConnection polls the connection state until Connected, emitting a
// progress indicator per unsuccessful poll, then negotiates versions and
// logs the outcome. Bounded by ctx: pass a deadline or cancellable context
// rather than waiting forever. Version mismatch is advisory unless the
// session was built with Strict.
func (c *Client) ConfirmConnection(ctx context.Context) (VersionInfo, error) {
    for c.State() != StateConnected {
        if st := c.State(); st == StateDisconnected || st == StateReset {
            return VersionInfo{}, &ConnectionError{Op: "confirmConnection", State: st}
        }
        if c.opts.Progress != nil { fmt.Fprint(c.opts.Progress, "X") }
        select {
        case <-ctx.Done():
            return VersionInfo{}, &ConnectionError{Op: "confirmConnection", State: c.State(), Err: ctx.Err()}
        case <-c.closed:
            return VersionInfo{}, &ConnectionError{Op: "confirmConnection", State: c.State()}
        case <-time.After(c.opts.PollInterval):
        }
    }
    if c.opts.Progress != nil { fmt.Fprintln(c.opts.Progress, "\nConnected!") }

    info, err := c.NegotiateVersion()
    if err != nil {
        var ve *VersionError
        if errors.As(err, &ve) {
            zap.L().Warn(ve.Info.Banner())
            zap.L().Warn(ve.advice())
            if c.opts.Strict {
                _ = c.Close()
                return info, err
            }
            // advisory: reported, session continues
            return info, nil
        }
        return info, err
    }
    zap.L().Info(info.Banner())
    return info, nil
}

// Call invokes a named remote operation with typed arguments and blocks
// until the decoded result lands in out (pass nil for void methods), or the
// call fails. Exactly one outcome per invocation: a decoded value, a
// *RemoteError, a *ProtocolError, a *TimeoutError or a *ConnectionError.
func (c *Client) Call(method string, out any, args ...any) error {
    _, err := c.invoke(method, out, 0, args)
    return err
}

// CallTask invokes a long-running remote operation and returns an owned
// handle to it. The session tracks only the newest handle: the server
// cancels a previous task still in progress and its handle resolves as
// cancelled.
func (c *Client) CallTask(method string, args ...any) (*Task, error) {
    c.mu.Lock()
    c.taskCalls++
    c.mu.Unlock()
    rb, err := c.invoke(method, nil, protocol.FlagTask, args)
    if err != nil || rb.TaskID == "" {
        c.mu.Lock()
        c.taskCalls--
        c.mu.Unlock()
        if err != nil {
            return nil, err
        }
        return nil, &ProtocolError{Method: method, Reason: "server assigned no task id"}
    }
    t := &Task{id: rb.TaskID, client: c, done: make(chan struct{})}
    c.mu.Lock()
    c.taskCalls--
    if done, ok := c.earlyDone[t.id]; ok {
        // completion raced ahead of handle registration
        delete(c.earlyDone, t.id)
        c.lastTask = t
        c.mu.Unlock()
        t.resolve(TaskOutcome(done.Outcome), done.Error)
        return t, nil
    }
    c.tasks[t.id] = t
    c.lastTask = t
    c.mu.Unlock()
    return t, nil
}

// LastTask returns the newest task handle the session knows of, or nil.
func (c *Client) LastTask() *Task {
    c.mu.Lock(); defer c.mu.Unlock()
    return c.lastTask
}

// CancelLastTask asks the server to cancel its most recent long-running
// task. It does not block for cancellation to take effect.
func (c *Client) CancelLastTask() error { return c.Call("cancelLastTask", nil) }

func (c *Client) isLastTask(t *Task) bool {
    c.mu.Lock(); defer c.mu.Unlock()
    return c.lastTask == t
}

func (c *Client) invoke(method string, out any, flags uint32, args []any) (resultBody, error) {
    if st := c.State(); st != StateConnected {
        return resultBody{}, &ConnectionError{Op: method, State: st}
    }

    raw := make([][]byte, len(args))
    for i, a := range args {
        b, err := c.cdc.Marshal(a)
        if err != nil {
            return resultBody{}, fmt.Errorf("rpc: %s: encode argument %d: %w", method, i, err)
        }
        raw[i] = b
    }
    payload, err := protocol.EncodeBody(c.opts.Registry, c.opts.Format, callBody{Method: method, Args: raw})
    if err != nil {
        return resultBody{}, fmt.Errorf("rpc: %s: encode call: %w", method, err)
    }
    corr, err := protocol.NewCorrelation()
    if err != nil {
        return resultBody{}, fmt.Errorf("rpc: %s: correlation: %w", method, err)
    }
    env := &protocol.Envelope{
        Header: protocol.Header{
            Version:     protocol.Version,
            Type:        protocol.MsgCall,
            Flags:       flags,
            Correlation: corr,
        },
        Payload: payload,
    }

    ch := make(chan *protocol.Envelope, 1)
    c.mu.Lock()
    sc := c.sc
    if sc == nil {
        c.mu.Unlock()
        return resultBody{}, &ConnectionError{Op: method, State: c.State()}
    }
    c.pending[corr] = ch
    c.mu.Unlock()
    defer func() {
        c.mu.Lock()
        delete(c.pending, corr)
        c.mu.Unlock()
    }()

    if err := sc.Send(env); err != nil {
        c.state.Store(int32(StateDisconnected))
        return resultBody{}, &ConnectionError{Op: method, State: StateDisconnected, Err: err}
    }

    timer := time.NewTimer(c.opts.CallTimeout)
    defer timer.Stop()
    select {
    case resp := <-ch:
        return c.decodeResult(method, out, resp)
    case <-timer.C:
        return resultBody{}, &TimeoutError{Method: method, Budget: c.opts.CallTimeout}
    case <-c.closed:
        return resultBody{}, &ConnectionError{Op: method, State: c.State()}
    }
}

func (c *Client) decodeResult(method string, out any, resp *protocol.Envelope) (resultBody, error) {
    var rb resultBody
    if _, err := protocol.DecodeBody(c.opts.Registry, resp.Payload, &rb); err != nil {
        return resultBody{}, &ProtocolError{Method: method, Reason: fmt.Sprintf("malformed result: %v", err)}
    }
    switch resp.Header.Status {
    case protocol.StatusOK:
        if out != nil && len(rb.Value) > 0 {
            if err := c.cdc.Unmarshal(rb.Value, out); err != nil {
                return resultBody{}, &ProtocolError{Method: method, Reason: fmt.Sprintf("decode result: %v", err)}
            }
        }
        return rb, nil
    case protocol.StatusRemoteError:
        return resultBody{}, &RemoteError{Method: method, Message: rb.Error}
    case protocol.StatusUnknownMethod:
        reason := rb.Error
        if reason == "" { reason = "unknown method" }
        return resultBody{}, &ProtocolError{Method: method, Reason: reason}
    case protocol.StatusBadPayload:
        reason := rb.Error
        if reason == "" { reason = "bad payload" }
        return resultBody{}, &ProtocolError{Method: method, Reason: reason}
    default:
        return resultBody{}, &ProtocolError{Method: method, Reason: fmt.Sprintf("unknown status %d", resp.Header.Status)}
    }
}

func (c *Client) dialAndServe() {
    ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
    conn, err := c.opts.Transport.Dial(ctx, c.opts.Address)
    cancel()
    if err != nil {
        zap.L().Warn("dial failed",
            zap.String("kind", c.opts.Transport.Kind().String()),
            zap.String("addr", c.opts.Address),
            zap.Error(err))
        c.state.Store(int32(StateDisconnected))
        c.shutdown()
        return
    }
    sc := stream.New(conn)
    c.mu.Lock()
    select {
    case <-c.closed:
        // Close raced the dial
        c.mu.Unlock()
        _ = sc.Close()
        return
    default:
    }
    c.sc = sc
    c.mu.Unlock()
    c.state.Store(int32(StateConnected))
    zap.L().Debug("session connected",
        zap.String("kind", c.opts.Transport.Kind().String()),
        zap.String("addr", c.opts.Address))
    c.readLoop(sc)
}

func (c *Client) readLoop(sc *stream.Conn) {
    for {
        var e protocol.Envelope
        if err := sc.Recv(&e); err != nil {
            if c.State() == StateConnected {
                c.state.Store(int32(stateForError(err)))
            }
            c.shutdown()
            return
        }
        switch e.Header.Type {
        case protocol.MsgResult:
            c.mu.Lock()
            ch := c.pending[e.Header.Correlation]
            delete(c.pending, e.Header.Correlation)
            c.mu.Unlock()
            if ch != nil {
                env := e
                ch <- &env
            }
        case protocol.MsgTaskDone:
            var tb taskDoneBody
            if _, err := protocol.DecodeBody(c.opts.Registry, e.Payload, &tb); err != nil {
                zap.L().Warn("malformed task completion", zap.Error(err))
                continue
            }
            c.resolveTask(tb)
        default:
            zap.L().Debug("unexpected envelope", zap.Uint8("type", e.Header.Type))
        }
    }
}

func (c *Client) resolveTask(tb taskDoneBody) {
    c.mu.Lock()
    t := c.tasks[tb.TaskID]
    if t == nil {
        if c.taskCalls > 0 {
            // completion may have raced ahead of a handle registration;
            // buffer for CallTask to consume
            c.earlyDone[tb.TaskID] = tb
        } else {
            // no handle will ever claim it (e.g. the call timed out);
            // dropping keeps the buffer from growing unbounded
            zap.L().Debug("task completion without a waiting handle", zap.String("task", tb.TaskID))
        }
        c.mu.Unlock()
        return
    }
    delete(c.tasks, tb.TaskID)
    c.mu.Unlock()
    t.resolve(TaskOutcome(tb.Outcome), tb.Error)
}

// shutdown releases everything blocked on the session: pending calls observe
// the closed channel and outstanding task handles resolve as failed so no
// Wait hangs past its timeout.
func (c *Client) shutdown() {
    c.closeOnce.Do(func() {
        close(c.closed)
        c.mu.Lock()
        tasks := c.tasks
        c.tasks = make(map[string]*Task)
        c.mu.Unlock()
        for _, t := range tasks {
            t.resolve(TaskFailed, "connection closed")
        }
    })
}

// stateForError maps a transport read failure to the observed state.
func stateForError(err error) ConnectionState {
    switch {
    case errors.Is(err, syscall.ECONNRESET):
        return StateReset
    case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
        return StateDisconnected
    default:
        var ne net.Error
        if errors.As(err, &ne) {
            return StateDisconnected
        }
        return StateUnknown
    }
}
