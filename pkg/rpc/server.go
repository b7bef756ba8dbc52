package rpc

import (
    "context"
    "errors"
    "sync"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "simlink/pkg/protocol"
    "simlink/pkg/protocol/codec"
    "simlink/pkg/protocol/stream"
    "simlink/pkg/transport"
)

// Handler executes one named operation. Returned errors surface to the
// client verbatim as remote errors, except *ArgError which maps to a
// bad-payload protocol fault.
type Handler func(ctx context.Context, args *Args) (any, error)

// Args is the decoded argument tuple of one call.
type Args struct {
    cdc codec.Codec
    raw [][]byte
}

// Len returns the number of arguments the caller supplied.
func (a *Args) Len() int { return len(a.raw) }

// Decode unmarshals argument i into v.
func (a *Args) Decode(i int, v any) error {
    if i < 0 || i >= len(a.raw) {
        return &ArgError{Index: i, Err: errors.New("missing argument")}
    }
    if err := a.cdc.Unmarshal(a.raw[i], v); err != nil {
        return &ArgError{Index: i, Err: err}
    }
    return nil
}

// ServerOptions tunes the server's negotiation constants and wire format.
type ServerOptions struct {
    Version          int // reported via getServerVersion (default ServerVersion)
    MinClientVersion int // reported via getMinRequiredClientVersion (default MinRequiredClientVersion)

    Format   protocol.Format
    Registry *codec.Registry
}

// Server dispatches named calls from any number of client sessions against a
// registered operation table. Each session gets its own single task slot:
// a new long-running call supersedes (cancels) the previous task.
type Server struct {
    opts ServerOptions
    cdc  codec.Codec

    mu      sync.RWMutex
    methods map[string]serverMethod

    tracker *transport.Tracker
}

type serverMethod struct {
    h    Handler
    task bool
}

func NewServer(opts ServerOptions) (*Server, error) {
    if opts.Version == 0 { opts.Version = ServerVersion }
    if opts.MinClientVersion == 0 { opts.MinClientVersion = MinRequiredClientVersion }
    if opts.Format == protocol.FormatUnknown { opts.Format = protocol.FormatCBOR }
    if opts.Registry == nil { opts.Registry = codec.NewRegistry() }
    cdc, err := protocol.CodecFor(opts.Registry, opts.Format)
    if err != nil { return nil, err }
    s := &Server{
        opts:    opts,
        cdc:     cdc,
        methods: make(map[string]serverMethod),
        tracker: transport.NewTracker(),
    }
    s.registerBuiltins()
    return s, nil
}

func (s *Server) registerBuiltins() {
    s.Handle("ping", func(context.Context, *Args) (any, error) { return true, nil })
    s.Handle("getServerVersion", func(context.Context, *Args) (any, error) { return s.opts.Version, nil })
    s.Handle("getMinRequiredClientVersion", func(context.Context, *Args) (any, error) { return s.opts.MinClientVersion, nil })
}

// Handle registers a unary operation.
func (s *Server) Handle(name string, h Handler) {
    s.mu.Lock(); defer s.mu.Unlock()
    s.methods[name] = serverMethod{h: h}
}

// HandleTask registers a long-running operation. The handler runs on its own
// goroutine with a context cancelled by cancelLastTask or by a superseding
// long-running call; a context.Canceled return resolves the task as
// cancelled rather than failed.
func (s *Server) HandleTask(name string, h Handler) {
    s.mu.Lock(); defer s.mu.Unlock()
    s.methods[name] = serverMethod{h: h, task: true}
}

// Sessions returns the number of live client sessions.
func (s *Server) Sessions() int { return s.tracker.Count() }

// Serve accepts sessions until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context, l transport.Listener) error {
    for {
        conn, err := l.Accept(ctx)
        if err != nil {
            select {
            case <-ctx.Done():
                return ctx.Err()
            default:
            }
            return err
        }
        zap.L().Info("inbound session", zap.String("raddr", conn.RemoteAddr().String()))
        s.tracker.Add(conn)
        go func() {
            defer s.tracker.Remove(conn)
            s.ServeConn(ctx, conn)
        }()
    }
}

// ServeConn runs the dispatch loop for one client session.
func (s *Server) ServeConn(ctx context.Context, conn transport.Conn) {
    sc := stream.New(conn)
    slot := &taskSlot{}
    defer slot.cancelCurrent()
    for {
        var e protocol.Envelope
        if err := sc.Recv(&e); err != nil {
            zap.L().Debug("session closed", zap.Error(err))
            return
        }
        if e.Header.Type != protocol.MsgCall {
            zap.L().Debug("unexpected envelope", zap.Uint8("type", e.Header.Type))
            continue
        }
        var cb callBody
        if _, err := protocol.DecodeBody(s.opts.Registry, e.Payload, &cb); err != nil {
            s.reply(sc, e.Header.Correlation, protocol.StatusBadPayload, resultBody{Error: "malformed call body"})
            continue
        }
        s.dispatch(ctx, sc, slot, &e, &cb)
    }
}

func (s *Server) dispatch(ctx context.Context, sc *stream.Conn, slot *taskSlot, e *protocol.Envelope, cb *callBody) {
    if cb.Method == "cancelLastTask" {
        slot.cancelCurrent()
        s.reply(sc, e.Header.Correlation, protocol.StatusOK, resultBody{})
        return
    }
    s.mu.RLock()
    m, ok := s.methods[cb.Method]
    s.mu.RUnlock()
    if !ok {
        s.reply(sc, e.Header.Correlation, protocol.StatusUnknownMethod, resultBody{Error: "unknown method: " + cb.Method})
        return
    }
    args := &Args{cdc: s.cdc, raw: cb.Args}

    if m.task || e.HasFlag(protocol.FlagTask) {
        s.startTask(ctx, sc, slot, e, cb.Method, m.h, args)
        return
    }

    res, err := m.h(ctx, args)
    if err != nil {
        s.replyErr(sc, e.Header.Correlation, cb.Method, err)
        return
    }
    s.replyValue(sc, e.Header.Correlation, cb.Method, res, "")
}

// startTask runs a long-running handler on its own goroutine. The immediate
// reply carries the task id; completion goes out later as MsgTaskDone.
func (s *Server) startTask(ctx context.Context, sc *stream.Conn, slot *taskSlot, e *protocol.Envelope, method string, h Handler, args *Args) {
    id := uuid.NewString()
    tctx, cancel := context.WithCancel(ctx)
    slot.replace(&taskRec{id: id, cancel: cancel})
    s.replyValue(sc, e.Header.Correlation, method, nil, id)

    go func() {
        _, err := h(tctx, args)
        outcome := TaskCompleted
        msg := ""
        switch {
        case err == nil:
        case errors.Is(err, context.Canceled):
            outcome = TaskCancelled
        default:
            outcome = TaskFailed
            msg = err.Error()
        }
        slot.clear(id)
        s.sendTaskDone(sc, e.Header.Correlation, taskDoneBody{TaskID: id, Outcome: uint8(outcome), Error: msg})
        zap.L().Debug("task finished",
            zap.String("method", method),
            zap.String("task", id),
            zap.Stringer("outcome", outcome))
    }()
}

func (s *Server) replyValue(sc *stream.Conn, corr [16]byte, method string, res any, taskID string) {
    rb := resultBody{TaskID: taskID}
    if res != nil {
        b, err := s.cdc.Marshal(res)
        if err != nil {
            zap.L().Error("encode result", zap.String("method", method), zap.Error(err))
            s.reply(sc, corr, protocol.StatusRemoteError, resultBody{Error: "result encoding failed"})
            return
        }
        rb.Value = b
    }
    s.reply(sc, corr, protocol.StatusOK, rb)
}

func (s *Server) replyErr(sc *stream.Conn, corr [16]byte, method string, err error) {
    var ae *ArgError
    if errors.As(err, &ae) {
        s.reply(sc, corr, protocol.StatusBadPayload, resultBody{Error: err.Error()})
        return
    }
    zap.L().Debug("method failed", zap.String("method", method), zap.Error(err))
    s.reply(sc, corr, protocol.StatusRemoteError, resultBody{Error: err.Error()})
}

func (s *Server) reply(sc *stream.Conn, corr [16]byte, status uint8, rb resultBody) {
    payload, err := protocol.EncodeBody(s.opts.Registry, s.opts.Format, rb)
    if err != nil {
        zap.L().Error("encode reply", zap.Error(err))
        return
    }
    env := &protocol.Envelope{
        Header: protocol.Header{
            Version:     protocol.Version,
            Type:        protocol.MsgResult,
            Status:      status,
            Correlation: corr,
        },
        Payload: payload,
    }
    if err := sc.Send(env); err != nil {
        zap.L().Debug("send reply", zap.Error(err))
    }
}

func (s *Server) sendTaskDone(sc *stream.Conn, corr [16]byte, tb taskDoneBody) {
    payload, err := protocol.EncodeBody(s.opts.Registry, s.opts.Format, tb)
    if err != nil {
        zap.L().Error("encode task completion", zap.Error(err))
        return
    }
    env := &protocol.Envelope{
        Header: protocol.Header{
            Version:     protocol.Version,
            Type:        protocol.MsgTaskDone,
            Correlation: corr,
        },
        Payload: payload,
    }
    if err := sc.Send(env); err != nil {
        zap.L().Debug("send task completion", zap.Error(err))
    }
}

// taskSlot is the single per-session task: starting a new long-running call
// cancels whatever was still in progress.
type taskSlot struct {
    mu  sync.Mutex
    cur *taskRec
}

type taskRec struct {
    id     string
    cancel context.CancelFunc
}

func (ts *taskSlot) replace(r *taskRec) {
    ts.mu.Lock()
    prev := ts.cur
    ts.cur = r
    ts.mu.Unlock()
    if prev != nil { prev.cancel() }
}

func (ts *taskSlot) clear(id string) {
    ts.mu.Lock()
    if ts.cur != nil && ts.cur.id == id {
        ts.cur.cancel()
        ts.cur = nil
    }
    ts.mu.Unlock()
}

func (ts *taskSlot) cancelCurrent() {
    ts.mu.Lock()
    cur := ts.cur
    ts.mu.Unlock()
    if cur != nil { cur.cancel() }
}
