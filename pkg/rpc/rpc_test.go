package rpc

import (
    "bytes"
    "context"
    "errors"
    "strings"
    "testing"
    "time"

    "simlink/pkg/transport"
    "simlink/pkg/transport/mem"
)

// newPair starts a server on an in-process transport and dials it, without
// waiting for the connection to confirm.
func newPair(t *testing.T, sopts ServerOptions, copts Options) (*Server, *Client) {
    t.Helper()
    tr := mem.New()
    srv, err := NewServer(sopts)
    if err != nil {
        t.Fatalf("new server: %v", err)
    }
    ctx, cancel := context.WithCancel(context.Background())
    t.Cleanup(cancel)
    l, err := tr.Listen(ctx, "sim")
    if err != nil {
        t.Fatalf("listen: %v", err)
    }
    go func() { _ = srv.Serve(ctx, l) }()

    copts.Address = "sim"
    copts.Transport = tr
    if copts.PollInterval == 0 {
        copts.PollInterval = 5 * time.Millisecond
    }
    if copts.CallTimeout == 0 {
        copts.CallTimeout = 2 * time.Second
    }
    c, err := Dial(copts)
    if err != nil {
        t.Fatalf("dial: %v", err)
    }
    t.Cleanup(func() { _ = c.Close() })
    return srv, c
}

// newConfirmedPair additionally waits for the session to come up.
func newConfirmedPair(t *testing.T, sopts ServerOptions, copts Options) (*Server, *Client) {
    t.Helper()
    srv, c := newPair(t, sopts, copts)
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if _, err := c.ConfirmConnection(ctx); err != nil {
        t.Fatalf("confirm connection: %v", err)
    }
    return srv, c
}

func TestCallRoundTrip(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{})
    srv.Handle("echo", func(_ context.Context, args *Args) (any, error) {
        var s string
        if err := args.Decode(0, &s); err != nil {
            return nil, err
        }
        return s, nil
    })
    srv.Handle("add", func(_ context.Context, args *Args) (any, error) {
        var a, b int
        if err := args.Decode(0, &a); err != nil {
            return nil, err
        }
        if err := args.Decode(1, &b); err != nil {
            return nil, err
        }
        return a + b, nil
    })

    var s string
    if err := c.Call("echo", &s, "marco"); err != nil {
        t.Fatalf("echo: %v", err)
    }
    if s != "marco" {
        t.Fatalf("echo = %q", s)
    }
    var sum int
    if err := c.Call("add", &sum, 19, 23); err != nil {
        t.Fatalf("add: %v", err)
    }
    if sum != 42 {
        t.Fatalf("add = %d", sum)
    }
}

func TestVoidCall(t *testing.T) {
    called := make(chan struct{}, 1)
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{})
    srv.Handle("poke", func(context.Context, *Args) (any, error) {
        called <- struct{}{}
        return nil, nil
    })
    if err := c.Call("poke", nil); err != nil {
        t.Fatalf("poke: %v", err)
    }
    select {
    case <-called:
    default:
        t.Fatal("handler did not run")
    }
}

func TestPing(t *testing.T) {
    _, c := newConfirmedPair(t, ServerOptions{}, Options{})
    if !c.Ping() {
        t.Fatal("ping = false against live server")
    }
}

func TestUnknownMethod(t *testing.T) {
    _, c := newConfirmedPair(t, ServerOptions{}, Options{})
    err := c.Call("simTeleportHome", nil)
    var pe *ProtocolError
    if !errors.As(err, &pe) {
        t.Fatalf("err = %v, want *ProtocolError", err)
    }
    if !strings.Contains(pe.Reason, "simTeleportHome") {
        t.Fatalf("reason does not name the method: %q", pe.Reason)
    }
}

func TestRemoteError(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{})
    srv.Handle("explode", func(context.Context, *Args) (any, error) {
        return nil, errors.New("reactor offline")
    })
    err := c.Call("explode", nil)
    var re *RemoteError
    if !errors.As(err, &re) {
        t.Fatalf("err = %v, want *RemoteError", err)
    }
    if re.Message != "reactor offline" {
        t.Fatalf("message = %q", re.Message)
    }
}

func TestBadArgument(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{})
    srv.Handle("square", func(_ context.Context, args *Args) (any, error) {
        var n int
        if err := args.Decode(0, &n); err != nil {
            return nil, err
        }
        return n * n, nil
    })
    var out int
    err := c.Call("square", &out, "not a number")
    var pe *ProtocolError
    if !errors.As(err, &pe) {
        t.Fatalf("err = %v, want *ProtocolError", err)
    }
}

func TestCallTimeout(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{CallTimeout: 50 * time.Millisecond})
    srv.Handle("stall", func(context.Context, *Args) (any, error) {
        time.Sleep(500 * time.Millisecond)
        return nil, nil
    })
    err := c.Call("stall", nil)
    var te *TimeoutError
    if !errors.As(err, &te) {
        t.Fatalf("err = %v, want *TimeoutError", err)
    }
    if te.Budget != 50*time.Millisecond {
        t.Fatalf("budget = %s", te.Budget)
    }
}

func TestFailFastWhenDisconnected(t *testing.T) {
    _, c := newConfirmedPair(t, ServerOptions{}, Options{})
    _ = c.Close()
    start := time.Now()
    err := c.Call("ping", nil)
    var ce *ConnectionError
    if !errors.As(err, &ce) {
        t.Fatalf("err = %v, want *ConnectionError", err)
    }
    if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
        t.Fatalf("disconnected call took %s, want immediate failure", elapsed)
    }
    if c.State() != StateDisconnected {
        t.Fatalf("state = %s", c.State())
    }
}

func TestConfirmConnectionProgress(t *testing.T) {
    var buf bytes.Buffer
    _, c := newPair(t, ServerOptions{}, Options{Progress: &buf})
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if _, err := c.ConfirmConnection(ctx); err != nil {
        t.Fatalf("confirm connection: %v", err)
    }
    if !strings.Contains(buf.String(), "Connected!") {
        t.Fatalf("progress output = %q", buf.String())
    }
}

func TestConfirmConnectionDialFailure(t *testing.T) {
    tr := mem.New() // nothing listening
    c, err := Dial(Options{Address: "nowhere", Transport: tr, PollInterval: 5 * time.Millisecond})
    if err != nil {
        t.Fatalf("dial: %v", err)
    }
    defer c.Close()
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    _, err = c.ConfirmConnection(ctx)
    var ce *ConnectionError
    if !errors.As(err, &ce) {
        t.Fatalf("err = %v, want *ConnectionError", err)
    }
}

// hangTransport blocks dialing until the context gives up.
type hangTransport struct{}

func (hangTransport) Kind() transport.Kind { return transport.KindMem }

func (hangTransport) Listen(context.Context, string) (transport.Listener, error) {
    return nil, errors.New("not supported")
}

func (hangTransport) Dial(ctx context.Context, _ string) (transport.Conn, error) {
    <-ctx.Done()
    return nil, ctx.Err()
}

func TestConfirmConnectionHonorsDeadline(t *testing.T) {
    c, err := Dial(Options{Address: "limbo", Transport: hangTransport{}, PollInterval: 10 * time.Millisecond})
    if err != nil {
        t.Fatalf("dial: %v", err)
    }
    defer c.Close()
    ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
    defer cancel()
    _, err = c.ConfirmConnection(ctx)
    if !errors.Is(err, context.DeadlineExceeded) {
        t.Fatalf("err = %v, want deadline exceeded", err)
    }
}

func TestVersionNegotiation(t *testing.T) {
    cases := []struct {
        name      string
        sopts     ServerOptions
        copts     Options
        wantKind  VersionErrorKind
        wantError bool
    }{
        {name: "compatible"},
        {
            name:      "server too old",
            copts:     Options{MinServerVersion: 2},
            wantError: true,
            wantKind:  ServerTooOld,
        },
        {
            name:      "client too old",
            sopts:     ServerOptions{MinClientVersion: 2},
            wantError: true,
            wantKind:  ClientTooOld,
        },
        {
            name:      "both stale reports server first",
            sopts:     ServerOptions{MinClientVersion: 2},
            copts:     Options{MinServerVersion: 2},
            wantError: true,
            wantKind:  ServerTooOld,
        },
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            _, c := newConfirmedPair(t, tc.sopts, tc.copts)
            info, err := c.NegotiateVersion()
            if !tc.wantError {
                if err != nil {
                    t.Fatalf("negotiate: %v", err)
                }
                if info.ServerVersion != ServerVersion || info.ClientVersion != ClientVersion {
                    t.Fatalf("info = %+v", info)
                }
                return
            }
            var ve *VersionError
            if !errors.As(err, &ve) {
                t.Fatalf("err = %v, want *VersionError", err)
            }
            if ve.Kind != tc.wantKind {
                t.Fatalf("kind = %d, want %d", ve.Kind, tc.wantKind)
            }
        })
    }
}

func TestVersionMismatchAdvisoryByDefault(t *testing.T) {
    _, c := newPair(t, ServerOptions{}, Options{MinServerVersion: 2})
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    if _, err := c.ConfirmConnection(ctx); err != nil {
        t.Fatalf("advisory mismatch should not fail confirmation: %v", err)
    }
    if c.State() != StateConnected {
        t.Fatalf("state = %s, want connected", c.State())
    }
}

func TestVersionMismatchStrictCloses(t *testing.T) {
    _, c := newPair(t, ServerOptions{}, Options{MinServerVersion: 2, Strict: true})
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    _, err := c.ConfirmConnection(ctx)
    var ve *VersionError
    if !errors.As(err, &ve) {
        t.Fatalf("err = %v, want *VersionError", err)
    }
    if c.State() == StateConnected {
        t.Fatal("strict mismatch left the session connected")
    }
}

func TestBanner(t *testing.T) {
    info := VersionInfo{ClientVersion: 1, ClientMinRequired: 1, ServerVersion: 1, ServerMinRequired: 1}
    want := "Client Ver:1 (Min Req:1), Server Ver:1 (Min Req:1)"
    if got := info.Banner(); got != want {
        t.Fatalf("banner = %q, want %q", got, want)
    }
}

func registerHold(srv *Server) {
    srv.HandleTask("hold", func(ctx context.Context, _ *Args) (any, error) {
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(5 * time.Second):
            return nil, nil
        }
    })
}

func TestTaskCompleted(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{})
    srv.HandleTask("nap", func(ctx context.Context, _ *Args) (any, error) {
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(20 * time.Millisecond):
            return nil, nil
        }
    })
    task, err := c.CallTask("nap")
    if err != nil {
        t.Fatalf("call task: %v", err)
    }
    if task.ID() == "" {
        t.Fatal("empty task id")
    }
    if c.LastTask() != task {
        t.Fatal("newest handle is not the last task")
    }
    if !task.Wait(2 * time.Second) {
        t.Fatalf("wait = false, outcome %s", task.Outcome())
    }
    if task.Outcome() != TaskCompleted || task.Err() != nil {
        t.Fatalf("outcome = %s, err = %v", task.Outcome(), task.Err())
    }
}

func TestTaskCancel(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{})
    registerHold(srv)
    task, err := c.CallTask("hold")
    if err != nil {
        t.Fatalf("call task: %v", err)
    }
    if err := task.Cancel(); err != nil {
        t.Fatalf("cancel: %v", err)
    }
    select {
    case <-task.Done():
    case <-time.After(2 * time.Second):
        t.Fatal("task did not resolve after cancel")
    }
    if task.Outcome() != TaskCancelled {
        t.Fatalf("outcome = %s, want cancelled", task.Outcome())
    }
    if task.Wait(time.Millisecond) {
        t.Fatal("wait = true for cancelled task")
    }
}

func TestTaskSupersede(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{})
    registerHold(srv)
    srv.HandleTask("nap", func(ctx context.Context, _ *Args) (any, error) {
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(20 * time.Millisecond):
            return nil, nil
        }
    })

    first, err := c.CallTask("hold")
    if err != nil {
        t.Fatalf("first task: %v", err)
    }
    second, err := c.CallTask("nap")
    if err != nil {
        t.Fatalf("second task: %v", err)
    }
    select {
    case <-first.Done():
    case <-time.After(2 * time.Second):
        t.Fatal("superseded task did not resolve")
    }
    if first.Outcome() != TaskCancelled {
        t.Fatalf("first outcome = %s, want cancelled", first.Outcome())
    }
    if !second.Wait(2 * time.Second) {
        t.Fatalf("second wait = false, outcome %s", second.Outcome())
    }
    if c.LastTask() != second {
        t.Fatal("last task is not the newest handle")
    }
    // cancelling a superseded handle is a no-op
    if err := first.Cancel(); err != nil {
        t.Fatalf("superseded cancel: %v", err)
    }
}

func TestTaskWaitFalseWhileRunning(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{})
    registerHold(srv)
    task, err := c.CallTask("hold")
    if err != nil {
        t.Fatalf("call task: %v", err)
    }
    if task.Wait(50 * time.Millisecond) {
        t.Fatal("wait = true while task still running")
    }
    if task.Outcome() != TaskPending {
        t.Fatalf("outcome = %s, want pending", task.Outcome())
    }
}

func TestLateTaskCompletionDropped(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{CallTimeout: 30 * time.Millisecond})
    srv.Handle("stall", func(context.Context, *Args) (any, error) {
        time.Sleep(100 * time.Millisecond)
        return nil, nil
    })
    srv.HandleTask("nap", func(ctx context.Context, _ *Args) (any, error) {
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-time.After(10 * time.Millisecond):
            return nil, nil
        }
    })

    // jam the session's dispatch loop so the task call times out before the
    // server even assigns an id; the completion notice then arrives with no
    // handle ever registered and must not accumulate
    go func() { _ = c.Call("stall", nil) }()
    time.Sleep(10 * time.Millisecond)
    _, err := c.CallTask("nap")
    var te *TimeoutError
    if !errors.As(err, &te) {
        t.Fatalf("err = %v, want *TimeoutError", err)
    }

    time.Sleep(300 * time.Millisecond)
    c.mu.Lock()
    buffered := len(c.earlyDone)
    calls := c.taskCalls
    c.mu.Unlock()
    if buffered != 0 {
        t.Fatalf("%d orphaned completion notices buffered", buffered)
    }
    if calls != 0 {
        t.Fatalf("task call counter = %d after timeout", calls)
    }
}

func TestTaskFailed(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{})
    srv.HandleTask("boom", func(context.Context, *Args) (any, error) {
        return nil, errors.New("motor jam")
    })
    task, err := c.CallTask("boom")
    if err != nil {
        t.Fatalf("call task: %v", err)
    }
    if task.Wait(2 * time.Second) {
        t.Fatal("wait = true for failed task")
    }
    if task.Outcome() != TaskFailed {
        t.Fatalf("outcome = %s, want failed", task.Outcome())
    }
    if task.Err() == nil || !strings.Contains(task.Err().Error(), "motor jam") {
        t.Fatalf("err = %v", task.Err())
    }
}

func TestCancelWithoutTask(t *testing.T) {
    _, c := newConfirmedPair(t, ServerOptions{}, Options{})
    if err := c.CancelLastTask(); err != nil {
        t.Fatalf("cancel with no task: %v", err)
    }
}

func TestTasksResolveOnClose(t *testing.T) {
    srv, c := newConfirmedPair(t, ServerOptions{}, Options{})
    registerHold(srv)
    task, err := c.CallTask("hold")
    if err != nil {
        t.Fatalf("call task: %v", err)
    }
    _ = c.Close()
    select {
    case <-task.Done():
    case <-time.After(2 * time.Second):
        t.Fatal("task did not resolve on close")
    }
    if task.Outcome() != TaskFailed {
        t.Fatalf("outcome = %s, want failed", task.Outcome())
    }
}
