package mem

import (
    "bytes"
    "context"
    "testing"
    "time"
)

func TestListenDialExchange(t *testing.T) {
    tr := New()
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    l, err := tr.Listen(ctx, "sim")
    if err != nil {
        t.Fatalf("listen: %v", err)
    }
    defer l.Close()

    cli, err := tr.Dial(ctx, "sim")
    if err != nil {
        t.Fatalf("dial: %v", err)
    }
    defer cli.Close()

    srv, err := l.Accept(ctx)
    if err != nil {
        t.Fatalf("accept: %v", err)
    }
    defer srv.Close()

    msg := []byte("ping")
    go func() { _ = cli.SendBytes(msg) }()
    got, err := srv.RecvBytes()
    if err != nil {
        t.Fatalf("recv: %v", err)
    }
    if !bytes.Equal(got, msg) {
        t.Fatalf("recv = %q, want %q", got, msg)
    }
}

func TestDialNoListener(t *testing.T) {
    tr := New()
    if _, err := tr.Dial(context.Background(), "nowhere"); err == nil {
        t.Fatal("expected error dialing without listener")
    }
}

func TestDuplicateListen(t *testing.T) {
    tr := New()
    ctx := context.Background()
    l, err := tr.Listen(ctx, "sim")
    if err != nil {
        t.Fatalf("listen: %v", err)
    }
    defer l.Close()
    if _, err := tr.Listen(ctx, "sim"); err == nil {
        t.Fatal("expected error for duplicate listener name")
    }
}

func TestCloseUnblocksAccept(t *testing.T) {
    tr := New()
    l, err := tr.Listen(context.Background(), "sim")
    if err != nil {
        t.Fatalf("listen: %v", err)
    }
    done := make(chan error, 1)
    go func() {
        _, err := l.Accept(context.Background())
        done <- err
    }()
    time.Sleep(10 * time.Millisecond)
    _ = l.Close()
    select {
    case err := <-done:
        if err == nil {
            t.Fatal("accept returned nil after close")
        }
    case <-time.After(time.Second):
        t.Fatal("accept did not unblock on close")
    }
}
