package main

import (
    "context"
    "os"
    "os/signal"
    "syscall"

    "go.uber.org/zap"

    "simlink/pkg/config"
    "simlink/pkg/observability"
    "simlink/pkg/rpc"
    "simlink/pkg/sim"
    "simlink/pkg/transport/factory"
)

// run is the main entry point after CLI parsing.
func run(opts Options) int {
    cfg, err := config.Load(opts.ConfigPath)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
        return 1
    }

    logger, err := observability.SetupLogger(cfg.Log)
    if err != nil {
        _, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
        return 1
    }
    defer func() { _ = logger.Sync() }()

    zap.L().Info("simlink-simd started", zap.String("app", cfg.AppName))
    zap.L().Info("effective configuration", zap.Any("config", cfg))

    tr, err := factory.NewByKind(cfg.Server.Transport)
    if err != nil {
        zap.L().Error("transport init failed", zap.Error(err))
        return 1
    }

    srv, err := rpc.NewServer(rpc.ServerOptions{})
    if err != nil {
        zap.L().Error("server init failed", zap.Error(err))
        return 1
    }
    backend := sim.NewBackend()
    backend.Register(srv)

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()

    l, err := tr.Listen(ctx, cfg.Server.Listen)
    if err != nil {
        zap.L().Error("listen failed",
            zap.String("kind", cfg.Server.Transport),
            zap.String("addr", cfg.Server.Listen),
            zap.Error(err))
        return 1
    }
    defer l.Close()
    zap.L().Info("simulation server listening",
        zap.String("kind", cfg.Server.Transport),
        zap.String("addr", l.Addr().String()))

    if err := srv.Serve(ctx, l); err != nil && ctx.Err() == nil {
        zap.L().Error("serve failed", zap.Error(err))
        return 1
    }
    zap.L().Info("simlink-simd stopped")
    return 0
}
