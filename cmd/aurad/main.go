package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fenwick-audio/aurad/internal/config"
	"github.com/fenwick-audio/aurad/internal/control"
	"github.com/fenwick-audio/aurad/internal/engine"
	"github.com/fenwick-audio/aurad/internal/logging"
)

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	cfg, err := config.Load(*configFilePath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	logFilePointer, err := logging.Configure(cfg.LogLevel, cfg.LogFile, slog.HandlerOptions{})
	if err != nil {
		slog.Error("failed to configure logger", "err", err)
		os.Exit(1)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audioThread := engine.New(slog.Default())
	audioThread.SetIdleCloseWindow(time.Duration(cfg.IdleCloseWindowSeconds) * time.Second)

	state := control.NewStateStore()
	server, err := control.NewServer(slog.Default(), audioThread, state, cfg.ControlSocketDir, cfg.ControlSocketName, cfg.AudioSocketName)
	if err != nil {
		slog.Error("failed to construct control server", "err", err)
		os.Exit(1)
	}

	go audioThread.Run(ctx)
	go server.ForwardReattach(audioThread.Reattach)

	go func() {
		if err := server.Serve(); err != nil {
			slog.Error("control server stopped", "err", err)
		}
	}()

	slog.Info("aurad started", "controlSocketDir", cfg.ControlSocketDir)

	<-ctx.Done()
	slog.Info("shutting down")
	server.Close()
	audioThread.Close()
}
