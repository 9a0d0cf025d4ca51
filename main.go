package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"pedigree/api"
)

func newLogger(level string, json bool) *slog.Logger {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lv}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func main() {
	args := ParseArgs()
	logger := newLogger(args.LogLevel, args.LogJSON)
	slog.SetDefault(logger)
	if err := args.Validate(); err != nil {
		logger.Error("invalid arguments", slog.Any("error", err))
		os.Exit(2)
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := api.NewServer(args.ServerConfig, api.WithLogger(logger))
	if err != nil {
		logger.Error("fail to create server", slog.Any("error", err))
		os.Exit(1)
	}
	if err := server.Start(); err != nil {
		logger.Error("fail to start server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    args.ServerURL,
		Handler: server.Handler(),

		// 收到停止訊號時結束仍在串流的連線
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		logger.Info("listening", slog.String("addr", args.ServerURL))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), args.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("fail to shutdown http server", slog.Any("error", err))
	}
	server.Close(shutdownCtx)
}
