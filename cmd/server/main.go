package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/pflag"

	"github.com/Tyrowin/linechat/internal/credentials"
	"github.com/Tyrowin/linechat/internal/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("linechat", pflag.ContinueOnError)
	envFile := flags.String("env-file", ".env", "Optional dotenv file loaded before reading CHAT_* variables")
	port := flags.Int("port", 0, "TCP port (overrides CHAT_PORT)")
	credsFile := flags.String("credentials", "", "Credentials file (overrides CHAT_CREDENTIALS_FILE)")
	wsAddr := flags.String("ws-addr", "", "WebSocket listen address, e.g. :8080 (overrides CHAT_WS_ADDR)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", *envFile, err)
	}

	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}
	if flags.Changed("port") {
		cfg.Port = *port
	}
	if flags.Changed("credentials") {
		cfg.CredentialsFile = *credsFile
	}
	if flags.Changed("ws-addr") {
		cfg.WebSocketAddr = *wsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logs.GetLoggerFromString(cfg.LogLevel)

	opts := []credentials.Option{credentials.WithCaseInsensitiveUsernames(cfg.CaseInsensitiveUsernames)}
	store, err := credentials.Load(cfg.CredentialsFile, opts...)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warn("credentials file not found, no user can log in", "path", cfg.CredentialsFile)
		store = credentials.NewStore(nil, opts...)
	case err != nil:
		return err
	default:
		log.Info("credentials loaded", "path", cfg.CredentialsFile, "users", store.Len())
	}

	srv := server.New(cfg, store, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
			errChan <- fmt.Errorf("chat server error: %w", err)
		}
	}()

	var httpServer *http.Server
	if cfg.WebSocketAddr != "" {
		httpServer = server.CreateServer(cfg.WebSocketAddr, server.SetupRoutes(srv))
		go func() {
			log.Info("websocket listener started", "addr", cfg.WebSocketAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("websocket server error: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully")
	case runErr = <-errChan:
		log.Error("server failed", "error", runErr)
	}

	if httpServer != nil {
		_ = server.ShutdownHTTPServer(httpServer, cfg.ShutdownTimeout, log)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	log.Info("server stopped")
	return runErr
}
