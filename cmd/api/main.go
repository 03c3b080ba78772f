package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/library-catalog/cmd/api/book"
	"github.com/library-catalog/cmd/api/config"
	bookhttp "github.com/library-catalog/cmd/api/http"
	"github.com/library-catalog/cmd/api/httpclient"
	"github.com/library-catalog/cmd/api/logging"
	"github.com/library-catalog/cmd/api/notifications"
	"github.com/library-catalog/cmd/api/openlibrary"
	"github.com/library-catalog/cmd/api/uow"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(cfg.Env, cfg.LogLevel)
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := httpclient.New("openlibrary", httpclient.Config{
		BaseURL:           cfg.OpenLibrary.BaseURL,
		Timeout:           cfg.OpenLibrary.Timeout,
		MaxRetries:        cfg.OpenLibrary.MaxRetries,
		InitialBackoff:    cfg.OpenLibrary.Backoff,
		MaxBackoff:        cfg.OpenLibrary.MaxBackoff,
		RequestsPerSecond: cfg.OpenLibrary.RequestsPerSecond,
		UserAgent:         cfg.OpenLibrary.UserAgent,
	}, logger)
	if err != nil {
		return fmt.Errorf("building openlibrary client: %w", err)
	}

	var gateway book.MetadataGateway
	if cfg.EnrichmentEnabled {
		gateway = openlibrary.NewGateway(client, logger)
	}

	clients := []*httpclient.Client{client}
	var serviceOpts []book.ServiceOption
	if cfg.Notifications.Enabled {
		ntfyClient, err := httpclient.New("ntfy", httpclient.Config{
			BaseURL:    cfg.Notifications.BaseURL,
			Timeout:    cfg.Notifications.Timeout,
			MaxRetries: 1,
		}, logger)
		if err != nil {
			return fmt.Errorf("building notifications client: %w", err)
		}
		clients = append(clients, ntfyClient)
		serviceOpts = append(serviceOpts, book.WithNotifier(notifications.NewNtfy(ntfyClient, cfg.Notifications.Topic, logger)))
	}

	var uowOpts []uow.Option
	if cfg.Development() {
		uowOpts = append(uowOpts, uow.WithStrictPreconditions())
	}
	bookService := book.NewService(uow.New(store, logger, uowOpts...), gateway, logger, serviceOpts...)
	bookHandler := bookhttp.NewBookHandler(bookService, logger)

	server := bookhttp.NewServer(bookhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, bookHandler, store, logger)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("env", cfg.Env).Str("storage", cfg.Storage.Driver).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("unexpected http server error: %w", err)
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		shutdownClients(clients, logger)
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()
	if err := server.Shutdown(shutdownCtx); err != nil {
		shutdownClients(clients, logger)
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}

	// No request can reach the client once the server has drained.
	shutdownClients(clients, logger)
	logger.Info().Msg("graceful shutdown complete")
	return nil
}

func shutdownClients(clients []*httpclient.Client, logger zerolog.Logger) {
	for _, client := range clients {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing http client")
		}
	}
}
