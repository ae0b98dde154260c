package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	app "github.com/awlabs/trellis"
	"github.com/awlabs/trellis/internal/config"
	"github.com/awlabs/trellis/internal/dispatch"
	"github.com/awlabs/trellis/internal/engine"
	"github.com/awlabs/trellis/internal/handler"
	"github.com/awlabs/trellis/internal/server"
	"github.com/awlabs/trellis/internal/status"
	"github.com/awlabs/trellis/internal/storage"
	"github.com/awlabs/trellis/internal/store"
	"github.com/awlabs/trellis/pkg/log"
)

type trellis struct {
	cfg        *config.Config
	store      *store.RedisStore
	storage    storage.Mapping
	hub        *status.Hub
	engine     *engine.Engine
	dispatcher *dispatch.Dispatcher
	apiServer  *server.Server
	httpServer *http.Server
	cancelJobs context.CancelFunc
	quit       chan os.Signal
}

var (
	ErrOpenStorage  = errors.New("failed to open storage backend")
	ErrRedisConnect = errors.New("failed to connect to redis")
)

func main() {
	cfg := config.NewDefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", log.Error(err))
		os.Exit(1)
	}

	s := &trellis{
		cfg:  cfg,
		quit: make(chan os.Signal, 1),
	}
	s.setupLogging()

	if err := s.run(); err != nil {
		slog.Error("Failed to start application", log.Error(err))
		os.Exit(1)
	}
}

func (s *trellis) run() error {
	if err := s.initializeStores(); err != nil {
		return err
	}

	s.initializeEngine()
	s.startServer()

	signal.Notify(s.quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.quit)
	<-s.quit

	s.shutdown()
	return nil
}

func (s *trellis) setupLogging() {
	level := log.Level(s.cfg.LogLevel)
	logger := log.New(app.Name, os.Getenv("ENV"), app.Version, level)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)

	slog.Info("Trellis starting",
		slog.String("log_level", s.cfg.LogLevel))

	slog.Info("Configuration loaded",
		slog.String("redis_addr", s.cfg.Redis.Addr),
		slog.Int("redis_db", s.cfg.Redis.DB),
		slog.String("storage_backend", s.cfg.Storage.Backend),
		slog.Int("workers", s.cfg.Workers),
		slog.Int("queue_size", s.cfg.QueueSize),
		slog.String("api_host", s.cfg.APIHost),
		slog.Int("api_port", s.cfg.APIPort))
}

func (s *trellis) initializeStores() error {
	ctx := context.Background()

	s.store = store.NewRedisStore(&s.cfg.Redis)
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrRedisConnect, err)
	}

	m, err := storage.Open(ctx, &s.cfg.Storage)
	if err != nil {
		_ = s.store.Close()
		return fmt.Errorf("%w: %w", ErrOpenStorage, err)
	}
	s.storage = m
	return nil
}

func (s *trellis) initializeEngine() {
	s.hub = status.NewHub()
	s.engine = engine.New(&engine.Dependencies{
		Jobs:      s.store,
		Workflows: s.store,
		Artifacts: s.store,
		Storage:   s.storage,
		Registry:  handler.NewDefaultRegistry(),
		Hub:       s.hub,
		Config:    s.cfg,
		Logger:    slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelJobs = cancel
	s.dispatcher = dispatch.New(
		s.engine, s.cfg.Workers, s.cfg.QueueSize, slog.Default(),
	)
	s.dispatcher.Start(ctx)
}

func (s *trellis) startServer() {
	s.apiServer = server.NewServer(&server.Dependencies{
		Jobs:       s.store,
		Workflows:  s.store,
		Artifacts:  s.store,
		Storage:    s.storage,
		Engine:     s.engine,
		Dispatcher: s.dispatcher,
		Hub:        s.hub,
		Pinger:     s.store,
	})
	mux := s.apiServer.SetupRoutes()

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.cfg.APIHost, s.cfg.APIPort),
		Handler: mux,
	}

	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", log.Error(err))
		}
	}()
}

func (s *trellis) shutdown() {
	slog.Info("Shutting down")

	ctx, cancel := context.WithTimeout(
		context.Background(), s.cfg.ShutdownTimeout,
	)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("Shutdown failed", log.Error(err))
	}

	s.apiServer.CloseWebSockets()

	if err := s.dispatcher.Stop(ctx); err != nil {
		slog.Error("Dispatcher shutdown failed", log.Error(err))
	}
	s.cancelJobs()

	if err := s.storage.Close(); err != nil {
		slog.Error("Storage close failed", log.Error(err))
	}
	_ = s.store.Close()

	slog.Info("Server exited")
}
