package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"prism-board/api"
	"prism-board/config"
	"prism-board/storage"
	"prism-board/subscription"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the board API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.Config
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, opts.Logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default $API_ADDR or :8080)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("board api listening")
		errCh <- srv.echo.Start(cfg.Addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.echo.Shutdown(shutdownCtx)
}

// server is a fully wired API instance.
type server struct {
	echo    *echo.Echo
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (s *server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func newServer(ctx context.Context, cfg config.Config, logger *log.Logger) (_ *server, err error) {
	srv := &server{}
	defer func() {
		if err != nil {
			srv.Close()
		}
	}()

	backend, err := openBackend(ctx, cfg, srv)
	if err != nil {
		return nil, err
	}

	broker := api.NewBroker()
	var deduper api.Deduper
	// local subscribers are woken directly so pushes survive a Redis outage
	sinks := []api.Publisher{broker}
	if cfg.RedisConnectionString != "" {
		redisOpts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			return nil, err
		}
		rc := redis.NewClient(redisOpts)
		srv.closers = append(srv.closers, func() { _ = rc.Close() })

		backend = storage.NewCache(backend, rc, cfg.CacheTTL)
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
		updates := subscription.NewRedisPublisher(rc, cfg.UpdatesChannel)
		sinks = append(sinks, updates)

		subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			subscription.SubscribeUpdates(subCtx, logger, rc, cfg.UpdatesChannel, updates.Origin(), broker.Notify)
		}()
		srv.closers = append(srv.closers, func() { cancel(); <-done })
	}

	if cfg.EventsQueue != "" {
		queue, err := storage.NewEventQueue(cfg.StorageConnectionString, cfg.EventsQueue)
		if err != nil {
			return nil, fmt.Errorf("events queue: %w", err)
		}
		sinks = append(sinks, queue)
	}

	events := api.NewEventPublisher(api.PublisherConfig{
		Workers:        cfg.PublishWorkers,
		Buffer:         cfg.PublishBuffer,
		HandoffTimeout: 50 * time.Millisecond,
	}, logger, sinks...)
	srv.closers = append(srv.closers, events.Close)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "Idempotency-Key"},
	}))
	api.Register(e, backend, deduper, events, broker, logger)
	srv.echo = e
	return srv, nil
}

// openBackend opens the configured board storage and registers its cleanup
// on srv.
func openBackend(ctx context.Context, cfg config.Config, srv *server) (storage.Backend, error) {
	switch cfg.Backend {
	case config.BackendTable:
		store, err := storage.NewTableStore(cfg.StorageConnectionString, storage.TableNames{
			Boards: cfg.BoardsTable,
			Lists:  cfg.ListsTable,
			Tasks:  cfg.TasksTable,
		})
		if err != nil {
			return nil, fmt.Errorf("table storage: %w", err)
		}
		return store, nil
	default:
		db, err := storage.OpenSQL(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		srv.closers = append(srv.closers, func() { _ = db.Close() })
		if err := storage.ApplyMigrations(ctx, db, cfg.DatabaseDriver); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return storage.NewSQLStore(db, cfg.DatabaseDriver), nil
	}
}
