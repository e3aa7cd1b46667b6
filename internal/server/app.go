// Package server wires storage, the change-event bus and the network
// endpoints together and runs them until shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/entrysync/internal/logging"
	"github.com/dmitrijs2005/entrysync/internal/server/archive"
	"github.com/dmitrijs2005/entrysync/internal/server/config"
	"github.com/dmitrijs2005/entrysync/internal/server/events"
	"github.com/dmitrijs2005/entrysync/internal/server/realtime"
	"github.com/dmitrijs2005/entrysync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/entrysync/internal/server/services"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/entrysync/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	bus      events.Bus
	grpc     *gs.GRPCServer
	realtime *realtime.Server
	purger   *archive.Purger
}

// NewApp opens the database, applies migrations and builds every component.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	bus, err := newBus(ctx, c, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	us := services.NewUserService(db, rm, c)
	ss := services.NewSyncService(db, rm, bus, logger)

	app := &App{
		config:   c,
		logger:   logger,
		db:       db,
		bus:      bus,
		grpc:     gs.NewGRPCServer(c.EndpointAddrGRPC, logger, us, ss, c.SecretKey),
		realtime: realtime.NewServer(c.EndpointAddrHTTP, bus, c.SecretKey, logger),
	}

	if c.PurgeInterval > 0 {
		store, err := archive.NewS3Store(ctx, c)
		if err != nil {
			app.close()
			return nil, err
		}
		app.purger = archive.NewPurger(db, rm, store, c.TombstoneRetention, c.PurgeInterval, logger)
	}
	return app, nil
}

func newBus(ctx context.Context, c *config.Config, l logging.Logger) (events.Bus, error) {
	if c.RedisURL == "" {
		return events.NewLocalBus(), nil
	}
	bus, err := events.NewRedisBus(ctx, c.RedisURL, l)
	if err != nil {
		return nil, fmt.Errorf("redis bus: %w", err)
	}
	return bus, nil
}

func (app *App) close() {
	if err := app.bus.Close(); err != nil {
		app.logger.Warn(context.Background(), "bus close", "error", err)
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(context.Background(), "db close", "error", err)
	}
}

// Run blocks until ctx is cancelled, a termination signal arrives or one of
// the endpoints fails.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	defer app.close()

	app.logger.Info(ctx, "Starting app...",
		"grpc", app.config.EndpointAddrGRPC, "http", app.config.EndpointAddrHTTP)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.grpc.Run(ctx) })
	g.Go(func() error { return app.realtime.Run(ctx) })
	if app.purger != nil {
		g.Go(func() error { return app.purger.Run(ctx) })
	}

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "server stopped", "error", err)
	}
	return err
}
