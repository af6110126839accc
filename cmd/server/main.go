package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-router"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"go.uber.org/zap"

	auth "github.com/goliatone/go-session-auth"
	"github.com/goliatone/go-session-auth/activitymap"
	"github.com/goliatone/go-session-auth/internal/config"
	"github.com/goliatone/go-session-auth/internal/logging"
	repo "github.com/goliatone/go-session-auth/repository"
)

type App struct {
	config *config.Config
	zap    *zap.Logger
	logger auth.Logger
	bunDB  *bun.DB
	redis  *redis.Client
	repo   auth.RepositoryManager

	sessions auth.SessionStore
	srv      router.Server[*fiber.App]
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	zlog, err := logging.NewZap(cfg.IsProduction())
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()

	app := &App{
		config: cfg,
		zap:    zlog,
		logger: logging.New(zlog),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.run(ctx); err != nil {
		zlog.Fatal("server stopped", zap.Error(err))
	}
}

func (a *App) run(ctx context.Context) error {
	opts := a.config.AuthOptions()
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("auth options: %w", err)
	}

	if err := a.setupDatabase(ctx); err != nil {
		return err
	}
	defer a.bunDB.Close()

	if err := a.setupSessions(ctx); err != nil {
		return err
	}
	if a.redis != nil {
		defer a.redis.Close()
	}

	a.setupServer(opts)

	janitor := auth.NewSessionJanitor(a.sessions, opts).WithLogger(a.logger)
	go janitor.Run(ctx, a.config.SessionPurgeInterval())

	errc := make(chan error, 1)
	go func() {
		a.zap.Info("http server listening", zap.String("addr", a.config.HTTPAddr))
		errc <- a.srv.Serve(a.config.HTTPAddr)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		<-ctx.Done()
	case <-ctx.Done():
	}

	a.zap.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return a.srv.Shutdown(shutdownCtx)
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.config.UsePostgres() {
		sqldb, err := sql.Open("pgx", a.config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.bunDB = bun.NewDB(sqldb, pgdialect.New())
	} else {
		sqldb, err := sql.Open(sqliteshim.ShimName, a.config.SQLiteDSN())
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		a.bunDB = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if err := a.bunDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	applied, err := auth.Migrate(ctx, a.bunDB)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		a.zap.Info("applied migrations", zap.Strings("migrations", applied))
	}

	a.repo = auth.NewRepositoryManager(a.bunDB)
	return a.repo.Validate()
}

// setupSessions picks the redis session store when REDIS_URL is set and
// the SQL one otherwise.
func (a *App) setupSessions(ctx context.Context) error {
	if a.config.RedisURL == "" {
		a.sessions = a.repo.Sessions()
		return nil
	}

	ropts, err := redis.ParseURL(a.config.RedisURL)
	if err != nil {
		return fmt.Errorf("redis url: %w", err)
	}

	a.redis = redis.NewClient(ropts)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	a.sessions = repo.NewRedisSessionStore(a.redis, "")
	a.zap.Info("using redis session store", zap.String("addr", ropts.Addr))

	return nil
}

func (a *App) setupServer(opts auth.Options) {
	codec := auth.NewTokenCodec(opts).WithLogger(a.logger)

	activity := auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		a.logger.Info("auth activity", activitymap.Normalize(event).Fields()...)
		return nil
	})

	authenticator := auth.NewAuthenticator(a.repo.Users(), a.sessions, codec, opts).
		WithLogger(a.logger).
		WithActivitySink(activity)

	validator := auth.NewValidator(codec, a.sessions, opts).
		WithLogger(a.logger)

	refresher := auth.NewRefresher(codec, a.sessions, opts).
		WithLogger(a.logger).
		WithActivitySink(activity)

	gate := auth.NewAuthGate(validator, refresher, auth.GateOptions{})

	register := auth.NewRegisterUserHandler(a.repo).
		WithLogger(a.logger).
		WithActivitySink(activity)

	controller := auth.NewHTTPController(authenticator, refresher, gate, a.repo,
		auth.WithHTTPLogger(a.logger),
		auth.WithHTTPDebug(a.config.Debug),
		auth.WithRegisterUserHandler(register),
	)

	a.srv = router.NewFiberAdapter(func(_ *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			AppName:               "go-session-auth",
			DisableStartupMessage: a.config.IsProduction(),
			ReadTimeout:           10 * time.Second,
			WriteTimeout:          10 * time.Second,
		}))
	})

	a.srv.Router().Get("/healthz", func(c router.Context) error {
		return c.JSON(router.StatusOK, map[string]string{"status": "ok"})
	}).SetName("healthz")

	auth.RegisterRoutes(a.srv.Router().Group("/api"), controller)
}
