package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	c "github.com/fjod/go_cart/cart-api/internal/cache"
	"github.com/fjod/go_cart/cart-api/internal/catalog"
	"github.com/fjod/go_cart/cart-api/internal/config"
	cartgrpc "github.com/fjod/go_cart/cart-api/internal/grpc"
	h "github.com/fjod/go_cart/cart-api/internal/http"
	"github.com/fjod/go_cart/cart-api/internal/logger"
	"github.com/fjod/go_cart/cart-api/internal/poller"
	"github.com/fjod/go_cart/cart-api/internal/repository"
	s "github.com/fjod/go_cart/cart-api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()
	zap.ReplaceGlobals(zl)

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if err := run(cfg, zl); err != nil {
		zl.Fatal("cart api stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, closeStore, err := openStore(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer closeStore()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	zl.Info("redis ping succeeded", zap.String("addr", cfg.Redis.Addr))
	cache := c.NewRedisCache(redisClient)

	prices := catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout, zl.Named("catalog"))
	service := s.NewCartService(repo, cache, prices,
		s.WithLogger(zl.Named("reconciler")),
		s.WithMaxConcurrency(cfg.Catalog.MaxConcurrency),
		s.WithMaxAttempts(cfg.ReconcileMaxAttempts),
	)

	// HTTP
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(h.NewCartHandler(service, zl.Named("http")), zl.Named("http"), cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		zl.Info("cart api listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// gRPC health
	checker := cartgrpc.NewHealthChecker(map[string]cartgrpc.Pinger{
		cfg.Store: repo,
		"redis":   cache,
	}, 10*time.Second, zl.Named("health"))
	go checker.Run(ctx)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port: %w", err)
	}
	grpcServer := cartgrpc.NewServer(checker, grpc.StatsHandler(otelgrpc.NewServerHandler()))
	go func() {
		zl.Info("grpc health listening", zap.String("port", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	// Checkout poller
	pollerDone := make(chan struct{})
	if len(cfg.Kafka.Brokers) > 0 {
		p := poller.NewPoller(service, poller.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, zl.Named("poller"))
		go func() {
			defer close(pollerDone)
			defer p.Close()
			p.Run(ctx)
		}()
	} else {
		zl.Info("KAFKA_BROKERS empty, checkout poller disabled")
		close(pollerDone)
	}

	var serveErr error
	select {
	case <-ctx.Done():
		zl.Info("shutting down cart api")
	case serveErr = <-errCh:
		stop()
		zl.Error("server failed, shutting down", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	select {
	case <-pollerDone:
	case <-shutdownCtx.Done():
		zl.Warn("poller did not stop in time")
	}

	zl.Info("cart api stopped")
	return serveErr
}

// openStore connects the configured cart store and returns its closer.
func openStore(ctx context.Context, cfg *config.Config, zl *zap.Logger) (repository.CartRepository, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		creds := &repository.Credentials{
			Host:              cfg.Postgres.Host,
			Port:              cfg.Postgres.Port,
			User:              cfg.Postgres.User,
			Password:          cfg.Postgres.Password,
			DBName:            cfg.Postgres.DBName,
			MigrationsDirPath: cfg.Postgres.MigrationsPath,
		}
		repo, err := repository.NewPostgresRepository(creds)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.RunMigrations(creds); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		zl.Info("connected to postgres", zap.String("host", cfg.Postgres.Host), zap.String("db", cfg.Postgres.DBName))
		return repo, func() { _ = repo.Close() }, nil

	default:
		db, err := repository.ConnectMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.DBName)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoRepository(db)
		if err := repo.CreateIndexes(ctx); err != nil {
			_ = db.Client().Disconnect(context.Background())
			return nil, nil, err
		}
		zl.Info("connected to mongodb", zap.String("db", cfg.Mongo.DBName))
		return repo, func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = db.Client().Disconnect(dctx)
		}, nil
	}
}
