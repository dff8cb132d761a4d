package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/pawfect-shop/internal/adapter/handler"
	"github.com/rl1809/pawfect-shop/internal/adapter/handler/pb"
	"github.com/rl1809/pawfect-shop/internal/adapter/messaging"
	"github.com/rl1809/pawfect-shop/internal/adapter/storage"
	"github.com/rl1809/pawfect-shop/internal/config"
	"github.com/rl1809/pawfect-shop/internal/core/service"
	"github.com/rl1809/pawfect-shop/internal/logging"
	"github.com/rl1809/pawfect-shop/internal/metrics"
	"github.com/rl1809/pawfect-shop/internal/port"
)

const (
	shutdownTimeout = 10 * time.Second
	eventBuffer     = 1024
)

type eventPublisher interface {
	port.EventPublisher
	Close(ctx context.Context) error
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.MustNewLogger(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server_failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, closeDB, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()

	cache, closeCache, err := openCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	var events eventPublisher = messaging.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		events = messaging.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ServiceName, eventBuffer, logger)
		logger.Info("kafka_publisher_started", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	orders := service.NewOrderService(db, cache,
		service.WithOrderLogger(logger),
		service.WithOrderMetrics(m),
		service.WithEventPublisher(events),
		service.WithTxTimeout(cfg.TxTimeout),
	)
	catalog := service.NewCatalogService(db, cache,
		service.WithCatalogLogger(logger),
		service.WithCatalogMetrics(m),
	)
	newsletter := service.NewNewsletterService(db, logger)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(handler.UnaryLogging(logger)))
	pb.RegisterOrderServiceServer(grpcServer, handler.NewGRPCHandler(orders, catalog))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		logger.Info("grpc_server_listening", zap.String("addr", cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc_server_error", zap.Error(err))
		}
	}()

	httpHandler := handler.NewHTTPHandler(orders, catalog, newsletter, db, logger)
	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: handler.NewRouter(httpHandler, handler.RouterConfig{
			Logger:         logger,
			Metrics:        m,
			MetricsHandler: metrics.Handler(reg),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("http_server_listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_server_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
	grpcServer.GracefulStop()

	if err := events.Close(shutdownCtx); err != nil {
		logger.Warn("event_publisher_close_failed", zap.Error(err))
	}
	logger.Info("server_stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (port.DatabaseRepository, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using_memory_store", zap.Int("products", len(demoCatalog())))
		return storage.NewMemoryAdapter(demoCatalog()...), func() {}, nil
	}

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(cfg.MySQLMaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQLMaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQLConnMaxLifeTTL)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping mysql: %w", err)
	}

	adapter := storage.NewMySQLAdapter(db, storage.WithMaxRetries(cfg.TxMaxRetries))
	if cfg.AutoMigrate {
		if err := adapter.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		logger.Info("schema_applied")

		if cfg.Env == "dev" {
			if err := adapter.SeedDemoData(ctx); err != nil {
				db.Close()
				return nil, nil, err
			}
			logger.Info("demo_data_seeded")
		}
	}
	logger.Info("connected_to_mysql")
	return adapter, func() { db.Close() }, nil
}

func openCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (port.CacheRepository, func(), error) {
	if cfg.RedisAddr == "" {
		logger.Info("using_memory_cache")
		return storage.NewMemoryCache(cfg.CacheTTL, cfg.IdempotencyTTL), func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected_to_redis", zap.String("addr", cfg.RedisAddr))
	return storage.NewRedisAdapter(rdb, cfg.CacheTTL, cfg.IdempotencyTTL), func() { rdb.Close() }, nil
}
