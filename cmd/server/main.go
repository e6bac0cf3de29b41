package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/secondhand-shop/internal/adapter/handler"
	"github.com/rl1809/secondhand-shop/internal/adapter/storage"
	"github.com/rl1809/secondhand-shop/internal/config"
	"github.com/rl1809/secondhand-shop/internal/core/domain"
	"github.com/rl1809/secondhand-shop/internal/core/service"
	"github.com/rl1809/secondhand-shop/internal/logging"
	"github.com/rl1809/secondhand-shop/internal/port"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, "secondhand-shop")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		wallet  port.Wallet
		journal port.DatabaseRepository
		stream  port.CacheRepository
	)

	// Initialize MySQL
	if cfg.MySQLDSN != "" {
		db, err := openMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			if cfg.Wallet == config.WalletMySQL {
				return err
			}
			log.Warn("mysql unavailable, event journal disabled", zap.Error(err))
		} else {
			defer db.Close()
			mysqlAdapter := storage.NewMySQLAdapter(db)
			if err := mysqlAdapter.Migrate(ctx); err != nil {
				return err
			}
			journal = mysqlAdapter
			if cfg.Wallet == config.WalletMySQL {
				wallet = mysqlAdapter
			}
			log.Info("connected to mysql")
		}
	}

	// Initialize Redis
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unavailable, idempotency and event stream disabled", zap.Error(err))
			rdb.Close()
		} else {
			defer rdb.Close()
			stream = storage.NewRedisAdapter(rdb)
			log.Info("connected to redis")
		}
	}

	if wallet == nil {
		memory, err := seededMemoryWallet(ctx, cfg.Accounts)
		if err != nil {
			return err
		}
		wallet = memory
		log.Info("using memory wallet", zap.Int("seeded_accounts", len(cfg.Accounts)))
	}

	metrics := service.DefaultMetrics()
	queue := service.NewEventQueue(cfg.EventQueueSize, metrics, log)

	// Start event workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.EventWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			service.RunEventWorker(id, queue.Events(), journal, stream, metrics, log)
		}(i)
	}
	log.Info("started event workers", zap.Int("count", cfg.EventWorkers))

	registry := service.NewRegistry(domain.Identity(cfg.RegistryOwner), wallet, log,
		service.WithEmitter(queue),
		service.WithMetrics(metrics),
	)

	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcServer = grpc.NewServer(grpc.ForceServerCodec(handler.Codec()))
		handler.RegisterShopServiceServer(grpcServer, handler.NewGRPCHandler(registry, stream, log))

		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		go func() {
			log.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcServer.Serve(lis); err != nil {
				log.Error("gRPC server error", zap.Error(err))
			}
		}()
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		handler.NewHTTPHandler(registry, stream, log).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())

		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				log.Error("HTTP server error", zap.Error(err))
			}
		}()
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP shutdown", zap.Error(err))
		}
		log.Info("HTTP server stopped")
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
		log.Info("gRPC server stopped")
	}

	// Close event queue and wait for workers to drain it
	queue.Close()
	wg.Wait()
	log.Info("event workers stopped")
	return nil
}

func openMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func seededMemoryWallet(ctx context.Context, accounts []config.Account) (*storage.MemoryWallet, error) {
	wallet := storage.NewMemoryWallet()
	for _, acc := range accounts {
		balance, err := uint256.FromDecimal(acc.Balance)
		if err != nil {
			return nil, fmt.Errorf("seed account %s: %w", acc.Identity, err)
		}
		if err := wallet.Deposit(ctx, domain.Identity(acc.Identity), balance); err != nil {
			return nil, fmt.Errorf("seed account %s: %w", acc.Identity, err)
		}
	}
	return wallet, nil
}
