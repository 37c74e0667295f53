package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/oob-signer/internal/config"
	"github.com/jmehdipour/oob-signer/internal/db"
	httpSrv "github.com/jmehdipour/oob-signer/internal/http"
	"github.com/jmehdipour/oob-signer/internal/kafka"
	"github.com/jmehdipour/oob-signer/internal/logger"
	"github.com/jmehdipour/oob-signer/internal/repository"
	"github.com/jmehdipour/oob-signer/internal/service/relay"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveMemory bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level, "json")
		defer func() { _ = log.Sync() }()

		var (
			store       repository.SessionStore
			redisClient *redis.Client
		)
		if serveMemory {
			store = repository.NewMemorySessionStore()
			log.Warn("using in-memory session store")
		} else {
			redisClient, err = db.NewRedis(cfg.Redis)
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer func() { _ = redisClient.Close() }()
			store = repository.NewRedisSessionStore(redisClient, cfg.Relay.KeyPrefix)
		}

		var pub relay.Publisher = relay.NopPublisher{}
		if len(cfg.Kafka.Brokers) > 0 {
			p := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
			defer func() { _ = p.Close() }()
			pub = p
		}

		var reports repository.CHSessionsRepository
		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouse(cfg.ClickHouse.DSN, db.OptsFrom(cfg.ClickHouse))
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() { _ = chDB.Close() }()
			reports = repository.NewCHSessionsRepository(chDB)
		}

		svc := relay.New(store, pub, cfg.Relay.SessionTTL, log.Named("relay"))
		server := httpSrv.NewServer(cfg, svc, reports, redisClient, log.Named("http"))

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMemory, "memory", false, "keep sessions in process instead of Redis")
}
