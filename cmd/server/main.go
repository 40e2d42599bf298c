package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-vc/backoffice/internal/api"
	"github.com/meridian-vc/backoffice/internal/audit"
	"github.com/meridian-vc/backoffice/internal/config"
	"github.com/meridian-vc/backoffice/internal/consent"
	"github.com/meridian-vc/backoffice/internal/pkg/logger"
	"github.com/meridian-vc/backoffice/internal/privacy"
	"github.com/meridian-vc/backoffice/internal/storage"
	"github.com/meridian-vc/backoffice/internal/subscriber"
)

// checkPortAvailable verifies the target port is not already in use, so a
// stale process fails startup loudly instead of silently shadowing us.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %w", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		logger.Error("pre-flight check failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}

	sink := newAuditSink(ctx, cfg.Audit)

	var limiter *api.RateLimiter
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiting disabled", "error", err)
		} else {
			limiter = api.NewRateLimiter(redisClient)
			logger.Info("rate limiting enabled", "addr", cfg.Redis.Addr)
		}
		pingCancel()
	}

	registry := subscriber.New(store, sink, cfg.Secrets.IPHashSalt)
	ledger := consent.New(store, sink, consent.Options{
		IPSalt:         cfg.Secrets.IPHashSalt,
		TokenSecret:    cfg.Secrets.UnsubscribeTokenSecret,
		PolicyVersion:  cfg.Privacy.PolicyVersion,
		ConsentVersion: cfg.Privacy.ConsentVersion,
		TokenMaxAge:    time.Duration(cfg.Privacy.TokenMaxAgeDays) * 24 * time.Hour,
	})
	ph := privacy.New(store, registry, ledger, sink)

	server := api.NewServer(cfg.Server, registry, ledger, ph, store, limiter)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		logger.Info("server listening", "addr", addr, "backend", cfg.Storage.Backend)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func newStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Backend {
	case "memory":
		logger.Warn("using in-memory storage, data will not survive restarts")
		return storage.NewMemory(), nil
	case "dynamodb", "":
		return storage.NewDynamo(ctx, storage.DynamoOptions{
			Table:     cfg.DynamoDBTable,
			Region:    cfg.AWSRegion,
			Profile:   cfg.GetAWSProfile(),
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newAuditSink(ctx context.Context, cfg config.AuditConfig) audit.Sink {
	if cfg.QueueURL == "" {
		logger.Info("audit queue not configured, audit events go to logs")
		return audit.LogSink{}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		logger.Warn("aws config load failed, audit events go to logs", "error", err)
		return audit.LogSink{}
	}
	return audit.NewSQSSink(sqs.NewFromConfig(awsCfg), cfg.QueueURL)
}
