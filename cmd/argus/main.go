package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/argus-terminal/argus/internal/api"
	"github.com/argus-terminal/argus/internal/bus"
	"github.com/argus-terminal/argus/internal/config"
	"github.com/argus-terminal/argus/internal/ledger"
	"github.com/argus-terminal/argus/internal/mirror"
	"github.com/argus-terminal/argus/internal/poll"
	"github.com/argus-terminal/argus/internal/store"
	"github.com/argus-terminal/argus/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	vaultAddr, err := cfg.Ledger.VaultAddress()
	if err != nil {
		log.Fatal("bad vault address", zap.Error(err))
	}

	log.Info("argus starting",
		zap.String("env", cfg.Env),
		zap.String("ledger", cfg.Ledger.URL),
		zap.String("vault", vaultAddr.Hex()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	b := bus.New()
	w := wallet.New(b)
	remote := ledger.NewClient(cfg.Ledger.URL)

	back := poll.Backoff{
		Floor:   cfg.Sync.BackoffFloor(),
		Ceiling: cfg.Sync.BackoffCeiling(),
	}
	vault := mirror.NewVault(vaultAddr)
	task := mirror.NewVaultTask(vault, remote, w, b, back,
		cfg.Sync.PageLimit, cfg.Sync.DepthSlots, cfg.Sync.RecentTrades, log)

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		writer := store.NewWriter(redisHSet{client}, vault, b.SubscribeRender(), log)
		go writer.Run(ctx)
		log.Info("redis writer enabled", zap.String("addr", cfg.Redis.Addr))
	}

	server := api.NewServer(cfg.API.Addr, cfg.API.Origins, task, w, b, log)
	go func() {
		if err := server.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("api server failed", zap.Error(err))
			cancel()
		}
	}()

	if err := task.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("sync engine failed", zap.Error(err))
	}

	log.Info("argus shutting down")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// redisHSet adapts *redis.Client's result-typed HSet to the store's
// error-returning interface.
type redisHSet struct {
	c *redis.Client
}

func (r redisHSet) HSet(ctx context.Context, key string, values ...any) error {
	return r.c.HSet(ctx, key, values...).Err()
}
