// Package app wires the shared runtime of the api and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/config"
	"github.com/ads-marketplace/dealflow/internal/db"
	"github.com/ads-marketplace/dealflow/internal/events"
	"github.com/ads-marketplace/dealflow/internal/lock"
	"github.com/ads-marketplace/dealflow/internal/repositories"
	"github.com/ads-marketplace/dealflow/internal/sealed"
	"github.com/ads-marketplace/dealflow/internal/services"
	"github.com/ads-marketplace/dealflow/internal/tmepage"
	"github.com/ads-marketplace/dealflow/internal/ton"
	"github.com/ads-marketplace/dealflow/migrations"
)

const tmeFetchRetries = 2

// Core holds the connections and services both binaries run on.
type Core struct {
	Pool       *pgxpool.Pool
	Redis      *redis.Client
	Subscriber events.Subscriber

	Channels  *repositories.ChannelRepo
	Publisher *services.TelegramPublisher
	Escrow    *services.EscrowService
	Deals     *services.DealService
	Disputes  *services.DisputeService
}

// NewCore connects to postgres, redis and the TON network and builds the
// services. Migrations run first, serialized across replicas.
func NewCore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Core, error) {
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns), log)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		pool.Close()
		return nil, err
	}

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	c := &Core{Pool: pool, Redis: rdb}
	if err := c.build(ctx, cfg, log); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Core) build(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var sealer *sealed.Sealer
	if cfg.EscrowAgeIdentity != "" {
		s, err := sealed.New(cfg.EscrowAgeIdentity)
		if err != nil {
			return fmt.Errorf("escrow identity: %w", err)
		}
		sealer = s
	} else {
		log.Warn("ESCROW_AGE_IDENTITY is not set, escrow accounts cannot be opened")
	}

	tonAPI, err := ton.Connect(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("connect to TON: %w", err)
	}
	ledger := ton.NewLedger(tonAPI, log)

	// Repositories
	userRepo := repositories.NewUserRepo(c.Pool)
	c.Channels = repositories.NewChannelRepo(c.Pool)
	dealRepo := repositories.NewDealRepo(c.Pool)
	escrowRepo := repositories.NewEscrowRepo(c.Pool)
	auditRepo := repositories.NewAuditRepo(c.Pool)
	withdrawRepo := repositories.NewWithdrawRepo(c.Pool)
	walletRepo := repositories.NewWalletRepo(c.Pool)
	campaignRepo := repositories.NewCampaignRepo(c.Pool)

	// Events
	publisher := events.NewRedisPublisher(c.Redis, log)
	c.Subscriber = events.NewRedisSubscriber(c.Redis, log)
	locker := lock.NewRedisLocker(c.Redis, log)

	// Telegram side
	botClient := services.NewBotClient(cfg.BotInternalURL, cfg.ExternalCallTimeout, log)
	userbotClient := services.NewUserbotClient(cfg.UserbotInternalURL, cfg.ExternalCallTimeout, log)
	fetcher := tmepage.New(cfg.TMEFetchTimeoutMS, tmeFetchRetries, log)
	c.Publisher = services.NewTelegramPublisher(botClient, services.DefaultStrategies(botClient, userbotClient, fetcher), log)
	notifier := services.NewBotNotifier(publisher, userRepo, cfg.AdminTelegramIDs, log)

	// Services
	c.Escrow = services.NewEscrowService(escrowRepo, ledger, sealer, locker, auditRepo, cfg, log)
	c.Deals = services.NewDealService(dealRepo, c.Escrow, c.Channels, campaignRepo, userRepo, walletRepo, withdrawRepo,
		c.Publisher, notifier, auditRepo, publisher, locker, cfg, log)
	c.Disputes = services.NewDisputeService(c.Deals, log)
	return nil
}

func (c *Core) Close() {
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Pool != nil {
		c.Pool.Close()
	}
}

// Health reports the state of postgres and redis; ok is false when either is down.
func (c *Core) Health(ctx context.Context) (map[string]string, bool) {
	status := db.Health(ctx, c.Pool, c.Redis)
	for _, v := range status {
		if v != "ok" {
			return status, false
		}
	}
	return status, true
}
