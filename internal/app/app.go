// Package app wires configuration into the shared services used by both binaries.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/relay-bot/internal/ai"
	"github.com/suPer8Hu/relay-bot/internal/bot"
	"github.com/suPer8Hu/relay-bot/internal/catalog"
	"github.com/suPer8Hu/relay-bot/internal/chat"
	"github.com/suPer8Hu/relay-bot/internal/config"
	"github.com/suPer8Hu/relay-bot/internal/db"
	"github.com/suPer8Hu/relay-bot/internal/httpapi/handlers"
	"github.com/suPer8Hu/relay-bot/internal/mode"
	"github.com/suPer8Hu/relay-bot/internal/store/rabbitmq"
	"github.com/suPer8Hu/relay-bot/internal/store/redisstore"
	"github.com/suPer8Hu/relay-bot/internal/transport/webhook"
	"github.com/suPer8Hu/relay-bot/internal/usage"
)

// App holds everything built once at startup.
type App struct {
	Cfg       config.Config
	Log       *zap.Logger
	DB        *gorm.DB
	Catalog   *catalog.Service
	Usage     *usage.Recorder
	Modes     *mode.Machine
	Chat      *chat.Service
	Messenger *webhook.Messenger
	Bot       *bot.Bot
	Handler   *handlers.Handler

	rdb       *redis.Client
	publisher *rabbitmq.Publisher
}

// New connects the store, seeds the catalog and builds the bot. Redis and
// RabbitMQ are optional: without them mode state lives in memory and
// broadcasts are disabled.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb); err != nil {
		return nil, err
	}

	catRepo := catalog.NewRepo(gdb)
	if err := catRepo.Seed(ctx, cfg.AvailableModels); err != nil {
		return nil, fmt.Errorf("seed catalog: %w", err)
	}

	a := &App{Cfg: cfg, Log: log, DB: gdb}
	a.Catalog = catalog.NewService(catRepo, cfg.DefaultModel, log.Named("catalog"))
	a.Usage = usage.NewRecorder(gdb)
	a.Modes = mode.NewMachine(a.modeStore(ctx), log.Named("mode"))

	openrouter := ai.NewOpenRouterProvider(cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, "",
		cfg.OpenRouterSiteURL, cfg.OpenRouterAppName)
	reg := NewRegistry(cfg, openrouter)
	for _, e := range cfg.AvailableModels {
		if !reg.Has(e.Provider) {
			log.Warn("catalog entry uses an unregistered provider",
				zap.String("model", e.Name), zap.String("provider", e.Provider), zap.Strings("registered", reg.Names()))
		}
	}

	retry := ai.DefaultRetryPolicy()
	retry.Attempts = cfg.ProviderAttempts
	a.Chat = chat.NewService(chat.NewRepo(gdb), a.Modes, a.Catalog, reg, a.Usage,
		chat.WithRetryPolicy(retry),
		chat.WithLogger(log.Named("chat")),
	)

	a.Messenger = webhook.NewMessenger(cfg.OutboundURL, cfg.WebhookSecret)

	deps := bot.Deps{
		Chat:      a.Chat,
		Catalog:   a.Catalog,
		Modes:     a.Modes,
		Usage:     a.Usage,
		Images:    openrouter,
		Speech:    openrouter,
		Messenger: a.Messenger,
		Log:       log.Named("bot"),
	}
	if pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue); err != nil {
		log.Warn("rabbitmq unavailable, broadcasts disabled", zap.Error(err))
	} else {
		a.publisher = pub
		deps.Broadcaster = pub
	}

	a.Bot = bot.New(deps, bot.SettingsFrom(cfg))
	a.Handler = handlers.NewHandler(a.Bot, a.Catalog, a.Usage, cfg, log.Named("http"))
	return a, nil
}

// NewRegistry maps catalog provider identifiers to chat providers.
func NewRegistry(cfg config.Config, openrouter *ai.OpenRouterProvider) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		return openrouter.WithModel(strings.TrimSpace(model)), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	return reg
}

func (a *App) modeStore(ctx context.Context) mode.Store {
	rdb := redisstore.New(a.Cfg.RedisAddr, a.Cfg.RedisPassword, a.Cfg.RedisDB)
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		a.Log.Warn("redis unavailable, keeping mode state in memory", zap.String("addr", a.Cfg.RedisAddr), zap.Error(err))
		_ = rdb.Close()
		return mode.NewMemoryStore()
	}
	a.rdb = rdb
	return redisstore.NewModeStore(rdb, a.Cfg.ModeStateTTL)
}

// Close waits for in-flight events, then releases connections.
func (a *App) Close() {
	if a.Handler != nil {
		a.Handler.Wait()
	}
	if a.publisher != nil {
		_ = a.publisher.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
