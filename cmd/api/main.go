package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/timemachine/backend/internal/config"
	"github.com/zhouzirui/timemachine/backend/internal/handler"
	"github.com/zhouzirui/timemachine/backend/internal/middleware"
	"github.com/zhouzirui/timemachine/backend/internal/model/persona"
	"github.com/zhouzirui/timemachine/backend/internal/model/playlist"
	"github.com/zhouzirui/timemachine/backend/internal/service/ai"
	"github.com/zhouzirui/timemachine/backend/internal/service/chat"
	"github.com/zhouzirui/timemachine/backend/internal/service/usage"
)

// purger is implemented by usage stores that keep expired counters around.
type purger interface {
	Purge(ctx context.Context, now time.Time) (int64, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := cfg.Log.NewLogger()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if envErr != nil {
		logger.Info("no .env file loaded, using system environment only", zap.Error(envErr))
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	items, err := cfg.Personas()
	if err != nil {
		return fmt.Errorf("load personas: %w", err)
	}
	personaStore := persona.NewMemoryStore(items)

	store, closeStore, err := openUsageStore(ctx, cfg.Usage)
	if err != nil {
		return err
	}
	defer closeStore()
	ledger := usage.NewLedger(store, personaStore, usage.WithLocation(cfg.Usage.Location))
	logger.Info("usage ledger ready", zap.String("backend", cfg.Usage.Backend), zap.String("timezone", cfg.Usage.Location.String()))

	var chatModel model.BaseChatModel
	chatModel, err = cfg.AI.NewChatModel(ctx)
	switch {
	case errors.Is(err, config.ErrAINotConfigured):
		logger.Warn("model credentials not configured, replies will ask users to contact support")
		chatModel = nil
	case err != nil:
		return fmt.Errorf("init chat model: %w", err)
	default:
		logger.Info("chat model ready", zap.String("provider", cfg.AI.Provider))
	}

	aiService, err := ai.NewService(ctx, chatModel, ai.Options{
		VisionModel:   cfg.AI.VisionModel,
		ModelOverride: cfg.AI.Model,
	}, logger)
	if err != nil {
		return fmt.Errorf("init ai service: %w", err)
	}

	chatService := chat.NewService(personaStore, ledger, aiService, chat.Options{
		Online: cfg.Server.Online,
		Logger: logger,
	})
	if !cfg.Server.Online {
		logger.Warn("APP_ONLINE is false, every send will be refused")
	}

	var limiter *middleware.RateLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst, logger)
	}

	router := handler.NewRouter(handler.Dependencies{
		Personas:     personaStore,
		Chat:         chatService,
		Usage:        ledger,
		Playlist:     playlist.Default(),
		Limiter:      limiter,
		AIConfigured: aiService.Configured(),
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("TimeMachine backend listening", zap.String("addr", srv.Addr))
		return runServer(ctx, srv)
	})
	g.Go(func() error {
		janitor(ctx, cfg, chatService, limiter, store, logger)
		return nil
	})
	return g.Wait()
}

func openUsageStore(ctx context.Context, cfg config.UsageConfig) (usage.Store, func(), error) {
	switch cfg.Backend {
	case config.UsageRedis:
		store, err := usage.NewRedisStore(ctx, usage.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect usage redis: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	case config.UsageSQLite, config.UsageMySQL:
		db, err := usage.OpenDB(cfg.Backend, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open usage database: %w", err)
		}
		if err := usage.Migrate(db, cfg.Backend); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate usage database: %w", err)
		}
		return usage.NewSQLStore(db, cfg.Backend), func() { _ = db.Close() }, nil
	default:
		return usage.NewMemoryStore(), func() {}, nil
	}
}

// janitor drops idle sessions and limiters and purges expired counters.
func janitor(ctx context.Context, cfg *config.Config, chatService *chat.Service, limiter *middleware.RateLimiter, store usage.Store, logger *zap.Logger) {
	interval := cfg.Usage.PurgeInterval
	if idle := cfg.Server.SessionIdleTTL; idle > 0 && idle < interval {
		interval = idle
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if ttl := cfg.Server.SessionIdleTTL; ttl > 0 {
				if n := chatService.Prune(ttl); n > 0 {
					logger.Info("pruned idle sessions", zap.Int("count", n), zap.Int("live", chatService.Len()))
				}
			}
			if limiter != nil {
				limiter.Sweep(10 * time.Minute)
			}
			if p, ok := store.(purger); ok {
				n, err := p.Purge(ctx, now)
				if err != nil {
					logger.Warn("purge usage counters", zap.Error(err))
				} else if n > 0 {
					logger.Debug("purged usage counters", zap.Int64("count", n))
				}
			}
		}
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
