package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourusername/sessionbox/internal/cache"
	"github.com/yourusername/sessionbox/internal/config"
	"github.com/yourusername/sessionbox/internal/jobs"
	"github.com/yourusername/sessionbox/internal/metrics"
	"github.com/yourusername/sessionbox/internal/password"
	"github.com/yourusername/sessionbox/internal/session"
	"github.com/yourusername/sessionbox/internal/users"
)

// application は起動時に組み立てたコンポーネントをまとめたものです。
type application struct {
	hasher    *password.Hasher
	users     *users.FileStore
	sessions  *session.Manager
	cache     *cache.Cache
	scheduler jobs.Scheduler
	metrics   *metrics.Metrics
	redis     *redis.Client
}

// buildApplication は設定に従ってストアとスケジューラを選び、依存を組み立てます。
func buildApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	app := &application{metrics: metrics.New()}

	if cfg.SessionStore == config.StoreRedis || cfg.CacheStore == config.StoreRedis {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		app.redis = rdb
	}

	hasher, err := password.NewHasher(cfg.BcryptCost, cfg.HashConcurrency)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.hasher = hasher

	userStore, err := users.OpenFileStore(cfg.UsersFile, hasher)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.users = userStore

	var sessionStore session.Store = session.NewMemoryStore()
	if cfg.SessionStore == config.StoreRedis {
		sessionStore = session.NewRedisStore(app.redis, "")
	}
	app.sessions = session.NewManager(sessionStore, session.WithLogger(logger.Named("session")))

	var slot cache.Slot
	if cfg.CacheStore == config.StoreRedis {
		slot = cache.NewRedisSlot(app.redis, "")
	} else {
		fileSlot, err := cache.NewFileSlot(cfg.CacheDir)
		if err != nil {
			app.Close()
			return nil, err
		}
		slot = fileSlot
	}

	var asynqScheduler *jobs.AsynqScheduler
	if cfg.ExpiryScheduler == config.SchedulerAsynq {
		asynqScheduler, err = jobs.NewAsynqScheduler(cfg.RedisURL, logger.Named("jobs"))
		if err != nil {
			app.Close()
			return nil, err
		}
		app.scheduler = asynqScheduler
	} else {
		app.scheduler = jobs.NewTimerScheduler(logger.Named("jobs"))
	}

	app.cache, err = cache.New(slot, cache.NewRandomSource(nil), cache.Options{
		TTL:       cfg.CacheTTL(),
		Scheduler: app.scheduler,
		Logger:    logger.Named("cache"),
	})
	if err != nil {
		app.Close()
		return nil, err
	}

	// 削除先の登録が済んでからワーカーを起動する
	if asynqScheduler != nil {
		asynqScheduler.StartWorkers()
	}

	if err := app.cache.Restore(ctx); err != nil {
		logger.Warn("failed to restore cache expiry", zap.Error(err))
	}

	return app, nil
}

// Close は確保した接続とタイマーを解放します。
func (a *application) Close() {
	if a.scheduler != nil {
		_ = a.scheduler.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse redis url")
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return rdb, nil
}
