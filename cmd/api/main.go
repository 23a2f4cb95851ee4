// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/yourusername/sessionbox/internal/auth"
	"github.com/yourusername/sessionbox/internal/cache"
	"github.com/yourusername/sessionbox/internal/config"
	"github.com/yourusername/sessionbox/internal/logging"
	"github.com/yourusername/sessionbox/internal/theme"
)

const (
	serviceName    = "sessionbox-api"
	serviceVersion = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("api: %v", err)
	}
}

// run はサーバーを起動し、シグナルまたは起動失敗で戻ります。
// 後片付けは defer で行うため、エラー時も接続とロガーは閉じられます。
func run() error {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	logger, err := logging.New(cfg.LogLevel, cfg.GinMode)
	if err != nil {
		return errors.Wrap(err, "failed to build logger")
	}
	defer func() { _ = logger.Sync() }()

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApplication(ctx, cfg, logger)
	if err != nil {
		return errors.Wrap(err, "failed to initialize application")
	}
	defer app.Close()

	go app.sessions.RunSweeper(ctx, cfg.SessionSweepInterval())

	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(cfg, app, secret, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting API server",
		zap.String("addr", srv.Addr),
		zap.String("mode", cfg.GinMode),
		zap.String("session_store", cfg.SessionStore),
		zap.String("cache_store", cfg.CacheStore),
		zap.String("expiry_scheduler", cfg.ExpiryScheduler),
	)
	return serve(ctx, srv, logger)
}

// serve は ctx が終わるまでサーバーを動かし、終了時にシャットダウンします。
// ListenAndServe が失敗した場合はそのエラーを返します。
func serve(ctx context.Context, srv *http.Server, logger *zap.Logger) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return errors.Wrap(err, "failed to start server")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exiting")
	return nil
}

// sessionSecret はクッキー署名鍵を返します。
// 未設定の場合は起動ごとに生成するため、再起動で既存のクッキーは無効になります。
func sessionSecret(cfg *config.Config, logger *zap.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, "failed to generate session secret")
	}
	logger.Warn("SESSION_SECRET is not set; using a random key for this process")
	return secret, nil
}

// newRouter はミドルウェアとルーティングを設定したルーターを返します。
func newRouter(cfg *config.Config, app *application, secret []byte, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(logging.Middleware(logger.Named("http")), gin.Recovery())

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
	}
	router.Use(cors.New(corsConfig))

	// セッションクッキーにはトークンだけを載せる
	router.Use(auth.SessionMiddleware(secret))

	if cfg.EnablePprof {
		pprof.Register(router)
	}

	setupRoutes(router, app, logger)
	return router
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// setupRoutes は認証とデータ取得の配線を行います。
func setupRoutes(router *gin.Engine, app *application, logger *zap.Logger) {
	// まずは誰でも叩けるヘルスチェックを登録
	router.GET("/health", handleHealth)
	router.GET("/metrics", gin.WrapH(app.metrics.Handler()))

	authManager := auth.NewManager(app.users, app.hasher, app.sessions, app.metrics, logger.Named("auth"))

	router.POST("/register", authManager.Register)
	router.POST("/login", authManager.Login)
	router.POST("/logout", authManager.Logout)
	router.POST("/theme", theme.Handler(logger))

	protected := router.Group("")
	protected.Use(authManager.RequireLogin())
	{
		protected.GET("/profile", authManager.Profile)
		protected.GET("/data", cache.Handler(app.cache, app.metrics, logger.Named("cache")))
	}
}
