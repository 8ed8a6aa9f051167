package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"SafeCircle/internal/chat"
	"SafeCircle/internal/emergency"
	handlers "SafeCircle/internal/handler"
	"SafeCircle/internal/models"
	"SafeCircle/internal/notify"
	"SafeCircle/pkg/cache"
	"SafeCircle/pkg/config"
	"SafeCircle/pkg/logger"
	"SafeCircle/pkg/metrics"
	"SafeCircle/pkg/middleware"
	"SafeCircle/pkg/notification"
	stores "SafeCircle/pkg/storage"
	"SafeCircle/pkg/util"
	"SafeCircle/pkg/websocket"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := util.InitDatabase(cfg.DBDriver, cfg.DSN, cfg.Mode == gin.DebugMode)
	if err != nil {
		return err
	}
	if err := models.Migrate(db); err != nil {
		return err
	}

	var redisClient *goredis.Client
	if cfg.Cache.Type == "redis" {
		if redisClient, err = cache.NewRedisClient(cfg.Cache.Redis); err != nil {
			return err
		}
		defer redisClient.Close()
	}

	idemStore, err := newIdempotencyStore(cfg, redisClient)
	if err != nil {
		return err
	}
	defer idemStore.Close()

	limiterStore, err := middleware.NewLimiterStore(redisClient)
	if err != nil {
		return err
	}

	m := metrics.NewMetrics()
	hub := websocket.NewHub(&cfg.WebSocket)
	m.RegisterHub(hub)

	targets := notify.NewGormStore(db)
	channels := []notify.Channel{
		notify.NewMobileChannel(targets, notification.NewExpoPush(notification.ExpoConfig{
			AccessToken: cfg.Push.ExpoAccessToken,
			Timeout:     cfg.Push.ChannelTimeout,
		}, nil)),
	}
	if cfg.Push.WebPushEnabled() {
		channels = append(channels, notify.NewWebChannel(targets, notification.NewWebPush(notification.WebPushConfig{
			PublicKey:  cfg.Push.VAPIDPublicKey,
			PrivateKey: cfg.Push.VAPIDPrivateKey,
			Subscriber: cfg.Push.VAPIDSubscriber,
			Timeout:    cfg.Push.ChannelTimeout,
		}, nil)))
	} else {
		logger.Warn("web push disabled, VAPID keys not configured")
	}
	channels = append(channels, notify.NewRealtimeChannel(hub))
	dispatcher := notify.NewDispatcher(m, channels...)

	svc := emergency.NewService(db, dispatcher, hub, emergency.WithMetrics(m))
	hub.SetJoinAuthorizer(svc.AuthorizeJoin)

	files, err := newFileStore(cfg.Storage)
	if err != nil {
		return err
	}
	chatLimiter, err := middleware.NewKeyLimiter(cfg.ChatRate, limiterStore)
	if err != nil {
		return err
	}
	chatSvc := chat.NewService(db, chatLimiter, hub, files, m)

	apiLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:       cfg.APIRate,
		Identifier: "user",
		AddHeaders: true,
	}, limiterStore).WithObserver(middleware.NewPrometheusObserver(m.Registry()))

	gin.SetMode(cfg.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	handlers.NewHandlers(handlers.Options{
		DB:          db,
		Emergencies: svc,
		Chat:        chatSvc,
		Hub:         hub,
		Metrics:     m,
		Auth:        middleware.NewAuthenticator(cfg.JWTSecret),
		Limiter:     apiLimiter,
		Idempotency: middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{
			TTL:   cfg.IdempotencyTTL,
			Store: idemStore,
		}),
		VAPIDPublicKey: cfg.Push.VAPIDPublicKey,
		MaxUpload:      cfg.Storage.MaxUpload,
	}).Register(engine)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", cfg.Addr),
			zap.Strings("channels", dispatcher.Channels()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	// background fan-outs still emit to the hub, so drain them first
	svc.Wait()
	hub.Close()

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logger.Info("server exited")
	return nil
}

func newIdempotencyStore(cfg *config.Config, client *goredis.Client) (cache.Cache, error) {
	if client != nil {
		return cache.NewRedisCacheFromClient(client, cfg.Cache.Redis), nil
	}
	return cache.NewCache(cfg.Cache)
}

func newFileStore(cfg config.StorageConfig) (stores.Store, error) {
	if !cfg.Enabled() {
		logger.Warn("object storage not configured, attachments are kept in memory")
		return stores.NewMemoryStore("http://localhost/files"), nil
	}
	return stores.NewMinioStore(stores.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
		BaseURL:   cfg.PublicURL,
	})
}
