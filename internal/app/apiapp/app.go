package apiapp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mvolkov/trackstore/internal/config"
	s3infra "github.com/mvolkov/trackstore/internal/infra/s3"
	stripeinfra "github.com/mvolkov/trackstore/internal/infra/stripe"
	pgrepo "github.com/mvolkov/trackstore/internal/repo/postgres"
	redrepo "github.com/mvolkov/trackstore/internal/repo/redis"
	authsvc "github.com/mvolkov/trackstore/internal/services/auth"
	catalogsvc "github.com/mvolkov/trackstore/internal/services/catalog"
	checkoutsvc "github.com/mvolkov/trackstore/internal/services/checkout"
	downloadsvc "github.com/mvolkov/trackstore/internal/services/downloads"
	entsvc "github.com/mvolkov/trackstore/internal/services/entitlements"
	paymentsvc "github.com/mvolkov/trackstore/internal/services/payments"
	ratesvc "github.com/mvolkov/trackstore/internal/services/rate"
	"github.com/mvolkov/trackstore/internal/transport/http/handlers"

	"github.com/google/uuid"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	postgres   *pgxpool.Pool
	redis      *goredis.Client
	s3         *minio.Client
	httpRouter http.Handler
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, log)

	var pool *pgxpool.Pool
	if p, err := pgrepo.NewPool(ctx, cfg.Postgres.DSN); err != nil {
		log.Warn("postgres init failed, continuing in degraded mode", zap.Error(err))
	} else {
		pool = p
	}

	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	sessionRepo := redrepo.NewSessionRepo(redisClient)
	rateRepo := redrepo.NewRateRepo(redisClient)
	trackRepo := pgrepo.NewTrackRepo(pool)
	purchaseRepo := pgrepo.NewPurchaseRepo(pool)
	deliveryRepo := pgrepo.NewDeliveryRepo(pool)

	var stripeClient *stripeinfra.Client
	if c, err := stripeinfra.NewClient(stripeinfra.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Timeout:       cfg.Stripe.Timeout,
	}); err != nil {
		log.Warn("stripe init failed, continuing in degraded mode", zap.Error(err))
	} else {
		stripeClient = c
	}

	var s3Client *minio.Client
	if c, err := s3infra.NewClient(s3infra.Config{
		Endpoint:  cfg.S3.Endpoint,
		AccessKey: cfg.S3.AccessKey,
		SecretKey: cfg.S3.SecretKey,
		UseSSL:    cfg.S3.UseSSL,
	}); err != nil {
		log.Warn("s3 init failed, continuing in degraded mode", zap.Error(err))
	} else {
		s3Client = c
	}

	jwtManager := authsvc.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
	authService := authsvc.NewService(jwtManager, sessionRepo, cfg.Auth.RefreshTTL)
	catalogService := catalogsvc.NewService(trackRepo)

	checkoutService := checkoutsvc.NewService(checkoutsvc.Dependencies{
		Catalog:  catalogService,
		Provider: stripeClient,
	}, checkoutsvc.Config{
		SuccessURL:      cfg.Stripe.SuccessURL,
		CancelURL:       cfg.Stripe.CancelURL,
		ProviderTimeout: cfg.Stripe.Timeout,
	})
	checkoutService.AttachRateLimiter(ratesvc.NewLimiter(
		rateRepo,
		cfg.Limits.CheckoutPerMinute,
		cfg.Limits.CheckoutPer10Sec,
	))

	paymentService := paymentsvc.NewService(purchaseRepo, uuid.NewString)
	paymentService.AttachDeliveryLog(deliveryRepo)

	entitlementService := entsvc.NewService(purchaseRepo)

	audioStorage := downloadsvc.NewS3Storage(s3Client, cfg.S3.Bucket)
	if s3Client != nil {
		if err := audioStorage.EnsureBucket(ctx); err != nil {
			log.Warn("s3 bucket check failed, continuing in degraded mode", zap.Error(err))
		}
	}
	downloadService := downloadsvc.NewService(downloadsvc.Dependencies{
		Entitlements: entitlementService,
		Catalog:      catalogService,
		Storage:      audioStorage,
	}, downloadsvc.Config{
		URLTTL:         cfg.Download.URLTTL,
		PresignTimeout: cfg.Download.PresignTimeout,
	})

	// A nil *stripeinfra.Client must stay a nil interface so the webhook
	// handler can detect the degraded state.
	var webhookVerifier handlers.WebhookVerifier
	if stripeClient != nil {
		webhookVerifier = stripeClient
	}

	RegisterRoutes(r, Dependencies{
		AuthService:        authService,
		CheckoutService:    checkoutService,
		PaymentService:     paymentService,
		WebhookVerifier:    webhookVerifier,
		EntitlementService: entitlementService,
		DownloadService:    downloadService,
		Logger:             log,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		postgres:   pool,
		redis:      redisClient,
		s3:         s3Client,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server listening", zap.String("addr", a.cfg.HTTP.Addr))
	return a.server.ListenAndServe()
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)

	if a.postgres != nil {
		a.postgres.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}

	return err
}
