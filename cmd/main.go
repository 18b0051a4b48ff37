/**
 * @description
 * This is the main entry point for the billing service. It loads configuration,
 * connects to PostgreSQL, Redis and RabbitMQ, builds the gateway and email
 * clients, and runs the HTTP server, the notification consumer and the cron
 * scheduler until a termination signal arrives.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Card validation rate limiting.
 * - golang.org/x/sync/errgroup: Runs the long-lived components together.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/mercadopago, pkg/pagbank, pkg/resend, pkg/rabbitmq: External clients.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/virtualmercado/shopdrive-sub004/internal/api"
	"github.com/virtualmercado/shopdrive-sub004/internal/app"
	"github.com/virtualmercado/shopdrive-sub004/internal/config"
	"github.com/virtualmercado/shopdrive-sub004/internal/store"
	"github.com/virtualmercado/shopdrive-sub004/pkg/mercadopago"
	"github.com/virtualmercado/shopdrive-sub004/pkg/pagbank"
	rmrabbit "github.com/virtualmercado/shopdrive-sub004/pkg/rabbitmq"
	"github.com/virtualmercado/shopdrive-sub004/pkg/resend"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Println("level=warn component=bootstrap msg=\"internal api key not set; internal routes are unauthenticated\" env=INTERNAL_API_KEY")
	}
	if strings.TrimSpace(cfg.JWTSecret) == "" && strings.TrimSpace(cfg.JWKSURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"JWT_SECRET or JWKS_URL must be configured\"")
	}

	log.Printf("level=info component=bootstrap msg=\"starting billing-service\" port=%s", cfg.ServerPort)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	var limiter app.CardAttemptLimiter
	if cfg.CardValidationAttemptLimit > 0 {
		if redisClient := connectRedis(cfg.RedisURL); redisClient != nil {
			defer redisClient.Close()
			limiter = app.NewRedisCardAttemptLimiter(redisClient, cfg.RedisRateLimitPrefix)
		}
	}

	repository := store.NewPostgresRepository(dbpool)
	mercadoPagoClient := mercadopago.NewClient(cfg.MercadoPagoAPIBaseURL)
	pagBankClient := pagbank.NewClient(cfg.PagBankAPIBaseURL)
	resendClient := resend.NewClient(cfg.ResendAPIBaseURL, cfg.ResendAPIKey)
	if strings.TrimSpace(cfg.ResendAPIKey) == "" {
		log.Println("level=warn component=bootstrap msg=\"resend api key not set; emails will fail\" env=RESEND_API_KEY")
	}

	billingService := app.NewService(
		repository,
		mercadoPagoClient,
		pagBankClient,
		publisher,
		limiter,
		logger,
		app.Options{
			Exchange:                   cfg.BillingEventsExchange,
			MercadoPagoAccessToken:     cfg.MercadoPagoAccessToken,
			PagBankToken:               cfg.PagBankToken,
			CardValidationAttemptLimit: cfg.CardValidationAttemptLimit,
			CardValidationWindow:       time.Duration(cfg.CardValidationWindowMinutes) * time.Minute,
			PendingPaymentMinAge:       time.Duration(cfg.PendingPaymentMinAgeMinutes) * time.Minute,
			NotificationURL:            webhookURL(cfg.PublicBaseURL),
		},
	)
	notifier := app.NewNotifier(resendClient, repository, cfg.EmailFrom, cfg.AppBaseURL, logger)

	jobs := app.NewJobs(billingService, logger)
	scheduler := app.NewScheduler(jobs, logger, app.SchedulerConfig{
		PendingPaymentSweepSchedule: cfg.PendingPaymentSweepSchedule,
		GraceExpirySchedule:         cfg.GraceExpirySchedule,
	})

	webhookLimiter := api.NewIPRateLimiter(cfg.WebhookRateLimitPerMinute)
	defer webhookLimiter.Stop()

	router := api.NewRouter(api.NewHandler(billingService, notifier), api.RouterConfig{
		Auth: api.AuthConfig{
			JWTSecret: cfg.JWTSecret,
			JWKSURL:   cfg.JWKSURL,
			Audience:  cfg.JWTAudience,
			Issuer:    cfg.JWTIssuer,
		},
		InternalAPIKey:    cfg.InternalAPIKey,
		WebhookLimiter:    webhookLimiter,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	})

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if rabbitProducer != nil {
		consumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; billing emails disabled\" err=%v", err)
		} else {
			defer consumer.Close()
			g.Go(func() error {
				return consumer.ConsumeWithBindings(ctx, cfg.BillingEventsExchange, cfg.NotificationQueue, notifier.Bindings())
			})
			log.Println("level=info component=bootstrap msg=\"notification consumer started\"")
		}
	}

	scheduler.Start()
	logger.Info("scheduler started")

	g.Go(func() error {
		<-ctx.Done()
		log.Println("level=info component=http msg=\"shutdown started\"")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
		}
		<-scheduler.Stop().Done()
		logger.Info("scheduler stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("level=error component=bootstrap msg=\"service stopped with error\" err=%v", err)
	}
	log.Println("level=info component=http msg=\"shutdown complete\"")
}

// connectRedis returns a connected client, or nil when Redis is not usable.
func connectRedis(redisURL string) *redis.Client {
	if strings.TrimSpace(redisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; card validation rate limiting disabled\" env=REDIS_URL")
		return nil
	}

	redisOptions, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; card validation rate limiting disabled\" err=%v", err)
		return nil
	}

	client := redis.NewClient(redisOptions)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Printf("level=warn component=bootstrap msg=\"redis ping failed; card validation rate limiting disabled\" err=%v", err)
		client.Close()
		return nil
	}
	log.Println("level=info component=bootstrap msg=\"redis connected\"")
	return client
}

func webhookURL(publicBaseURL string) string {
	base := strings.TrimSuffix(strings.TrimSpace(publicBaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/webhooks/mercadopago"
}
