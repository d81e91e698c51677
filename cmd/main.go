package main

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"checkout-service/internal/api"
	"checkout-service/internal/auth"
	"checkout-service/internal/cache"
	"checkout-service/internal/config"
	"checkout-service/internal/events"
	"checkout-service/internal/gateway"
	"checkout-service/internal/repository"
	"checkout-service/internal/service"
	"checkout-service/migrations"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

func connectDB(dsn string) (*sql.DB, error) {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid DB DSN: %w", err)
	}
	parsed.ParseTime = true

	var db *sql.DB
	for i := 0; i < 10; i++ {
		db, err = sql.Open("mysql", parsed.FormatDSN())
		if err == nil {
			err = db.Ping()
			if err == nil {
				logger.Info().Str("db", parsed.DBName).Msg("Connected to DB")
				return db, nil
			}
		}
		logger.Warn().Err(err).Int("attempt", i+1).Str("addr", parsed.Addr).Msg("Failed to connect to DB")
		time.Sleep(3 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to DB %s at %s after retries: %w", parsed.DBName, parsed.Addr, err)
}

func callbackLimiter() echo.MiddlewareFunc {
	limiterConfig := middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(5),
				Burst:     20,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusForbidden, api.Response{Success: false, Message: "Unable to identify caller"})
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, api.Response{Success: false, Message: "Rate limit exceeded"})
		},
	}
	return middleware.RateLimiterWithConfig(limiterConfig)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	db, err := connectDB(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("Database unavailable")
	}
	defer db.Close()

	if err := migrations.AutoMigrate(db, 3); err != nil {
		logger.Fatal().Err(err).Msg("Failed to migrate checkout tables")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	store := cache.NewStore(rdb)

	kafkaWriter := config.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer kafkaWriter.Close()
	publisher := events.NewPublisher(kafkaWriter)

	carts := repository.NewCartRepository(db)
	users := repository.NewUserRepository(db)
	coupons := repository.NewCouponRepository(db)
	pricingRepo := repository.NewPricingRepository(db)
	orders := repository.NewOrderRepository(db)
	payments := repository.NewPaymentRepository(db)

	httpClient := gateway.NewHTTPClient(cfg.GatewayTimeout)
	stripeGateway := gateway.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, httpClient)
	sslGateway := gateway.NewSSLCommerzGateway(cfg.SSLCommerz.BaseURL(), cfg.SSLCommerz.StoreID, cfg.SSLCommerz.StorePassword, httpClient)

	pricingService := service.NewPricingService(pricingRepo, store, cfg.Pricing)
	couponService := service.NewCouponService(coupons)
	checkoutService := service.NewCheckoutService(carts, users, orders, couponService, pricingService, publisher, store)
	orderService := service.NewOrderService(orders, publisher)
	paymentService := service.NewPaymentService(orders, payments, checkoutService, stripeGateway, sslGateway, store, publisher, service.PaymentSettings{
		Currency:         cfg.Currency,
		RedirectCurrency: cfg.SSLCommerz.Currency,
		CallbackBaseURL:  cfg.PublicBaseURL,
	})

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.OAuthIssuer, cfg.OAuthPublicKeyPEM)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid OAuth public key")
	}

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	api.RegisterRoutes(e, api.Handlers{
		Checkout: api.NewCheckoutHandler(checkoutService),
		Orders:   api.NewOrderHandler(orderService),
		Payments: api.NewPaymentHandler(paymentService, cfg.FrontendURL),
	}, verifier.Middleware(), callbackLimiter())

	logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("Starting checkout-service")
	if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("Server stopped")
	}
}
