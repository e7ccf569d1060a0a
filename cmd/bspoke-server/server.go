package main

import (
	"context"
	crypto_rand "crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bspoke/health/internal/config"
	"github.com/bspoke/health/internal/domain/account"
	"github.com/bspoke/health/internal/domain/activity"
	"github.com/bspoke/health/internal/domain/billing"
	"github.com/bspoke/health/internal/domain/identity"
	"github.com/bspoke/health/internal/domain/inbox"
	"github.com/bspoke/health/internal/domain/kyc"
	"github.com/bspoke/health/internal/domain/messaging"
	"github.com/bspoke/health/internal/domain/prescription"
	"github.com/bspoke/health/internal/domain/scheduling"
	"github.com/bspoke/health/internal/platform/apperr"
	"github.com/bspoke/health/internal/platform/auth"
	"github.com/bspoke/health/internal/platform/db"
	"github.com/bspoke/health/internal/platform/hipaa"
	"github.com/bspoke/health/internal/platform/logging"
	"github.com/bspoke/health/internal/platform/middleware"
	"github.com/bspoke/health/internal/platform/notification"
	"github.com/bspoke/health/internal/platform/validate"
	"github.com/bspoke/health/internal/platform/websocket"
	"github.com/bspoke/health/pkg/ids"
)

const tokenIssuer = "bspoke-health"

// infra is everything runServer builds before the router: the process-wide
// stores and senders every domain shares.
type infra struct {
	cfg     *config.Config
	logger  zerolog.Logger
	pool    *pgxpool.Pool
	limiter middleware.Limiter
	revoker auth.Revoker
	sender  notification.EmailSender
	cipher  hipaa.Cipher
	checks  []db.Check
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Console: cfg.IsDev(),
		File:    cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	in := &infra{cfg: cfg, logger: logger, pool: pool}

	// Rate limiting and session revocation
	memLimiter := middleware.NewMemoryLimiter()
	defer memLimiter.Close()
	in.limiter = memLimiter
	if cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using in-memory rate limits and revocation")
		} else {
			defer client.Close()
			in.limiter = middleware.NewFallbackLimiter(middleware.NewRedisLimiter(client), memLimiter, logger)
			in.revoker = auth.NewRedisRevoker(client)
			in.checks = append(in.checks, db.Check{
				Name:  "redis",
				Probe: func(ctx context.Context) error { return client.Ping(ctx).Err() },
			})
			logger.Info().Msg("connected to redis")
		}
	}
	if in.revoker == nil {
		mem := auth.NewMemoryRevoker()
		defer mem.Close()
		in.revoker = mem
	}

	// Outbound mail
	if cfg.SMTPConfigured() {
		in.sender = notification.NewSMTPSender(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Warn().Msg("SMTP_HOST not set, emails are written to the log")
		in.sender = notification.NewLogSender(logger)
	}

	if in.cipher, err = newCipher(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialise message encryption")
	}

	e, err := newServer(in)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build server")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// newCipher builds the message encryptor. Development without a configured
// key gets a per-process key, so stored messages do not survive a restart.
func newCipher(cfg *config.Config, logger zerolog.Logger) (hipaa.Cipher, error) {
	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		logger.Warn().Msg("MESSAGE_ENCRYPTION_KEY not set, using an ephemeral key")
		return hipaa.NewEphemeralEncryptor()
	}
	return hipaa.NewPHIEncryptor(key)
}

// signingKey returns the JWT secret, or a random one in development.
func signingKey(cfg *config.Config, logger zerolog.Logger) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	if !cfg.IsDev() {
		return nil, fmt.Errorf("JWT_SECRET is required when ENV=%q", cfg.Env)
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	logger.Warn().Msg("JWT_SECRET not set, sessions are invalidated on restart")
	return key, nil
}

// limitRules are the per-class request budgets. All classes share one
// window.
type limitRules struct {
	Global, Login, Sensitive, Post, Admin middleware.RateLimitRule
}

func rulesFor(cfg *config.Config) limitRules {
	w := cfg.RateLimitWindow
	retry := fmt.Sprintf("Please try again after %d minutes.", int(w.Minutes()))
	return limitRules{
		Global:    middleware.RateLimitRule{Class: "global", Max: cfg.RateLimitGlobal, Window: w, Message: "Too many requests, please try again later."},
		Login:     middleware.RateLimitRule{Class: "login", Max: cfg.RateLimitLogin, Window: w, Message: "Too many login attempts. " + retry},
		Sensitive: middleware.RateLimitRule{Class: "sensitive", Max: cfg.RateLimitSensitive, Window: w, Message: "Too many attempts. " + retry},
		Post:      middleware.RateLimitRule{Class: "post", Max: cfg.RateLimitPost, Window: w, Message: "Too many requests. " + retry},
		Admin:     middleware.RateLimitRule{Class: "admin", Max: cfg.RateLimitAdmin, Window: w, Message: "Too many requests. " + retry},
	}
}

// newServer wires every domain onto a fresh echo instance.
func newServer(in *infra) (*echo.Echo, error) {
	cfg, logger, pool := in.cfg, in.logger, in.pool

	secret, err := signingKey(cfg, logger)
	if err != nil {
		return nil, err
	}
	tokens := auth.NewTokenIssuer(secret, tokenIssuer)

	numbers, err := ids.NewBookingNumbers(cfg.NodeID)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(logger)

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID", middleware.CSRFHeader, account.DeviceHeader},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	rules := rulesFor(cfg)
	e.Use(middleware.RateLimit(in.limiter, rules.Global, logger))
	if cfg.CSRFEnabled {
		e.Use(middleware.CSRF(cfg.IsProduction()))
	}

	limit := func(r middleware.RateLimitRule) echo.MiddlewareFunc {
		return middleware.RateLimit(in.limiter, r, logger)
	}
	post, adminPost := limit(rules.Post), limit(rules.Admin)

	// Shared collaborators
	tx := db.NewTransactor(pool)
	mailer := notification.NewMailer(in.sender, notification.NewTemplateEngine(), logger)
	hub := websocket.NewHub(logger)
	rec := activity.NewRecorder(activity.NewRepoPG(pool), logger)
	notices := inbox.NewService(inbox.NewRepoPG(pool), hub, logger)

	profiles := identity.NewService(identity.NewDoctorRepoPG(pool), identity.NewPatientRepoPG(pool), tx, mailer, rec, logger)
	accounts := account.NewService(account.Deps{
		Users:       account.NewUserRepoPG(pool),
		History:     account.NewHistoryRepoPG(pool),
		Devices:     account.NewDeviceRepoPG(pool),
		Profiles:    profiles,
		Tx:          tx,
		Hasher:      auth.NewBcryptHasher(auth.DefaultBcryptCost),
		Tokens:      tokens,
		Revoker:     in.revoker,
		Mailer:      mailer,
		Activity:    rec,
		Logger:      logger,
		FrontendURL: cfg.FrontendURL,
	})
	payments := billing.NewService(billing.NewRepoPG(pool), mailer, rec, logger)
	appointments := scheduling.NewService(scheduling.Deps{
		Slots:        scheduling.NewSlotRepoPG(pool),
		Appointments: scheduling.NewAppointmentRepoPG(pool),
		Profiles:     profiles,
		Payments:     payments,
		Tx:           tx,
		Numbers:      numbers,
		Cipher:       in.cipher,
		Notifier:     notices,
		Activity:     rec,
		Logger:       logger,
	})
	verification := kyc.NewService(kyc.NewRepoPG(pool), tx, notices, rec, logger)
	prescriptions := prescription.NewService(prescription.NewRepoPG(pool), appointments, profiles, tx, notices, rec, logger)
	chat := messaging.NewService(messaging.NewRepoPG(pool), appointments, in.cipher, hub, notices, logger)

	// Platform endpoints
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	e.GET("/health/db", db.HealthHandler(pool, in.checks...))
	websocket.NewWebSocketHandler(hub, tokens, in.revoker, chat, cfg.CORSOrigins, logger).RegisterRoutes(e.Group(""))

	api := e.Group("/api")
	api.GET("/csrf-token", middleware.CSRFTokenHandler)
	protected := api.Group("", auth.JWTMiddleware(tokens, in.revoker))

	account.NewHandler(accounts, account.Limits{
		Login:     limit(rules.Login),
		Sensitive: limit(rules.Sensitive),
	}).RegisterRoutes(api, protected)
	identity.NewHandler(profiles, adminPost).RegisterRoutes(api, protected)
	kyc.NewHandler(verification, post).RegisterRoutes(protected)
	scheduling.NewHandler(appointments, post).RegisterRoutes(api, protected)
	billing.NewHandler(payments, post, adminPost).RegisterRoutes(protected)
	prescription.NewHandler(prescriptions, post).RegisterRoutes(protected)
	messaging.NewHandler(chat, post).RegisterRoutes(protected)
	inbox.NewHandler(notices).RegisterRoutes(protected)
	activity.NewHandler(rec).RegisterRoutes(protected)

	return e, nil
}
