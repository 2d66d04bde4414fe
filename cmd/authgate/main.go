package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"database/sql"
	"encoding/pem"
	"fmt"
	"log"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/veridoc/authgate/adapters/events"
	"github.com/veridoc/authgate/adapters/resolver"
	"github.com/veridoc/authgate/adapters/store"
	"github.com/veridoc/authgate/adapters/tokenizer"
	"github.com/veridoc/authgate/adapters/verifier"
	"github.com/veridoc/authgate/config"
	"github.com/veridoc/authgate/ports"
	"github.com/veridoc/authgate/service"
	transport "github.com/veridoc/authgate/transport/http"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := buildLogger(cfg.AppEnv)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.SentryDSN, Environment: cfg.AppEnv}); err != nil {
			logger.Warn("failed to init sentry", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required")
	}
	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		logger.Fatal("failed to ping database", zap.Error(err))
	}

	signKey, err := loadSigningKey(cfg.SigningKeyPEM)
	if err != nil {
		logger.Fatal("failed to load signing key", zap.Error(err))
	}
	if cfg.SigningKeyPEM == "" {
		logger.Warn("SIGNING_KEY_PEM not set, using an ephemeral key; sessions will not survive restarts")
	}

	publisher := buildPublisher(cfg.RedisURL, logger)

	stores := store.NewPostgres(db)

	limiter := service.NewRateLimiter(stores.RateLimits, service.RateLimiterConfig{
		Window: cfg.RateWindow,
		Tiers: []service.Tier{
			{Threshold: cfg.TierThresholds[0], Block: cfg.TierBlocks[0]},
			{Threshold: cfg.TierThresholds[1], Block: cfg.TierBlocks[1]},
			{Threshold: cfg.TierThresholds[2], Block: cfg.TierBlocks[2]},
		},
	}, logger)

	challengeService := service.NewChallengeService(
		stores.Challenges,
		limiter,
		verifier.New(),
		service.ChallengeConfig{
			Domain:    cfg.SignInDomain,
			Statement: cfg.SignInStatement,
			URI:       cfg.SignInURI,
			ChainID:   cfg.ChainID,
			TTL:       cfg.ChallengeTTL,
		},
		logger,
	)

	authService := service.NewAuthService(
		challengeService,
		stores.Tokens,
		tokenizer.NewJWTTokenizer(signKey),
		resolver.NewStatic(cfg.DefaultRole),
		publisher,
		service.AuthConfig{
			AccessTTL:   cfg.AccessTTL,
			RefreshTTL:  cfg.RefreshTTL,
			DefaultRole: cfg.DefaultRole,
		},
		logger,
	)

	go runSweeper(cfg, stores, challengeService, authService, logger)

	router := transport.SetupRouter(authService, challengeService, limiter)
	logger.Info("starting server", zap.String("port", cfg.Port))
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func buildLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func loadSigningKey(pemStr string) (*ecdsa.PrivateKey, error) {
	if pemStr == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, fmt.Errorf("failed to decode signing key PEM")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse EC private key: %w", err)
	}
	return key, nil
}

func buildPublisher(redisURL string, logger *zap.Logger) ports.EventPublisher {
	if redisURL == "" {
		logger.Info("REDIS_URL not set, session events disabled")
		return events.NewNop()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("failed to parse redis URL, session events disabled", zap.Error(err))
		return events.NewNop()
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: redis.NewClient(opts)},
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		logger.Warn("failed to create redis publisher, session events disabled", zap.Error(err))
		return events.NewNop()
	}
	return events.NewWatermillPublisher(publisher)
}

// runSweeper periodically purges expired challenges, tokens, and stale
// rate-limit attempts.
func runSweeper(cfg config.Config, stores *store.Postgres, challenges *service.ChallengeService, auth *service.AuthService, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

		if n, err := challenges.DeleteExpired(ctx, cfg.ChallengeRetention); err != nil {
			logger.Warn("challenge sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("swept expired challenges", zap.Int64("count", n))
		}

		if n, err := auth.DeleteExpired(ctx, cfg.TokenRetention); err != nil {
			logger.Warn("token sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("swept expired tokens", zap.Int64("count", n))
		}

		cutoff := time.Now().UTC().Add(-cfg.AttemptRetention)
		if n, err := stores.RateLimits.DeleteBefore(ctx, cutoff); err != nil {
			logger.Warn("rate limit sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("swept rate limit attempts", zap.Int64("count", n))
		}

		cancel()
	}
}
