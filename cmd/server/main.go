// Command server starts the chat backend HTTP and websocket service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/AvinashSuthar/chat-backend/internal/api"
	"github.com/AvinashSuthar/chat-backend/internal/auth"
	"github.com/AvinashSuthar/chat-backend/internal/chat"
	"github.com/AvinashSuthar/chat-backend/internal/observability/logging"
	"github.com/AvinashSuthar/chat-backend/internal/observability/metrics"
	"github.com/AvinashSuthar/chat-backend/internal/server"
	"github.com/AvinashSuthar/chat-backend/internal/storage"
)

// envConfig captures the environment surface of the service. Durations are
// plain strings so operators can write "90s" or "24h"; parsing happens after
// flag overrides are applied.
type envConfig struct {
	Addr           string `env:"CHAT_BACKEND_ADDR"`
	Mode           string `env:"CHAT_BACKEND_MODE"`
	DataPath       string `env:"CHAT_BACKEND_DATA"`
	MediaDir       string `env:"CHAT_BACKEND_MEDIA_DIR"`
	LogLevel       string `env:"CHAT_BACKEND_LOG_LEVEL"`
	LogFormat      string `env:"CHAT_BACKEND_LOG_FORMAT"`
	TLSCert        string `env:"CHAT_BACKEND_TLS_CERT"`
	TLSKey         string `env:"CHAT_BACKEND_TLS_KEY"`
	AllowedOrigins string `env:"CHAT_BACKEND_ALLOWED_ORIGINS"`

	SessionTTL         string `env:"CHAT_BACKEND_SESSION_TTL"`
	SessionStore       string `env:"CHAT_BACKEND_SESSION_STORE"`
	SessionPostgresDSN string `env:"CHAT_BACKEND_SESSION_POSTGRES_DSN"`
	DatabaseURL        string `env:"DATABASE_URL"`

	AuthGrace     string `env:"CHAT_BACKEND_AUTH_GRACE"`
	MembershipTTL string `env:"CHAT_BACKEND_MEMBERSHIP_TTL"`

	RateGlobalRPS     string `env:"CHAT_BACKEND_RATE_GLOBAL_RPS"`
	RateGlobalBurst   string `env:"CHAT_BACKEND_RATE_GLOBAL_BURST"`
	RateLoginLimit    string `env:"CHAT_BACKEND_RATE_LOGIN_LIMIT"`
	RateLoginWindow   string `env:"CHAT_BACKEND_RATE_LOGIN_WINDOW"`
	RateRedisAddr     string `env:"CHAT_BACKEND_RATE_REDIS_ADDR"`
	RateRedisPassword string `env:"CHAT_BACKEND_RATE_REDIS_PASSWORD"`
	RateRedisTimeout  string `env:"CHAT_BACKEND_RATE_REDIS_TIMEOUT"`

	FeedDriver             string `env:"CHAT_BACKEND_FEED_DRIVER"`
	FeedRedisAddr          string `env:"CHAT_BACKEND_FEED_REDIS_ADDR"`
	FeedRedisAddrs         string `env:"CHAT_BACKEND_FEED_REDIS_ADDRS"`
	FeedRedisUsername      string `env:"CHAT_BACKEND_FEED_REDIS_USERNAME"`
	FeedRedisPassword      string `env:"CHAT_BACKEND_FEED_REDIS_PASSWORD"`
	FeedRedisStream        string `env:"CHAT_BACKEND_FEED_REDIS_STREAM"`
	FeedRedisGroup         string `env:"CHAT_BACKEND_FEED_REDIS_GROUP"`
	FeedRedisMasterName    string `env:"CHAT_BACKEND_FEED_REDIS_SENTINEL_MASTER"`
	FeedRedisPoolSize      string `env:"CHAT_BACKEND_FEED_REDIS_POOL_SIZE"`
	FeedRedisTLSCA         string `env:"CHAT_BACKEND_FEED_REDIS_TLS_CA"`
	FeedRedisTLSCert       string `env:"CHAT_BACKEND_FEED_REDIS_TLS_CERT"`
	FeedRedisTLSKey        string `env:"CHAT_BACKEND_FEED_REDIS_TLS_KEY"`
	FeedRedisTLSServerName string `env:"CHAT_BACKEND_FEED_REDIS_TLS_SERVER_NAME"`
	FeedRedisTLSSkipVerify string `env:"CHAT_BACKEND_FEED_REDIS_TLS_SKIP_VERIFY"`
}

func main() {
	_ = godotenv.Load()

	var envCfg envConfig
	if _, err := env.UnmarshalFromEnviron(&envCfg); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	flags := parseFlags(os.Args[1:])

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(flags.logLevel, envCfg.LogLevel),
		Format: firstNonEmpty(flags.logFormat, envCfg.LogFormat),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	serverMode := modeValue(flags.mode, envCfg.Mode)
	listenAddr := resolveListenAddr(flags.addr, serverMode, envCfg.Addr)

	dataFile := resolveDataPath(flags.dataPath, envCfg.DataPath)
	store, err := storage.NewJSONRepository(dataFile)
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(1)
	}

	sessionConfig, err := resolveSessionStoreConfig(
		flags.sessionStore,
		envCfg.SessionStore,
		firstNonEmpty(flags.sessionPostgresDSN, envCfg.SessionPostgresDSN, envCfg.DatabaseURL),
	)
	if err != nil {
		logger.Error("failed to resolve session store", "error", err)
		os.Exit(1)
	}
	if serverMode == "production" && sessionConfig.Driver == "memory" {
		logger.Warn("memory session store selected in production; sessions will not survive restarts")
	}

	var (
		sessionStore  auth.SessionStore
		sessionCloser func(context.Context) error
	)
	switch sessionConfig.Driver {
	case "memory":
		sessionStore = auth.NewMemorySessionStore()
	case "postgres":
		pgStore, err := auth.NewPostgresSessionStore(sessionConfig.DSN)
		if err != nil {
			logger.Error("failed to open session store", "error", err)
			os.Exit(1)
		}
		sessionStore = pgStore
		sessionCloser = pgStore.Close
	default:
		logger.Error("unsupported session store driver", "driver", sessionConfig.Driver)
		os.Exit(1)
	}

	sessionTTL := resolveDuration(flags.sessionTTL, envCfg.SessionTTL, 72*time.Hour)
	sessions := auth.NewSessionManager(sessionTTL, auth.WithStore(sessionStore))

	feedCfg := chat.RedisQueueConfig{
		Addr:       firstNonEmpty(flags.feedRedisAddr, envCfg.FeedRedisAddr),
		Addrs:      splitAndTrim(firstNonEmpty(flags.feedRedisAddrs, envCfg.FeedRedisAddrs)),
		Username:   firstNonEmpty(flags.feedRedisUsername, envCfg.FeedRedisUsername),
		Password:   firstNonEmpty(flags.feedRedisPassword, envCfg.FeedRedisPassword),
		Stream:     firstNonEmpty(flags.feedRedisStream, envCfg.FeedRedisStream),
		Group:      firstNonEmpty(flags.feedRedisGroup, envCfg.FeedRedisGroup),
		MasterName: firstNonEmpty(flags.feedRedisMasterName, envCfg.FeedRedisMasterName),
		PoolSize:   resolveInt(flags.feedRedisPoolSize, envCfg.FeedRedisPoolSize),
		TLS: chat.RedisTLSConfig{
			CAFile:             firstNonEmpty(flags.feedRedisTLSCA, envCfg.FeedRedisTLSCA),
			CertFile:           firstNonEmpty(flags.feedRedisTLSCert, envCfg.FeedRedisTLSCert),
			KeyFile:            firstNonEmpty(flags.feedRedisTLSKey, envCfg.FeedRedisTLSKey),
			ServerName:         firstNonEmpty(flags.feedRedisTLSServerName, envCfg.FeedRedisTLSServerName),
			InsecureSkipVerify: resolveBool(flags.feedRedisTLSSkipVerify, envCfg.FeedRedisTLSSkipVerify),
		},
	}
	feed, err := configureFeedQueue(firstNonEmpty(flags.feedDriver, envCfg.FeedDriver), feedCfg, logger)
	if err != nil {
		logger.Error("failed to configure feed queue", "error", err)
		os.Exit(1)
	}

	presence := chat.NewRegistry(logging.WithComponent(logger, "presence"))
	membership := chat.NewMembershipCache(store, resolveDuration(flags.membershipTTL, envCfg.MembershipTTL, 30*time.Second))
	router := chat.NewRouter(chat.RouterConfig{
		Store:      store,
		Membership: membership,
		Presence:   presence,
		Feed:       feed,
		Logger:     logging.WithComponent(logger, "router"),
	})
	gateway := chat.NewGateway(chat.GatewayConfig{
		Router:          router,
		Presence:        presence,
		Verifier:        sessions,
		Feed:            feed,
		Logger:          logging.WithComponent(logger, "gateway"),
		AuthGracePeriod: resolveDuration(flags.authGrace, envCfg.AuthGrace, 10*time.Second),
	})
	router.BindDeliverer(gateway)

	handler := api.NewHandler(store, sessions)
	handler.Gateway = gateway
	handler.MediaDir = firstNonEmpty(flags.mediaDir, envCfg.MediaDir)
	if serverMode == "production" {
		handler.SessionCookiePolicy = api.SessionCookiePolicy{
			SameSite:   http.SameSiteStrictMode,
			SecureMode: api.SessionCookieSecureAlways,
		}
	}

	rateCfg := server.RateLimitConfig{
		GlobalRPS:     resolveFloat(flags.globalRPS, envCfg.RateGlobalRPS),
		GlobalBurst:   resolveInt(flags.globalBurst, envCfg.RateGlobalBurst),
		LoginLimit:    resolveInt(flags.loginLimit, envCfg.RateLoginLimit),
		LoginWindow:   resolveDuration(flags.loginWindow, envCfg.RateLoginWindow, time.Minute),
		RedisAddr:     firstNonEmpty(flags.rateRedisAddr, envCfg.RateRedisAddr),
		RedisPassword: firstNonEmpty(flags.rateRedisPassword, envCfg.RateRedisPassword),
		RedisTimeout:  resolveDuration(flags.rateRedisTimeout, envCfg.RateRedisTimeout, 2*time.Second),
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(flags.tlsCert, envCfg.TLSCert),
			KeyFile:  firstNonEmpty(flags.tlsKey, envCfg.TLSKey),
		},
		RateLimit:   rateCfg,
		CORS:        server.CORSConfig{AllowedOrigins: splitAndTrim(firstNonEmpty(flags.allowedOrigins, envCfg.AllowedOrigins))},
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	purgeStop := startSessionPurgeWorker(ctx, logging.WithComponent(logger, "session-purger"), sessions, 15*time.Minute)
	defer purgeStop()
	feedStop := startFeedLogWorker(ctx, logging.WithComponent(logger, "feed"), feed)
	defer feedStop()

	logger.Info("chat backend listening", "addr", listenAddr, "mode", serverMode)
	logger.Info("metrics endpoint available", "path", "/metrics")

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
	}

	stop()
	purgeStop()
	feedStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if closer, ok := feed.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close feed queue", "error", err)
		}
	}
	if sessionCloser != nil {
		if err := sessionCloser(shutdownCtx); err != nil {
			logger.Warn("failed to close session store", "error", err)
		}
	}
	if closer, ok := store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("failed to close datastore", "error", err)
		}
	}

	logger.Info("server stopped")
}

type sessionStoreConfig struct {
	Driver string
	DSN    string
}

func resolveSessionStoreConfig(flagDriver, envDriver, dsn string) (sessionStoreConfig, error) {
	driver := strings.ToLower(strings.TrimSpace(flagDriver))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envDriver))
	}
	dsn = strings.TrimSpace(dsn)
	if driver == "" {
		if dsn != "" {
			driver = "postgres"
		} else {
			driver = "memory"
		}
	}

	switch driver {
	case "memory":
		return sessionStoreConfig{Driver: "memory"}, nil
	case "postgres":
		if dsn == "" {
			return sessionStoreConfig{}, fmt.Errorf("postgres session store selected without DSN")
		}
		return sessionStoreConfig{Driver: "postgres", DSN: dsn}, nil
	default:
		return sessionStoreConfig{}, fmt.Errorf("unsupported session store driver %q", driver)
	}
}

func configureFeedQueue(driver string, cfg chat.RedisQueueConfig, logger *slog.Logger) (chat.Queue, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "redis":
		if len(cfg.Addrs) == 0 && strings.TrimSpace(cfg.Addr) == "" {
			return nil, fmt.Errorf("redis addr is required for the feed queue")
		}
		cfg.Logger = logging.WithComponent(logger, "feed-queue")
		return chat.NewRedisQueue(cfg)
	case "", "memory":
		return chat.NewMemoryQueue(128), nil
	default:
		return nil, fmt.Errorf("unsupported feed queue driver %q", driver)
	}
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveDataPath(flagValue, envValue string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if trimmed := strings.TrimSpace(envValue); trimmed != "" {
		return trimmed
	}
	return "data/chat.json"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue, envValue string) float64 {
	raw := firstNonEmpty(flagValue, envValue)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func resolveInt(flagValue, envValue string) int {
	raw := firstNonEmpty(flagValue, envValue)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0
	}
	return value
}

func resolveDuration(flagValue, envValue string, fallback time.Duration) time.Duration {
	raw := firstNonEmpty(flagValue, envValue)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func resolveBool(flagValue, envValue string) bool {
	raw := firstNonEmpty(flagValue, envValue)
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}
