package main

import "flag"

// cliFlags mirrors the environment surface one-to-one. Every value is kept as
// a string so the resolve helpers can apply the same flag-then-env precedence
// everywhere.
type cliFlags struct {
	addr               string
	mode               string
	dataPath           string
	mediaDir           string
	logLevel           string
	logFormat          string
	tlsCert            string
	tlsKey             string
	allowedOrigins     string
	sessionTTL         string
	sessionStore       string
	sessionPostgresDSN string
	authGrace          string
	membershipTTL      string

	globalRPS         string
	globalBurst       string
	loginLimit        string
	loginWindow       string
	rateRedisAddr     string
	rateRedisPassword string
	rateRedisTimeout  string

	feedDriver             string
	feedRedisAddr          string
	feedRedisAddrs         string
	feedRedisUsername      string
	feedRedisPassword      string
	feedRedisStream        string
	feedRedisGroup         string
	feedRedisMasterName    string
	feedRedisPoolSize      string
	feedRedisTLSCA         string
	feedRedisTLSCert       string
	feedRedisTLSKey        string
	feedRedisTLSServerName string
	feedRedisTLSSkipVerify string
}

func parseFlags(args []string) cliFlags {
	var flags cliFlags
	fs := flag.NewFlagSet("server", flag.ExitOnError)

	fs.StringVar(&flags.addr, "addr", "", "HTTP listen address")
	fs.StringVar(&flags.mode, "mode", "", "server runtime mode (development or production)")
	fs.StringVar(&flags.dataPath, "data", "", "path to JSON datastore")
	fs.StringVar(&flags.mediaDir, "media-dir", "", "directory for uploaded profile and channel images")
	fs.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&flags.logFormat, "log-format", "", "log format (json or text)")
	fs.StringVar(&flags.tlsCert, "tls-cert", "", "path to TLS certificate file")
	fs.StringVar(&flags.tlsKey, "tls-key", "", "path to TLS private key file")
	fs.StringVar(&flags.allowedOrigins, "allowed-origins", "", "comma separated origins allowed for cross-origin requests")
	fs.StringVar(&flags.sessionTTL, "session-ttl", "", "session lifetime (e.g. 72h)")
	fs.StringVar(&flags.sessionStore, "session-store", "", "session store driver (memory or postgres)")
	fs.StringVar(&flags.sessionPostgresDSN, "session-postgres-dsn", "", "Postgres DSN for the session store")
	fs.StringVar(&flags.authGrace, "auth-grace", "", "grace period for websocket in-band authentication (e.g. 10s)")
	fs.StringVar(&flags.membershipTTL, "membership-ttl", "", "staleness window for the channel membership cache (e.g. 30s)")

	fs.StringVar(&flags.globalRPS, "rate-global-rps", "", "global request rate limit in requests per second")
	fs.StringVar(&flags.globalBurst, "rate-global-burst", "", "global rate limit burst allowance")
	fs.StringVar(&flags.loginLimit, "rate-login-limit", "", "maximum login attempts per window for a single IP")
	fs.StringVar(&flags.loginWindow, "rate-login-window", "", "window for counting login attempts")
	fs.StringVar(&flags.rateRedisAddr, "rate-redis-addr", "", "Redis address for distributed login throttling")
	fs.StringVar(&flags.rateRedisPassword, "rate-redis-password", "", "Redis password for distributed login throttling")
	fs.StringVar(&flags.rateRedisTimeout, "rate-redis-timeout", "", "timeout for Redis rate limiter operations")

	fs.StringVar(&flags.feedDriver, "feed-driver", "", "feed queue driver (memory or redis)")
	fs.StringVar(&flags.feedRedisAddr, "feed-redis-addr", "", "Redis address for the feed queue")
	fs.StringVar(&flags.feedRedisAddrs, "feed-redis-addrs", "", "comma separated Redis addresses for the feed queue")
	fs.StringVar(&flags.feedRedisUsername, "feed-redis-username", "", "Redis username for the feed queue")
	fs.StringVar(&flags.feedRedisPassword, "feed-redis-password", "", "Redis password for the feed queue")
	fs.StringVar(&flags.feedRedisStream, "feed-redis-stream", "", "Redis stream key for feed events")
	fs.StringVar(&flags.feedRedisGroup, "feed-redis-group", "", "Redis consumer group for the feed queue")
	fs.StringVar(&flags.feedRedisMasterName, "feed-redis-sentinel-master", "", "Redis sentinel master name for the feed queue")
	fs.StringVar(&flags.feedRedisPoolSize, "feed-redis-pool-size", "", "maximum Redis connections for the feed queue")
	fs.StringVar(&flags.feedRedisTLSCA, "feed-redis-tls-ca", "", "path to Redis TLS CA certificate for the feed queue")
	fs.StringVar(&flags.feedRedisTLSCert, "feed-redis-tls-cert", "", "path to Redis TLS client certificate for the feed queue")
	fs.StringVar(&flags.feedRedisTLSKey, "feed-redis-tls-key", "", "path to Redis TLS client key for the feed queue")
	fs.StringVar(&flags.feedRedisTLSServerName, "feed-redis-tls-server-name", "", "override Redis TLS server name for the feed queue")
	fs.StringVar(&flags.feedRedisTLSSkipVerify, "feed-redis-tls-skip-verify", "", "skip Redis TLS verification for the feed queue")

	_ = fs.Parse(args)
	return flags
}
