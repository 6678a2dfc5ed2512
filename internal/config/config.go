package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
	StorePgx    = "pgx"
	StoreSQLite = "sqlite"

	FeedAuto   = "auto"
	FeedRedis  = "redis"
	FeedPoll   = "poll"
	FeedMemory = "memory"
)

type Config struct {
	RunAddress  string
	GRPCAddress string

	StoreDriver string
	StoreDSN    string
	RedisAddr   string
	ChangeFeed  string

	PollInterval      time.Duration
	GatewayDelay      time.Duration
	GatewayTimeout    time.Duration
	StoreTimeout      time.Duration
	SettlementWorkers int
	ClaimTTL          time.Duration
	SweepInterval     time.Duration
	SweepStaleAfter   time.Duration

	JWTSecret       string
	LogLevel        string
	EmbedSettlement bool
}

// New reads flags from the command line with environment overrides and validates the result.
func New() (*Config, error) {
	return Load(flag.CommandLine, os.Args[1:], os.LookupEnv)
}

// Load parses args into fs, then applies variables found by lookup. An
// environment variable wins over its flag.
func Load(fs *flag.FlagSet, args []string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := &Config{}

	fs.StringVar(&cfg.RunAddress, "a", ":8080", "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddress, "g", ":50051", "gRPC listen address")
	fs.StringVar(&cfg.StoreDriver, "store", StoreMemory, "order store driver: memory, mysql, pgx or sqlite")
	fs.StringVar(&cfg.StoreDSN, "d", "", "order store DSN")
	fs.StringVar(&cfg.RedisAddr, "redis", "", "redis address, empty disables redis")
	fs.StringVar(&cfg.ChangeFeed, "feed", FeedAuto, "change feed: auto, redis, poll or memory")
	fs.DurationVar(&cfg.PollInterval, "poll-interval", time.Second, "polling feed interval")
	fs.DurationVar(&cfg.GatewayDelay, "gateway-delay", 3*time.Second, "simulated gateway latency")
	fs.DurationVar(&cfg.GatewayTimeout, "gateway-timeout", 10*time.Second, "payment gateway call timeout")
	fs.DurationVar(&cfg.StoreTimeout, "store-timeout", 5*time.Second, "order store call timeout")
	fs.IntVar(&cfg.SettlementWorkers, "workers", 16, "maximum concurrent settlement workers")
	fs.DurationVar(&cfg.ClaimTTL, "claim-ttl", time.Minute, "settlement claim lifetime")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", 30*time.Second, "pending sweep interval")
	fs.DurationVar(&cfg.SweepStaleAfter, "sweep-stale-after", time.Minute, "age after which a pending order is swept")
	fs.StringVar(&cfg.JWTSecret, "s", "", "jwt secret, empty disables auth")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.BoolVar(&cfg.EmbedSettlement, "embed-settlement", false, "run the settlement listener inside the API server")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	env := envReader{lookup: lookup}
	cfg.RunAddress = env.String("RUN_ADDRESS", cfg.RunAddress)
	cfg.GRPCAddress = env.String("GRPC_ADDRESS", cfg.GRPCAddress)
	cfg.StoreDriver = env.String("STORE_DRIVER", cfg.StoreDriver)
	cfg.StoreDSN = env.String("STORE_DSN", cfg.StoreDSN)
	cfg.RedisAddr = env.String("REDIS_ADDR", cfg.RedisAddr)
	cfg.ChangeFeed = env.String("CHANGE_FEED", cfg.ChangeFeed)
	cfg.PollInterval = env.Duration("POLL_INTERVAL", cfg.PollInterval)
	cfg.GatewayDelay = env.Duration("GATEWAY_DELAY", cfg.GatewayDelay)
	cfg.GatewayTimeout = env.Duration("GATEWAY_TIMEOUT", cfg.GatewayTimeout)
	cfg.StoreTimeout = env.Duration("STORE_TIMEOUT", cfg.StoreTimeout)
	cfg.SettlementWorkers = env.Int("SETTLEMENT_WORKERS", cfg.SettlementWorkers)
	cfg.ClaimTTL = env.Duration("CLAIM_TTL", cfg.ClaimTTL)
	cfg.SweepInterval = env.Duration("SWEEP_INTERVAL", cfg.SweepInterval)
	cfg.SweepStaleAfter = env.Duration("SWEEP_STALE_AFTER", cfg.SweepStaleAfter)
	cfg.JWTSecret = env.String("AUTH_JWT_SECRET", cfg.JWTSecret)
	cfg.LogLevel = env.String("LOG_LEVEL", cfg.LogLevel)
	cfg.EmbedSettlement = env.Bool("EMBED_SETTLEMENT", cfg.EmbedSettlement)

	if err := env.Err(); err != nil {
		return nil, err
	}

	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.ChangeFeed = strings.ToLower(strings.TrimSpace(cfg.ChangeFeed))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case StoreMemory:
	case StoreMySQL, StorePgx, StoreSQLite:
		if c.StoreDSN == "" {
			errs = append(errs, fmt.Errorf("store driver %s requires STORE_DSN", c.StoreDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.StoreDriver))
	}

	switch c.ChangeFeed {
	case FeedAuto, FeedPoll:
	case FeedRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis change feed requires REDIS_ADDR"))
		}
	case FeedMemory:
		if c.StoreDriver != StoreMemory {
			errs = append(errs, errors.New("memory change feed only works with the memory store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown change feed %q", c.ChangeFeed))
	}

	if c.SettlementWorkers <= 0 {
		errs = append(errs, errors.New("settlement workers must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"POLL_INTERVAL":     c.PollInterval,
		"GATEWAY_TIMEOUT":   c.GatewayTimeout,
		"STORE_TIMEOUT":     c.StoreTimeout,
		"CLAIM_TTL":         c.ClaimTTL,
		"SWEEP_INTERVAL":    c.SweepInterval,
		"SWEEP_STALE_AFTER": c.SweepStaleAfter,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.GatewayDelay < 0 {
		errs = append(errs, errors.New("GATEWAY_DELAY must not be negative"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Feed resolves "auto" to a concrete change feed.
func (c *Config) Feed() string {
	if c.ChangeFeed != FeedAuto {
		return c.ChangeFeed
	}
	switch {
	case c.RedisAddr != "":
		return FeedRedis
	case c.StoreDriver == StoreMemory:
		return FeedMemory
	default:
		return FeedPoll
	}
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

// NewLogger returns the JSON logger used by every process.
func (c *Config) NewLogger() *slog.Logger {
	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) String(key, fallback string) string {
	if value, ok := e.lookup(key); ok {
		return value
	}
	return fallback
}

func (e *envReader) Duration(key string, fallback time.Duration) time.Duration {
	value, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func (e *envReader) Int(key string, fallback int) int {
	value, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (e *envReader) Bool(key string, fallback bool) bool {
	value, ok := e.lookup(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func (e *envReader) Err() error {
	return errors.Join(e.errs...)
}
