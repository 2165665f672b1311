// Package config loads server settings from flags with PBSERVER_*
// environment fallbacks.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreRedis    = "redis"
	StoreBolt     = "bolt"
	StoreSQLite   = "sqlite"
	StoreDynamoDB = "dynamodb"
	StoreMongoDB  = "mongodb"
	StoreMemory   = "memory"
)

const envPrefix = "PBSERVER_"

// Config holds all server options.
type Config struct {
	Addr string

	// Storage
	Store            string
	RedisURL         string
	DataPath         string
	DynamoDBTable    string
	DynamoDBRegion   string
	DynamoDBEndpoint string
	MongoDBURI       string
	MongoDBDatabase  string
	StoreTimeout     time.Duration
	SweepInterval    time.Duration

	// HTTP
	BaseURL     string
	BehindProxy bool

	// Limits
	MaxBodySize           int64
	PasteExpirySeconds    int64
	ReadLimit             int64
	WriteLimit            int64
	ThrottleWindowSeconds int64

	LogLevel      string
	EnableMetrics bool
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Addr:                  ":8080",
		Store:                 StoreRedis,
		RedisURL:              "redis://localhost:6379/0",
		DataPath:              "./pbserver.db",
		DynamoDBTable:         "pbserver",
		MongoDBURI:            "mongodb://localhost:27017",
		MongoDBDatabase:       "pbserver",
		StoreTimeout:          2 * time.Second,
		SweepInterval:         time.Minute,
		MaxBodySize:           64 << 10,
		PasteExpirySeconds:    24 * 60 * 60,
		ReadLimit:             100,
		WriteLimit:            10,
		ThrottleWindowSeconds: 60 * 60,
		LogLevel:              "info",
		EnableMetrics:         true,
	}
}

// Load parses args (without the program name). Each flag defaults to the
// environment variable PBSERVER_<NAME>, NAME being the flag name upper-cased
// with dashes turned into underscores; lookup is usually os.Getenv.
func Load(args []string, lookup func(string) string, output io.Writer) (*Config, error) {
	cfg := Default()
	env := environment{lookup: lookup}

	fs := flag.NewFlagSet("pbserver", flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	fs.StringVar(&cfg.Addr, "addr", env.str("addr", cfg.Addr), "listen address")

	fs.StringVar(&cfg.Store, "store", env.str("store", cfg.Store), "store backend: redis, bolt, sqlite, dynamodb, mongodb, memory")
	fs.StringVar(&cfg.RedisURL, "redis-url", env.str("redis-url", cfg.RedisURL), "redis connection URL")
	fs.StringVar(&cfg.DataPath, "data", env.str("data", cfg.DataPath), "path to data file (bolt, sqlite)")
	fs.StringVar(&cfg.DynamoDBTable, "dynamodb-table", env.str("dynamodb-table", cfg.DynamoDBTable), "DynamoDB table name")
	fs.StringVar(&cfg.DynamoDBRegion, "dynamodb-region", env.str("dynamodb-region", cfg.DynamoDBRegion), "AWS region (default from the AWS environment)")
	fs.StringVar(&cfg.DynamoDBEndpoint, "dynamodb-endpoint", env.str("dynamodb-endpoint", cfg.DynamoDBEndpoint), "DynamoDB endpoint override, e.g. DynamoDB Local")
	fs.StringVar(&cfg.MongoDBURI, "mongodb-uri", env.str("mongodb-uri", cfg.MongoDBURI), "MongoDB connection URI")
	fs.StringVar(&cfg.MongoDBDatabase, "mongodb-database", env.str("mongodb-database", cfg.MongoDBDatabase), "MongoDB database name")
	fs.DurationVar(&cfg.StoreTimeout, "store-timeout", env.duration("store-timeout", cfg.StoreTimeout), "timeout of a single store operation")
	fs.DurationVar(&cfg.SweepInterval, "sweep-interval", env.duration("sweep-interval", cfg.SweepInterval), "janitor interval for stores without native expiry")

	fs.StringVar(&cfg.BaseURL, "base-url", env.str("base-url", cfg.BaseURL), "canonical base URL (optional)")
	fs.BoolVar(&cfg.BehindProxy, "behind-proxy", env.boolean("behind-proxy", cfg.BehindProxy), "trust proxy headers for the client address and scheme")

	fs.Int64Var(&cfg.MaxBodySize, "max-body-size", env.integer("max-body-size", cfg.MaxBodySize), "maximum paste size in bytes")
	fs.Int64Var(&cfg.PasteExpirySeconds, "paste-expiry-seconds", env.integer("paste-expiry-seconds", cfg.PasteExpirySeconds), "paste lifetime in seconds")
	fs.Int64Var(&cfg.ReadLimit, "read-limit", env.integer("read-limit", cfg.ReadLimit), "reads per client per window")
	fs.Int64Var(&cfg.WriteLimit, "write-limit", env.integer("write-limit", cfg.WriteLimit), "writes per client per window")
	fs.Int64Var(&cfg.ThrottleWindowSeconds, "throttle-window-seconds", env.integer("throttle-window-seconds", cfg.ThrottleWindowSeconds), "throttle window in seconds")

	fs.StringVar(&cfg.LogLevel, "log-level", env.str("log-level", cfg.LogLevel), "log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.EnableMetrics, "enable-metrics", env.boolean("enable-metrics", cfg.EnableMetrics), "serve /metrics")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("redis-url cannot be empty")
		}
	case StoreBolt, StoreSQLite:
		if c.DataPath == "" {
			return errors.New("data path cannot be empty")
		}
	case StoreDynamoDB:
		if c.DynamoDBTable == "" {
			return errors.New("dynamodb-table cannot be empty")
		}
	case StoreMongoDB:
		if c.MongoDBURI == "" || c.MongoDBDatabase == "" {
			return errors.New("mongodb-uri and mongodb-database are required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}

	if c.MaxBodySize <= 0 {
		return fmt.Errorf("max-body-size must be positive: %d", c.MaxBodySize)
	}
	if c.PasteExpirySeconds <= 0 {
		return fmt.Errorf("paste-expiry-seconds must be positive: %d", c.PasteExpirySeconds)
	}
	if c.ReadLimit < 0 || c.WriteLimit < 0 {
		return fmt.Errorf("limits cannot be negative: read %d, write %d", c.ReadLimit, c.WriteLimit)
	}
	if c.ThrottleWindowSeconds <= 0 {
		return fmt.Errorf("throttle-window-seconds must be positive: %d", c.ThrottleWindowSeconds)
	}
	if c.StoreTimeout < 0 {
		return fmt.Errorf("store-timeout cannot be negative: %s", c.StoreTimeout)
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("base-url must include scheme and host: %q", c.BaseURL)
		}
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	return nil
}

// PasteExpiry returns the paste lifetime.
func (c *Config) PasteExpiry() time.Duration {
	return time.Duration(c.PasteExpirySeconds) * time.Second
}

// ThrottleWindow returns the throttle window length.
func (c *Config) ThrottleWindow() time.Duration {
	return time.Duration(c.ThrottleWindowSeconds) * time.Second
}

// environment reads flag defaults and collects malformed values.
type environment struct {
	lookup func(string) string
	bad    []string
}

func envName(flagName string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func (e *environment) get(flagName string) (string, string) {
	name := envName(flagName)
	if e.lookup == nil {
		return name, ""
	}
	return name, strings.TrimSpace(e.lookup(name))
}

func (e *environment) str(flagName, def string) string {
	if _, v := e.get(flagName); v != "" {
		return v
	}
	return def
}

func (e *environment) integer(flagName string, def int64) int64 {
	name, v := e.get(flagName)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		e.bad = append(e.bad, name)
		return def
	}
	return n
}

func (e *environment) boolean(flagName string, def bool) bool {
	name, v := e.get(flagName)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.bad = append(e.bad, name)
		return def
	}
	return b
}

func (e *environment) duration(flagName string, def time.Duration) time.Duration {
	name, v := e.get(flagName)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.bad = append(e.bad, name)
		return def
	}
	return d
}

func (e *environment) err() error {
	if len(e.bad) == 0 {
		return nil
	}
	return fmt.Errorf("invalid environment value for %s", strings.Join(e.bad, ", "))
}
