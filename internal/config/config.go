package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/consentd/internal/model"
)

// Batch size bounds for listing resolution.
const (
	MinBatchSize = 1
	MaxBatchSize = 100
)

type Config struct {
	LedgerRPCURL    string `toml:"ledger_rpc_url"`   // CONSENTD_LEDGER_RPC_URL (required for serve)
	ContractAddress string `toml:"contract_address"` // CONSENTD_CONTRACT_ADDRESS (required)
	GenesisBlock    uint64 `toml:"genesis_block"`    // CONSENTD_GENESIS_BLOCK (default 0)
	DatabaseURL     string `toml:"database_url"`     // CONSENTD_DATABASE_URL (optional, empty = index disabled)
	RedisURL        string `toml:"redis_url"`        // CONSENTD_REDIS_URL (optional, empty = cache disabled)
	NATSURL         string `toml:"nats_url"`         // CONSENTD_NATS_URL (optional, empty = no events)
	HTTPAddr        string `toml:"http_addr"`        // CONSENTD_HTTP_ADDR (default ":8080")
	GRPCAddr        string `toml:"grpc_addr"`        // CONSENTD_GRPC_ADDR (default ":9090")
	AuthToken       string `toml:"auth_token"`       // CONSENTD_AUTH_TOKEN (optional, empty = auth disabled)

	ReadTimeout    Duration `toml:"read_timeout"`    // CONSENTD_READ_TIMEOUT (default 30s)
	ConfirmTimeout Duration `toml:"confirm_timeout"` // CONSENTD_CONFIRM_TIMEOUT (default 60s)
	BatchSize      int      `toml:"batch_size"`      // CONSENTD_BATCH_SIZE (default 50, clamped to 1..100)
	MaxBlockRange  uint64   `toml:"max_block_range"` // CONSENTD_MAX_BLOCK_RANGE (default 10000)
	SyncInterval   Duration `toml:"sync_interval"`   // CONSENTD_SYNC_INTERVAL (default 15s; 0 = disabled)

	// Snapshot settings
	SnapshotInterval   Duration `toml:"snapshot_interval"`    // CONSENTD_SNAPSHOT_INTERVAL (default 0 = disabled)
	SnapshotS3Bucket   string   `toml:"snapshot_s3_bucket"`   // CONSENTD_SNAPSHOT_S3_BUCKET (enables S3 when set)
	SnapshotS3Key      string   `toml:"snapshot_s3_key"`      // CONSENTD_SNAPSHOT_S3_KEY (default "consentd/snapshot.jsonl")
	SnapshotS3Region   string   `toml:"snapshot_s3_region"`   // CONSENTD_SNAPSHOT_S3_REGION (default "us-east-1")
	SnapshotS3Endpoint string   `toml:"snapshot_s3_endpoint"` // CONSENTD_SNAPSHOT_S3_ENDPOINT (custom endpoint for MinIO)
	SnapshotFile       string   `toml:"snapshot_file"`        // CONSENTD_SNAPSHOT_FILE (enables a local file destination)

	LogLevel  string `toml:"log_level"`  // CONSENTD_LOG_LEVEL (default "info")
	LogFormat string `toml:"log_format"` // CONSENTD_LOG_FORMAT ("text" or "json", default "text")
}

// Duration is a time.Duration that decodes from TOML strings like "15s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func defaults() *Config {
	return &Config{
		HTTPAddr:         ":8080",
		GRPCAddr:         ":9090",
		ReadTimeout:      Duration(30 * time.Second),
		ConfirmTimeout:   Duration(60 * time.Second),
		BatchSize:        50,
		MaxBlockRange:    model.DefaultMaxBlockRange,
		SyncInterval:     Duration(15 * time.Second),
		SnapshotS3Key:    "consentd/snapshot.jsonl",
		SnapshotS3Region: "us-east-1",
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads configuration from CONSENTD_* environment variables.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from a TOML file, then applies environment
// variables on top. An empty path skips the file.
func LoadFile(path string) (*Config, error) {
	c := defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, c); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	c.BatchSize = min(max(c.BatchSize, MinBatchSize), MaxBatchSize)
	return c, nil
}

func (c *Config) applyEnv() error {
	c.LedgerRPCURL = envOrDefault("CONSENTD_LEDGER_RPC_URL", c.LedgerRPCURL)
	c.ContractAddress = envOrDefault("CONSENTD_CONTRACT_ADDRESS", c.ContractAddress)
	c.DatabaseURL = envOrDefault("CONSENTD_DATABASE_URL", c.DatabaseURL)
	c.RedisURL = envOrDefault("CONSENTD_REDIS_URL", c.RedisURL)
	c.NATSURL = envOrDefault("CONSENTD_NATS_URL", c.NATSURL)
	c.HTTPAddr = envOrDefault("CONSENTD_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = envOrDefault("CONSENTD_GRPC_ADDR", c.GRPCAddr)
	c.AuthToken = envOrDefault("CONSENTD_AUTH_TOKEN", c.AuthToken)
	c.SnapshotS3Bucket = envOrDefault("CONSENTD_SNAPSHOT_S3_BUCKET", c.SnapshotS3Bucket)
	c.SnapshotS3Key = envOrDefault("CONSENTD_SNAPSHOT_S3_KEY", c.SnapshotS3Key)
	c.SnapshotS3Region = envOrDefault("CONSENTD_SNAPSHOT_S3_REGION", c.SnapshotS3Region)
	c.SnapshotS3Endpoint = envOrDefault("CONSENTD_SNAPSHOT_S3_ENDPOINT", c.SnapshotS3Endpoint)
	c.SnapshotFile = envOrDefault("CONSENTD_SNAPSHOT_FILE", c.SnapshotFile)
	c.LogLevel = envOrDefault("CONSENTD_LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOrDefault("CONSENTD_LOG_FORMAT", c.LogFormat)

	for _, d := range []struct {
		key string
		dst *Duration
	}{
		{"CONSENTD_READ_TIMEOUT", &c.ReadTimeout},
		{"CONSENTD_CONFIRM_TIMEOUT", &c.ConfirmTimeout},
		{"CONSENTD_SYNC_INTERVAL", &c.SyncInterval},
		{"CONSENTD_SNAPSHOT_INTERVAL", &c.SnapshotInterval},
	} {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", d.key, err)
			}
			*d.dst = Duration(parsed)
		}
	}

	for _, n := range []struct {
		key string
		dst *uint64
	}{
		{"CONSENTD_GENESIS_BLOCK", &c.GenesisBlock},
		{"CONSENTD_MAX_BLOCK_RANGE", &c.MaxBlockRange},
	} {
		if v := os.Getenv(n.key); v != "" {
			parsed, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", n.key, err)
			}
			*n.dst = parsed
		}
	}

	if v := os.Getenv("CONSENTD_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CONSENTD_BATCH_SIZE: %w", err)
		}
		c.BatchSize = n
	}
	return nil
}

// Validate checks the settings the server needs. The contract address is
// normalized in place.
func (c *Config) Validate() error {
	var ve model.ValidationError
	if strings.TrimSpace(c.LedgerRPCURL) == "" {
		ve.Add("CONSENTD_LEDGER_RPC_URL", "is required")
	}
	if addr, err := model.NormalizeAddress("CONSENTD_CONTRACT_ADDRESS", c.ContractAddress); err != nil {
		ve.Add("CONSENTD_CONTRACT_ADDRESS", "must be a 0x-prefixed contract address")
	} else {
		c.ContractAddress = addr
	}
	if c.ReadTimeout <= 0 {
		ve.Add("CONSENTD_READ_TIMEOUT", "must be positive")
	}
	if c.MaxBlockRange == 0 {
		ve.Add("CONSENTD_MAX_BLOCK_RANGE", "must be positive")
	}
	if c.SyncInterval < 0 || c.SnapshotInterval < 0 {
		ve.Add("interval", "must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		ve.Add("CONSENTD_LOG_LEVEL", "%v", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		ve.Add("CONSENTD_LOG_FORMAT", "must be text or json, got %q", c.LogFormat)
	}
	return ve.Err()
}

// IndexEnabled reports whether a persisted event index is configured.
func (c *Config) IndexEnabled() bool { return c.DatabaseURL != "" }

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
