package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all runtime configuration for the nearest-neighbor indexes.
type Config struct {
	VPTree    VPTreeConfig
	BKTree    BKTreeConfig
	Batch     BatchConfig
	Telemetry TelemetryConfig
}

// VPTreeConfig holds vantage-point tree build and search defaults.
type VPTreeConfig struct {
	DefaultSeed int64 // Default RNG seed for vantage-point selection (default: 1)
	DefaultK    int   // Default neighbor count for kNN queries (default: 10)
}

// BKTreeConfig holds Burkhard-Keller tree defaults.
type BKTreeConfig struct {
	Indexed          bool  // Allow duplicate keys to extend the tree rather than collapse (default: false)
	DefaultThreshold int64 // Default search threshold (default: 10)
}

// BatchConfig holds batch query driver configuration.
type BatchConfig struct {
	Workers   int     // Worker pool size (default: 0, meaning GOMAXPROCS)
	RateLimit float64 // Queries per second admitted to the worker pool, 0 disables limiting
	RateBurst int     // Burst size for the rate limiter
}

// TelemetryConfig holds logging and metrics configuration.
type TelemetryConfig struct {
	LogLevel       string // Minimum log level (default: "INFO")
	MetricsEnabled bool   // Enable Prometheus metric registration (default: true)
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		VPTree: VPTreeConfig{
			DefaultSeed: 1,
			DefaultK:    10,
		},
		BKTree: BKTreeConfig{
			Indexed:          false,
			DefaultThreshold: 10,
		},
		Batch: BatchConfig{
			Workers:   0,
			RateLimit: 0,
			RateBurst: 1,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "INFO",
			MetricsEnabled: true,
		},
	}
}

// LoadFromEnv loads configuration from environment variables, falling back
// to Default for anything unset.
func LoadFromEnv() *Config {
	cfg := Default()

	// VPTree configuration
	if seed := os.Getenv("NNINDEX_VPTREE_SEED"); seed != "" {
		if s, err := strconv.ParseInt(seed, 10, 64); err == nil {
			cfg.VPTree.DefaultSeed = s
		}
	}
	if k := os.Getenv("NNINDEX_VPTREE_DEFAULT_K"); k != "" {
		if kVal, err := strconv.Atoi(k); err == nil {
			cfg.VPTree.DefaultK = kVal
		}
	}

	// BKTree configuration
	if indexed := os.Getenv("NNINDEX_BKTREE_INDEXED"); indexed == "true" {
		cfg.BKTree.Indexed = true
	}
	if threshold := os.Getenv("NNINDEX_BKTREE_DEFAULT_THRESHOLD"); threshold != "" {
		if t, err := strconv.ParseInt(threshold, 10, 64); err == nil {
			cfg.BKTree.DefaultThreshold = t
		}
	}

	// Batch driver configuration
	if workers := os.Getenv("NNINDEX_BATCH_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			cfg.Batch.Workers = w
		}
	}
	if rate := os.Getenv("NNINDEX_BATCH_RATE_LIMIT"); rate != "" {
		if r, err := strconv.ParseFloat(rate, 64); err == nil {
			cfg.Batch.RateLimit = r
		}
	}
	if burst := os.Getenv("NNINDEX_BATCH_RATE_BURST"); burst != "" {
		if b, err := strconv.Atoi(burst); err == nil {
			cfg.Batch.RateBurst = b
		}
	}

	// Telemetry configuration
	if level := os.Getenv("NNINDEX_LOG_LEVEL"); level != "" {
		cfg.Telemetry.LogLevel = level
	}
	if metrics := os.Getenv("NNINDEX_METRICS_ENABLED"); metrics == "false" {
		cfg.Telemetry.MetricsEnabled = false
	}

	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.VPTree.DefaultK < 1 {
		return fmt.Errorf("invalid VPTree default k: %d (must be > 0)", c.VPTree.DefaultK)
	}

	if c.BKTree.DefaultThreshold < 0 {
		return fmt.Errorf("invalid BKTree default threshold: %d (must be >= 0)", c.BKTree.DefaultThreshold)
	}

	if c.Batch.Workers < 0 {
		return fmt.Errorf("invalid batch worker count: %d (must be >= 0)", c.Batch.Workers)
	}
	if c.Batch.RateLimit < 0 {
		return fmt.Errorf("invalid batch rate limit: %g (must be >= 0)", c.Batch.RateLimit)
	}
	if c.Batch.RateLimit > 0 && c.Batch.RateBurst < 1 {
		return fmt.Errorf("invalid batch rate burst: %d (must be > 0 when rate limiting is enabled)", c.Batch.RateBurst)
	}

	return nil
}
