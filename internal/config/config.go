package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"bucketview/internal/profile"
)

// Config is the application configuration: the connection-profile registry
// plus tuning for the migration engine, usage ledger, and presigned links.
type Config struct {
	Profiles  []profile.Profile `yaml:"profiles"`
	Migration Migration         `yaml:"migration"`
	Metrics   Metrics           `yaml:"metrics"`
	Presign   Presign           `yaml:"presign"`
	LogLevel  string            `yaml:"log_level"`
}

// Migration tunes the engine and worker pool.
type Migration struct {
	Concurrency        int    `yaml:"concurrency"`
	MultipartThreshold int64  `yaml:"multipart_threshold"`
	PartSize           int64  `yaml:"part_size"`
	ChunkSize          int64  `yaml:"chunk_size"`
	Retries            int    `yaml:"retries"`
	RetryBackoffMs     int    `yaml:"retry_backoff_ms"`
	BandwidthLimit     int64  `yaml:"bandwidth_limit"`
	FailureTolerance   int    `yaml:"failure_tolerance"`
	Checkpoint         string `yaml:"checkpoint"`
	SkipExisting       bool   `yaml:"skip_existing"`
	Verify             bool   `yaml:"verify"`
	DryRun             bool   `yaml:"dry_run"`
	ShowProgress       bool   `yaml:"show_progress"`
}

// Metrics configures the usage ledger and the scrape endpoint.
type Metrics struct {
	LedgerDir  string `yaml:"ledger_dir"`
	ListenAddr string `yaml:"listen_addr"`
}

// Presign configures shareable URL generation.
type Presign struct {
	Expiry time.Duration `yaml:"expiry"`
}

// UnmarshalYAML accepts the expiry as a duration string ("30m", "12h").
func (p *Presign) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Expiry string `yaml:"expiry"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Expiry == "" {
		return nil
	}
	expiry, err := time.ParseDuration(raw.Expiry)
	if err != nil {
		return fmt.Errorf("presign expiry: %w", err)
	}
	p.Expiry = expiry
	return nil
}

// Load reads the YAML config file and applies command line overrides.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Migration: Migration{
			Concurrency:        16,
			MultipartThreshold: 104857600, // 100MB
			PartSize:           67108864,  // 64MB
			ChunkSize:          1048576,   // 1MB
			Retries:            5,
			RetryBackoffMs:     500,
			Checkpoint:         "./checkpoint.db",
			SkipExisting:       true,
			ShowProgress:       true,
		},
		Metrics: Metrics{
			LedgerDir:  "./usage",
			ListenAddr: ":8080",
		},
		Presign: Presign{
			Expiry: time.Hour,
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if flags != nil {
		loadFromFlags(cfg, flags)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Registry builds the profile registry from the configured profiles.
func (c *Config) Registry() (*profile.Registry, error) {
	return profile.NewRegistry(c.Profiles)
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) {
	if flags.Changed("concurrency") {
		cfg.Migration.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("multipart-threshold") {
		cfg.Migration.MultipartThreshold, _ = flags.GetInt64("multipart-threshold")
	}
	if flags.Changed("part-size") {
		cfg.Migration.PartSize, _ = flags.GetInt64("part-size")
	}
	if flags.Changed("chunk-size") {
		cfg.Migration.ChunkSize, _ = flags.GetInt64("chunk-size")
	}
	if flags.Changed("retries") {
		cfg.Migration.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Migration.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("bandwidth-limit") {
		cfg.Migration.BandwidthLimit, _ = flags.GetInt64("bandwidth-limit")
	}
	if flags.Changed("failure-tolerance") {
		cfg.Migration.FailureTolerance, _ = flags.GetInt("failure-tolerance")
	}
	if flags.Changed("checkpoint") {
		cfg.Migration.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("skip-existing") {
		cfg.Migration.SkipExisting, _ = flags.GetBool("skip-existing")
	}
	if flags.Changed("verify") {
		cfg.Migration.Verify, _ = flags.GetBool("verify")
	}
	if flags.Changed("dry-run") {
		cfg.Migration.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("show-progress") {
		cfg.Migration.ShowProgress, _ = flags.GetBool("show-progress")
	}
	if flags.Changed("ledger-dir") {
		cfg.Metrics.LedgerDir, _ = flags.GetString("ledger-dir")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.ListenAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("presign-expiry") {
		cfg.Presign.Expiry, _ = flags.GetDuration("presign-expiry")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
}

func (c *Config) validate() error {
	if c.Migration.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Migration.PartSize < 5*1024*1024 { // 5MB minimum for S3
		return fmt.Errorf("part size must be at least 5MB")
	}
	if c.Migration.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.Migration.FailureTolerance < 0 {
		return fmt.Errorf("failure tolerance cannot be negative")
	}
	if c.Presign.Expiry <= 0 {
		return fmt.Errorf("presign expiry must be positive")
	}
	return nil
}
