package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Export modes
const (
	ExportDir        = "dir"
	ExportClickHouse = "clickhouse"
	ExportNone       = "none"
)

// Abundance stores
const (
	StoreMemory = "memory"
	StoreLocal  = "local"
)

// Config holds all configuration for the batcher
type Config struct {
	// Input
	FastaPath  string `yaml:"fasta_path"`
	KmerLength int    `yaml:"kmer_length"`
	NAType     string `yaml:"na_type"`

	// Batching
	BatchSize int    `yaml:"batch_size"`
	Threads   int    `yaml:"threads"`
	TmpDir    string `yaml:"tmp_dir"` // root of the scoped spill directory, os.TempDir() if empty

	// Export
	ExportMode string `yaml:"export_mode"`
	OutputDir  string `yaml:"output_dir"`

	// ClickHouse sink
	ClickHouseHost      string `yaml:"clickhouse_host"`
	ClickHousePort      int    `yaml:"clickhouse_port"`
	ClickHouseDB        string `yaml:"clickhouse_db"`
	ClickHouseTable     string `yaml:"clickhouse_table"`
	ClickHouseChunkSize int    `yaml:"clickhouse_chunk_size"`

	// Retry for the ClickHouse sink
	RetryMaxAttempts    int     `yaml:"retry_max_attempts"`
	RetryInitialDelayMs int     `yaml:"retry_initial_delay_ms"`
	RetryMaxDelayMs     int     `yaml:"retry_max_delay_ms"`
	RetryMultiplier     float64 `yaml:"retry_multiplier"`

	// Abundance vector of valid k-mer start positions, skipped if AbundanceDir is empty
	AbundanceDir   string `yaml:"abundance_dir"`
	AbundanceStore string `yaml:"abundance_store"`

	// Observability
	LogLevel        string `yaml:"log_level"`
	LogFile         string `yaml:"log_file"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingProtocol string `yaml:"tracing_protocol"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		KmerLength: 31,
		NAType:     "DNA",

		BatchSize: 1_000_000,
		Threads:   1,

		ExportMode: ExportDir,
		OutputDir:  "batches",

		ClickHouseHost:      "localhost",
		ClickHousePort:      9000,
		ClickHouseDB:        "kman",
		ClickHouseTable:     "kmers",
		ClickHouseChunkSize: 10_000,

		RetryMaxAttempts:    3,
		RetryInitialDelayMs: 100,
		RetryMaxDelayMs:     5000,
		RetryMultiplier:     2.0,

		AbundanceStore: StoreMemory,

		LogLevel:        "info",
		TracingProtocol: "grpc",
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, then environment variables, and validates the result
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile overlays the fields present in a YAML file
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.FastaPath = getEnv("FASTA_PATH", c.FastaPath)
	c.KmerLength = getEnvInt("KMER_LENGTH", c.KmerLength)
	c.NAType = getEnv("NA_TYPE", c.NAType)

	c.BatchSize = getEnvInt("BATCH_SIZE", c.BatchSize)
	c.Threads = getEnvInt("THREADS", c.Threads)
	c.TmpDir = getEnv("TMP_DIR", c.TmpDir)

	c.ExportMode = strings.ToLower(getEnv("EXPORT_MODE", c.ExportMode))
	c.OutputDir = getEnv("OUTPUT_DIR", c.OutputDir)

	c.ClickHouseHost = getEnv("CLICKHOUSE_HOST", c.ClickHouseHost)
	c.ClickHousePort = getEnvInt("CLICKHOUSE_PORT", c.ClickHousePort)
	c.ClickHouseDB = getEnv("CLICKHOUSE_DB", c.ClickHouseDB)
	c.ClickHouseTable = getEnv("CLICKHOUSE_TABLE", c.ClickHouseTable)
	c.ClickHouseChunkSize = getEnvInt("CLICKHOUSE_CHUNK_SIZE", c.ClickHouseChunkSize)

	c.RetryMaxAttempts = getEnvInt("RETRY_MAX_ATTEMPTS", c.RetryMaxAttempts)
	c.RetryInitialDelayMs = getEnvInt("RETRY_INITIAL_DELAY_MS", c.RetryInitialDelayMs)
	c.RetryMaxDelayMs = getEnvInt("RETRY_MAX_DELAY_MS", c.RetryMaxDelayMs)
	c.RetryMultiplier = getEnvFloat("RETRY_MULTIPLIER", c.RetryMultiplier)

	c.AbundanceDir = getEnv("ABUNDANCE_DIR", c.AbundanceDir)
	c.AbundanceStore = strings.ToLower(getEnv("ABUNDANCE_STORE", c.AbundanceStore))

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingProtocol = getEnv("TRACING_PROTOCOL", c.TracingProtocol)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.FastaPath == "" {
		return fmt.Errorf("FASTA_PATH is required")
	}
	if c.KmerLength < 2 {
		return fmt.Errorf("KMER_LENGTH must be greater than 1")
	}
	switch strings.ToUpper(c.NAType) {
	case "DNA", "RNA":
	default:
		return fmt.Errorf("NA_TYPE must be DNA or RNA, got %q", c.NAType)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1")
	}
	if c.Threads < 1 {
		return fmt.Errorf("THREADS must be at least 1")
	}

	switch c.ExportMode {
	case ExportDir:
		if c.OutputDir == "" {
			return fmt.Errorf("OUTPUT_DIR is required for export mode %s", ExportDir)
		}
	case ExportClickHouse:
		if c.ClickHouseHost == "" {
			return fmt.Errorf("CLICKHOUSE_HOST is required")
		}
		if c.ClickHousePort <= 0 || c.ClickHousePort > 65535 {
			return fmt.Errorf("CLICKHOUSE_PORT must be between 1 and 65535")
		}
		if c.ClickHouseDB == "" || c.ClickHouseTable == "" {
			return fmt.Errorf("CLICKHOUSE_DB and CLICKHOUSE_TABLE are required")
		}
		if c.ClickHouseChunkSize < 1 {
			return fmt.Errorf("CLICKHOUSE_CHUNK_SIZE must be at least 1")
		}
		if c.RetryMaxAttempts < 1 {
			return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
		}
	case ExportNone:
	default:
		return fmt.Errorf("EXPORT_MODE must be one of %s, %s, %s, got %q",
			ExportDir, ExportClickHouse, ExportNone, c.ExportMode)
	}

	if c.AbundanceDir != "" && c.AbundanceStore != StoreMemory && c.AbundanceStore != StoreLocal {
		return fmt.Errorf("ABUNDANCE_STORE must be %s or %s, got %q", StoreMemory, StoreLocal, c.AbundanceStore)
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(strings.ReplaceAll(value, "_", "")); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
