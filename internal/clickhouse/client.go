package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/SteelMorgan/kman/internal/retry"
	"github.com/rs/zerolog/log"
)

// Client wraps a ClickHouse connection with retried Exec and batch preparation
type Client struct {
	conn     clickhouse.Conn
	retryCfg retry.Config
}

// NewClient creates a new ClickHouse client with default retry config
func NewClient(ctx context.Context, host string, port int, database string) (*Client, error) {
	return NewClientWithRetry(ctx, host, port, database, retry.DefaultConfig())
}

// NewClientFromConfig creates a client with retry settings taken from application config
func NewClientFromConfig(ctx context.Context, host string, port int, database string, maxAttempts, initialDelayMs, maxDelayMs int, multiplier float64) (*Client, error) {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = maxAttempts
	retryCfg.InitialDelay = time.Duration(initialDelayMs) * time.Millisecond
	retryCfg.MaxDelay = time.Duration(maxDelayMs) * time.Millisecond
	retryCfg.Multiplier = multiplier
	return NewClientWithRetry(ctx, host, port, database, retryCfg)
}

// NewClientWithRetry opens the connection and pings it with retry
func NewClientWithRetry(ctx context.Context, host string, port int, database string, retryCfg retry.Config) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", host, port)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: "default",
			Password: "",
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := retry.Do(ctx, retryCfg, func() error {
		return conn.Ping(ctx)
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	log.Info().
		Str("host", host).
		Int("port", port).
		Str("database", database).
		Msg("Connected to ClickHouse")

	return &Client{
		conn:     conn,
		retryCfg: retryCfg,
	}, nil
}

// Conn returns the underlying ClickHouse connection
func (c *Client) Conn() clickhouse.Conn {
	return c.conn
}

// RetryConfig returns the retry settings used by the client
func (c *Client) RetryConfig() retry.Config {
	return c.retryCfg
}

// PrepareBatch starts a native-protocol insert batch
func (c *Client) PrepareBatch(ctx context.Context, query string) (driver.Batch, error) {
	return c.conn.PrepareBatch(ctx, query)
}

// Exec executes a non-SELECT query with retry logic
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	return retry.Do(ctx, c.retryCfg, func() error {
		return c.conn.Exec(ctx, query, args...)
	})
}

// EnsureKmerTable creates the k-mer table if it does not exist
func (c *Client) EnsureKmerTable(ctx context.Context, table string) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	batch_id UInt32,
	ref String,
	start UInt64,
	seq String,
	na_type LowCardinality(String),
	record_hash String
) ENGINE = ReplacingMergeTree
ORDER BY (batch_id, seq, record_hash)`, table)

	if err := c.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	log.Debug().Str("table", table).Msg("ClickHouse table ready")
	return nil
}

// Close closes the connection
func (c *Client) Close() error {
	log.Info().Msg("Closing ClickHouse connection")
	return c.conn.Close()
}
