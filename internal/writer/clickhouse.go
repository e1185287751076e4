package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/SteelMorgan/kman/internal/batch"
	"github.com/SteelMorgan/kman/internal/clickhouse"
	"github.com/SteelMorgan/kman/internal/kmer"
	"github.com/SteelMorgan/kman/internal/observability"
	"github.com/SteelMorgan/kman/internal/retry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "kman/writer"

// RowBatch is the part of a ClickHouse insert batch the exporter uses
type RowBatch interface {
	Append(v ...any) error
	Send() error
	Abort() error
}

// PrepareFunc starts an insert batch for query
type PrepareFunc func(ctx context.Context, query string) (RowBatch, error)

// RowMapper turns a record of batch id into column values
type RowMapper func(id int, r batch.Record) ([]any, error)

// FromClient adapts a ClickHouse client to PrepareFunc
func FromClient(c *clickhouse.Client) PrepareFunc {
	return func(ctx context.Context, query string) (RowBatch, error) {
		b, err := c.PrepareBatch(ctx, query)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// KmerRow maps a k-mer record to (batch_id, ref, start, seq, na_type, record_hash)
func KmerRow(id int, r batch.Record) ([]any, error) {
	km, ok := r.(kmer.KMer)
	if !ok {
		return nil, fmt.Errorf("%w: expected %s record, got %s", batch.ErrTypeMismatch, kmer.Kind, r.Kind())
	}
	return []any{uint32(id), km.Ref, uint64(km.Start), km.Seq, km.NAType.String(), recordHash(km)}, nil
}

// ClickHouseConfig configures the ClickHouse sink
type ClickHouseConfig struct {
	Table     string
	ChunkSize int // rows per insert
	Retry     retry.Config
	Map       RowMapper // KmerRow if nil
}

// ClickHouseExporter inserts batch records into a table in chunks
type ClickHouseExporter struct {
	prepare PrepareFunc
	cfg     ClickHouseConfig
}

// NewClickHouseExporter creates the sink over prepare
func NewClickHouseExporter(prepare PrepareFunc, cfg ClickHouseConfig) (*ClickHouseExporter, error) {
	if cfg.Table == "" {
		return nil, fmt.Errorf("clickhouse table is required")
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be at least 1, got %d", cfg.ChunkSize)
	}
	if cfg.Map == nil {
		cfg.Map = KmerRow
	}
	return &ClickHouseExporter{prepare: prepare, cfg: cfg}, nil
}

// Export implements Exporter
func (e *ClickHouseExporter) Export(ctx context.Context, id int, b *batch.Batch) (err error) {
	ctx, span := observability.StartSpan(ctx, tracerName, "writer.export",
		attribute.Int("batch_id", id),
		attribute.String("table", e.cfg.Table),
	)
	defer func() { observability.EndSpan(span, err, "export failed") }()

	start := time.Now()
	rows := make([][]any, 0, min(e.cfg.ChunkSize, b.Len()))
	total, chunks := 0, 0

	for r, rerr := range b.Records() {
		if rerr != nil {
			return fmt.Errorf("failed to read batch %d: %w", id, rerr)
		}
		row, merr := e.cfg.Map(id, r)
		if merr != nil {
			return merr
		}
		rows = append(rows, row)
		if len(rows) == e.cfg.ChunkSize {
			if err := e.send(ctx, rows); err != nil {
				return err
			}
			total += len(rows)
			chunks++
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if err := e.send(ctx, rows); err != nil {
			return err
		}
		total += len(rows)
		chunks++
	}

	span.SetAttributes(attribute.Int("rows", total))
	log.Debug().
		Int("batch_id", id).
		Int("rows", total).
		Int("chunks", chunks).
		Dur("took", time.Since(start)).
		Msg("Batch exported to ClickHouse")
	return nil
}

// send inserts one chunk, retrying the whole chunk on transient errors
func (e *ClickHouseExporter) send(ctx context.Context, rows [][]any) error {
	query := "INSERT INTO " + e.cfg.Table
	return retry.Do(ctx, e.cfg.Retry, func() error {
		rb, err := e.prepare(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}
		for _, row := range rows {
			if err := rb.Append(row...); err != nil {
				rb.Abort()
				return fmt.Errorf("failed to append to batch: %w", err)
			}
		}
		if err := rb.Send(); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}
		return nil
	})
}

// Close implements Exporter. The connection is owned by the caller.
func (e *ClickHouseExporter) Close() error { return nil }
