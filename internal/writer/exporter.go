package writer

import (
	"context"

	"github.com/SteelMorgan/kman/internal/batch"
	"github.com/rs/zerolog/log"
)

// Exporter ships batches out of the scoped temp directory before it is torn down
type Exporter interface {
	// Export writes every record of b, identified by its collection index id
	Export(ctx context.Context, id int, b *batch.Batch) error

	// Close releases the sink
	Close() error
}

// NopExporter drops batches, logging their size only
type NopExporter struct{}

// Export implements Exporter
func (NopExporter) Export(ctx context.Context, id int, b *batch.Batch) error {
	log.Debug().
		Int("batch_id", id).
		Int("records", b.Len()).
		Msg("Batch export skipped")
	return nil
}

// Close implements Exporter
func (NopExporter) Close() error { return nil }

// ExportAll exports the collection in order, stopping at the first failure
func ExportAll(ctx context.Context, e Exporter, batches []*batch.Batch) error {
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.Export(ctx, i, b); err != nil {
			return err
		}
	}
	return nil
}
