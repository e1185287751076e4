package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/SteelMorgan/kman/internal/batch"
	"github.com/SteelMorgan/kman/internal/fasta"
	"github.com/SteelMorgan/kman/internal/kmer"
	"github.com/SteelMorgan/kman/internal/observability"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

// FastaBatcher batches the k-mers of every record in a FASTA file
type FastaBatcher struct {
	b  *batch.Batcher
	na kmer.NAType
}

// NewFastaBatcher creates a file batcher filling b
func NewFastaBatcher(b *batch.Batcher, na kmer.NAType) *FastaBatcher {
	return &FastaBatcher{b: b, na: na}
}

// Stats summarises one Do call
type Stats struct {
	Records int
	Kmers   int
	Batches int
}

// Do batches every record of the FASTA file at path.
// With one thread the k-mers of all records stream into the collection, so only
// its last batch is partial. Otherwise each record is built by its own child
// batcher sharing the temp directory and the child's batches are appended.
func (f *FastaBatcher) Do(ctx context.Context, path string, k int) (stats Stats, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return stats, fmt.Errorf("failed to open fasta file: %w", err)
	}
	if info.IsDir() {
		return stats, fmt.Errorf("fasta path %s is a directory", path)
	}
	if k < 2 {
		return stats, fmt.Errorf("%w: k must be greater than 1, got %d", batch.ErrInvalidConfig, k)
	}

	ctx, span := observability.StartSpan(ctx, tracerName, "fasta.batch_file",
		attribute.String("path", path),
		attribute.Int("k", k),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int("records", stats.Records),
			attribute.Int("batches", stats.Batches),
		)
		observability.EndSpan(span, err, "file batching failed")
	}()

	start := time.Now()
	log.Info().
		Str("path", path).
		Int("k", k).
		Int("batch_size", f.b.Size()).
		Int("threads", f.b.Threads()).
		Msg("Batching FASTA file")

	for rec, perr := range fasta.ParseFile(path) {
		if perr != nil {
			return stats, fmt.Errorf("failed to parse %s: %w", path, perr)
		}

		recStart := time.Now()
		kmers, batches, err := f.batchRecord(ctx, rec, k)
		if err != nil {
			return stats, err
		}

		stats.Records++
		stats.Kmers += kmers
		log.Info().
			Str("record", rec.Name()).
			Int("length", len(rec.Seq)).
			Int("kmers", kmers).
			Int("batches", batches).
			Dur("took", time.Since(recStart)).
			Msg("Record batched")
	}

	stats.Batches = len(f.b.Collection())
	log.Info().
		Str("path", path).
		Int("records", stats.Records).
		Int("kmers", stats.Kmers).
		Int("batches", stats.Batches).
		Dur("took", time.Since(start)).
		Msg("FASTA file batched")
	return stats, nil
}

// batchRecord batches one record and returns its k-mer and batch counts
func (f *FastaBatcher) batchRecord(ctx context.Context, rec fasta.Record, k int) (int, int, error) {
	if f.b.Threads() == 1 {
		kmers, batches := f.b.Len(), len(f.b.Collection())
		if err := NewRecordBatcher(f.b, f.na).Do(ctx, rec, k); err != nil {
			return 0, 0, err
		}
		return f.b.Len() - kmers, len(f.b.Collection()) - batches, nil
	}

	child := f.b.Child()
	if err := NewRecordBatcher(child, f.na).Do(ctx, rec, k); err != nil {
		return 0, 0, err
	}
	kmers, batches := child.Len(), len(child.Collection())
	if err := f.b.FeedCollection(child.Take(), batch.FeedAppend); err != nil {
		return 0, 0, err
	}
	return kmers, batches, nil
}
