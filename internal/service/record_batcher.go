package service

import (
	"context"
	"fmt"
	"iter"

	"github.com/SteelMorgan/kman/internal/batch"
	"github.com/SteelMorgan/kman/internal/fasta"
	"github.com/SteelMorgan/kman/internal/kmer"
	"github.com/SteelMorgan/kman/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

const (
	tracerName = "kman/service"

	// ctxCheckInterval is how many records the sequential path adds between context checks
	ctxCheckInterval = 4096
)

// RecordBatcher batches the k-mers of one FASTA record
type RecordBatcher struct {
	b  *batch.Batcher
	na kmer.NAType
}

// NewRecordBatcher creates a record batcher filling b
func NewRecordBatcher(b *batch.Batcher, na kmer.NAType) *RecordBatcher {
	return &RecordBatcher{b: b, na: na}
}

// Batcher returns the underlying batcher
func (r *RecordBatcher) Batcher() *batch.Batcher {
	return r.b
}

// Do adds every valid k-mer of rec to the collection.
// With one thread k-mers are streamed through AddRecord. Otherwise the sequence
// is split into partitions of at most Size k-mers, each built into its own
// sorted batch in parallel, and the results replace the collection.
func (r *RecordBatcher) Do(ctx context.Context, rec fasta.Record, k int) (err error) {
	if k < 2 {
		return fmt.Errorf("%w: k must be greater than 1, got %d", batch.ErrInvalidConfig, k)
	}

	name := rec.Name()
	ctx, span := observability.StartSpan(ctx, tracerName, "fasta.batch_record",
		attribute.String("record", name),
		attribute.Int("length", len(rec.Seq)),
		attribute.Int("k", k),
		attribute.Int("threads", r.b.Threads()),
	)
	defer func() { observability.EndSpan(span, err, "record batching failed") }()

	if r.b.Threads() == 1 {
		return r.stream(ctx, kmer.ValidRecords(kmer.Generate(rec.Seq, k, r.na, name, 0)))
	}

	segments := kmer.Partition(rec.Seq, k, r.b.Size())
	batches, err := r.b.BuildParallel(ctx, len(segments), func(i int) iter.Seq[batch.Record] {
		seg := segments[i]
		return kmer.ValidRecords(kmer.Generate(seg.Seq, k, r.na, name, seg.Offset))
	})
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", name, err)
	}
	return r.b.FeedCollection(batches, batch.FeedReplace)
}

func (r *RecordBatcher) stream(ctx context.Context, records iter.Seq[batch.Record]) error {
	n := 0
	for rec := range records {
		if n%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if err := r.b.AddRecord(rec); err != nil {
			return err
		}
		n++
	}
	return nil
}
