package batch

import (
	"context"
	"fmt"
	"iter"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "kman/batch"

// BuildBatch creates a fresh batch, fills it with records and flushes it sorted.
// It touches no Batcher state besides the shared temp directory, so build tasks
// may call it concurrently.
func (b *Batcher) BuildBatch(records iter.Seq[Record]) (*Batch, error) {
	bt := b.spawn()
	if err := bt.AddAll(records); err != nil {
		return nil, err
	}
	if err := bt.Write(true); err != nil {
		return nil, err
	}
	return bt, nil
}

// BuildParallel builds n batches, one per partition, with at most Threads tasks
// running at once. gen(i) yields the records of partition i and must be safe to
// call from several goroutines. Batches are returned in partition order.
//
// The first failure stops tasks that have not started yet and is returned.
// Batches already written are left for temp directory teardown.
func (b *Batcher) BuildParallel(ctx context.Context, n int, gen func(i int) iter.Seq[Record]) ([]*Batch, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "batch.build_parallel",
		trace.WithAttributes(
			attribute.Int("partitions", n),
			attribute.Int("threads", b.threads),
			attribute.Int("batch_size", b.size),
		))
	defer span.End()

	batches := make([]*Batch, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.threads)

	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bt, err := b.BuildBatch(gen(i))
			if err != nil {
				return fmt.Errorf("failed to build batch %d: %w", i, err)
			}
			batches[i] = bt

			log.Debug().
				Int("partition", i).
				Int("records", bt.Len()).
				Msg("Partition batch built")
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parallel build failed")
		return nil, err
	}

	span.SetStatus(codes.Ok, "success")
	return batches, nil
}
