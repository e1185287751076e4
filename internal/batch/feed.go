package batch

import (
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"
)

// FeedMode selects how FeedCollection combines a source collection into a Batcher
type FeedMode int

const (
	// FeedReplace discards the current collection and adopts the source verbatim
	FeedReplace FeedMode = iota + 1

	// FeedFlow pops source batches from the end and re-adds their records one by
	// one under this Batcher's rollover policy. Drained source batches are reset.
	// Records are repacked, not re-sorted.
	FeedFlow

	// FeedAppend extends the current collection with the source batches unchanged
	FeedAppend
)

func (m FeedMode) String() string {
	switch m {
	case FeedReplace:
		return "replace"
	case FeedFlow:
		return "flow"
	case FeedAppend:
		return "append"
	default:
		return fmt.Sprintf("FeedMode(%d)", int(m))
	}
}

// FeedCollection combines source into the current collection according to mode.
// Every source batch must carry this Batcher's kind, and a FLOW source must not
// hold batches of this collection; the checks run before any mutation.
func (b *Batcher) FeedCollection(source []*Batch, mode FeedMode) error {
	for i, bt := range source {
		if bt == nil {
			return fmt.Errorf("%w: nil batch at index %d", ErrTypeMismatch, i)
		}
		if bt.Kind() != b.kind {
			return fmt.Errorf("%w: batch %d is %q, batcher is %q", ErrTypeMismatch, i, bt.Kind(), b.kind)
		}
	}

	if mode == FeedFlow && len(b.batches) > 0 {
		own := make(map[*Batch]struct{}, len(b.batches))
		for _, bt := range b.batches {
			own[bt] = struct{}{}
		}
		for i, bt := range source {
			if _, ok := own[bt]; ok {
				return fmt.Errorf("%w: source batch %d already belongs to this batcher", ErrState, i)
			}
		}
	}

	log.Debug().
		Str("mode", mode.String()).
		Int("source_batches", len(source)).
		Int("current_batches", len(b.batches)).
		Msg("Feeding batch collection")

	switch mode {
	case FeedReplace:
		// clipped so rollover appends never write into the caller's array
		b.batches = slices.Clip(source)
	case FeedAppend:
		b.batches = append(b.batches, source...)
	case FeedFlow:
		return b.flow(source)
	default:
		return fmt.Errorf("unknown feed mode: %s", mode)
	}
	return nil
}

func (b *Batcher) flow(source []*Batch) error {
	for i := len(source) - 1; i >= 0; i-- {
		bt := source[i]
		for r, err := range bt.Records() {
			if err != nil {
				return fmt.Errorf("failed to read source batch %d: %w", i, err)
			}
			if err := b.AddRecord(r); err != nil {
				return fmt.Errorf("failed to flow record from batch %d: %w", i, err)
			}
		}
		if err := bt.drain(); err != nil {
			return fmt.Errorf("failed to reset source batch %d: %w", i, err)
		}

		log.Debug().
			Int("batch_index", i).
			Int("batches", len(b.batches)).
			Msg("Source batch flowed")
	}
	return nil
}
