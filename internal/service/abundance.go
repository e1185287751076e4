package service

import (
	"context"
	"fmt"

	"github.com/SteelMorgan/kman/internal/abundance"
	"github.com/SteelMorgan/kman/internal/batch"
	"github.com/SteelMorgan/kman/internal/kmer"
	"github.com/rs/zerolog/log"
)

// ForwardStrand is the strand recorded for k-mers read off the input sequence
const ForwardStrand = "+"

// CountStarts adds one to the abundance of every k-mer start position found in
// batches, so each ref's vector counts how many valid k-mers begin at a position
func CountStarts(ctx context.Context, batches []*batch.Batch, v abundance.Vector, k int) error {
	n := 0
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		for r, err := range b.Records() {
			if err != nil {
				return fmt.Errorf("failed to read batch %d: %w", i, err)
			}
			km, ok := r.(kmer.KMer)
			if !ok {
				return fmt.Errorf("%w: expected %s record, got %s", batch.ErrTypeMismatch, kmer.Kind, r.Kind())
			}

			pos := uint64(km.Start)
			count, err := v.Count(km.Ref, ForwardStrand, pos)
			if err != nil {
				return err
			}
			if err := v.AddCount(km.Ref, ForwardStrand, pos, count+1, k, true); err != nil {
				return err
			}
			n++
		}
	}

	log.Debug().
		Int("batches", len(batches)).
		Int("kmers", n).
		Msg("K-mer starts counted")
	return nil
}
