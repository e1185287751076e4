package batch

import (
	"fmt"
	"runtime"

	"github.com/rs/zerolog/log"
)

// DefaultSize is the default number of records per batch
const DefaultSize = 1_000_000

// Config configures a Batcher
type Config struct {
	Size       int     // Maximum records per batch (default: DefaultSize)
	Kind       string  // Type tag every record must carry
	Decode     Decoder // Parses lines of written batches back into records
	Threads    int     // Parallel build workers, clamped to [1, MaxThreads]
	MaxThreads int     // Upper bound for Threads (default: runtime.NumCPU())
	TempRoot   string  // Parent of the scoped temp directory (default: os.TempDir())
}

// Batcher owns an ordered collection of batches and the policies applied to it:
// rollover on AddRecord, merge-feed on FeedCollection, and parallel builds.
//
// A Batcher is not safe for concurrent use, except for BuildBatch which
// parallel build tasks call concurrently.
type Batcher struct {
	size       int
	kind       string
	decode     Decoder
	threads    int
	maxThreads int

	tmp     *TempDir
	ownsTmp bool
	batches []*Batch
}

// New creates a Batcher with its own scoped temp directory
func New(cfg Config) (*Batcher, error) {
	if cfg.Size == 0 {
		cfg.Size = DefaultSize
	}
	if cfg.Size < 1 {
		return nil, fmt.Errorf("%w: batch size must be at least 1, got %d", ErrInvalidConfig, cfg.Size)
	}
	if cfg.Kind == "" {
		return nil, fmt.Errorf("%w: record kind is required", ErrInvalidConfig)
	}
	if cfg.Decode == nil {
		return nil, fmt.Errorf("%w: record decoder is required", ErrInvalidConfig)
	}

	if cfg.MaxThreads < 0 {
		return nil, fmt.Errorf("%w: max threads must not be negative, got %d", ErrInvalidConfig, cfg.MaxThreads)
	}
	if cfg.MaxThreads == 0 {
		cfg.MaxThreads = runtime.NumCPU()
	}

	return &Batcher{
		size:       cfg.Size,
		kind:       cfg.Kind,
		decode:     cfg.Decode,
		threads:    clampThreads(cfg.Threads, cfg.MaxThreads),
		maxThreads: cfg.MaxThreads,
		tmp:        NewTempDir(cfg.TempRoot),
		ownsTmp:    true,
	}, nil
}

// CheckThreads clamps a worker count to [1, NumCPU]
func CheckThreads(threads int) int {
	return clampThreads(threads, runtime.NumCPU())
}

func clampThreads(threads, limit int) int {
	if threads < 1 {
		return 1
	}
	if threads > limit {
		log.Warn().
			Int("requested", threads).
			Int("available", limit).
			Msg("Thread count exceeds limit, clamping")
		return limit
	}
	return threads
}

// Child returns a Batcher with the same configuration and temp directory
// but an empty collection. Closing the child never removes the shared directory.
func (b *Batcher) Child() *Batcher {
	return &Batcher{
		size:       b.size,
		kind:       b.kind,
		decode:     b.decode,
		threads:    b.threads,
		maxThreads: b.maxThreads,
		tmp:        b.tmp,
	}
}

// Size returns the capacity of each batch
func (b *Batcher) Size() int {
	return b.size
}

// Kind returns the record type tag
func (b *Batcher) Kind() string {
	return b.kind
}

// Threads returns the parallel build worker count
func (b *Batcher) Threads() int {
	return b.threads
}

// SetThreads changes the worker count, clamped to [1, MaxThreads]
func (b *Batcher) SetThreads(threads int) {
	b.threads = clampThreads(threads, b.maxThreads)
}

// TempDir returns the scoped temp directory path, creating it on first use
func (b *Batcher) TempDir() (string, error) {
	return b.tmp.Path()
}

// Collection returns the current batches. The slice is owned by the Batcher.
func (b *Batcher) Collection() []*Batch {
	return b.batches
}

// Take detaches the collection and leaves the Batcher empty
func (b *Batcher) Take() []*Batch {
	batches := b.batches
	b.batches = nil
	return batches
}

// Len returns the total number of records across the collection
func (b *Batcher) Len() int {
	n := 0
	for _, bt := range b.batches {
		n += bt.Len()
	}
	return n
}

func (b *Batcher) spawn() *Batch {
	return newBatch(b.size, b.kind, b.decode, b.tmp)
}

// NewBatch makes room for another record: it appends an empty batch when
// the collection is empty, or writes the full last batch (unsorted) and
// appends an empty one after it. Otherwise it does nothing.
// Zero records means zero batches.
func (b *Batcher) NewBatch() error {
	if len(b.batches) == 0 {
		b.batches = append(b.batches, b.spawn())
		return nil
	}

	// A written last batch (e.g. a partial one installed by a feed) is closed
	// for adds even when it is not full
	last := b.batches[len(b.batches)-1]
	switch {
	case last.IsWritten():
	case last.IsFull():
		if err := last.Write(false); err != nil {
			return fmt.Errorf("failed to write full batch: %w", err)
		}
	default:
		return nil
	}
	b.batches = append(b.batches, b.spawn())

	log.Debug().
		Int("batches", len(b.batches)).
		Int("batch_size", b.size).
		Msg("Batch rolled over")
	return nil
}

// AddRecord adds r to the last batch, rolling over to a new batch when it is full.
// At most the last batch of the collection is held in memory during sequential ingestion.
func (b *Batcher) AddRecord(r Record) error {
	if err := b.NewBatch(); err != nil {
		return err
	}
	return b.batches[len(b.batches)-1].Add(r)
}

// Close drops the collection and, if this Batcher owns it, removes the temp directory
func (b *Batcher) Close() error {
	b.batches = nil
	if !b.ownsTmp {
		return nil
	}
	return b.tmp.Remove()
}
