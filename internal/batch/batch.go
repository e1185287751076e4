package batch

import (
	"bufio"
	"fmt"
	"iter"
	"os"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// FileSuffix is the extension of batch spill files
	FileSuffix = ".txt"

	// initialBufferCap bounds the up-front buffer allocation of large batches
	initialBufferCap = 4096

	// maxLineSize is the longest serialized record a written batch can replay
	maxLineSize = 1 << 20
)

// Batch is a fixed-capacity, single-writer container of records.
//
// A batch is Building until Write is called, after which its records live only
// in its temp file and it is immutable until Reset. A batch is never safe for
// concurrent use; parallel builds give each task its own batch.
type Batch struct {
	size   int
	kind   string
	decode Decoder
	tmp    *TempDir

	records []Record
	n       int
	written bool
	path    string
}

func newBatch(size int, kind string, decode Decoder, tmp *TempDir) *Batch {
	return &Batch{
		size:    size,
		kind:    kind,
		decode:  decode,
		tmp:     tmp,
		records: make([]Record, 0, min(size, initialBufferCap)),
	}
}

// Size returns the batch capacity
func (b *Batch) Size() int {
	return b.size
}

// Len returns the number of records held, in memory or on disk
func (b *Batch) Len() int {
	return b.n
}

// Remaining returns the number of free slots
func (b *Batch) Remaining() int {
	return b.size - b.n
}

// Kind returns the record type tag every record must carry
func (b *Batch) Kind() string {
	return b.kind
}

// IsWritten reports whether the batch has been flushed to its temp file
func (b *Batch) IsWritten() bool {
	return b.written
}

// IsFull reports whether every slot is occupied
func (b *Batch) IsFull() bool {
	return b.n == b.size
}

// Path returns the batch temp file, creating it on first use
func (b *Batch) Path() (string, error) {
	if b.path == "" {
		path, err := b.tmp.CreateFile(FileSuffix)
		if err != nil {
			return "", err
		}
		b.path = path
	}
	return b.path, nil
}

// Info returns a human-readable summary of the batch
func (b *Batch) Info() string {
	return fmt.Sprintf("%s\ntype: %s\nsize: %d\ni: %d\nremaining: %d\nwritten: %t\n",
		b.path, b.kind, b.size, b.Len(), b.Remaining(), b.written)
}

// Add stores r in the next free slot.
// The batch is left unchanged when an error is returned.
func (b *Batch) Add(r Record) error {
	if b.written {
		return fmt.Errorf("%w: batch has been stored in %s", ErrState, b.path)
	}
	if b.IsFull() {
		return fmt.Errorf("%w: capacity %d reached", ErrCapacity, b.size)
	}
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrTypeMismatch)
	}
	if r.Kind() != b.kind {
		return fmt.Errorf("%w: record must be %q, not %q", ErrTypeMismatch, b.kind, r.Kind())
	}

	b.records = append(b.records, r)
	b.n++
	return nil
}

// AddAll adds records in order, stopping at the first failure.
// Records added before the failure stay in the batch.
func (b *Batch) AddAll(records iter.Seq[Record]) error {
	for r := range records {
		if err := b.Add(r); err != nil {
			return err
		}
	}
	return nil
}

// Write flushes the records to the temp file and releases the in-memory buffer.
// With sorted set, records are written in ascending SortKey order, ties kept in
// insertion order. On failure the partial file is removed and the batch stays Building.
func (b *Batch) Write(sorted bool) error {
	if b.written {
		return fmt.Errorf("%w: batch already written to %s", ErrState, b.path)
	}

	records := b.records
	if sorted {
		records = slices.Clone(records)
		slices.SortStableFunc(records, func(x, y Record) int {
			return strings.Compare(x.SortKey(), y.SortKey())
		})
	}

	path, err := b.Path()
	if err != nil {
		return err
	}
	if err := writeLines(path, records); err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warn().Err(rmErr).Str("path", path).Msg("Failed to remove partial batch file")
		}
		b.path = ""
		return err
	}

	// Only the count survives; the records now live in the file
	b.records = nil
	b.written = true

	log.Debug().
		Str("path", path).
		Int("records", b.n).
		Bool("sorted", sorted).
		Msg("Batch written")
	return nil
}

func writeLines(path string, records []Record) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return ioError("open", path, err)
	}

	w := bufio.NewWriterSize(f, 64*1024)
	for _, r := range records {
		line := r.MarshalLine()
		if strings.ContainsAny(line, "\r\n") {
			f.Close()
			return fmt.Errorf("failed to serialize record %q: line break in text form", r.SortKey())
		}
		if line == "" {
			f.Close()
			return fmt.Errorf("failed to serialize record %q: empty text form", r.SortKey())
		}
		if _, err := w.WriteString(line); err != nil {
			f.Close()
			return ioError("write", path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return ioError("write", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return ioError("write", path, err)
	}
	if err := f.Close(); err != nil {
		return ioError("close", path, err)
	}
	return nil
}

// Records returns a restartable sequence over the batch records.
// A written batch is streamed from its file line by line; a building
// batch yields its buffer in insertion order.
func (b *Batch) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if !b.written {
			for _, r := range b.records {
				if r == nil {
					continue
				}
				if !yield(r, nil) {
					return
				}
			}
			return
		}

		path := b.path
		f, err := os.Open(path)
		if err != nil {
			yield(nil, ioError("open", path, err))
			return
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			r, err := b.decode(line)
			if err != nil {
				yield(nil, fmt.Errorf("failed to decode record from %s: %w", path, err))
				return
			}
			if !yield(r, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, ioError("read", path, err))
		}
	}
}

// Reset deletes the temp file and returns the batch to an empty Building state.
// Only written batches can be reset.
func (b *Batch) Reset() error {
	if !b.written {
		return fmt.Errorf("%w: reset of a batch that was never written", ErrState)
	}
	if err := os.Remove(b.path); err != nil {
		return ioError("remove", b.path, err)
	}
	b.clear()
	return nil
}

// drain empties the batch whatever its state
func (b *Batch) drain() error {
	if b.written {
		return b.Reset()
	}
	if b.path != "" {
		if err := os.Remove(b.path); err != nil && !os.IsNotExist(err) {
			return ioError("remove", b.path, err)
		}
	}
	b.clear()
	return nil
}

func (b *Batch) clear() {
	b.path = ""
	b.written = false
	b.n = 0
	b.records = make([]Record, 0, min(b.size, initialBufferCap))
}
