package abundance

import (
	"bufio"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInconsistentK is returned when counts for different k-mer lengths are mixed
	ErrInconsistentK = errors.New("inconsistent sequence lengths")

	// ErrNonZeroCount is returned when overwriting a count without replace
	ErrNonZeroCount = errors.New("cannot update a non-zero count without replace")

	// ErrNoCounts is returned when writing vectors before any count was added
	ErrNoCounts = errors.New("no counts recorded")
)

// Vector stores one abundance array per reference and strand
// Implementations: MemoryVector (in memory), LocalVector (BoltDB on disk)
type Vector interface {
	// AddCount sets the count at pos of ref:strand, growing the array as needed.
	// Without replace, a non-zero count cannot be overwritten.
	AddCount(ref, strand string, pos uint64, count uint32, k int, replace bool) error

	// AddRef creates ref:strand with size zeroed slots, or grows it to size
	AddRef(ref, strand string, size uint64) error

	// Count returns the count at pos, zero when unset
	Count(ref, strand string, pos uint64) (uint32, error)

	// WriteTo writes one gzipped text file per ref:strand into dirpath
	WriteTo(dirpath string) error

	// Close releases storage
	Close() error
}

// refName is the storage and output name of a ref:strand array
func refName(ref, strand string) string {
	return fmt.Sprintf("%s___%s", ref, strand)
}

// kTracker enforces a single k-mer length per vector
type kTracker struct {
	k int
}

func (t *kTracker) check(k int) error {
	if k < 1 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInconsistentK, k)
	}
	if t.k == 0 {
		t.k = k
		return nil
	}
	if t.k != k {
		return fmt.Errorf("%w: %d and %d", ErrInconsistentK, t.k, k)
	}
	return nil
}

// outputDir strips the extension from dirpath and creates the directory
func outputDir(dirpath string) (string, error) {
	dir := strings.TrimSuffix(dirpath, filepath.Ext(dirpath))
	if info, err := os.Stat(dir); err == nil && !info.IsDir() {
		return "", fmt.Errorf("output path %s is a file", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Writing abundance vectors")
	return dir, nil
}

// writeCounts writes "# k=<k>" then one count per line into a gzip file
func writeCounts(path string, k int, counts iter.Seq2[uint32, error]) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	w := bufio.NewWriter(gz)
	if _, err := fmt.Fprintf(w, "# k=%d\n", k); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	n := 0
	for c, err := range counts {
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "%d\n", c); err != nil {
			return fmt.Errorf("failed to write count: %w", err)
		}
		n++
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}

	log.Debug().Str("file", filepath.Base(path)).Int("positions", n).Msg("Abundance vector written")
	return f.Close()
}
