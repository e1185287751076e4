package writer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/SteelMorgan/kman/internal/batch"
	"github.com/rs/zerolog/log"
)

// DirExporter copies each batch to <dir>/batch_<id>.txt, one record per line
type DirExporter struct {
	dir string
}

// NewDirExporter creates dir if needed
func NewDirExporter(dir string) (*DirExporter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}
	return &DirExporter{dir: dir}, nil
}

// FileName returns the output path of batch id
func (e *DirExporter) FileName(id int) string {
	return filepath.Join(e.dir, fmt.Sprintf("batch_%d%s", id, batch.FileSuffix))
}

// Export implements Exporter
func (e *DirExporter) Export(ctx context.Context, id int, b *batch.Batch) error {
	path := e.FileName(id)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	n := 0
	for r, err := range b.Records() {
		if err != nil {
			return fmt.Errorf("failed to read batch %d: %w", id, err)
		}
		if _, err := w.WriteString(r.MarshalLine() + "\n"); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		n++
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", path, err)
	}

	log.Debug().
		Int("batch_id", id).
		Int("records", n).
		Str("file", path).
		Msg("Batch exported to file")
	return f.Close()
}

// Close implements Exporter
func (e *DirExporter) Close() error { return nil }
