package fasta

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"unicode"

	"github.com/klauspost/compress/gzip"
)

var (
	// ErrEmpty is returned when no record header is found
	ErrEmpty = errors.New("premature end of file or empty file")

	// ErrFormat is returned when a record does not start with '>'
	ErrFormat = errors.New("records in FASTA files should start with '>' character")
)

// Record is one FASTA entry
type Record struct {
	Header string // Title line without the leading '>'
	Seq    string // Sequence with whitespace removed
}

// Name returns the record identifier: the header up to the first space
func (r Record) Name() string {
	name, _, _ := strings.Cut(r.Header, " ")
	return name
}

// Parser reads FASTA records while holding the file open only for the duration
// of one record read. Between reads only the byte offset is kept, so many
// parsers can be active at once without exhausting file descriptors.
//
// For gzip files (".gz" suffix) the offset counts decompressed bytes and
// reopening decompresses up to it again.
type Parser struct {
	path       string
	compressed bool
	pos        int64
	started    bool
}

// NewParser returns a parser positioned at the start of path
func NewParser(path string) *Parser {
	return &Parser{
		path:       path,
		compressed: strings.HasSuffix(path, ".gz"),
	}
}

// ParseFile iterates over the records of the FASTA file at path
func ParseFile(path string) iter.Seq2[Record, error] {
	return NewParser(path).Records()
}

// Path returns the parsed file path
func (p *Parser) Path() string {
	return p.path
}

// Offset returns the byte offset of the next unread record
func (p *Parser) Offset() int64 {
	return p.pos
}

// Seek moves to offset, which must be a record boundary previously returned by Offset
func (p *Parser) Seek(offset int64) {
	p.pos = offset
	p.started = offset > 0
}

// Records iterates from the current offset to the end of the file
func (p *Parser) Records() iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for {
			rec, ok, err := p.next()
			if err != nil {
				yield(Record{}, err)
				return
			}
			if !ok {
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

type handle struct {
	*bufio.Reader
	closers []io.Closer
}

func (h *handle) Close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i].Close()
	}
}

// reopen opens the file and positions it at the recorded offset
func (p *Parser) reopen() (*handle, error) {
	f, err := os.Open(p.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fasta: %w", err)
	}
	h := &handle{closers: []io.Closer{f}}

	var r io.Reader = f
	if p.compressed {
		gz, err := gzip.NewReader(f)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		h.closers = append(h.closers, gz)
		if _, err := io.CopyN(io.Discard, gz, p.pos); err != nil {
			h.Close()
			return nil, fmt.Errorf("failed to seek gzip stream to %d: %w", p.pos, err)
		}
		r = gz
	} else if _, err := f.Seek(p.pos, io.SeekStart); err != nil {
		h.Close()
		return nil, fmt.Errorf("failed to seek fasta to %d: %w", p.pos, err)
	}

	h.Reader = bufio.NewReader(r)
	return h, nil
}

func (p *Parser) next() (Record, bool, error) {
	h, err := p.reopen()
	if err != nil {
		return Record{}, false, err
	}
	defer h.Close()

	if !p.started {
		if err := p.skipPreamble(h); err != nil {
			return Record{}, false, err
		}
		p.started = true
	}

	line, err := h.ReadString('\n')
	if line == "" {
		if err == nil || errors.Is(err, io.EOF) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("failed to read fasta header: %w", err)
	}
	if line[0] != '>' {
		return Record{}, false, fmt.Errorf("%w at offset %d", ErrFormat, p.pos)
	}
	p.pos += int64(len(line))
	header := strings.TrimRightFunc(line[1:], unicode.IsSpace)

	var seq strings.Builder
	for {
		peek, err := h.Peek(1)
		if err != nil || peek[0] == '>' {
			break
		}
		line, err := h.ReadString('\n')
		p.pos += int64(len(line))
		seq.WriteString(strings.TrimRightFunc(line, unicode.IsSpace))
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return Record{}, false, fmt.Errorf("failed to read fasta sequence: %w", err)
			}
			break
		}
	}

	clean := strings.NewReplacer(" ", "", "\r", "").Replace(seq.String())
	return Record{Header: header, Seq: clean}, true, nil
}

// skipPreamble consumes any text before the first header (blank lines, comments)
func (p *Parser) skipPreamble(h *handle) error {
	for {
		peek, err := h.Peek(1)
		if err != nil {
			return ErrEmpty
		}
		if peek[0] == '>' {
			return nil
		}
		line, err := h.ReadString('\n')
		p.pos += int64(len(line))
		if err != nil {
			return ErrEmpty
		}
	}
}
