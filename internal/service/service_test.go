package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"

	"github.com/SteelMorgan/kman/internal/abundance"
	"github.com/SteelMorgan/kman/internal/batch"
	"github.com/SteelMorgan/kman/internal/fasta"
	"github.com/SteelMorgan/kman/internal/kmer"
)

func newBatcher(t *testing.T, size, threads int) *batch.Batcher {
	t.Helper()
	b, err := batch.New(batch.Config{
		Size:       size,
		Kind:       kmer.Kind,
		Decode:     kmer.Decode,
		Threads:    threads,
		MaxThreads: threads,
		TempRoot:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("batch.New() error = %v", err)
	}
	if b.Threads() != threads {
		t.Fatalf("expected %d threads, got %d", threads, b.Threads())
	}
	t.Cleanup(func() { b.Close() })
	return b
}

// lines returns every record line of the collection, sorted
func lines(t *testing.T, batches []*batch.Batch) []string {
	t.Helper()
	var out []string
	for _, bt := range batches {
		for r, err := range bt.Records() {
			if err != nil {
				t.Fatalf("Records() error = %v", err)
			}
			out = append(out, r.MarshalLine())
		}
	}
	slices.Sort(out)
	return out
}

func TestRecordBatcher_ThreadsAgree(t *testing.T) {
	rec := fasta.Record{Header: "chr1 test", Seq: "ACGTNACGTTGCAacgtAGGCTTNNACGATCGATCGGA"}
	const k, size = 4, 5

	seq := newBatcher(t, size, 1)
	if err := NewRecordBatcher(seq, kmer.DNA).Do(context.Background(), rec, k); err != nil {
		t.Fatalf("sequential Do() error = %v", err)
	}
	par := newBatcher(t, size, 4)
	if err := NewRecordBatcher(par, kmer.DNA).Do(context.Background(), rec, k); err != nil {
		t.Fatalf("parallel Do() error = %v", err)
	}

	want := lines(t, seq.Collection())
	got := lines(t, par.Collection())
	if !slices.Equal(got, want) {
		t.Errorf("record sets differ:\nsequential %v\nparallel   %v", want, got)
	}
	for _, l := range want {
		if fields := strings.Split(l, "\t"); strings.Contains(fields[2], "N") {
			t.Errorf("invalid k-mer kept: %s", l)
		}
		if !strings.HasPrefix(l, "chr1\t") {
			t.Errorf("expected ref chr1, got %s", l)
		}
	}

	// sequential path: ceil(N/C) batches, all but the last written
	n := seq.Len()
	if got, want := len(seq.Collection()), (n+size-1)/size; got != want {
		t.Errorf("expected %d batches, got %d", want, got)
	}
}

func TestRecordBatcher_ThreadsAgreeOnNonASCII(t *testing.T) {
	tests := []struct {
		name string
		seq  string
	}{
		{name: "invalid utf-8", seq: "AC\xffGTACGTAC"},
		{name: "multi-byte rune", seq: "ACßGTACGTACGT"},
		{name: "lower case", seq: "acgtéacgtacgTT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := fasta.Record{Header: "r", Seq: tt.seq}
			const k, size = 3, 3

			seq := newBatcher(t, size, 1)
			if err := NewRecordBatcher(seq, kmer.DNA).Do(context.Background(), rec, k); err != nil {
				t.Fatalf("sequential Do() error = %v", err)
			}
			par := newBatcher(t, size, 2)
			if err := NewRecordBatcher(par, kmer.DNA).Do(context.Background(), rec, k); err != nil {
				t.Fatalf("parallel Do() error = %v", err)
			}

			want := lines(t, seq.Collection())
			got := lines(t, par.Collection())
			if !slices.Equal(got, want) {
				t.Errorf("record sets differ:\nsequential %v\nparallel   %v", want, got)
			}

			// starts are byte offsets into the record sequence
			for _, l := range want {
				fields := strings.Split(l, "\t")
				start, err := strconv.Atoi(fields[1])
				if err != nil {
					t.Fatalf("bad start in %q", l)
				}
				if raw := strings.ToUpper(tt.seq[start : start+k]); raw != fields[2] {
					t.Errorf("start %d: sequence has %q, record has %q", start, raw, fields[2])
				}
			}
		})
	}
}

func TestRecordBatcher_ParallelBatchesSorted(t *testing.T) {
	b := newBatcher(t, 3, 2)
	rec := fasta.Record{Header: "r", Seq: "TTTGGGCCCAAATGCA"}
	if err := NewRecordBatcher(b, kmer.DNA).Do(context.Background(), rec, 3); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	for i, bt := range b.Collection() {
		if !bt.IsWritten() {
			t.Errorf("batch %d: expected written", i)
		}
		var keys []string
		for r, err := range bt.Records() {
			if err != nil {
				t.Fatalf("Records() error = %v", err)
			}
			keys = append(keys, r.SortKey())
		}
		if !slices.IsSorted(keys) {
			t.Errorf("batch %d not sorted: %v", i, keys)
		}
	}
	if b.Len() != len(rec.Seq)-3+1 {
		t.Errorf("expected %d k-mers, got %d", len(rec.Seq)-2, b.Len())
	}
}

func TestRecordBatcher_Filtering(t *testing.T) {
	b := newBatcher(t, 10, 1)
	rec := fasta.Record{Header: "x", Seq: "ACGNACGT"}
	if err := NewRecordBatcher(b, kmer.DNA).Do(context.Background(), rec, 3); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	want := []string{"x\t0\tACG\tDNA", "x\t4\tACG\tDNA", "x\t5\tCGT\tDNA"}
	if got := lines(t, b.Collection()); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestRecordBatcher_Errors(t *testing.T) {
	b := newBatcher(t, 10, 1)
	rb := NewRecordBatcher(b, kmer.DNA)

	if err := rb.Do(context.Background(), fasta.Record{Header: "x", Seq: "ACGT"}, 1); !errors.Is(err, batch.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rb.Do(ctx, fasta.Record{Header: "x", Seq: "ACGTACGT"}, 2); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if rb.Batcher().Len() != 0 {
		t.Errorf("expected no records after cancel, got %d", rb.Batcher().Len())
	}
}

func writeFasta(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.fa")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestFastaBatcher_Do(t *testing.T) {
	path := writeFasta(t, ">r1 first\nACGTAC\nGT\n>r2\nTTGCA\n>r3 short\nAC\n")
	// r1: ACGTACGT -> 6 k-mers of 3, r2: TTGCA -> 3, r3: none
	const total = 9

	for _, threads := range []int{1, 2} {
		b := newBatcher(t, 4, threads)
		stats, err := NewFastaBatcher(b, kmer.DNA).Do(context.Background(), path, 3)
		if err != nil {
			t.Fatalf("threads=%d: Do() error = %v", threads, err)
		}
		if stats.Records != 3 || stats.Kmers != total {
			t.Errorf("threads=%d: unexpected stats %+v", threads, stats)
		}
		if b.Len() != total || stats.Batches != len(b.Collection()) {
			t.Errorf("threads=%d: expected %d k-mers in %d batches, got %d", threads, total, stats.Batches, b.Len())
		}

		got := lines(t, b.Collection())
		if got[0] != "r1\t0\tACG\tDNA" || !slices.Contains(got, "r2\t2\tGCA\tDNA") {
			t.Errorf("threads=%d: unexpected records %v", threads, got)
		}
	}

	// sequential file batching packs records across FASTA entries
	b := newBatcher(t, 4, 1)
	if _, err := NewFastaBatcher(b, kmer.DNA).Do(context.Background(), path, 3); err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if got := len(b.Collection()); got != 3 {
		t.Errorf("expected ceil(9/4)=3 batches, got %d", got)
	}
}

func TestFastaBatcher_Errors(t *testing.T) {
	b := newBatcher(t, 4, 1)
	fb := NewFastaBatcher(b, kmer.DNA)

	if _, err := fb.Do(context.Background(), filepath.Join(t.TempDir(), "missing.fa"), 3); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
	if _, err := fb.Do(context.Background(), t.TempDir(), 3); err == nil {
		t.Error("expected error for directory path")
	}
	if _, err := fb.Do(context.Background(), writeFasta(t, ">a\nACGT\n"), 1); !errors.Is(err, batch.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := fb.Do(context.Background(), writeFasta(t, "ACGT\n"), 3); !errors.Is(err, fasta.ErrEmpty) {
		t.Errorf("expected fasta.ErrEmpty, got %v", err)
	}
}

func TestCountStarts(t *testing.T) {
	b := newBatcher(t, 2, 1)
	rec := fasta.Record{Header: "chr1", Seq: "ACGNAC"}
	if err := NewRecordBatcher(b, kmer.DNA).Do(context.Background(), rec, 2); err != nil {
		t.Fatalf("Do() error = %v", err)
	}

	v := abundance.NewMemoryVector()
	defer v.Close()
	if err := CountStarts(context.Background(), b.Collection(), v, 2); err != nil {
		t.Fatalf("CountStarts() error = %v", err)
	}

	// valid 2-mers start at 0 (AC), 1 (CG), 4 (AC)
	want := []uint32{1, 1, 0, 0, 1}
	for pos, w := range want {
		got, err := v.Count("chr1", ForwardStrand, uint64(pos))
		if err != nil {
			t.Fatalf("Count() error = %v", err)
		}
		if got != w {
			t.Errorf("pos %d: expected %d, got %d", pos, w, got)
		}
	}
}
