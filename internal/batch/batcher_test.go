package batch

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{Size: 10, Kind: testKind, Decode: decodeWord},
		},
		{
			name: "zero size uses default",
			cfg:  Config{Kind: testKind, Decode: decodeWord},
		},
		{
			name:    "negative size",
			cfg:     Config{Size: -1, Kind: testKind, Decode: decodeWord},
			wantErr: true,
		},
		{
			name:    "missing kind",
			cfg:     Config{Size: 10, Decode: decodeWord},
			wantErr: true,
		},
		{
			name:    "missing decoder",
			cfg:     Config{Size: 10, Kind: testKind},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			defer b.Close()
			if tt.cfg.Size == 0 && b.Size() != DefaultSize {
				t.Errorf("expected default size %d, got %d", DefaultSize, b.Size())
			}
			if b.Threads() != 1 {
				t.Errorf("expected 1 thread, got %d", b.Threads())
			}
		})
	}
}

func TestCheckThreads(t *testing.T) {
	cpus := runtime.NumCPU()
	tests := []struct {
		in, want int
	}{
		{-3, 1},
		{0, 1},
		{1, 1},
		{cpus, cpus},
		{cpus + 5, cpus},
	}
	for _, tt := range tests {
		if got := CheckThreads(tt.in); got != tt.want {
			t.Errorf("CheckThreads(%d) = %d, expected %d", tt.in, got, tt.want)
		}
	}
}

func TestNew_MaxThreads(t *testing.T) {
	tests := []struct {
		name    string
		threads int
		limit   int
		want    int
		wantErr bool
	}{
		{name: "above cpu count", threads: runtime.NumCPU() + 3, limit: runtime.NumCPU() + 3, want: runtime.NumCPU() + 3},
		{name: "clamped to limit", threads: 9, limit: 4, want: 4},
		{name: "default limit is cpu count", threads: runtime.NumCPU() + 1, limit: 0, want: runtime.NumCPU()},
		{name: "negative limit", threads: 2, limit: -1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := New(Config{Size: 2, Kind: testKind, Decode: decodeWord, Threads: tt.threads, MaxThreads: tt.limit, TempRoot: t.TempDir()})
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if b.Threads() != tt.want {
				t.Errorf("expected %d threads, got %d", tt.want, b.Threads())
			}
			if c := b.Child(); c.Threads() != tt.want {
				t.Errorf("expected child to keep %d threads, got %d", tt.want, c.Threads())
			}
			limit := tt.limit
			if limit == 0 {
				limit = runtime.NumCPU()
			}
			b.SetThreads(limit + 10)
			if b.Threads() != limit {
				t.Errorf("expected SetThreads to clamp to %d, got %d", limit, b.Threads())
			}
		})
	}
}

func TestBatcher_AddRecordRollover(t *testing.T) {
	for _, size := range []int{1, 2, 3, 7} {
		for _, n := range []int{0, 1, 5, 14, 21} {
			t.Run(fmt.Sprintf("size=%d/n=%d", size, n), func(t *testing.T) {
				b := newTestBatcher(t, size)
				for i := 0; i < n; i++ {
					if err := b.AddRecord(w(fmt.Sprintf("r%03d", i))); err != nil {
						t.Fatalf("AddRecord() error = %v", err)
					}
				}

				batches := b.Collection()
				wantBatches := (n + size - 1) / size
				if len(batches) != wantBatches {
					t.Fatalf("expected %d batches, got %d", wantBatches, len(batches))
				}
				for i, bt := range batches {
					last := i == len(batches)-1
					if !last && !bt.IsFull() {
						t.Errorf("batch %d is not full", i)
					}
					if !last && !bt.IsWritten() {
						t.Errorf("batch %d should have been written on rollover", i)
					}
					if last && bt.IsWritten() {
						t.Errorf("last batch should still be building")
					}
				}
				if b.Len() != n {
					t.Errorf("expected %d records, got %d", n, b.Len())
				}
			})
		}
	}
}

func TestBatcher_AddRecordTypeMismatch(t *testing.T) {
	b := newTestBatcher(t, 2)
	if err := b.AddRecord(word{kind: "other"}); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("expected ErrTypeMismatch, got %v", err)
	}
	if b.Len() != 0 {
		t.Errorf("expected no records, got %d", b.Len())
	}
}

func TestBatcher_AddRecordAfterWrittenPartialBatch(t *testing.T) {
	b := newTestBatcher(t, 3)
	bt, err := b.BuildBatch(func(yield func(Record) bool) {
		yield(w("a"))
	})
	if err != nil {
		t.Fatalf("BuildBatch() error = %v", err)
	}
	if err := b.FeedCollection([]*Batch{bt}, FeedReplace); err != nil {
		t.Fatalf("FeedCollection() error = %v", err)
	}

	if err := b.AddRecord(w("b")); err != nil {
		t.Fatalf("AddRecord() error = %v", err)
	}
	got := collectionKeys(t, b)
	want := [][]string{{"a"}, {"b"}}
	if !equalKeys(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestBatcher_TakeAndChild(t *testing.T) {
	b := newTestBatcher(t, 2)
	child := b.Child()
	for _, r := range words("a", "b", "c") {
		if err := child.AddRecord(r); err != nil {
			t.Fatalf("AddRecord() error = %v", err)
		}
	}

	childDir, _ := child.TempDir()
	parentDir, _ := b.TempDir()
	if childDir != parentDir {
		t.Errorf("child must share temp dir: %s vs %s", childDir, parentDir)
	}

	taken := child.Take()
	if len(taken) != 2 || len(child.Collection()) != 0 {
		t.Fatalf("expected 2 taken batches and empty child, got %d and %d", len(taken), len(child.Collection()))
	}

	if err := child.Close(); err != nil {
		t.Fatalf("child Close() error = %v", err)
	}
	if _, err := os.Stat(parentDir); err != nil {
		t.Errorf("child close removed shared dir: %v", err)
	}
}

func TestBatcher_CloseRemovesTempDir(t *testing.T) {
	b, err := New(Config{Size: 1, Kind: testKind, Decode: decodeWord, TempRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, r := range words("a", "b", "c") {
		if err := b.AddRecord(r); err != nil {
			t.Fatalf("AddRecord() error = %v", err)
		}
	}
	dir, _ := b.TempDir()
	entries, _ := os.ReadDir(dir)
	if len(entries) != 2 {
		t.Errorf("expected 2 spill files, got %d", len(entries))
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expected %s removed, stat error = %v", dir, err)
	}
	if len(b.Collection()) != 0 {
		t.Error("expected empty collection after close")
	}
}

func TestBatcher_EndToEndSequential(t *testing.T) {
	b := newTestBatcher(t, 3)
	for _, r := range words("a", "b", "c", "d", "e") {
		if err := b.AddRecord(r); err != nil {
			t.Fatalf("AddRecord() error = %v", err)
		}
	}

	batches := b.Collection()
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if !batches[0].IsWritten() || batches[1].IsWritten() {
		t.Errorf("expected [written, building], got [%t, %t]", batches[0].IsWritten(), batches[1].IsWritten())
	}
	want := [][]string{{"a", "b", "c"}, {"d", "e"}}
	if got := collectionKeys(t, b); !equalKeys(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
