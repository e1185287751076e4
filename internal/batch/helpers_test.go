package batch

import (
	"errors"
	"iter"
	"slices"
	"strings"
	"testing"
)

const testKind = "word"

// word is a minimal record: key and payload separated by a colon
type word struct {
	kind  string
	key   string
	value string
}

func (w word) Kind() string        { return w.kind }
func (w word) SortKey() string     { return w.key }
func (w word) MarshalLine() string { return w.key + ":" + w.value }
func (w word) Valid() bool         { return !strings.Contains(w.value, "N") }

func decodeWord(line string) (Record, error) {
	key, value, ok := strings.Cut(line, ":")
	if !ok {
		return nil, errors.New("missing separator")
	}
	return word{kind: testKind, key: key, value: value}, nil
}

func w(key string) word {
	return word{kind: testKind, key: key, value: key}
}

func words(keys ...string) []Record {
	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, w(k))
	}
	return out
}

func newTestBatcher(t *testing.T, size int) *Batcher {
	t.Helper()
	b, err := New(Config{
		Size:       size,
		Kind:       testKind,
		Decode:     decodeWord,
		MaxThreads: 8,
		TempRoot:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func collect(t *testing.T, seq iter.Seq2[Record, error]) []string {
	t.Helper()
	var keys []string
	for r, err := range seq {
		if err != nil {
			t.Fatalf("record iteration error: %v", err)
		}
		keys = append(keys, r.SortKey())
	}
	return keys
}

func collectionKeys(t *testing.T, b *Batcher) [][]string {
	t.Helper()
	out := make([][]string, 0, len(b.Collection()))
	for _, bt := range b.Collection() {
		out = append(out, collect(t, bt.Records()))
	}
	return out
}

func equalKeys(a, b [][]string) bool {
	return slices.EqualFunc(a, b, func(x, y []string) bool { return slices.Equal(x, y) })
}
