package kmer

import (
	"iter"
	"strings"

	"github.com/SteelMorgan/kman/internal/batch"
)

// Generate yields every k-mer of seq in order. Positions are shifted by offset,
// so a segment of a longer sequence reports positions on the whole sequence.
// ASCII bases are upper-cased; other bytes are kept, so positions stay byte offsets.
func Generate(seq string, k int, na NAType, ref string, offset int) iter.Seq[KMer] {
	seq = upperASCII(seq)
	return func(yield func(KMer) bool) {
		if k < 1 {
			return
		}
		for i := 0; i+k <= len(seq); i++ {
			km := KMer{Ref: ref, Start: offset + i, Seq: seq[i : i+k], NAType: na}
			if !yield(km) {
				return
			}
		}
	}
}

// upperASCII maps a-z to A-Z and leaves every other byte alone
func upperASCII(s string) string {
	i := strings.IndexFunc(s, func(r rune) bool { return 'a' <= r && r <= 'z' })
	if i < 0 {
		return s
	}
	buf := []byte(s)
	for j := i; j < len(buf); j++ {
		if c := buf[j]; 'a' <= c && c <= 'z' {
			buf[j] = c - ('a' - 'A')
		}
	}
	return string(buf)
}

// ValidRecords adapts a k-mer sequence to batch records, dropping k-mers with
// bases outside their alphabet
func ValidRecords(kmers iter.Seq[KMer]) iter.Seq[batch.Record] {
	return func(yield func(batch.Record) bool) {
		for km := range kmers {
			if !batch.IsValid(km) {
				continue
			}
			if !yield(km) {
				return
			}
		}
	}
}

// Segment is a slice of a sequence starting at Offset
type Segment struct {
	Seq    string
	Offset int
}

// Partition splits seq into non-overlapping k-mer ranges of at most size k-mers
// each. Consecutive segments overlap by k-1 bases so no k-mer is lost.
func Partition(seq string, k, size int) []Segment {
	if k < 1 || size < 1 || len(seq) < k {
		return nil
	}

	total := len(seq) - k + 1
	segments := make([]Segment, 0, (total+size-1)/size)
	for i := 0; i < total; i += size {
		end := min(i+size+k-1, len(seq))
		segments = append(segments, Segment{Seq: seq[i:end], Offset: i})
	}
	return segments
}
