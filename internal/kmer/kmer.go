package kmer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/SteelMorgan/kman/internal/batch"
)

// Kind is the record type tag of k-mers
const Kind = "kmer"

// NAType is a nucleic acid type
type NAType int

const (
	DNA NAType = iota
	RNA
)

func (t NAType) String() string {
	switch t {
	case DNA:
		return "DNA"
	case RNA:
		return "RNA"
	default:
		return fmt.Sprintf("NAType(%d)", int(t))
	}
}

// Alphabet returns the accepted bases
func (t NAType) Alphabet() string {
	if t == RNA {
		return "ACGU"
	}
	return "ACGT"
}

// ParseNAType parses "DNA" or "RNA", case-insensitive
func ParseNAType(s string) (NAType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DNA":
		return DNA, nil
	case "RNA":
		return RNA, nil
	default:
		return 0, fmt.Errorf("unknown nucleic acid type: %q", s)
	}
}

// KMer is a k-long subsequence of a reference record, starting at Start (0-based)
type KMer struct {
	Ref    string
	Start  int
	Seq    string
	NAType NAType
}

// Kind implements batch.Record
func (k KMer) Kind() string {
	return Kind
}

// SortKey implements batch.Record. K-mers sort by sequence.
func (k KMer) SortKey() string {
	return k.Seq
}

// MarshalLine implements batch.Record: ref, start, sequence and type, tab separated
func (k KMer) MarshalLine() string {
	return k.Ref + "\t" + strconv.Itoa(k.Start) + "\t" + k.Seq + "\t" + k.NAType.String()
}

// End returns the position right after the last base
func (k KMer) End() int {
	return k.Start + len(k.Seq)
}

// Valid reports whether every base belongs to the k-mer alphabet
func (k KMer) Valid() bool {
	alphabet := k.NAType.Alphabet()
	for i := 0; i < len(k.Seq); i++ {
		if strings.IndexByte(alphabet, k.Seq[i]) < 0 {
			return false
		}
	}
	return len(k.Seq) > 0
}

// Parse is the inverse of MarshalLine
func Parse(line string) (KMer, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 4 {
		return KMer{}, fmt.Errorf("invalid k-mer line: expected 4 fields, got %d", len(fields))
	}

	start, err := strconv.Atoi(fields[1])
	if err != nil {
		return KMer{}, fmt.Errorf("invalid k-mer start %q: %w", fields[1], err)
	}
	na, err := ParseNAType(fields[3])
	if err != nil {
		return KMer{}, err
	}

	return KMer{Ref: fields[0], Start: start, Seq: fields[2], NAType: na}, nil
}

// Decode is the batch.Decoder for k-mer batches
func Decode(line string) (batch.Record, error) {
	k, err := Parse(line)
	if err != nil {
		return nil, err
	}
	return k, nil
}
