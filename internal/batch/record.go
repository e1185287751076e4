package batch

// Record is one typed, orderable, line-serializable unit handled by a Batch
type Record interface {
	// Kind returns the type tag. It must match the owning batch kind.
	Kind() string

	// SortKey returns the key used to order records on a sorted flush
	SortKey() string

	// MarshalLine returns the single-line text form, without trailing newline
	MarshalLine() string
}

// Decoder parses one line produced by Record.MarshalLine back into a Record
type Decoder func(line string) (Record, error)

// Validator is implemented by records that can report themselves unusable
// (e.g. a k-mer containing characters outside its alphabet).
type Validator interface {
	Valid() bool
}

// IsValid reports whether r should be kept. Records without a validity flag are always kept.
func IsValid(r Record) bool {
	if v, ok := r.(Validator); ok {
		return v.Valid()
	}
	return true
}
