package abundance

import (
	"fmt"
	"path/filepath"
	"slices"
)

// MemoryVector keeps every array in memory
type MemoryVector struct {
	ks   kTracker
	data map[string][]uint32
}

// NewMemoryVector creates an empty in-memory vector set
func NewMemoryVector() *MemoryVector {
	return &MemoryVector{data: make(map[string][]uint32)}
}

// AddCount implements Vector
func (v *MemoryVector) AddCount(ref, strand string, pos uint64, count uint32, k int, replace bool) error {
	if err := v.ks.check(k); err != nil {
		return err
	}
	if err := v.AddRef(ref, strand, pos+1); err != nil {
		return err
	}

	arr := v.data[refName(ref, strand)]
	if !replace && arr[pos] != 0 {
		return fmt.Errorf("%w (%s, %s, %d, %d)", ErrNonZeroCount, ref, strand, pos, count)
	}
	arr[pos] = count
	return nil
}

// AddRef implements Vector
func (v *MemoryVector) AddRef(ref, strand string, size uint64) error {
	name := refName(ref, strand)
	arr := v.data[name]
	if uint64(len(arr)) >= size {
		if arr == nil {
			v.data[name] = []uint32{}
		}
		return nil
	}
	grown := make([]uint32, size)
	copy(grown, arr)
	v.data[name] = grown
	return nil
}

// Count implements Vector
func (v *MemoryVector) Count(ref, strand string, pos uint64) (uint32, error) {
	arr := v.data[refName(ref, strand)]
	if pos >= uint64(len(arr)) {
		return 0, nil
	}
	return arr[pos], nil
}

// WriteTo implements Vector
func (v *MemoryVector) WriteTo(dirpath string) error {
	if v.ks.k == 0 {
		return ErrNoCounts
	}
	dir, err := outputDir(dirpath)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(v.data))
	for name := range v.data {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		arr := v.data[name]
		counts := func(yield func(uint32, error) bool) {
			for _, c := range arr {
				if !yield(c, nil) {
					return
				}
			}
		}
		if err := writeCounts(filepath.Join(dir, name+".gz"), v.ks.k, counts); err != nil {
			return err
		}
	}
	return nil
}

// Close implements Vector
func (v *MemoryVector) Close() error {
	v.data = make(map[string][]uint32)
	return nil
}
