package abundance

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const (
	sizesBucket = "__sizes"
	dbFileName  = "abundance.db"
)

// LocalVector stores arrays in a BoltDB file inside its own scoped temp directory.
// Each ref:strand is a bucket keyed by big-endian position; unset positions are
// absent and read as zero. Logical lengths live in a separate bucket.
type LocalVector struct {
	ks  kTracker
	dir string
	db  *bbolt.DB
}

// NewLocalVector creates the scoped directory under root (os.TempDir() if empty)
// and opens the store in it
func NewLocalVector(root string) (*LocalVector, error) {
	if root == "" {
		root = os.TempDir()
	}
	dir, err := os.MkdirTemp(root, "kmanVector")
	if err != nil {
		return nil, fmt.Errorf("failed to create vector dir: %w", err)
	}

	dbPath := filepath.Join(dir, dbFileName)
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  true, // scratch storage, removed on Close
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to open boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sizesBucket))
		return err
	})
	if err != nil {
		db.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	log.Debug().
		Str("db_path", dbPath).
		Msg("BoltDB abundance store initialized")

	return &LocalVector{dir: dir, db: db}, nil
}

// Dir returns the scoped storage directory
func (v *LocalVector) Dir() string {
	return v.dir
}

// AddCount implements Vector
func (v *LocalVector) AddCount(ref, strand string, pos uint64, count uint32, k int, replace bool) error {
	if err := v.ks.check(k); err != nil {
		return err
	}

	name := refName(ref, strand)
	err := v.db.Update(func(tx *bbolt.Tx) error {
		b, err := growRef(tx, name, pos+1)
		if err != nil {
			return err
		}

		key := encodeUint64(pos)
		if !replace {
			if val := b.Get(key); val != nil && decodeUint32(val) != 0 {
				return fmt.Errorf("%w (%s, %s, %d, %d)", ErrNonZeroCount, ref, strand, pos, count)
			}
		}
		if count == 0 {
			return b.Delete(key)
		}
		return b.Put(key, encodeUint32(count))
	})
	if err != nil {
		return fmt.Errorf("failed to add count: %w", err)
	}
	return nil
}

// AddRef implements Vector
func (v *LocalVector) AddRef(ref, strand string, size uint64) error {
	err := v.db.Update(func(tx *bbolt.Tx) error {
		_, err := growRef(tx, refName(ref, strand), size)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to add ref: %w", err)
	}
	return nil
}

// growRef returns the bucket of name, creating it and raising its length to at least size
func growRef(tx *bbolt.Tx, name string, size uint64) (*bbolt.Bucket, error) {
	b, err := tx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, err
	}

	sizes := tx.Bucket([]byte(sizesBucket))
	if sizes == nil {
		return nil, fmt.Errorf("bucket not found")
	}
	if val := sizes.Get([]byte(name)); val != nil && binary.BigEndian.Uint64(val) >= size {
		return b, nil
	}
	if err := sizes.Put([]byte(name), encodeUint64(size)); err != nil {
		return nil, err
	}
	return b, nil
}

// Count implements Vector
func (v *LocalVector) Count(ref, strand string, pos uint64) (uint32, error) {
	var count uint32
	err := v.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(refName(ref, strand)))
		if b == nil {
			return nil
		}
		if val := b.Get(encodeUint64(pos)); val != nil {
			count = decodeUint32(val)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get count: %w", err)
	}
	return count, nil
}

// WriteTo implements Vector
func (v *LocalVector) WriteTo(dirpath string) error {
	if v.ks.k == 0 {
		return ErrNoCounts
	}
	dir, err := outputDir(dirpath)
	if err != nil {
		return err
	}

	return v.db.View(func(tx *bbolt.Tx) error {
		sizes := tx.Bucket([]byte(sizesBucket))
		if sizes == nil {
			return fmt.Errorf("bucket not found")
		}

		// bbolt iterates keys in byte order, so names come out sorted
		return sizes.ForEach(func(name, val []byte) error {
			size := binary.BigEndian.Uint64(val)
			b := tx.Bucket(name)
			counts := func(yield func(uint32, error) bool) {
				c := b.Cursor()
				key, value := c.First()
				for pos := uint64(0); pos < size; pos++ {
					var count uint32
					if key != nil && binary.BigEndian.Uint64(key) == pos {
						count = decodeUint32(value)
						key, value = c.Next()
					}
					if !yield(count, nil) {
						return
					}
				}
			}
			return writeCounts(filepath.Join(dir, string(name)+".gz"), v.ks.k, counts)
		})
	})
}

// Close closes the store and removes its directory
func (v *LocalVector) Close() error {
	log.Debug().Str("dir", v.dir).Msg("Closing BoltDB abundance store")
	if err := v.db.Close(); err != nil {
		return fmt.Errorf("failed to close boltdb: %w", err)
	}
	if err := os.RemoveAll(v.dir); err != nil {
		return fmt.Errorf("failed to remove vector dir: %w", err)
	}
	return nil
}

func encodeUint64(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

func encodeUint32(n uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, n)
	return buf
}

func decodeUint32(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
