package writer

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/SteelMorgan/kman/internal/batch"
)

// recordHash is the SHA256 of the record's line form; the ClickHouse sink
// stores it so duplicate inserts after a retry can be collapsed
func recordHash(r batch.Record) string {
	sum := sha256.Sum256([]byte(r.MarshalLine()))
	return hex.EncodeToString(sum[:])
}
