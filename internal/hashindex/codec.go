package hashindex

import (
	"encoding/binary"
	"hash/maphash"
)

// Codec fixes a type's on-disk width and converts it to and from a byte
// slot. The original implementation specializes its block page template
// over several fixed-width generic key types (GenericKey<4/8/16/32/64>) plus
// a plain integer key; Codec generalizes that family to arbitrary Go types
// without the compile-time template instantiation.
type Codec[T any] interface {
	// Size is the fixed encoded width in bytes.
	Size() int
	// Encode writes the encoded form of v into buf, which is at least
	// Size() bytes long.
	Encode(v T, buf []byte)
	// Decode reads a value back out of buf, which is at least Size() bytes
	// long.
	Decode(buf []byte) T
}

// Comparator orders two keys, returning <0, 0, or >0 the way the source's
// KeyComparator does for its templated key types.
type Comparator[K any] func(a, b K) int

// HashFunc maps a key to a bucket index seed. The index treats it as an
// externally supplied capability, not a fixed algorithm, matching the
// design note that the hash function is orthogonal to the table's own
// concurrency and probing logic.
type HashFunc[K any] func(k K) uint64

// Int64Codec encodes int64 keys/values as 8-byte little-endian integers,
// the fixed-width shape the original's IntComparator/integer key
// specialization assumes.
type Int64Codec struct{}

func (Int64Codec) Size() int { return 8 }

func (Int64Codec) Encode(v int64, buf []byte) {
	binary.LittleEndian.PutUint64(buf, uint64(v))
}

func (Int64Codec) Decode(buf []byte) int64 {
	return int64(binary.LittleEndian.Uint64(buf))
}

// CompareInt64 is the natural Comparator[int64].
func CompareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// hashSeed is process-lifetime stable so that HashInt64 is deterministic
// within a single run (required: Resize re-derives slot indices for the
// same keys against a larger table size) without being a fixed, predictable
// constant across runs.
var hashSeed = maphash.MakeSeed()

// HashInt64 is the default HashFunc[int64] used by cmd/hashindex. It builds
// on hash/maphash rather than a vendored hash algorithm: the hash function
// is a pluggable capability per the design note above, so no single
// third-party hash library is load-bearing enough to justify adding one
// (see DESIGN.md).
func HashInt64(k int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k))

	return maphash.Bytes(hashSeed, buf[:])
}
