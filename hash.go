package segmap

import "github.com/cespare/xxhash/v2"

// hash64 is the key hash used throughout the file format: segment routing
// (§4.6), hash-lookup slot tagging (§4.3), and the invariant in §3 that a
// slot's tag equals hash64(key) >> log2(segment_count) truncated to h_bits.
//
// xxhash-64 was chosen because spec §9 leaves the hash function
// unspecified and recommends "a well-known non-cryptographic 64-bit hash
// (e.g., xxhash-64)"; cespare/xxhash/v2 is already an indirect dependency
// of the teacher this package is built from. It is part of the on-disk
// format: changing it invalidates every existing file.
func hash64(key []byte) uint64 {
	return xxhash.Sum64(key)
}
