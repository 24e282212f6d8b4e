package segmap

import (
	"encoding/binary"
	"math"
)

// leUint32/lePutUint32/leUint64/lePutUint64 centralize the byte order used
// by every on-disk/off-heap field. Spec §4.1 requires "little-endian
// semantics regardless of host byte order" — unlike the teacher, which
// uses BigEndian throughout phash.go; this is a deliberate deviation to
// follow the spec rather than the teacher.
func leUint32(b []byte) uint32        { return binary.LittleEndian.Uint32(b) }
func lePutUint32(b []byte, v uint32)  { binary.LittleEndian.PutUint32(b, v) }
func leUint64(b []byte) uint64        { return binary.LittleEndian.Uint64(b) }
func lePutUint64(b []byte, v uint64)  { binary.LittleEndian.PutUint64(b, v) }

func float64bits(v float64) uint64    { return math.Float64bits(v) }
func float64frombits(v uint64) float64 { return math.Float64frombits(v) }
