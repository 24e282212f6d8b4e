package segmap

import "encoding/binary"

// headerMagic identifies a segmap file. The constant's hex digits spell
// 'S','G','M','P'; it is stored little-endian, so a file's first four
// bytes read "PMGS" in a hex editor.
const headerMagic uint32 = 0x53474D50

// fileFormatVersion is bumped whenever the on-disk layout changes in a
// backward-incompatible way. A mismatch makes Open fail with CorruptHeader
// rather than attempt to interpret a foreign layout.
const fileFormatVersion uint32 = 1

const (
	headerFlagLargeSegments = 1 << 0
	headerFlagTransactional = 1 << 1
)

// rawHeaderFields is the number of little-endian uint32 words the header
// occupies before padding. The design notes call for an explicit, versioned
// binary header in place of the original system's opaque, externally
// serialized builder configuration; this struct is that header, and it
// doubles as the persisted record of every Builder parameter that affects
// layout, so a reopen can be rejected byte-for-byte rather than merely
// "close enough".
const rawHeaderFields = 11
const rawHeaderSize = rawHeaderFields * 4

// Header is the fixed-layout record stored at the start of a file-backed
// (or anonymous) map's region, per spec §3. All integer fields are
// little-endian regardless of host byte order.
type Header struct {
	Magic                  uint32
	Version                uint32
	SegmentCount           uint32
	ChunksPerSegment       uint32
	ChunkSize              uint32
	EntriesPerSegment      uint32
	MetaDataBytes          uint32
	Alignment              uint32
	ReplicationIdentifier  uint32
	Flags                  uint32
	Replicas               uint32
}

// LargeSegments reports whether 32-bit slot positions (rather than a
// narrower packing) were forced for this map, per Builder's
// large_segments option.
func (h *Header) LargeSegments() bool { return h.Flags&headerFlagLargeSegments != 0 }

// Transactional reports the reserved, always-false-by-default
// transactional switch (spec §9 Open Questions: declared, never
// implemented).
func (h *Header) Transactional() bool { return h.Flags&headerFlagTransactional != 0 }

// Replicated reports whether this map carries the replicated variant's
// per-entry identifier/timestamp/tombstone header.
func (h *Header) Replicated() bool { return h.ReplicationIdentifier != 0 }

// encode writes the header's raw fields into dst (which must be at least
// rawHeaderSize bytes) in little-endian order.
func (h *Header) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], h.Magic)
	binary.LittleEndian.PutUint32(dst[4:8], h.Version)
	binary.LittleEndian.PutUint32(dst[8:12], h.SegmentCount)
	binary.LittleEndian.PutUint32(dst[12:16], h.ChunksPerSegment)
	binary.LittleEndian.PutUint32(dst[16:20], h.ChunkSize)
	binary.LittleEndian.PutUint32(dst[20:24], h.EntriesPerSegment)
	binary.LittleEndian.PutUint32(dst[24:28], h.MetaDataBytes)
	binary.LittleEndian.PutUint32(dst[28:32], h.Alignment)
	binary.LittleEndian.PutUint32(dst[32:36], h.ReplicationIdentifier)
	binary.LittleEndian.PutUint32(dst[36:40], h.Flags)
	binary.LittleEndian.PutUint32(dst[40:44], h.Replicas)
}

// decodeHeader reads a header out of src (which must be at least
// rawHeaderSize bytes).
func decodeHeader(src []byte) Header {
	return Header{
		Magic:                 binary.LittleEndian.Uint32(src[0:4]),
		Version:               binary.LittleEndian.Uint32(src[4:8]),
		SegmentCount:          binary.LittleEndian.Uint32(src[8:12]),
		ChunksPerSegment:      binary.LittleEndian.Uint32(src[12:16]),
		ChunkSize:             binary.LittleEndian.Uint32(src[16:20]),
		EntriesPerSegment:     binary.LittleEndian.Uint32(src[20:24]),
		MetaDataBytes:         binary.LittleEndian.Uint32(src[24:28]),
		Alignment:             binary.LittleEndian.Uint32(src[28:32]),
		ReplicationIdentifier: binary.LittleEndian.Uint32(src[32:36]),
		Flags:                 binary.LittleEndian.Uint32(src[36:40]),
		Replicas:              binary.LittleEndian.Uint32(src[40:44]),
	}
}

// matches compares every layout-affecting field byte-for-byte, per spec §3
// Lifecycle: "reopened from an existing file whose header must match the
// builder's parameters byte-for-byte". Replicas is excluded: it is
// documented (spec §9 Open Questions) as forwarded to the replicated
// variant only, never consulted by sizing.
func (h *Header) matches(other Header) bool {
	return h.Magic == other.Magic &&
		h.Version == other.Version &&
		h.SegmentCount == other.SegmentCount &&
		h.ChunksPerSegment == other.ChunksPerSegment &&
		h.ChunkSize == other.ChunkSize &&
		h.EntriesPerSegment == other.EntriesPerSegment &&
		h.MetaDataBytes == other.MetaDataBytes &&
		h.Alignment == other.Alignment &&
		h.ReplicationIdentifier == other.ReplicationIdentifier &&
		h.Flags == other.Flags
}

// ReadHeader reads and decodes just the header of an existing segmap
// file, without mapping it. Used by tooling (e.g. the CLI's stat
// subcommand, or a caller reopening a file without knowing its exact
// original builder parameters) to discover a file's layout up front.
func ReadHeader(path string) (Header, error) {
	return readHeaderFromFile(path)
}

// headerRegionSize implements the padding rule from spec §4.7/§3: round
// rawSize up to the next multiple of 128 bytes, and if the resulting gap is
// under 64 bytes, add another 128. Used both for the header's own region
// (header fields -> data region) and, by the Builder, for sizing the full
// file-level padding (persisted config -> mapped region).
func headerRegionSize(rawSize int) int {
	rounded := ((rawSize + 127) / 128) * 128
	if rounded-rawSize < 64 {
		rounded += 128
	}
	return rounded
}
