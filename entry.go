package segmap

// Entry layout inside a chunk span, per spec §3:
//
//	[0:4)                      key_size   (u32, little-endian)
//	[4:4+keySize)               key_bytes
//	[4+keySize:+metaDataBytes)  meta_data_bytes (fixed width, may be 0)
//	[...:+4)                    value_size (u32)
//	padding to valueAlignment
//	value_bytes
//
// Grounded on phash.go's fixed single-byte-status + fixed key + fixed
// value record, generalized to variable-length key/value with a meta
// region and value alignment padding.

// alignUp rounds x up to the next multiple of alignment (1 means "no
// alignment requirement").
func alignUp(x, alignment int) int {
	if alignment <= 1 {
		return x
	}
	return (x + alignment - 1) &^ (alignment - 1)
}

// entryByteSize computes the total bytes an entry occupies given its key
// and value lengths, the map's fixed meta width, and the value alignment.
func entryByteSize(keyLen, valueLen, metaDataBytes, valueAlignment int) int {
	base := 4 + keyLen + metaDataBytes + 4
	aligned := alignUp(base, valueAlignment)
	return aligned + valueLen
}

// entryLayout is the set of offsets (relative to the chunk span's start)
// an entry's fields live at, computed once per read/write so callers
// never recompute arithmetic by hand.
type entryLayout struct {
	keyLen, metaDataBytes, valueAlignment int
	keyPos, metaPos, valueSizePos, valuePos int
}

func computeLayout(keyLen, metaDataBytes, valueAlignment int) entryLayout {
	keyPos := 4
	metaPos := keyPos + keyLen
	valueSizePos := metaPos + metaDataBytes
	valuePos := alignUp(valueSizePos+4, valueAlignment)
	return entryLayout{
		keyLen:         keyLen,
		metaDataBytes:  metaDataBytes,
		valueAlignment: valueAlignment,
		keyPos:         keyPos,
		metaPos:        metaPos,
		valueSizePos:   valueSizePos,
		valuePos:       valuePos,
	}
}

// peekKeyLen reads just the key_size field at the start of a chunk span,
// enough to decide whether to read the key for comparison.
func peekKeyLen(store *ByteStore, chunkOffset int) int {
	return int(store.ReadU32(chunkOffset))
}

// peekKey reads the key bytes of the entry at chunkOffset, given its
// already-known length.
func peekKey(store *ByteStore, chunkOffset, keyLen int) []byte {
	return store.ReadBytes(chunkOffset+4, keyLen)
}

// writeEntry writes a complete entry (key, meta, value) into the chunk
// span starting at chunkOffset and returns the entryLayout describing it.
// Per spec §4.5 step 4 ("allocate new span, write entry"), this is used
// both for brand-new entries and for entries relocated to a differently
// sized span; it is never used for the in-place same-span replace path
// (see writeValueInPlace).
func writeEntry(store *ByteStore, chunkOffset int, key, meta, value []byte, metaDataBytes, valueAlignment int) entryLayout {
	layout := computeLayout(len(key), metaDataBytes, valueAlignment)
	store.WriteU32(chunkOffset, uint32(len(key)))
	store.WriteBytes(chunkOffset+layout.keyPos, key)
	if metaDataBytes > 0 {
		metaBuf := make([]byte, metaDataBytes)
		copy(metaBuf, meta)
		store.WriteBytes(chunkOffset+layout.metaPos, metaBuf)
	}
	// Value bytes are written before value_size is published, so that —
	// even outside the write-lock's own happens-before guarantee — a
	// concurrent reader that raced past the lock would never observe a
	// value_size pointing at not-yet-written bytes (spec §4.5 step 3a).
	store.WriteBytes(chunkOffset+layout.valuePos, value)
	store.WriteU32(chunkOffset+layout.valueSizePos, uint32(len(value)))
	return layout
}

// writeValueInPlace overwrites only the value of an entry whose key and
// meta are unchanged and whose new value fits in the same chunk span
// (spec §4.5 step 3a — the "replacement locality" contract in spec §8).
func writeValueInPlace(store *ByteStore, chunkOffset int, keyLen, metaDataBytes, valueAlignment int, value []byte) entryLayout {
	layout := computeLayout(keyLen, metaDataBytes, valueAlignment)
	store.WriteBytes(chunkOffset+layout.valuePos, value)
	store.WriteU32(chunkOffset+layout.valueSizePos, uint32(len(value)))
	return layout
}

// readValue decodes the value of the entry at chunkOffset given its
// already-known key length, returning a copy safe to use after the
// segment lock is released.
func readValue(store *ByteStore, chunkOffset, keyLen, metaDataBytes, valueAlignment int) []byte {
	layout := computeLayout(keyLen, metaDataBytes, valueAlignment)
	valueLen := int(store.ReadU32(chunkOffset + layout.valueSizePos))
	return store.CopyBytes(chunkOffset+layout.valuePos, valueLen)
}

// readMeta returns a zero-copy view of the entry's meta region, valid
// only while the caller holds the segment lock (listeners are called
// under lock, per spec §6).
func readMeta(store *ByteStore, chunkOffset, keyLen, metaDataBytes int) []byte {
	if metaDataBytes == 0 {
		return nil
	}
	return store.ReadBytes(chunkOffset+4+keyLen, metaDataBytes)
}
