package segmap

import (
	"io"
	"math/bits"
	"os"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Builder computes segment geometry from a handful of high-level
// parameters and creates or reopens a file-backed (or anonymous) Map, per
// spec §4.7. Grounded on ValentinKolb-dKV's DBOptions/DefaultOptions and
// llxisdsh-synx's map config for the fluent, chained-setter shape;
// generalized from their flat option sets to the sizing algorithm this
// spec requires.
//
// Builder is generic in K/V because it owns the Codec[K]/Codec[V] pair
// the resulting Map will use — a free-standing functional-option function
// (the more common Go idiom) would need the same two type parameters
// repeated at every call site, which is clunkier than a fluent chain of
// methods on the builder itself.
type Builder[K, V any] struct {
	entries                 int
	entrySize               int
	alignment               int
	actualSegments          int
	minSegments             int
	actualEntriesPerSegment int
	replicas                int
	metaDataBytes           int
	lockTimeout             time.Duration
	putReturnsNull          bool
	removeReturnsNull       bool
	largeSegments           bool
	replicationIdentifier   uint32

	keyCodec   Codec[K]
	valueCodec Codec[V]

	errorListener ErrorListener
	eventListener EventListener
	metricsSet    *metrics.Set
}

// NewBuilder returns a Builder with spec §4.7's documented defaults:
// entries=2^20, entry_size=64, alignment=8.
func NewBuilder[K, V any](keyCodec Codec[K], valueCodec Codec[V]) *Builder[K, V] {
	return &Builder[K, V]{
		entries:    1 << 20,
		entrySize:  64,
		alignment:  8,
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
	}
}

func (b *Builder[K, V]) WithEntries(n int) *Builder[K, V]              { b.entries = n; return b }
func (b *Builder[K, V]) WithEntrySize(n int) *Builder[K, V]            { b.entrySize = n; return b }
func (b *Builder[K, V]) WithAlignment(n int) *Builder[K, V]            { b.alignment = n; return b }
func (b *Builder[K, V]) WithActualSegments(n int) *Builder[K, V]       { b.actualSegments = n; return b }
func (b *Builder[K, V]) WithMinSegments(n int) *Builder[K, V]          { b.minSegments = n; return b }
func (b *Builder[K, V]) WithActualEntriesPerSegment(n int) *Builder[K, V] {
	b.actualEntriesPerSegment = n
	return b
}
func (b *Builder[K, V]) WithReplicas(n int) *Builder[K, V]       { b.replicas = n; return b }
func (b *Builder[K, V]) WithMetaDataBytes(n int) *Builder[K, V]  { b.metaDataBytes = n; return b }
func (b *Builder[K, V]) WithLockTimeout(d time.Duration) *Builder[K, V] {
	b.lockTimeout = d
	return b
}
func (b *Builder[K, V]) WithPutReturnsNull(v bool) *Builder[K, V]    { b.putReturnsNull = v; return b }
func (b *Builder[K, V]) WithRemoveReturnsNull(v bool) *Builder[K, V] { b.removeReturnsNull = v; return b }
func (b *Builder[K, V]) WithLargeSegments(v bool) *Builder[K, V]     { b.largeSegments = v; return b }
func (b *Builder[K, V]) WithReplicationIdentifier(id uint32) *Builder[K, V] {
	b.replicationIdentifier = id
	return b
}
func (b *Builder[K, V]) WithErrorListener(l ErrorListener) *Builder[K, V] {
	b.errorListener = l
	return b
}
func (b *Builder[K, V]) WithEventListener(l EventListener) *Builder[K, V] {
	b.eventListener = l
	return b
}
func (b *Builder[K, V]) WithMetrics(set *metrics.Set) *Builder[K, V] { b.metricsSet = set; return b }

// WithExistingHeader pins every layout-affecting parameter to match an
// already-persisted file's header, so that a subsequent Build/Open of
// that path is guaranteed to pass the header.matches reopen check
// without the caller having to rediscover or remember the original
// sizing flags. Typical use: ReadHeader(path) followed by
// WithExistingHeader(h) before Build(path).
func (b *Builder[K, V]) WithExistingHeader(h Header) *Builder[K, V] {
	b.entrySize = int(h.ChunkSize)
	b.alignment = int(h.Alignment)
	b.actualSegments = int(h.SegmentCount)
	b.actualEntriesPerSegment = int(h.EntriesPerSegment)
	b.metaDataBytes = int(h.MetaDataBytes)
	b.largeSegments = h.LargeSegments()
	b.replicationIdentifier = h.ReplicationIdentifier
	return b
}

// defaultMinSegments returns the smallest power of two s with s^3 ≥
// 2*alignedEntrySize, capped at 2^16 (spec §4.7).
func defaultMinSegments(alignedEntrySize int) int {
	s := 1
	for s < (1<<16) && s*s*s < 2*alignedEntrySize {
		s <<= 1
	}
	if s > 1<<16 {
		s = 1 << 16
	}
	return s
}

// deriveSegmentCount implements spec §4.7's segment-count derivation.
// When entries does not exceed min_segments*2^15, the spec is silent; we
// fall back to min_segments itself (already a power of two), documented
// as an Open Question decision in the grounding ledger.
func deriveSegmentCount(entries, minSegments int) int {
	threshold := minSegments << 15
	if entries <= threshold {
		return minSegments
	}
	a := nextPow2(max(entries>>15, 128))
	if a < (1 << 20) {
		return a
	}
	b := nextPow2(max(entries>>30+1, minSegments))
	return b
}

// entriesPerSegmentDefault implements "ceil(entries*2/segments) rounded
// up to a multiple of 64" from spec §4.7.
func entriesPerSegmentDefault(entries, segments int) int {
	v := ceilDiv(entries*2, segments)
	return alignUp(v, 64)
}

func log2PowerOfTwo(n int) uint {
	return uint(bits.Len(uint(n)) - 1)
}

// Build creates (if path is empty, or the named file does not yet exist
// or is empty) or reopens (if it exists with data) the map described by
// this builder. path == "" builds an anonymous, non-file-backed map.
func (b *Builder[K, V]) Build(path string) (*Map[K, V], error) {
	if b.keyCodec == nil || b.valueCodec == nil {
		return nil, newMapError(ErrIllegalArgumentKind, -1, nil, "key_codec and value_codec are required")
	}
	if b.metaDataBytes < 0 || b.metaDataBytes > 255 {
		return nil, newMapError(ErrIllegalArgumentKind, -1, nil, "meta_data_bytes must be in [0,255], got %d", b.metaDataBytes)
	}

	alignment := b.alignment
	if alignment <= 0 {
		alignment = 1
	}
	alignedEntrySize := alignUp(b.entrySize, alignment)

	minSegments := b.minSegments
	if minSegments <= 0 {
		minSegments = defaultMinSegments(alignedEntrySize)
	}

	largeSegments := b.largeSegments || b.entries > (1<<35)

	segments := b.actualSegments
	if segments <= 0 {
		segments = deriveSegmentCount(b.entries, minSegments)
	} else {
		segments = nextPow2(segments)
	}

	entriesPerSegment := b.actualEntriesPerSegment
	if entriesPerSegment <= 0 {
		entriesPerSegment = entriesPerSegmentDefault(b.entries, segments)
	}

	chunkSize := alignedEntrySize
	chunksPerSegment := entriesPerSegment
	geometry := computeSegmentGeometry(entriesPerSegment, chunksPerSegment, chunkSize)

	var flags uint32
	if largeSegments {
		flags |= headerFlagLargeSegments
	}
	header := Header{
		Magic:                 headerMagic,
		Version:               fileFormatVersion,
		SegmentCount:          uint32(segments),
		ChunksPerSegment:      uint32(chunksPerSegment),
		ChunkSize:             uint32(chunkSize),
		EntriesPerSegment:     uint32(entriesPerSegment),
		MetaDataBytes:         uint32(b.metaDataBytes),
		Alignment:             uint32(alignment),
		ReplicationIdentifier: b.replicationIdentifier,
		Flags:                 flags,
		Replicas:              uint32(b.replicas),
	}

	headerRegion := headerRegionSize(rawHeaderSize)
	segmentRegionSize := geometry.totalSize
	totalSize := headerRegion + segments*segmentRegionSize

	create := true
	var store *ByteStore
	var err error

	if path == "" {
		store, err = OpenAnonymousByteStore(totalSize)
		if err != nil {
			return nil, err
		}
	} else {
		if fi, statErr := os.Stat(path); statErr == nil && fi.Size() > 0 {
			existing, readErr := readHeaderFromFile(path)
			if readErr != nil {
				return nil, readErr
			}
			if !header.matches(existing) {
				return nil, newMapError(ErrCorruptHeaderKind, -1, nil, "header mismatch reopening %s: builder parameters differ from the persisted file", path)
			}
			header.Replicas = existing.Replicas
			totalSize = int(fi.Size())
			create = false
		}
		store, err = OpenFileByteStore(path, int64(totalSize))
		if err != nil {
			return nil, err
		}
	}

	if create {
		buf := make([]byte, rawHeaderSize)
		header.encode(buf)
		store.WriteBytes(0, buf)
		if err := store.Flush(0, headerRegion); err != nil {
			store.Close()
			return nil, err
		}
	}

	segs := make([]*Segment, segments)
	for i := 0; i < segments; i++ {
		base := headerRegion + i*segmentRegionSize
		segs[i] = newSegment(store, base, i, geometry, int(header.MetaDataBytes), alignment, b.lockTimeout, b.eventListener, b.errorListener, create)
	}

	events := b.eventListener
	if events == nil {
		events = noopEventListener{}
	}
	errListen := b.errorListener
	if errListen == nil {
		errListen = noopErrorListener{}
	}

	m := &Map[K, V]{
		store:             store,
		header:            header,
		segments:          segs,
		segShift:          log2PowerOfTwo(segments),
		segMask:           uint64(segments - 1),
		keyCodec:          b.keyCodec,
		valueCodec:        b.valueCodec,
		events:            events,
		errListen:         errListen,
		putReturnsNull:    b.putReturnsNull,
		removeReturnsNull: b.removeReturnsNull,
		path:              path,
	}
	m.metrics = newMapMetrics(b.metricsSet, m.Size)
	return m, nil
}

// readHeaderFromFile reads just the raw header bytes of an existing file,
// without mapping it, so Build can validate a reopen before committing to
// any truncate/mmap.
func readHeaderFromFile(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, newMapError(ErrIoErrorKind, -1, err, "open %s for header check", path)
	}
	defer f.Close()

	raw := make([]byte, rawHeaderSize)
	if _, err := io.ReadFull(f, raw); err != nil {
		return Header{}, newMapError(ErrCorruptHeaderKind, -1, err, "read header of %s", path)
	}
	return decodeHeader(raw), nil
}
