/*
Package segmap implements an embeddable, off-heap, persistent hash map.

The entire data region — header, per-segment hash-lookup tables, entry
arenas, and free-bit allocators — lives in a single memory-mapped (or
anonymous) byte region. Readers and writers compute offsets directly into
that region rather than allocating Go heap objects per entry. A map is
optionally file-backed, so it survives process restarts and may be shared
between processes via MAP_SHARED, and is partitioned into independently
lockable segments so unrelated keys never contend on the same lock.

Basic usage:

	b := segmap.NewBuilder[string, string](segmap.StringCodec(), segmap.StringCodec()).
		WithEntries(1024).
		WithActualSegments(4)
	m, err := b.Build("data.segmap")
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	m.Put("a", "aye")
	v, found, err := m.Get("a")

Keys and values are translated to and from bytes by a Codec[T], selected
per the builder's key_codec/value_codec configuration: fixed-width
numeric codecs, a length-prefixed string/bytes codec, a byteable-by-layout
codec for fixed-size structs whose in-memory layout is the wire format,
or a self-serializing codec for types implementing BytesMarshaller.

Mutual exclusion is at the segment level: two operations targeting
different segments run fully in parallel; two targeting the same segment
serialize through that segment's reader/writer lock, bounded by a
configurable acquisition timeout.
*/
package segmap
