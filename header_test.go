package segmap

import "testing"

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{
		Magic:                 headerMagic,
		Version:               fileFormatVersion,
		SegmentCount:          16,
		ChunksPerSegment:      1024,
		ChunkSize:             64,
		EntriesPerSegment:     1024,
		MetaDataBytes:         8,
		Alignment:             8,
		ReplicationIdentifier: 7,
		Flags:                 headerFlagLargeSegments,
		Replicas:              3,
	}
	buf := make([]byte, rawHeaderSize)
	h.encode(buf)
	got := decodeHeader(buf)
	if got != h {
		t.Fatalf("decodeHeader(encode(h)) = %+v, want %+v", got, h)
	}
}

func TestHeaderMatchesIgnoresReplicas(t *testing.T) {
	a := Header{Magic: headerMagic, Version: 1, SegmentCount: 4, Replicas: 1}
	b := a
	b.Replicas = 99
	if !a.matches(b) {
		t.Fatal("matches should ignore Replicas")
	}

	c := a
	c.SegmentCount = 8
	if a.matches(c) {
		t.Fatal("matches should not ignore SegmentCount")
	}
}

func TestHeaderRegionSizePadding(t *testing.T) {
	// rawHeaderSize is small; the region must round up to a multiple of
	// 128 with at least 64 bytes of gap.
	region := headerRegionSize(rawHeaderSize)
	if region%128 != 0 {
		t.Fatalf("region size %d is not a multiple of 128", region)
	}
	if region-rawHeaderSize < 64 {
		t.Fatalf("gap %d is under the required 64-byte minimum", region-rawHeaderSize)
	}
}

func TestHeaderFlags(t *testing.T) {
	h := Header{Flags: headerFlagLargeSegments}
	if !h.LargeSegments() {
		t.Fatal("expected LargeSegments() true")
	}
	if h.Transactional() {
		t.Fatal("expected Transactional() false")
	}

	h2 := Header{ReplicationIdentifier: 5}
	if !h2.Replicated() {
		t.Fatal("expected Replicated() true")
	}
}
