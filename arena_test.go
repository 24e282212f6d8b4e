package segmap

import (
	"errors"
	"testing"
)

func newTestArena(t *testing.T, nChunks, chunkSize int) *entryArena {
	t.Helper()
	bitsSize := freeBitsByteSize(nChunks)
	bs, err := OpenAnonymousByteStore(bitsSize + nChunks*chunkSize)
	if err != nil {
		t.Fatalf("open anonymous store: %v", err)
	}
	t.Cleanup(func() { bs.Close() })

	fb := newFreeBits(bs, 0, nChunks)
	fb.initAllFree()
	return newEntryArena(bs, bitsSize, chunkSize, nChunks, fb)
}

func TestFreeBitsAllocateAndFree(t *testing.T) {
	ea := newTestArena(t, 16, 8)

	pos1, err := ea.Allocate(4, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if pos1 != 0 {
		t.Fatalf("first allocation should start at chunk 0, got %d", pos1)
	}

	pos2, err := ea.Allocate(4, 0)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if pos2 == pos1 {
		t.Fatal("second allocation overlaps the first")
	}

	ea.Free(pos1, 4)
	pos3, err := ea.Allocate(4, 0)
	if err != nil {
		t.Fatalf("Allocate after free: %v", err)
	}
	if ea.bits.isFree(pos3) {
		t.Fatalf("chunk %d should be occupied right after allocating it", pos3)
	}
}

func TestFreeBitsSegmentFull(t *testing.T) {
	ea := newTestArena(t, 8, 8)

	if _, err := ea.Allocate(8, 2); err != nil {
		t.Fatalf("Allocate all 8 chunks: %v", err)
	}
	_, err := ea.Allocate(1, 2)
	if err == nil {
		t.Fatal("expected SegmentFull error, got nil")
	}
	var merr *MapError
	if !errors.As(err, &merr) || merr.Kind != ErrSegmentFullKind {
		t.Fatalf("expected SegmentFull kind, got %v", err)
	}
	if merr.Segment != 2 {
		t.Fatalf("expected Segment=2, got %d", merr.Segment)
	}
}

func TestFreeBitsClearsTrailingBits(t *testing.T) {
	// 10 chunks needs 2 bytes of bitset; initAllFree must clear the 6
	// unused high bits of the second byte so they never look allocatable.
	ea := newTestArena(t, 10, 4)
	for i := 0; i < 10; i++ {
		if !ea.bits.isFree(i) {
			t.Fatalf("chunk %d should start free", i)
		}
	}
	if _, err := ea.Allocate(10, 0); err != nil {
		t.Fatalf("Allocate(10): %v", err)
	}
	if _, err := ea.Allocate(1, 0); err == nil {
		t.Fatal("expected SegmentFull: trailing bits must not count as free chunks")
	}
}

func TestChunksFor(t *testing.T) {
	ea := newTestArena(t, 4, 16)
	cases := []struct{ bytes, want int }{
		{0, 0},
		{1, 1},
		{16, 1},
		{17, 2},
		{32, 2},
	}
	for _, c := range cases {
		if got := ea.ChunksFor(c.bytes); got != c.want {
			t.Errorf("ChunksFor(%d) = %d, want %d", c.bytes, got, c.want)
		}
	}
}
