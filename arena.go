package segmap

// freeBits is a bitset over a segment's chunks, one bit per chunk, 1
// meaning free — spec §3/§4.4. New territory relative to phash.go (which
// has no variable-length allocator: every slot is exactly one fixed-size
// record), grounded directly on spec §4.4's description and written in
// the teacher's flat, loop-based style rather than a bit-trick-heavy one.
type freeBits struct {
	store   *ByteStore
	base    int // byte offset of the bitset
	nChunks int
	cursor  int // rotating scan start, amortizes fragmentation (spec §4.4)
}

func newFreeBits(store *ByteStore, base, nChunks int) *freeBits {
	return &freeBits{store: store, base: base, nChunks: nChunks}
}

func freeBitsByteSize(nChunks int) int { return (nChunks + 7) / 8 }

func (fb *freeBits) byteSize() int { return freeBitsByteSize(fb.nChunks) }

// initAllFree marks every chunk free. Called once when a segment is first
// created; a reopened file already has the correct bits on disk.
func (fb *freeBits) initAllFree() {
	n := fb.byteSize()
	for i := 0; i < n; i++ {
		fb.store.WriteU8(fb.base+i, 0xFF)
	}
	// Clear any bits past nChunks in the final byte so a stray scan never
	// "allocates" a chunk that doesn't exist.
	if rem := fb.nChunks % 8; rem != 0 {
		lastByte := fb.store.ReadU8(fb.base + n - 1)
		mask := uint8(1<<uint(rem) - 1)
		fb.store.WriteU8(fb.base+n-1, lastByte&mask)
	}
}

func (fb *freeBits) isFree(chunk int) bool {
	b := fb.store.ReadU8(fb.base + chunk/8)
	return b&(1<<uint(chunk%8)) != 0
}

func (fb *freeBits) setFree(chunk int, free bool) {
	off := fb.base + chunk/8
	b := fb.store.ReadU8(off)
	bit := uint8(1 << uint(chunk%8))
	if free {
		b |= bit
	} else {
		b &^= bit
	}
	fb.store.WriteU8(off, b)
}

// Allocate scans for the first run of n consecutive free chunks, starting
// from the rotating cursor and wrapping once, flips them occupied, and
// returns the starting chunk index. ok is false (SegmentFull) if no such
// run exists anywhere in the segment.
func (fb *freeBits) Allocate(n int) (start int, ok bool) {
	if n <= 0 || n > fb.nChunks {
		return 0, false
	}
	if pos, found := fb.scanFrom(fb.cursor, n); found {
		fb.occupy(pos, n)
		fb.cursor = (pos + n) % fb.nChunks
		return pos, true
	}
	// Fallback: full linear scan from the start (spec §4.4), covering the
	// run that straddles the point we started from.
	if pos, found := fb.scanFrom(0, n); found {
		fb.occupy(pos, n)
		fb.cursor = (pos + n) % fb.nChunks
		return pos, true
	}
	return 0, false
}

// scanFrom looks for a run of n free chunks starting the search at from,
// wrapping around the bitset at most once. A run is never allowed to
// straddle the wrap point: chunkOffset is linear (base + pos*chunkSize),
// so a run returned as e.g. {62, 63, 0} would have callers write past the
// arena's end instead of into chunk 0. The run counter is cut every time
// the scan wraps back to chunk 0, so any run this returns satisfies
// runStart+n <= nChunks.
func (fb *freeBits) scanFrom(from, n int) (int, bool) {
	run := 0
	runStart := 0
	for i := 0; i <= fb.nChunks; i++ {
		chunk := (from + i) % fb.nChunks
		if i == fb.nChunks {
			break
		}
		if chunk == 0 {
			run = 0
		}
		if fb.isFree(chunk) {
			if run == 0 {
				runStart = chunk
			}
			run++
			if run == n {
				return runStart, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

func (fb *freeBits) occupy(start, n int) {
	for i := 0; i < n; i++ {
		fb.setFree((start+i)%fb.nChunks, false)
	}
}

// Free marks n chunks starting at start free again.
func (fb *freeBits) Free(start, n int) {
	for i := 0; i < n; i++ {
		fb.setFree((start+i)%fb.nChunks, true)
	}
}

// entryArena manages a segment's fixed-size chunk region: chunksPerSegment
// chunks of chunkSize bytes each, backed by freeBits (spec §3/§4.4).
type entryArena struct {
	store     *ByteStore
	base      int
	chunkSize int
	nChunks   int
	bits      *freeBits
}

func newEntryArena(store *ByteStore, base, chunkSize, nChunks int, bits *freeBits) *entryArena {
	return &entryArena{store: store, base: base, chunkSize: chunkSize, nChunks: nChunks, bits: bits}
}

func (ea *entryArena) byteSize() int { return ea.chunkSize * ea.nChunks }

// chunkOffset returns the byte offset of chunk pos relative to the start
// of this ByteStore.
func (ea *entryArena) chunkOffset(pos int) int {
	if pos < 0 || pos >= ea.nChunks {
		panicOutOfBounds(ea.base+pos*ea.chunkSize, ea.store.Len())
	}
	return ea.base + pos*ea.chunkSize
}

// ChunksFor returns ceil(entryBytes / chunkSize), the n_chunks spec §4.4
// defines.
func (ea *entryArena) ChunksFor(entryBytes int) int {
	return (entryBytes + ea.chunkSize - 1) / ea.chunkSize
}

// Allocate reserves a span of n contiguous chunks, returning SegmentFull
// if the arena has no such run (spec §4.4/§4.5/§7: "not silently
// rehashed").
func (ea *entryArena) Allocate(n int, segmentIndex int) (pos int, err error) {
	pos, ok := ea.bits.Allocate(n)
	if !ok {
		return 0, newMapError(ErrSegmentFullKind, segmentIndex, nil, "no run of %d free chunks among %d", n, ea.nChunks)
	}
	return pos, nil
}

// Free releases a span of n chunks starting at pos.
func (ea *entryArena) Free(pos, n int) {
	ea.bits.Free(pos, n)
}
