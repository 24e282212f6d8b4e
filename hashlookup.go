package segmap

// hashLookup is a segment's open-addressed table mapping a 32-bit
// hash-derived tag to a 32-bit entry position, per spec §3/§4.3. Each
// slot is one 8-byte little-endian word: the high 32 bits are the tag
// (hash64(key) >> log2(segment_count), truncated to 32 bits), the low 32
// bits are entry_position+1 (0 is reserved for "empty", so chunk 0 is
// still a usable position). Grounded on phash.go's open-addressing probe
// loop in putWithRetry/Get, generalized from a fixed single-byte status
// flag to a packed tag+position word and from linear scan-to-end to a
// bounded, wraparound-aware probe with backward-shift deletion (spec
// §4.3's "remove... uses backward-shift deletion to preserve probe
// chains", which phash.go does not need because it never removes a slot
// without immediately allowing duplicate hashes to redirect lookups).
type hashLookup struct {
	store *ByteStore
	base  int // byte offset of slot 0
	slots int // power of two
	mask  uint32
}

func newHashLookup(store *ByteStore, base, slots int) *hashLookup {
	return &hashLookup{store: store, base: base, slots: slots, mask: uint32(slots - 1)}
}

func (hl *hashLookup) byteSize() int { return hl.slots * 8 }

func (hl *hashLookup) slotOffset(slot int) int { return hl.base + slot*8 }

// slotTag derives the 32-bit tag stored in a slot from a segment-local
// hash (spec §3's "hash64(key) >> log2(segment_count) truncated to
// h_bits").
func slotTag(segmentHash uint64) uint32 { return uint32(segmentHash) }

func (hl *hashLookup) loadWord(slot int) uint64 {
	return hl.store.AtomicLoadU64(hl.slotOffset(slot))
}

func (hl *hashLookup) storeWord(slot int, word uint64) {
	// The release fence here is what publishes an entry: per spec §5,
	// the entry's bytes must already be fully written before this call.
	hl.store.AtomicStoreU64(hl.slotOffset(slot), word)
}

func packSlot(tag uint32, pos int) uint64 {
	return uint64(tag)<<32 | uint64(uint32(pos+1))
}

func unpackSlot(word uint64) (tag uint32, pos int) {
	return uint32(word >> 32), int(uint32(word)) - 1
}

// lookupProbe drives a single linear probe sequence starting at tag's
// home slot, matching spec §4.3's "search(key_hash) -> iterator of
// entry_pos... until an empty slot is reached". The caller is expected to
// byte-compare the key at each candidate pos, since two different keys
// can share a tag.
type lookupProbe struct {
	hl         *hashLookup
	tag        uint32
	start      int
	i          int
	firstEmpty int // -1 until an empty slot has been seen
}

func (hl *hashLookup) newProbe(tag uint32) *lookupProbe {
	return &lookupProbe{hl: hl, tag: tag, start: int(tag) & int(hl.mask), firstEmpty: -1}
}

// Next returns the next slot in the probe chain. ok is true when the
// slot's tag matches (pos is then the candidate entry position the
// caller must byte-compare); done is true once the chain has terminated
// at an empty slot (or, as a hard backstop, after a full lap of the
// table — which the builder's 2/3 load factor guarantee should make
// unreachable).
func (p *lookupProbe) Next() (slot, pos int, ok, done bool) {
	if p.i >= p.hl.slots {
		return 0, 0, false, true
	}
	slot = (p.start + p.i) & int(p.hl.mask)
	p.i++
	word := p.hl.loadWord(slot)
	if word == 0 {
		if p.firstEmpty < 0 {
			p.firstEmpty = slot
		}
		return slot, 0, false, true
	}
	tag, pos := unpackSlot(word)
	if tag == p.tag {
		return slot, pos, true, false
	}
	return slot, 0, false, false
}

// FirstEmptySlot returns the first empty slot observed so far in this
// probe (-1 if none yet), used by PutAfterProbe per spec §4.3.
func (p *lookupProbe) FirstEmptySlot() int { return p.firstEmpty }

// PutAfterProbe inserts at slot (which must be an empty slot the caller
// already observed via a probe on this tag), per spec §4.3: "caller has
// already searched; this inserts at the first empty slot encountered
// during that search."
func (hl *hashLookup) PutAfterProbe(tag uint32, pos, slot int) {
	hl.storeWord(slot, packSlot(tag, pos))
}

// UpdatePosition rewrites an occupied slot's position in place, used when
// a put relocates an entry to a new chunk span without changing its key
// (spec §4.5 step 3b).
func (hl *hashLookup) UpdatePosition(tag uint32, slot, newPos int) {
	hl.storeWord(slot, packSlot(tag, newPos))
}

// Remove clears slot and backward-shifts any later entries in the same
// probe run that can now move up, preserving every other entry's probe
// chain (spec §4.3).
func (hl *hashLookup) Remove(slot int) {
	mask := int(hl.mask)
	hl.storeWord(slot, 0)
	gap := slot
	// Walk the rest of the run up to the next empty slot. An entry that
	// cannot move is skipped, not a stopping point: a later entry in the
	// same run may still need to move into the gap.
	for i := 1; i < hl.slots; i++ {
		next := (slot + i) & mask
		word := hl.loadWord(next)
		if word == 0 {
			return
		}
		tag, pos := unpackSlot(word)
		home := int(tag) & mask
		// Distance (forward, wrapping) from home to gap vs. home to next:
		// if the gap lies on or before next's probe path from its home
		// slot, next can move into the gap without breaking its chain.
		distGap := (gap - home) & mask
		distNext := (next - home) & mask
		if distGap <= distNext {
			hl.storeWord(gap, packSlot(tag, pos))
			hl.storeWord(next, 0)
			gap = next
		}
	}
}
