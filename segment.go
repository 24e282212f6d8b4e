package segmap

import (
	"bytes"
	"time"
)

// segmentGeometry lays out one segment's region: a hash_lookup table, a
// free_bits bitset, an 8-byte size_counter, an 8-byte lock_word, and the
// entry_arena itself, back to back (spec §3 "Segment Layout"). The
// free_bits region and the segment's total size are padded to a multiple
// of 8 bytes, so every slot, size_counter and lock_word stays 8-byte
// aligned whatever the chunk count.
type segmentGeometry struct {
	chunksPerSegment int
	chunkSize        int
	hashLookupSlots  int

	hashLookupOffset  int
	freeBitsOffset    int
	sizeCounterOffset int
	lockWordOffset    int
	arenaOffset       int
	totalSize         int
}

// computeSegmentGeometry derives slot counts and byte offsets from the
// Builder's sizing decisions. hashLookupSlots is chosen so the load
// factor never exceeds 2/3 (spec §4.3), independent of chunksPerSegment
// (an entry may span several chunks, so "entries" and "chunks" are
// different units).
func computeSegmentGeometry(entriesPerSegment, chunksPerSegment, chunkSize int) segmentGeometry {
	slots := nextPow2(ceilDiv(entriesPerSegment*3, 2))
	if slots < 8 {
		slots = 8
	}

	off := 0
	hashLookupOffset := off
	off += slots * 8
	freeBitsOffset := off
	off += alignUp(freeBitsByteSize(chunksPerSegment), 8)
	sizeCounterOffset := off
	off += 8
	lockWordOffset := off
	off += 8
	arenaOffset := off
	off += chunkSize * chunksPerSegment
	off = alignUp(off, 8)

	return segmentGeometry{
		chunksPerSegment:  chunksPerSegment,
		chunkSize:         chunkSize,
		hashLookupSlots:   slots,
		hashLookupOffset:  hashLookupOffset,
		freeBitsOffset:    freeBitsOffset,
		sizeCounterOffset: sizeCounterOffset,
		lockWordOffset:    lockWordOffset,
		arenaOffset:       arenaOffset,
		totalSize:         off,
	}
}

// Segment combines a hash_lookup, a free_bits/entry_arena allocator pair,
// a size counter, and a reader/writer lock, and implements the
// single-segment put/get/remove/replace/containsKey protocol (spec §4.5).
// Grounded on phash.go's Put/Get critical sections, generalized from one
// global sync.RWMutex covering the whole table to one lock per segment.
type Segment struct {
	store *ByteStore
	base  int // absolute offset of this segment's region
	index int

	geometry       segmentGeometry
	hashLookup     *hashLookup
	arena          *entryArena
	lock           *segmentLock
	metaDataBytes  int
	valueAlignment int

	events      EventListener
	errListener ErrorListener
}

// newSegment constructs a Segment view over [base, base+geometry.totalSize)
// of store. When create is true the free_bits are initialized to
// all-free; a reopened segment trusts the bits already on disk.
func newSegment(store *ByteStore, base, index int, geometry segmentGeometry, metaDataBytes, valueAlignment int, lockTimeout time.Duration, events EventListener, errListener ErrorListener, create bool) *Segment {
	if events == nil {
		events = noopEventListener{}
	}
	if errListener == nil {
		errListener = noopErrorListener{}
	}

	bits := newFreeBits(store, base+geometry.freeBitsOffset, geometry.chunksPerSegment)
	arena := newEntryArena(store, base+geometry.arenaOffset, geometry.chunkSize, geometry.chunksPerSegment, bits)
	hl := newHashLookup(store, base+geometry.hashLookupOffset, geometry.hashLookupSlots)
	lk := newSegmentLock(store, base+geometry.lockWordOffset, index, lockTimeout, errListener.OnLockTimeout)

	s := &Segment{
		store:          store,
		base:           base,
		index:          index,
		geometry:       geometry,
		hashLookup:     hl,
		arena:          arena,
		lock:           lk,
		metaDataBytes:  metaDataBytes,
		valueAlignment: valueAlignment,
		events:         events,
		errListener:    errListener,
	}
	if create {
		bits.initAllFree()
	}
	return s
}

func (s *Segment) sizeCounterOffset() int { return s.base + s.geometry.sizeCounterOffset }

// Size returns this segment's live entry count. Callers are not required
// to hold any lock (spec §4.6: "not locked; an eventually consistent
// snapshot").
func (s *Segment) Size() uint64 {
	return s.store.AtomicLoadU64(s.sizeCounterOffset())
}

func (s *Segment) incSize(delta int64) {
	s.store.AtomicAddU64(s.sizeCounterOffset(), delta)
}

func (s *Segment) entryLen(keyLen, valueLen int) int {
	return entryByteSize(keyLen, valueLen, s.metaDataBytes, s.valueAlignment)
}

func (s *Segment) chunksFor(keyLen, valueLen int) int {
	return s.arena.ChunksFor(s.entryLen(keyLen, valueLen))
}

func (s *Segment) handleFor(chunkOffset, keyLen, valueLen int) EntryHandle {
	layout := computeLayout(keyLen, s.metaDataBytes, s.valueAlignment)
	return EntryHandle{
		store:    s.store,
		KeyPos:   chunkOffset + layout.keyPos,
		MetaPos:  chunkOffset + layout.metaPos,
		ValuePos: chunkOffset + layout.valuePos,
		KeyLen:   keyLen,
		ValueLen: valueLen,
		MetaLen:  s.metaDataBytes,
	}
}

// matchAt byte-compares key against the entry stored at chunk pos,
// returning its key length either way (callers need it regardless of the
// match result, to decode the rest of the entry).
func (s *Segment) matchAt(pos int, key []byte) (chunkOffset, keyLen int, match bool) {
	chunkOffset = s.arena.chunkOffset(pos)
	keyLen = peekKeyLen(s.store, chunkOffset)
	if keyLen != len(key) {
		return chunkOffset, keyLen, false
	}
	return chunkOffset, keyLen, bytes.Equal(peekKey(s.store, chunkOffset, keyLen), key)
}

// ---------------------------------------------------------------------
// Put / PutIfAbsent
// ---------------------------------------------------------------------

// Put implements spec §4.5's put(key, value, return_previous). segmentHash
// is h >> log2(segment_count), computed by the Map core.
func (s *Segment) Put(segmentHash uint64, key, value []byte, returnPrevious bool) ([]byte, error) {
	if err := s.lock.Lock(); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	tag := slotTag(segmentHash)
	probe := s.hashLookup.newProbe(tag)
	for {
		slot, pos, ok, done := probe.Next()
		if ok {
			chunkOffset, keyLen, match := s.matchAt(pos, key)
			if match {
				return s.putReplace(tag, slot, pos, chunkOffset, keyLen, value, returnPrevious)
			}
			continue
		}
		if done {
			return s.putInsert(tag, probe.FirstEmptySlot(), key, value, returnPrevious)
		}
	}
}

// PutIfAbsent implements the putIfAbsent lifecycle operation named in
// spec §3: it never overwrites an existing key.
func (s *Segment) PutIfAbsent(segmentHash uint64, key, value []byte, returnPrevious bool) ([]byte, error) {
	if err := s.lock.Lock(); err != nil {
		return nil, err
	}
	defer s.lock.Unlock()

	tag := slotTag(segmentHash)
	probe := s.hashLookup.newProbe(tag)
	for {
		_, pos, ok, done := probe.Next()
		if ok {
			chunkOffset, keyLen, match := s.matchAt(pos, key)
			if match {
				if !returnPrevious {
					return nil, nil
				}
				return readValue(s.store, chunkOffset, keyLen, s.metaDataBytes, s.valueAlignment), nil
			}
			continue
		}
		if done {
			return s.putInsert(tag, probe.FirstEmptySlot(), key, value, returnPrevious)
		}
	}
}

func (s *Segment) valueLenAt(chunkOffset, keyLen int) int {
	layout := computeLayout(keyLen, s.metaDataBytes, s.valueAlignment)
	return int(s.store.ReadU32(chunkOffset + layout.valueSizePos))
}

// putInsert allocates a brand-new entry and publishes it, per spec §4.5
// step 4.
func (s *Segment) putInsert(tag uint32, emptySlot int, key, value []byte, returnPrevious bool) ([]byte, error) {
	nChunks := s.chunksFor(len(key), len(value))
	pos, err := s.arena.Allocate(nChunks, s.index)
	if err != nil {
		return nil, err
	}
	chunkOffset := s.arena.chunkOffset(pos)
	writeEntry(s.store, chunkOffset, key, nil, value, s.metaDataBytes, s.valueAlignment)
	s.hashLookup.PutAfterProbe(tag, pos, emptySlot)
	s.incSize(1)
	s.events.OnPut(s.handleFor(chunkOffset, len(key), len(value)), true)
	_ = returnPrevious // nothing to return for a fresh insert
	return nil, nil
}

// putReplace handles a key match: either an in-place value overwrite
// (spec §4.5 step 3a) or a relocate-and-republish (step 3b).
func (s *Segment) putReplace(tag uint32, slot, pos, chunkOffset, keyLen int, value []byte, returnPrevious bool) ([]byte, error) {
	oldValueLen := s.valueLenAt(chunkOffset, keyLen)
	oldChunks := s.chunksFor(keyLen, oldValueLen)
	newChunks := s.chunksFor(keyLen, len(value))

	var previous []byte
	if returnPrevious {
		previous = readValue(s.store, chunkOffset, keyLen, s.metaDataBytes, s.valueAlignment)
	}

	if newChunks <= oldChunks {
		writeValueInPlace(s.store, chunkOffset, keyLen, s.metaDataBytes, s.valueAlignment, value)
		if newChunks < oldChunks {
			s.arena.Free(pos+newChunks, oldChunks-newChunks)
		}
		s.events.OnPut(s.handleFor(chunkOffset, keyLen, len(value)), false)
		return previous, nil
	}

	oldMeta := readMeta(s.store, chunkOffset, keyLen, s.metaDataBytes)
	oldMetaCopy := append([]byte(nil), oldMeta...)
	key := peekKey(s.store, chunkOffset, keyLen)
	keyCopy := append([]byte(nil), key...)

	newPos, err := s.arena.Allocate(newChunks, s.index)
	if err != nil {
		return nil, err
	}
	newChunkOffset := s.arena.chunkOffset(newPos)
	writeEntry(s.store, newChunkOffset, keyCopy, oldMetaCopy, value, s.metaDataBytes, s.valueAlignment)
	s.hashLookup.UpdatePosition(tag, slot, newPos)
	s.arena.Free(pos, oldChunks)

	s.events.OnPut(s.handleFor(newChunkOffset, keyLen, len(value)), false)
	return previous, nil
}

// ---------------------------------------------------------------------
// Get / ContainsKey
// ---------------------------------------------------------------------

// GetWithCallback implements spec §4.5's get(key, reusable): onFound runs
// with the read lock held and receives a handle over the live region
// (the codec decodes directly from it, avoiding an intermediate copy);
// onMissing runs with the lock still held, consistent with spec §6's
// "called while the segment lock is held".
func (s *Segment) GetWithCallback(segmentHash uint64, key []byte, onFound func(EntryHandle), onMissing func()) error {
	if err := s.lock.RLock(); err != nil {
		return err
	}
	defer s.lock.RUnlock()

	tag := slotTag(segmentHash)
	probe := s.hashLookup.newProbe(tag)
	for {
		slot, pos, ok, done := probe.Next()
		_ = slot
		if ok {
			chunkOffset, keyLen, match := s.matchAt(pos, key)
			if match {
				valueLen := s.valueLenAt(chunkOffset, keyLen)
				onFound(s.handleFor(chunkOffset, keyLen, valueLen))
				return nil
			}
			continue
		}
		if done {
			onMissing()
			return nil
		}
	}
}

// ContainsKey searches without ever reading the value, per the
// "skip the value-read" performance contract spec §4.5 describes for the
// mutation path — ContainsKey is the read-side analogue.
func (s *Segment) ContainsKey(segmentHash uint64, key []byte) (bool, error) {
	if err := s.lock.RLock(); err != nil {
		return false, err
	}
	defer s.lock.RUnlock()

	tag := slotTag(segmentHash)
	probe := s.hashLookup.newProbe(tag)
	for {
		_, pos, ok, done := probe.Next()
		if ok {
			_, _, match := s.matchAt(pos, key)
			if match {
				return true, nil
			}
			continue
		}
		if done {
			return false, nil
		}
	}
}

// ---------------------------------------------------------------------
// Remove
// ---------------------------------------------------------------------

// Remove implements spec §4.5's remove(key, expected_value?). When
// expectedValue is non-nil, the entry is only removed if its current
// value is byte-equal to it.
func (s *Segment) Remove(segmentHash uint64, key, expectedValue []byte, returnPrevious bool) (previous []byte, removed bool, err error) {
	if err := s.lock.Lock(); err != nil {
		return nil, false, err
	}
	defer s.lock.Unlock()

	tag := slotTag(segmentHash)
	probe := s.hashLookup.newProbe(tag)
	for {
		slot, pos, ok, done := probe.Next()
		if ok {
			chunkOffset, keyLen, match := s.matchAt(pos, key)
			if match {
				valueLen := s.valueLenAt(chunkOffset, keyLen)
				if expectedValue != nil {
					current := readValue(s.store, chunkOffset, keyLen, s.metaDataBytes, s.valueAlignment)
					if !bytes.Equal(current, expectedValue) {
						return nil, false, nil
					}
					if returnPrevious {
						previous = current
					}
				} else if returnPrevious {
					previous = readValue(s.store, chunkOffset, keyLen, s.metaDataBytes, s.valueAlignment)
				}
				handle := s.handleFor(chunkOffset, keyLen, valueLen)
				nChunks := s.chunksFor(keyLen, valueLen)
				s.hashLookup.Remove(slot)
				s.arena.Free(pos, nChunks)
				s.incSize(-1)
				s.events.OnRemove(handle)
				return previous, true, nil
			}
			continue
		}
		if done {
			return nil, false, nil
		}
	}
}

// ---------------------------------------------------------------------
// Replace
// ---------------------------------------------------------------------

// Replace implements spec §4.5's replace(key, old?, new): the atomic
// equivalent of get-then-put-if-matches. When hasOld is false, any
// existing value is replaced unconditionally (as long as the key
// exists); when true, the replace only happens if the current value
// equals oldValue.
func (s *Segment) Replace(segmentHash uint64, key, oldValue []byte, hasOld bool, newValue []byte, returnPrevious bool) (previous []byte, replaced bool, err error) {
	if err := s.lock.Lock(); err != nil {
		return nil, false, err
	}
	defer s.lock.Unlock()

	tag := slotTag(segmentHash)
	probe := s.hashLookup.newProbe(tag)
	for {
		slot, pos, ok, done := probe.Next()
		if ok {
			chunkOffset, keyLen, match := s.matchAt(pos, key)
			if match {
				current := readValue(s.store, chunkOffset, keyLen, s.metaDataBytes, s.valueAlignment)
				if hasOld && !bytes.Equal(current, oldValue) {
					return nil, false, nil
				}
				if returnPrevious {
					previous = current
				}
				_, err := s.putReplace(tag, slot, pos, chunkOffset, keyLen, newValue, false)
				if err != nil {
					return nil, false, err
				}
				return previous, true, nil
			}
			continue
		}
		if done {
			return nil, false, nil
		}
	}
}

// ---------------------------------------------------------------------
// PutWithMeta / MarkMeta — generalized mutation primitives for the
// replicated variant (spec §4.8)
// ---------------------------------------------------------------------

// PutWithMeta generalizes Put for callers that need to inspect (and
// possibly veto) the existing entry's meta bytes, and to supply explicit
// meta bytes for the written entry, under the same write-lock critical
// section as the value write. guard receives the existing meta (nil for
// a fresh insert) and returns whether to proceed and what meta to write.
// Used by the replicated variant to implement last-writer-wins without
// a separate read-then-write race window.
func (s *Segment) PutWithMeta(segmentHash uint64, key, value []byte, guard func(existingMeta []byte) (proceed bool, meta []byte)) (bool, error) {
	if err := s.lock.Lock(); err != nil {
		return false, err
	}
	defer s.lock.Unlock()

	tag := slotTag(segmentHash)
	probe := s.hashLookup.newProbe(tag)
	for {
		slot, pos, ok, done := probe.Next()
		if ok {
			chunkOffset, keyLen, match := s.matchAt(pos, key)
			if match {
				existingMeta := readMeta(s.store, chunkOffset, keyLen, s.metaDataBytes)
				proceed, meta := guard(append([]byte(nil), existingMeta...))
				if !proceed {
					return false, nil
				}
				return true, s.rewriteMatchedEntry(tag, slot, pos, chunkOffset, keyLen, value, meta)
			}
			continue
		}
		if done {
			proceed, meta := guard(nil)
			if !proceed {
				return false, nil
			}
			if _, err := s.putInsert(tag, probe.FirstEmptySlot(), key, value, false); err != nil {
				return false, err
			}
			// putInsert always zero-fills meta; overwrite it with the
			// guard's choice now that the entry exists.
			return true, s.writeMetaForKey(tag, key, meta)
		}
	}
}

func (s *Segment) rewriteMatchedEntry(tag uint32, slot, pos, chunkOffset, keyLen int, value, meta []byte) error {
	oldValueLen := s.valueLenAt(chunkOffset, keyLen)
	oldChunks := s.chunksFor(keyLen, oldValueLen)
	newChunks := s.chunksFor(keyLen, len(value))

	if newChunks <= oldChunks {
		writeValueInPlace(s.store, chunkOffset, keyLen, s.metaDataBytes, s.valueAlignment, value)
		if s.metaDataBytes > 0 {
			metaBuf := make([]byte, s.metaDataBytes)
			copy(metaBuf, meta)
			s.store.WriteBytes(chunkOffset+4+keyLen, metaBuf)
		}
		if newChunks < oldChunks {
			s.arena.Free(pos+newChunks, oldChunks-newChunks)
		}
		s.events.OnPut(s.handleFor(chunkOffset, keyLen, len(value)), false)
		return nil
	}

	keyCopy := append([]byte(nil), peekKey(s.store, chunkOffset, keyLen)...)
	newPos, err := s.arena.Allocate(newChunks, s.index)
	if err != nil {
		return err
	}
	newChunkOffset := s.arena.chunkOffset(newPos)
	writeEntry(s.store, newChunkOffset, keyCopy, meta, value, s.metaDataBytes, s.valueAlignment)
	s.hashLookup.UpdatePosition(tag, slot, newPos)
	s.arena.Free(pos, oldChunks)
	s.events.OnPut(s.handleFor(newChunkOffset, keyLen, len(value)), false)
	return nil
}

// writeMetaForKey locates key (which must exist) under the same slot tag
// it was inserted with and overwrites its meta region. Used right after a
// fresh PutWithMeta insert, which writes zero meta by default.
func (s *Segment) writeMetaForKey(tag uint32, key []byte, meta []byte) error {
	if s.metaDataBytes == 0 {
		return nil
	}
	probe := s.hashLookup.newProbe(tag)
	for {
		_, pos, ok, done := probe.Next()
		if ok {
			chunkOffset, keyLen, match := s.matchAt(pos, key)
			if match {
				metaBuf := make([]byte, s.metaDataBytes)
				copy(metaBuf, meta)
				s.store.WriteBytes(chunkOffset+4+keyLen, metaBuf)
				return nil
			}
			continue
		}
		if done {
			return nil
		}
	}
}

// MarkMeta rewrites only an existing entry's meta bytes (value and key
// are untouched), used by the replicated variant to tombstone an entry
// without freeing its chunk span (spec §4.8: "remove becomes a
// tombstone... until compacted"). applied is false if the key was not
// found or guard vetoed the change.
func (s *Segment) MarkMeta(segmentHash uint64, key []byte, guard func(existingMeta []byte) (proceed bool, meta []byte)) (bool, error) {
	if err := s.lock.Lock(); err != nil {
		return false, err
	}
	defer s.lock.Unlock()

	tag := slotTag(segmentHash)
	probe := s.hashLookup.newProbe(tag)
	for {
		_, pos, ok, done := probe.Next()
		if ok {
			chunkOffset, keyLen, match := s.matchAt(pos, key)
			if match {
				existingMeta := readMeta(s.store, chunkOffset, keyLen, s.metaDataBytes)
				proceed, meta := guard(append([]byte(nil), existingMeta...))
				if !proceed {
					return false, nil
				}
				if s.metaDataBytes > 0 {
					metaBuf := make([]byte, s.metaDataBytes)
					copy(metaBuf, meta)
					s.store.WriteBytes(chunkOffset+4+keyLen, metaBuf)
				}
				return true, nil
			}
			continue
		}
		if done {
			return false, nil
		}
	}
}

// ---------------------------------------------------------------------
// Iteration / Clear
// ---------------------------------------------------------------------

// decodedEntry is a fully-copied key/value/meta triple yielded by
// Snapshot, safe to hand to caller code after the segment lock is
// released (spec §4.6: "callers must not hold segment locks across
// external calls, so iteration yields copies").
type decodedEntry struct {
	Key, Value, Meta []byte
}

// Snapshot walks the arena via free_bits as spec §4.6 describes, decoding
// every live entry. It holds the read lock for the whole walk, then
// returns copies.
func (s *Segment) Snapshot() ([]decodedEntry, error) {
	if err := s.lock.RLock(); err != nil {
		return nil, err
	}
	defer s.lock.RUnlock()

	var out []decodedEntry
	n := s.geometry.chunksPerSegment
	for i := 0; i < n; {
		if s.arena.bits.isFree(i) {
			i++
			continue
		}
		chunkOffset := s.arena.chunkOffset(i)
		keyLen := peekKeyLen(s.store, chunkOffset)
		valueLen := s.valueLenAt(chunkOffset, keyLen)
		out = append(out, decodedEntry{
			Key:   append([]byte(nil), peekKey(s.store, chunkOffset, keyLen)...),
			Value: readValue(s.store, chunkOffset, keyLen, s.metaDataBytes, s.valueAlignment),
			Meta:  append([]byte(nil), readMeta(s.store, chunkOffset, keyLen, s.metaDataBytes)...),
		})
		i += s.chunksFor(keyLen, valueLen)
	}
	return out, nil
}

// zeroLocked resets free_bits, hash_lookup, and size_counter, assuming the
// caller already holds this segment's write lock (used both by Clear and
// by Map.Clear's all-segments-at-once variant, spec §4.6).
func (s *Segment) zeroLocked() {
	for i := 0; i < s.geometry.hashLookupSlots; i++ {
		s.hashLookup.storeWord(i, 0)
	}
	s.arena.bits.initAllFree()
	s.store.AtomicStoreU64(s.sizeCounterOffset(), 0)
}

// Clear acquires the write lock and zeroes free_bits, hash_lookup, and
// size_counter (spec §4.6).
func (s *Segment) Clear() error {
	if err := s.lock.Lock(); err != nil {
		return err
	}
	defer s.lock.Unlock()
	s.zeroLocked()
	return nil
}

// region returns this segment's absolute byte range within its store, for
// flush/msync purposes.
func (s *Segment) region() (offset, length int) {
	return s.base, s.geometry.totalSize
}
