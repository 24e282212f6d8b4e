package segmap

import (
	"log"
	"sync"
	"time"
)

// systemHeaderBytes is the fixed (identifier, timestamp, is_deleted)
// prefix the replicated variant reserves at the front of each entry's
// meta region, per spec §4.8. It is folded into the ordinary
// meta_data_bytes mechanism (spec §4.1's "fixed-width region, present on
// every entry, initialized to zero, otherwise uninterpreted by the map")
// rather than a second parallel per-entry region, since meta_data_bytes
// already is exactly that: fixed-width reserved space the map never
// interprets on its own.
const systemHeaderBytes = 10

func encodeSystemHeader(identifier uint8, timestamp uint64, isDeleted bool) []byte {
	buf := make([]byte, systemHeaderBytes)
	buf[0] = identifier
	lePutUint64(buf[1:9], timestamp)
	if isDeleted {
		buf[9] = 1
	}
	return buf
}

func decodeSystemHeader(b []byte) (identifier uint8, timestamp uint64, isDeleted bool) {
	if len(b) < systemHeaderBytes {
		return 0, 0, false
	}
	return b[0], leUint64(b[1:9]), b[9] != 0
}

// ModificationEvent describes one mutation a registered
// ModificationIterator is notified of (spec §4.8: "Every mutation
// advances a per-segment modification counter and notifies each
// registered modification iterator").
type ModificationEvent struct {
	Segment    int
	Identifier uint8
	Timestamp  uint64
	Deleted    bool
	Key, Value []byte
}

// ModificationIterator receives ModificationEvents for the segments it
// was subscribed to via ModificationSource.Subscribe. The map never
// interprets what the iterator does with the event — forwarding it over
// a wire protocol, logging it, whatever — that is entirely the
// collaborator's concern (spec §4.8/§6).
type ModificationIterator interface {
	OnModification(event ModificationEvent)
}

// Closeable is returned by registration calls so the caller has a
// deterministic way to stop receiving notifications. Handles returned by
// Replicator.ApplyTo are closed when the owning map is closed; a handle
// returned by Subscribe is closed only by whoever holds it.
type Closeable interface {
	Close() error
}

// ModificationSource is what a Replicator receives from ApplyTo: a
// per-segment subscription point it can register interest on, without
// the map or the replicator needing to agree on anything beyond this
// interface. Reconciles spec §4.8's "register(segment, iterator) ->
// Closeable" phrasing with §6's "apply_to(builder, map,
// segment_modification_source) -> Closeable" phrasing — ApplyTo is the
// entry point a Replicator implements, ModificationSource (here, the
// ReplicatedMap itself) is the segment_modification_source it is handed.
type ModificationSource interface {
	SegmentCount() int
	Subscribe(segment int, iterator ModificationIterator) Closeable
}

// Replicator is the external transport collaborator spec §6 describes.
// The map never interprets the wire protocol; it only calls ApplyTo once
// per registered replicator and closes whatever Closeable comes back
// when the map is closed.
type Replicator interface {
	ApplyTo(source ModificationSource) (Closeable, error)
}

// BestEffortReplicator is an optional capability a Replicator may
// implement to identify itself as a lossy, non-guaranteed-delivery
// transport (e.g. UDP-based). When exactly one replicator is registered
// and it reports BestEffort() true, the map logs a warning recommending
// it be paired with a guaranteed-delivery transport (spec §6).
type BestEffortReplicator interface {
	Replicator
	BestEffort() bool
}

// ReplicatedMap wraps a *Map[K,V] to add per-entry last-writer-wins
// semantics and tombstone-based removal (spec §4.8). Local mutations made
// through this process always proceed and are stamped with this
// process's replication identifier and the current time; ApplyRemote*
// mutations arriving from a Replicator are subject to a timestamp check
// and are stamped with the remote identifier/timestamp they carried.
type ReplicatedMap[K, V any] struct {
	*Map[K, V]

	identifier    uint8
	userMetaBytes int
	timeProvider  func() uint64

	mu          sync.RWMutex
	modCounters []uint64
	iterators   [][]ModificationIterator

	closers []Closeable
}

// BuildReplicated builds (or reopens) a replicated map. identifier must
// be non-zero: it is this process's stamp on entries it writes locally.
// timeProvider defaults to the wall clock; tests typically supply a
// deterministic one. Each replicator's ApplyTo is invoked once, handed a
// ModificationSource scoped to this map, and the returned Closeable is
// closed when the map is closed.
func (b *Builder[K, V]) BuildReplicated(path string, identifier uint8, timeProvider func() uint64, replicators ...Replicator) (*ReplicatedMap[K, V], error) {
	if identifier == 0 {
		return nil, newMapError(ErrIllegalArgumentKind, -1, nil, "replicated map requires a non-zero replication identifier")
	}
	if timeProvider == nil {
		timeProvider = func() uint64 { return uint64(time.Now().UnixNano()) }
	}

	clone := *b
	userMeta := b.metaDataBytes
	clone.metaDataBytes = userMeta + systemHeaderBytes
	clone.replicationIdentifier = uint32(identifier)

	m, err := clone.Build(path)
	if err != nil {
		return nil, err
	}

	rm := &ReplicatedMap[K, V]{
		Map:           m,
		identifier:    identifier,
		userMetaBytes: userMeta,
		timeProvider:  timeProvider,
		modCounters:   make([]uint64, m.SegmentCount()),
		iterators:     make([][]ModificationIterator, m.SegmentCount()),
	}

	if len(replicators) == 1 {
		if be, ok := replicators[0].(BestEffortReplicator); ok && be.BestEffort() {
			log.Printf("segmap: replicated map %q has exactly one best-effort replicator registered; pair it with a guaranteed-delivery transport", path)
		}
	}

	for _, r := range replicators {
		closer, err := r.ApplyTo(rm)
		if err != nil {
			rm.Close()
			return nil, err
		}
		if closer != nil {
			rm.closers = append(rm.closers, closer)
		}
	}
	return rm, nil
}

// SegmentCount satisfies ModificationSource.
func (rm *ReplicatedMap[K, V]) SegmentCount() int { return rm.Map.SegmentCount() }

// Subscribe satisfies ModificationSource: registers iterator to receive
// every subsequent ModificationEvent for segment.
func (rm *ReplicatedMap[K, V]) Subscribe(segment int, iterator ModificationIterator) Closeable {
	rm.mu.Lock()
	rm.iterators[segment] = append(rm.iterators[segment], iterator)
	idx := len(rm.iterators[segment]) - 1
	rm.mu.Unlock()

	return closerFunc(func() error {
		rm.mu.Lock()
		defer rm.mu.Unlock()
		if idx < len(rm.iterators[segment]) {
			rm.iterators[segment][idx] = nil
		}
		return nil
	})
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func (rm *ReplicatedMap[K, V]) notify(segment int, timestamp uint64, deleted bool, identifier uint8, key, value []byte) {
	atomicAddU64(&rm.modCounters[segment], 1)

	rm.mu.RLock()
	iterators := rm.iterators[segment]
	rm.mu.RUnlock()

	event := ModificationEvent{Segment: segment, Identifier: identifier, Timestamp: timestamp, Deleted: deleted, Key: key, Value: value}
	for _, it := range iterators {
		if it != nil {
			it.OnModification(event)
		}
	}
}

// ModificationCount returns the per-segment modification counter (spec
// §4.8), useful for a Replicator's own catch-up bookkeeping.
func (rm *ReplicatedMap[K, V]) ModificationCount(segment int) uint64 {
	return atomicLoadU64(&rm.modCounters[segment])
}

func (rm *ReplicatedMap[K, V]) buildMeta(existing []byte, identifier uint8, timestamp uint64, deleted bool) []byte {
	total := systemHeaderBytes + rm.userMetaBytes
	buf := make([]byte, total)
	copy(buf[:systemHeaderBytes], encodeSystemHeader(identifier, timestamp, deleted))
	if len(existing) > systemHeaderBytes {
		copy(buf[systemHeaderBytes:], existing[systemHeaderBytes:])
	}
	return buf
}

// Put overwrites key's value unconditionally, stamping this process's
// identifier and the current time, and notifies any subscribed
// ModificationIterators.
func (rm *ReplicatedMap[K, V]) Put(key K, value V) error {
	kb := encodeWith(rm.keyCodec, key)
	vb := encodeWith(rm.valueCodec, value)
	idx, segHash := rm.route(kb)
	now := rm.timeProvider()

	_, err := rm.segments[idx].PutWithMeta(segHash, kb, vb, func(existing []byte) (bool, []byte) {
		return true, rm.buildMeta(existing, rm.identifier, now, false)
	})
	if err != nil {
		return err
	}
	rm.notify(idx, now, false, rm.identifier, kb, vb)
	return nil
}

// ApplyRemotePut applies a put received from a Replicator. If the
// locally stored entry's timestamp is newer, the remote put is dropped
// (last-writer-wins); applied reports whether the write took effect.
func (rm *ReplicatedMap[K, V]) ApplyRemotePut(key K, value V, identifier uint8, timestamp uint64) (applied bool, err error) {
	kb := encodeWith(rm.keyCodec, key)
	vb := encodeWith(rm.valueCodec, value)
	idx, segHash := rm.route(kb)

	applied, err = rm.segments[idx].PutWithMeta(segHash, kb, vb, func(existing []byte) (bool, []byte) {
		if _, storedTs, _ := decodeSystemHeader(existing); len(existing) >= systemHeaderBytes && timestamp < storedTs {
			return false, nil
		}
		return true, rm.buildMeta(existing, identifier, timestamp, false)
	})
	if err != nil {
		return false, err
	}
	if applied {
		rm.notify(idx, timestamp, false, identifier, kb, vb)
	}
	return applied, nil
}

// Remove tombstones key (is_deleted=1) rather than freeing its storage,
// stamping this process's identifier and the current time. The entry's
// chunks are reclaimed only by a later Compact call.
func (rm *ReplicatedMap[K, V]) Remove(key K) (removed bool, err error) {
	kb := encodeWith(rm.keyCodec, key)
	idx, segHash := rm.route(kb)
	now := rm.timeProvider()

	applied, err := rm.segments[idx].MarkMeta(segHash, kb, func(existing []byte) (bool, []byte) {
		return true, rm.buildMeta(existing, rm.identifier, now, true)
	})
	if err != nil {
		return false, err
	}
	if applied {
		rm.notify(idx, now, true, rm.identifier, kb, nil)
	}
	return applied, nil
}

// ApplyRemoteRemove applies a tombstone received from a Replicator,
// subject to the same last-writer-wins check as ApplyRemotePut. A remote
// remove for a key this process has never seen locally is a no-op: a
// tombstone cannot be recorded for an entry that does not exist, and
// full anti-entropy reconciliation of never-seen deletes is left to the
// Replicator.
func (rm *ReplicatedMap[K, V]) ApplyRemoteRemove(key K, identifier uint8, timestamp uint64) (applied bool, err error) {
	kb := encodeWith(rm.keyCodec, key)
	idx, segHash := rm.route(kb)

	applied, err = rm.segments[idx].MarkMeta(segHash, kb, func(existing []byte) (bool, []byte) {
		if _, storedTs, _ := decodeSystemHeader(existing); len(existing) >= systemHeaderBytes && timestamp < storedTs {
			return false, nil
		}
		return true, rm.buildMeta(existing, identifier, timestamp, true)
	})
	if err != nil {
		return false, err
	}
	if applied {
		rm.notify(idx, timestamp, true, identifier, kb, nil)
	}
	return applied, nil
}

// IsDeleted reports whether key's current entry is a live tombstone.
// found is false if the key has never existed locally at all.
func (rm *ReplicatedMap[K, V]) IsDeleted(key K) (deleted, found bool, err error) {
	kb := encodeWith(rm.keyCodec, key)
	idx, segHash := rm.route(kb)

	err = rm.segments[idx].GetWithCallback(segHash, kb, func(eh EntryHandle) {
		found = true
		_, _, deleted = decodeSystemHeader(eh.Meta())
	}, func() {})
	return deleted, found, err
}

// Get overrides the embedded Map's Get to treat a tombstoned entry as
// absent: the storage behind a removed key lives on until Compact, but
// spec §4.8 is explicit that a remove is a tombstone "until compacted",
// not a live value. Without this override the embedded Map.Get would
// find the row and return the stale value as if it were still present.
func (rm *ReplicatedMap[K, V]) Get(key K) (value V, found bool, err error) {
	kb := encodeWith(rm.keyCodec, key)
	idx, segHash := rm.route(kb)

	var zero, result V
	cbErr := rm.segments[idx].GetWithCallback(segHash, kb, func(eh EntryHandle) {
		if _, _, deleted := decodeSystemHeader(eh.Meta()); deleted {
			return
		}
		cur := &Cursor{Store: eh.store, Pos: eh.ValuePos}
		result = rm.valueCodec.Read(cur)
		found = true
		rm.events.OnGetFound(eh)
	}, func() {
		rm.events.OnGetMissing(kb)
	})
	rm.metrics.recordErr(cbErr)
	if cbErr != nil {
		return zero, false, cbErr
	}
	rm.metrics.incGet()
	if !found {
		return zero, false, nil
	}
	return result, true, nil
}

// ContainsKey overrides the embedded Map's ContainsKey so a tombstoned
// entry reports false, matching Get's tombstone-hiding behavior.
func (rm *ReplicatedMap[K, V]) ContainsKey(key K) (bool, error) {
	deleted, found, err := rm.IsDeleted(key)
	if err != nil {
		return false, err
	}
	return found && !deleted, nil
}

// Range overrides the embedded Map's Range to skip tombstoned entries,
// so a caller walking a ReplicatedMap never sees a removed key.
func (rm *ReplicatedMap[K, V]) Range(visit func(key K, value V) bool) error {
	for _, seg := range rm.segments {
		entries, err := seg.Snapshot()
		if err != nil {
			return err
		}
		for _, e := range entries {
			if _, _, deleted := decodeSystemHeader(e.Meta); deleted {
				continue
			}
			key := decodeWith(rm.keyCodec, e.Key)
			value := decodeWith(rm.valueCodec, e.Value)
			if !visit(key, value) {
				return nil
			}
		}
	}
	return nil
}

// Compact physically frees every tombstoned entry across all segments,
// per spec §4.8's "until compacted". It takes a read-only pass to find
// tombstone candidates, then removes each one individually; a tombstone
// written concurrently with a Compact pass may or may not be reclaimed
// in the same pass, matching Range's weakly-consistent iteration
// contract.
func (rm *ReplicatedMap[K, V]) Compact() (reclaimed int, err error) {
	for idx, seg := range rm.segments {
		entries, err := seg.Snapshot()
		if err != nil {
			return reclaimed, err
		}
		for _, e := range entries {
			if _, _, deleted := decodeSystemHeader(e.Meta); deleted {
				h := hash64(e.Key)
				segHash := h >> rm.segShift
				if _, removed, err := seg.Remove(segHash, e.Key, nil, false); err != nil {
					return reclaimed, err
				} else if removed {
					reclaimed++
					_ = idx
				}
			}
		}
	}
	return reclaimed, nil
}

// Close closes every registered replicator's handle, then the underlying
// map.
func (rm *ReplicatedMap[K, V]) Close() error {
	for i := len(rm.closers) - 1; i >= 0; i-- {
		if err := rm.closers[i].Close(); err != nil {
			return err
		}
	}
	return rm.Map.Close()
}
