package segmap

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Map is the generic, typed façade over a segmented, off-heap hash map
// (spec §1/§4). It owns the persisted Header, the ByteStore the whole
// image lives in, and one *Segment per entry in header.SegmentCount.
// Grounded on phash.go's PHashMap (a single global table behind one
// sync.RWMutex), generalized to N independently-locked segments and to
// caller-supplied Codec[K]/Codec[V] in place of phash.go's fixed
// []byte/[]byte pair.
type Map[K, V any] struct {
	store    *ByteStore
	header   Header
	segments []*Segment
	segShift uint
	segMask  uint64

	keyCodec   Codec[K]
	valueCodec Codec[V]
	events     EventListener
	errListen  ErrorListener
	metrics    *mapMetrics

	putReturnsNull    bool
	removeReturnsNull bool

	path string // "" for an anonymous (non-file-backed) map
}

func (m *Map[K, V]) route(keyBytes []byte) (segIdx int, segHash uint64) {
	h := hash64(keyBytes)
	return int(h & m.segMask), h >> m.segShift
}

func encodeWith[T any](codec Codec[T], v T) []byte {
	bs := newScratchByteStore()
	c := &Cursor{Store: bs}
	codec.Write(c, v)
	return bs.Bytes()[:c.Pos]
}

func decodeWith[T any](codec Codec[T], b []byte) T {
	c := &Cursor{Store: &ByteStore{data: b}}
	return codec.Read(c)
}

// Put implements spec §4.5's put(key, value, return_previous). Whether
// the previous value is actually read back is governed by the builder's
// put_returns_null option (default: read it).
func (m *Map[K, V]) Put(key K, value V) (previous V, hadPrevious bool, err error) {
	return m.putInternal(key, value, !m.putReturnsNull)
}

func (m *Map[K, V]) putInternal(key K, value V, returnPrevious bool) (V, bool, error) {
	var zero V
	kb := encodeWith(m.keyCodec, key)
	vb := encodeWith(m.valueCodec, value)
	idx, segHash := m.route(kb)

	prevBytes, err := m.segments[idx].Put(segHash, kb, vb, returnPrevious)
	m.metrics.recordErr(err)
	if err != nil {
		return zero, false, err
	}
	m.metrics.incPut()
	if !returnPrevious || prevBytes == nil {
		return zero, false, nil
	}
	return decodeWith(m.valueCodec, prevBytes), true, nil
}

// PutIfAbsent implements the putIfAbsent lifecycle operation (spec §3):
// never overwrites an existing key.
func (m *Map[K, V]) PutIfAbsent(key K, value V) (previous V, existed bool, err error) {
	var zero V
	kb := encodeWith(m.keyCodec, key)
	vb := encodeWith(m.valueCodec, value)
	idx, segHash := m.route(kb)

	prevBytes, err := m.segments[idx].PutIfAbsent(segHash, kb, vb, true)
	m.metrics.recordErr(err)
	if err != nil {
		return zero, false, err
	}
	m.metrics.incPut()
	if prevBytes == nil {
		return zero, false, nil
	}
	return decodeWith(m.valueCodec, prevBytes), true, nil
}

// Get implements spec §4.5's get(key, reusable) without a reuse buffer.
func (m *Map[K, V]) Get(key K) (value V, found bool, err error) {
	var zero V
	kb := encodeWith(m.keyCodec, key)
	idx, segHash := m.route(kb)

	var result V
	cbErr := m.segments[idx].GetWithCallback(segHash, kb, func(eh EntryHandle) {
		cur := &Cursor{Store: eh.store, Pos: eh.ValuePos}
		result = m.valueCodec.Read(cur)
		found = true
		m.events.OnGetFound(eh)
	}, func() {
		m.events.OnGetMissing(kb)
	})
	m.metrics.recordErr(cbErr)
	if cbErr != nil {
		return zero, false, cbErr
	}
	m.metrics.incGet()
	if !found {
		return zero, false, nil
	}
	return result, true, nil
}

// GetReusing decodes the found value into reusable via the value codec's
// ReadReusing, avoiding an allocation for codecs that support it (spec
// §4.2/§4.5).
func (m *Map[K, V]) GetReusing(key K, reusable V) (value V, found bool, err error) {
	kb := encodeWith(m.keyCodec, key)
	idx, segHash := m.route(kb)

	result := reusable
	cbErr := m.segments[idx].GetWithCallback(segHash, kb, func(eh EntryHandle) {
		cur := &Cursor{Store: eh.store, Pos: eh.ValuePos}
		result = m.valueCodec.ReadReusing(cur, reusable)
		found = true
		m.events.OnGetFound(eh)
	}, func() {
		m.events.OnGetMissing(kb)
	})
	m.metrics.recordErr(cbErr)
	if cbErr != nil {
		return reusable, false, cbErr
	}
	m.metrics.incGet()
	if !found {
		return reusable, false, nil
	}
	return result, true, nil
}

// ContainsKey searches without decoding a value (spec §4.5's read-side
// analogue of the mutation path's "skip the value-read" contract).
func (m *Map[K, V]) ContainsKey(key K) (bool, error) {
	kb := encodeWith(m.keyCodec, key)
	idx, segHash := m.route(kb)
	found, err := m.segments[idx].ContainsKey(segHash, kb)
	m.metrics.recordErr(err)
	return found, err
}

// Remove implements spec §4.5's remove(key). Whether the previous value
// is actually read back is governed by the builder's remove_returns_null
// option (default: read it).
func (m *Map[K, V]) Remove(key K) (previous V, removed bool, err error) {
	var zero V
	kb := encodeWith(m.keyCodec, key)
	idx, segHash := m.route(kb)

	prevBytes, ok, err := m.segments[idx].Remove(segHash, kb, nil, !m.removeReturnsNull)
	m.metrics.recordErr(err)
	if err != nil {
		return zero, false, err
	}
	m.metrics.incRemove()
	if !ok {
		return zero, false, nil
	}
	if prevBytes == nil {
		return zero, true, nil
	}
	return decodeWith(m.valueCodec, prevBytes), true, nil
}

// RemoveExpecting only removes key if its current value byte-equals
// expected once encoded, per spec §4.5's optional expected_value guard.
func (m *Map[K, V]) RemoveExpecting(key K, expected V) (removed bool, err error) {
	kb := encodeWith(m.keyCodec, key)
	eb := encodeWith(m.valueCodec, expected)
	idx, segHash := m.route(kb)

	_, ok, err := m.segments[idx].Remove(segHash, kb, eb, false)
	m.metrics.recordErr(err)
	if err != nil {
		return false, err
	}
	if ok {
		m.metrics.incRemove()
	}
	return ok, nil
}

// Replace implements the unconditional form of spec §4.5's replace(key,
// old?, new): overwrites the value for an existing key, a no-op if the
// key is absent.
func (m *Map[K, V]) Replace(key K, newValue V) (previous V, replaced bool, err error) {
	var zero V
	kb := encodeWith(m.keyCodec, key)
	nb := encodeWith(m.valueCodec, newValue)
	idx, segHash := m.route(kb)

	prevBytes, ok, err := m.segments[idx].Replace(segHash, kb, nil, false, nb, true)
	m.metrics.recordErr(err)
	if err != nil {
		return zero, false, err
	}
	if !ok || prevBytes == nil {
		return zero, false, nil
	}
	return decodeWith(m.valueCodec, prevBytes), true, nil
}

// ReplaceExpecting implements the conditional form of spec §4.5's
// replace(key, old, new): the atomic equivalent of get-then-put-if-match.
func (m *Map[K, V]) ReplaceExpecting(key K, oldValue, newValue V) (replaced bool, err error) {
	kb := encodeWith(m.keyCodec, key)
	ob := encodeWith(m.valueCodec, oldValue)
	nb := encodeWith(m.valueCodec, newValue)
	idx, segHash := m.route(kb)

	_, ok, err := m.segments[idx].Replace(segHash, kb, ob, true, nb, false)
	m.metrics.recordErr(err)
	return ok, err
}

// Size sums every segment's size_counter without taking any lock, per
// spec §4.6: "an eventually consistent snapshot".
func (m *Map[K, V]) Size() uint64 {
	var total uint64
	for _, seg := range m.segments {
		total += seg.Size()
	}
	return total
}

// Clear acquires every segment's write lock in index order, zeroes each
// one, then releases all of them in reverse order (spec §4.6).
func (m *Map[K, V]) Clear() error {
	acquired := make([]*Segment, 0, len(m.segments))
	for _, seg := range m.segments {
		if err := seg.lock.Lock(); err != nil {
			for i := len(acquired) - 1; i >= 0; i-- {
				acquired[i].lock.Unlock()
			}
			return err
		}
		acquired = append(acquired, seg)
	}
	for _, seg := range acquired {
		seg.zeroLocked()
	}
	for i := len(acquired) - 1; i >= 0; i-- {
		acquired[i].lock.Unlock()
	}
	return nil
}

// Range walks every segment's live entries (spec §4.6's "weakly
// consistent" iteration: each segment is snapshotted under its own read
// lock, one at a time, so concurrent writers may or may not be reflected
// depending on timing) and calls visit for each decoded key/value pair.
// Range stops and returns nil as soon as visit returns false.
func (m *Map[K, V]) Range(visit func(key K, value V) bool) error {
	for _, seg := range m.segments {
		entries, err := seg.Snapshot()
		if err != nil {
			return err
		}
		for _, e := range entries {
			key := decodeWith(m.keyCodec, e.Key)
			value := decodeWith(m.valueCodec, e.Value)
			if !visit(key, value) {
				return nil
			}
		}
	}
	return nil
}

// Flush msyncs every segment's region (and the header) concurrently via
// errgroup, per spec §4.6's "may be flushed explicitly".
func (m *Map[K, V]) Flush(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return m.store.Flush(0, rawHeaderSize) })
	for _, seg := range m.segments {
		seg := seg
		g.Go(func() error {
			offset, length := seg.region()
			return m.store.Flush(offset, length)
		})
	}
	return g.Wait()
}

// Close flushes (if file-backed) and unmaps the underlying region. The
// file itself, if any, is left intact on disk (spec §3 Lifecycle).
func (m *Map[K, V]) Close() error {
	if m.path != "" {
		if err := m.Flush(context.Background()); err != nil {
			return err
		}
	}
	return m.store.Close()
}

// Header returns a copy of the map's persisted layout header, mostly
// useful for diagnostics (spec-facing CLI `stat` subcommand).
func (m *Map[K, V]) Header() Header { return m.header }

// SegmentCount returns the number of segments the map was built with.
func (m *Map[K, V]) SegmentCount() int { return len(m.segments) }
