package segmap

import (
	"errors"
	"testing"
)

func newTestSegment(t *testing.T, entriesPerSegment, chunkSize, metaDataBytes int) *Segment {
	t.Helper()
	geometry := computeSegmentGeometry(entriesPerSegment, entriesPerSegment, chunkSize)
	store, err := OpenAnonymousByteStore(geometry.totalSize)
	if err != nil {
		t.Fatalf("open anonymous store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return newSegment(store, 0, 0, geometry, metaDataBytes, 8, 0, nil, nil, true)
}

func TestSegmentPutGetRemove(t *testing.T) {
	seg := newTestSegment(t, 64, 64, 0)

	key, value := []byte("alpha"), []byte("first-value")
	if _, err := seg.Put(0x1111, key, value, true); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if got := seg.Size(); got != 1 {
		t.Fatalf("Size = %d, want 1", got)
	}

	var found bool
	err := seg.GetWithCallback(0x1111, key, func(eh EntryHandle) {
		found = true
		if string(eh.Value()) != string(value) {
			t.Fatalf("Value() = %q, want %q", eh.Value(), value)
		}
	}, func() {})
	if err != nil {
		t.Fatalf("GetWithCallback: %v", err)
	}
	if !found {
		t.Fatal("expected to find the key just put")
	}

	prev, removed, err := seg.Remove(0x1111, key, nil, true)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !removed || string(prev) != string(value) {
		t.Fatalf("Remove returned removed=%v prev=%q", removed, prev)
	}
	if got := seg.Size(); got != 0 {
		t.Fatalf("Size after remove = %d, want 0", got)
	}
}

func TestSegmentPutReplaceInPlaceKeepsPosition(t *testing.T) {
	seg := newTestSegment(t, 64, 64, 0)
	key := []byte("k")

	if _, err := seg.Put(0x2222, key, []byte("short"), false); err != nil {
		t.Fatalf("Put: %v", err)
	}

	var firstOffset int
	seg.GetWithCallback(0x2222, key, func(eh EntryHandle) { firstOffset = eh.ValuePos }, func() {})

	// A same-or-smaller-size replacement must reuse the same chunk span
	// (spec's "replacement locality" contract).
	if _, err := seg.Put(0x2222, key, []byte("other"), false); err != nil {
		t.Fatalf("Put (replace): %v", err)
	}
	var secondOffset int
	seg.GetWithCallback(0x2222, key, func(eh EntryHandle) { secondOffset = eh.ValuePos }, func() {})

	if firstOffset != secondOffset {
		t.Fatalf("in-place replace moved the value: %d -> %d", firstOffset, secondOffset)
	}
}

func TestSegmentPutReplaceGrowRelocates(t *testing.T) {
	seg := newTestSegment(t, 64, 32, 0)
	key := []byte("k")

	if _, err := seg.Put(0x3333, key, []byte("x"), false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	var firstOffset int
	seg.GetWithCallback(0x3333, key, func(eh EntryHandle) { firstOffset = eh.ValuePos }, func() {})

	big := make([]byte, 256)
	if _, err := seg.Put(0x3333, key, big, false); err != nil {
		t.Fatalf("Put (grow): %v", err)
	}
	var secondOffset int
	var readBack []byte
	seg.GetWithCallback(0x3333, key, func(eh EntryHandle) {
		secondOffset = eh.ValuePos
		readBack = append([]byte(nil), eh.Value()...)
	}, func() {})

	if firstOffset == secondOffset {
		t.Fatal("expected a grow-replace to relocate to a new chunk span")
	}
	if len(readBack) != len(big) {
		t.Fatalf("relocated value length = %d, want %d", len(readBack), len(big))
	}
}

func TestSegmentPutIfAbsent(t *testing.T) {
	seg := newTestSegment(t, 64, 64, 0)
	key := []byte("k")

	if _, err := seg.PutIfAbsent(0x4444, key, []byte("one"), true); err != nil {
		t.Fatalf("PutIfAbsent (insert): %v", err)
	}
	prev, err := seg.PutIfAbsent(0x4444, key, []byte("two"), true)
	if err != nil {
		t.Fatalf("PutIfAbsent (no-op): %v", err)
	}
	if string(prev) != "one" {
		t.Fatalf("PutIfAbsent on existing key returned %q, want %q (and must not overwrite)", prev, "one")
	}

	var value []byte
	seg.GetWithCallback(0x4444, key, func(eh EntryHandle) { value = append([]byte(nil), eh.Value()...) }, func() {})
	if string(value) != "one" {
		t.Fatalf("stored value changed to %q after PutIfAbsent on an existing key", value)
	}
}

func TestSegmentContainsKey(t *testing.T) {
	seg := newTestSegment(t, 64, 64, 0)
	key := []byte("k")
	if found, _ := seg.ContainsKey(0x5555, key); found {
		t.Fatal("ContainsKey true before any Put")
	}
	seg.Put(0x5555, key, []byte("v"), false)
	if found, _ := seg.ContainsKey(0x5555, key); !found {
		t.Fatal("ContainsKey false after Put")
	}
}

func TestSegmentReplaceExpecting(t *testing.T) {
	seg := newTestSegment(t, 64, 64, 0)
	key := []byte("k")
	seg.Put(0x6666, key, []byte("v1"), false)

	if _, replaced, err := seg.Replace(0x6666, key, []byte("wrong"), true, []byte("v2"), false); err != nil {
		t.Fatalf("Replace: %v", err)
	} else if replaced {
		t.Fatal("Replace succeeded against the wrong expected value")
	}

	if _, replaced, err := seg.Replace(0x6666, key, []byte("v1"), true, []byte("v2"), false); err != nil {
		t.Fatalf("Replace: %v", err)
	} else if !replaced {
		t.Fatal("Replace failed against the correct expected value")
	}

	var value []byte
	seg.GetWithCallback(0x6666, key, func(eh EntryHandle) { value = append([]byte(nil), eh.Value()...) }, func() {})
	if string(value) != "v2" {
		t.Fatalf("value after Replace = %q, want v2", value)
	}
}

func TestSegmentClear(t *testing.T) {
	seg := newTestSegment(t, 64, 64, 0)
	for i := 0; i < 5; i++ {
		seg.Put(uint64(i), []byte{byte(i)}, []byte{byte(i)}, false)
	}
	if seg.Size() != 5 {
		t.Fatalf("Size before Clear = %d, want 5", seg.Size())
	}
	if err := seg.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if seg.Size() != 0 {
		t.Fatalf("Size after Clear = %d, want 0", seg.Size())
	}
	for i := 0; i < 5; i++ {
		if found, _ := seg.ContainsKey(uint64(i), []byte{byte(i)}); found {
			t.Fatalf("key %d still present after Clear", i)
		}
	}
}

func TestSegmentSnapshot(t *testing.T) {
	seg := newTestSegment(t, 64, 64, 0)
	want := map[string]string{"a": "1", "bb": "22", "ccc": "333"}
	i := uint64(0)
	for k, v := range want {
		seg.Put(i, []byte(k), []byte(v), false)
		i++
	}

	entries, err := seg.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	got := map[string]string{}
	for _, e := range entries {
		got[string(e.Key)] = string(e.Value)
	}
	if len(got) != len(want) {
		t.Fatalf("Snapshot returned %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("Snapshot()[%q] = %q, want %q", k, got[k], v)
		}
	}
}

func TestSegmentFullError(t *testing.T) {
	seg := newTestSegment(t, 4, 32, 0)
	for i := 0; i < 4; i++ {
		key := []byte{byte(i)}
		if _, err := seg.Put(uint64(i), key, []byte("x"), false); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	_, err := seg.Put(0xFF, []byte{0xFF}, []byte("overflow"), false)
	if err == nil {
		t.Fatal("expected SegmentFull once every chunk is occupied")
	}
	if !errors.Is(err, ErrSegmentFull) {
		t.Fatalf("expected errors.Is(err, ErrSegmentFull), got %v", err)
	}
}

func TestSegmentZeroLengthKeyAndValue(t *testing.T) {
	seg := newTestSegment(t, 8, 32, 0)
	if _, err := seg.Put(1, []byte{}, []byte{}, false); err != nil {
		t.Fatalf("Put with empty key/value: %v", err)
	}
	var found bool
	err := seg.GetWithCallback(1, []byte{}, func(eh EntryHandle) {
		found = true
		if len(eh.Value()) != 0 {
			t.Fatalf("expected an empty value, got %q", eh.Value())
		}
	}, func() {})
	if err != nil {
		t.Fatalf("GetWithCallback: %v", err)
	}
	if !found {
		t.Fatal("expected to find the zero-length key")
	}
}

func TestSegmentIdempotentPut(t *testing.T) {
	seg := newTestSegment(t, 16, 32, 0)
	key, value := []byte("k"), []byte("v")
	if _, err := seg.Put(1, key, value, false); err != nil {
		t.Fatalf("Put 1: %v", err)
	}
	if _, err := seg.Put(1, key, value, false); err != nil {
		t.Fatalf("Put 2: %v", err)
	}
	if seg.Size() != 1 {
		t.Fatalf("Size after idempotent put = %d, want 1", seg.Size())
	}
}

func TestSegmentMetaDataListener(t *testing.T) {
	seg := newTestSegment(t, 16, 64, 4)
	key := []byte("k")

	if _, err := seg.Put(1, key, []byte("v"), false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	var metaSeen []byte
	err := seg.GetWithCallback(1, key, func(eh EntryHandle) {
		eh.WriteMeta([]byte{1, 2, 3, 4})
		metaSeen = append([]byte(nil), eh.Meta()...)
	}, func() {})
	if err != nil {
		t.Fatalf("GetWithCallback: %v", err)
	}
	if string(metaSeen) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("meta after WriteMeta = %v", metaSeen)
	}
}
