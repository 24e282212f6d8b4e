package segmap

import "testing"

func newTestHashLookup(t *testing.T, slots int) *hashLookup {
	t.Helper()
	bs, err := OpenAnonymousByteStore(slots * 8)
	if err != nil {
		t.Fatalf("open anonymous store: %v", err)
	}
	t.Cleanup(func() { bs.Close() })
	return newHashLookup(bs, 0, slots)
}

func TestHashLookupPutAndProbe(t *testing.T) {
	hl := newTestHashLookup(t, 8)

	tag := slotTag(0x1234567890ABCDEF)
	probe := hl.newProbe(tag)
	_, _, ok, done := probe.Next()
	if ok || !done {
		t.Fatalf("expected the first probe of an empty table to land on an empty slot, got ok=%v done=%v", ok, done)
	}
	hl.PutAfterProbe(tag, 5, probe.FirstEmptySlot())

	probe2 := hl.newProbe(tag)
	slot, pos, ok, _ := probe2.Next()
	if !ok || pos != 5 {
		t.Fatalf("expected to find pos=5 for the tag just inserted, got ok=%v pos=%d", ok, pos)
	}
	_ = slot
}

func TestHashLookupUpdatePosition(t *testing.T) {
	hl := newTestHashLookup(t, 8)
	tag := slotTag(42)
	probe := hl.newProbe(tag)
	probe.Next()
	hl.PutAfterProbe(tag, 1, probe.FirstEmptySlot())

	slot := probe.FirstEmptySlot()
	hl.UpdatePosition(tag, slot, 99)

	probe2 := hl.newProbe(tag)
	_, pos, ok, _ := probe2.Next()
	if !ok || pos != 99 {
		t.Fatalf("expected updated pos=99, got ok=%v pos=%d", ok, pos)
	}
}

func TestHashLookupRemoveBackwardShift(t *testing.T) {
	hl := newTestHashLookup(t, 4) // mask = 3

	// Craft two tags whose home slot is the same, so the second one probes
	// forward into the next slot.
	home := 1
	tagA := uint32(home)       // home slot = home & mask = 1
	tagB := uint32(home + 4*7) // same low bits modulo 4 as tagA

	probeA := hl.newProbe(tagA)
	probeA.Next()
	hl.PutAfterProbe(tagA, 10, probeA.FirstEmptySlot())

	probeB := hl.newProbe(tagB)
	slotB, _, _, _ := probeB.Next() // occupied by tagA, ok=false since tag differs
	if slotB != home {
		t.Fatalf("expected first probed slot to be the shared home slot %d, got %d", home, slotB)
	}
	_, _, _, doneB := probeB.Next()
	_ = doneB
	hl.PutAfterProbe(tagB, 20, probeB.FirstEmptySlot())

	// Now remove tagA's slot; tagB, whose home slot is also `home` but
	// which landed one slot further, must shift backward into the gap so
	// its own probe chain (starting at `home`) still finds it immediately.
	aSlot := home
	hl.Remove(aSlot)

	probeB2 := hl.newProbe(tagB)
	slot, pos, ok, _ := probeB2.Next()
	if !ok || pos != 20 {
		t.Fatalf("expected tagB to have shifted into slot %d with pos=20, got slot=%d ok=%v pos=%d", aSlot, slot, ok, pos)
	}
	if slot != aSlot {
		t.Fatalf("expected backward-shift into slot %d, tagB is still at %d", aSlot, slot)
	}
}

func TestPackUnpackSlot(t *testing.T) {
	word := packSlot(0xAABBCCDD, 12345)
	tag, pos := unpackSlot(word)
	if tag != 0xAABBCCDD || pos != 12345 {
		t.Fatalf("unpackSlot(packSlot(...)) = (%#x, %d)", tag, pos)
	}
}
