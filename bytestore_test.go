package segmap

import "testing"

func TestByteStoreAnonymousRoundTrip(t *testing.T) {
	bs, err := OpenAnonymousByteStore(256)
	if err != nil {
		t.Fatalf("open anonymous store: %v", err)
	}
	defer bs.Close()

	bs.WriteU32(0, 0xDEADBEEF)
	if got := bs.ReadU32(0); got != 0xDEADBEEF {
		t.Fatalf("ReadU32 = %#x, want %#x", got, 0xDEADBEEF)
	}

	bs.WriteU64(8, 1234567890123)
	if got := bs.ReadU64(8); got != 1234567890123 {
		t.Fatalf("ReadU64 = %d, want %d", got, 1234567890123)
	}

	bs.WriteBytes(16, []byte("hello, segmap"))
	if got := string(bs.CopyBytes(16, len("hello, segmap"))); got != "hello, segmap" {
		t.Fatalf("CopyBytes = %q, want %q", got, "hello, segmap")
	}
}

func TestByteStoreOutOfBoundsPanics(t *testing.T) {
	bs, err := OpenAnonymousByteStore(16)
	if err != nil {
		t.Fatalf("open anonymous store: %v", err)
	}
	defer bs.Close()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on out-of-bounds read")
		} else if _, ok := r.(*OutOfBoundsError); !ok {
			t.Fatalf("expected *OutOfBoundsError, got %T", r)
		}
	}()
	bs.ReadU64(12) // would read bytes [12,20), past the 16-byte region
}

func TestScratchByteStoreGrows(t *testing.T) {
	bs := newScratchByteStore()
	bs.WriteU32(0, 1)
	bs.WriteBytes(4, []byte("grow-on-demand"))
	if bs.Len() < 4+len("grow-on-demand") {
		t.Fatalf("scratch store did not grow: len=%d", bs.Len())
	}
	if got := string(bs.Bytes()[4 : 4+len("grow-on-demand")]); got != "grow-on-demand" {
		t.Fatalf("Bytes() = %q", got)
	}
}

func TestByteStoreCompareAndSwap(t *testing.T) {
	bs, err := OpenAnonymousByteStore(16)
	if err != nil {
		t.Fatalf("open anonymous store: %v", err)
	}
	defer bs.Close()

	bs.WriteU64(0, 1)
	if bs.CompareAndSwapU64(0, 2, 3) {
		t.Fatal("CAS succeeded against a stale expected value")
	}
	if !bs.CompareAndSwapU64(0, 1, 3) {
		t.Fatal("CAS failed against the correct expected value")
	}
	if got := bs.ReadU64(0); got != 3 {
		t.Fatalf("ReadU64 after CAS = %d, want 3", got)
	}
}

func TestCursorUTFRoundTrip(t *testing.T) {
	bs := newScratchByteStore()
	c := &Cursor{Store: bs}
	c.WriteUTF("héllo")
	c.WriteU32(42)

	rc := &Cursor{Store: &ByteStore{data: bs.Bytes()}}
	s := rc.ReadUTF()
	n := rc.ReadU32()
	if s != "héllo" {
		t.Fatalf("ReadUTF = %q, want %q", s, "héllo")
	}
	if n != 42 {
		t.Fatalf("ReadU32 = %d, want 42", n)
	}
}
