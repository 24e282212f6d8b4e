package segmap

import "testing"

func roundTrip[T any](codec Codec[T], v T) T {
	bs := newScratchByteStore()
	c := &Cursor{Store: bs}
	codec.Write(c, v)
	rc := &Cursor{Store: &ByteStore{data: bs.Bytes()[:c.Pos]}}
	return codec.Read(rc)
}

func TestFixedWidthCodecRoundTrip(t *testing.T) {
	if got := roundTrip[uint32](Uint32Codec(), 0xABCD1234); got != 0xABCD1234 {
		t.Errorf("uint32 round trip = %#x", got)
	}
	if got := roundTrip[uint64](Uint64Codec(), 1<<40+7); got != 1<<40+7 {
		t.Errorf("uint64 round trip = %d", got)
	}
	if got := roundTrip[float64](Float64Codec(), 3.5); got != 3.5 {
		t.Errorf("float64 round trip = %v", got)
	}
}

func TestStringAndBytesCodecRoundTrip(t *testing.T) {
	if got := roundTrip[string](StringCodec(), "héllo, world"); got != "héllo, world" {
		t.Errorf("string round trip = %q", got)
	}
	if got := roundTrip[[]byte](BytesCodec(), []byte{1, 2, 3, 0, 255}); string(got) != string([]byte{1, 2, 3, 0, 255}) {
		t.Errorf("bytes round trip = %v", got)
	}
	if got := roundTrip[[]byte](BytesCodec(), nil); len(got) != 0 {
		t.Errorf("empty bytes round trip = %v", got)
	}
}

func TestBytesCodecReadReusing(t *testing.T) {
	bs := newScratchByteStore()
	c := &Cursor{Store: bs}
	codec := BytesCodec()
	codec.Write(c, []byte("abc"))

	reusable := make([]byte, 0, 16)
	rc := &Cursor{Store: &ByteStore{data: bs.Bytes()[:c.Pos]}}
	out := codec.ReadReusing(rc, reusable)
	if string(out) != "abc" {
		t.Fatalf("ReadReusing = %q, want %q", out, "abc")
	}
}

type fixedPoint struct {
	X, Y int32
}

func TestByteableCodecRoundTrip(t *testing.T) {
	codec := NewByteableCodec[fixedPoint]()
	got := roundTrip[fixedPoint](codec, fixedPoint{X: -5, Y: 42})
	if got != (fixedPoint{X: -5, Y: 42}) {
		t.Fatalf("byteable round trip = %+v", got)
	}
}

type selfCodecValue struct {
	N uint64
}

func (v *selfCodecValue) MarshalBytes(c *Cursor)   { c.WriteU64(v.N) }
func (v *selfCodecValue) UnmarshalBytes(c *Cursor) { v.N = c.ReadU64() }

func TestSelfCodecRoundTrip(t *testing.T) {
	codec := NewSelfCodec[*selfCodecValue](func() *selfCodecValue { return &selfCodecValue{} })
	got := roundTrip[*selfCodecValue](codec, &selfCodecValue{N: 99})
	if got.N != 99 {
		t.Fatalf("self codec round trip = %+v", got)
	}
}
