package segmap

import "unsafe"

// Codec is the contract a key or value type must satisfy to be stored in
// a Map, per spec §4.2/§6. Write must advance the cursor by exactly the
// number of bytes it wrote; Read/ReadReusing must advance it by exactly
// the number of bytes they consumed, so Segment can compute how many
// bytes an entry occupies without the codec admitting that directly.
//
// The design notes call for replacing runtime class inspection ("the
// source selects codec subclasses by checking implemented interfaces")
// with explicit registration at build time: there is no reflection
// anywhere in this file. A Builder is handed a concrete Codec[T] value
// (one of the constructors below, or a user type), never a value whose
// codec is chosen by inspecting its runtime type.
type Codec[T any] interface {
	Write(c *Cursor, value T)
	Read(c *Cursor) T
	// ReadReusing decodes into reusable where possible, avoiding an
	// allocation on the read path (spec §4.2). Codecs for types that
	// cannot be decoded in place (e.g. strings) may ignore reusable and
	// behave exactly like Read.
	ReadReusing(c *Cursor, reusable T) T
}

// ---------------------------------------------------------------------
// Fixed-width numeric codecs
// ---------------------------------------------------------------------

type uint32Codec struct{}

// Uint32Codec returns the fixed-4-byte codec for uint32 keys/values.
func Uint32Codec() Codec[uint32] { return uint32Codec{} }

func (uint32Codec) Write(c *Cursor, v uint32)                { c.WriteU32(v) }
func (uint32Codec) Read(c *Cursor) uint32                    { return c.ReadU32() }
func (uint32Codec) ReadReusing(c *Cursor, _ uint32) uint32    { return c.ReadU32() }

type uint64Codec struct{}

// Uint64Codec returns the fixed-8-byte codec for uint64 keys/values (spec
// §4.2 "integer, long").
func Uint64Codec() Codec[uint64] { return uint64Codec{} }

func (uint64Codec) Write(c *Cursor, v uint64)             { c.WriteU64(v) }
func (uint64Codec) Read(c *Cursor) uint64                 { return c.ReadU64() }
func (uint64Codec) ReadReusing(c *Cursor, _ uint64) uint64 { return c.ReadU64() }

type float64Codec struct{}

// Float64Codec returns the fixed-8-byte codec for float64 keys/values.
func Float64Codec() Codec[float64] { return float64Codec{} }

func (float64Codec) Write(c *Cursor, v float64)              { c.WriteF64(v) }
func (float64Codec) Read(c *Cursor) float64                  { return c.ReadF64() }
func (float64Codec) ReadReusing(c *Cursor, _ float64) float64 { return c.ReadF64() }

// ---------------------------------------------------------------------
// Length-prefixed UTF / raw bytes codecs
// ---------------------------------------------------------------------

type stringCodec struct{}

// StringCodec returns the length-prefixed UTF-8 string codec.
func StringCodec() Codec[string] { return stringCodec{} }

func (stringCodec) Write(c *Cursor, v string)              { c.WriteUTF(v) }
func (stringCodec) Read(c *Cursor) string                  { return c.ReadUTF() }
func (stringCodec) ReadReusing(c *Cursor, _ string) string  { return c.ReadUTF() }

type bytesCodec struct{}

// BytesCodec returns the length-prefixed raw []byte codec — the fallback
// "generic-serializing" codec for opaque blobs.
func BytesCodec() Codec[[]byte] { return bytesCodec{} }

func (bytesCodec) Write(c *Cursor, v []byte) {
	c.WriteU32(uint32(len(v)))
	c.WriteBytes(v)
}

func (bytesCodec) Read(c *Cursor) []byte {
	n := int(c.ReadU32())
	return append([]byte(nil), c.ReadBytes(n)...)
}

func (bytesCodec) ReadReusing(c *Cursor, reusable []byte) []byte {
	n := int(c.ReadU32())
	data := c.ReadBytes(n)
	if cap(reusable) >= n {
		reusable = reusable[:n]
		copy(reusable, data)
		return reusable
	}
	return append([]byte(nil), data...)
}

// ---------------------------------------------------------------------
// Byteable-by-layout codec: T's in-memory image equals its on-disk image
// ---------------------------------------------------------------------

// byteableCodec implements the "byteable-by-layout" kind from spec §4.2:
// a caller-defined, fixed-size struct whose on-disk image equals its
// in-memory image. The design notes replace the original system's
// "unsafe allocate-instance of a declared type" with this: the codec
// reads/writes directly through an unsafe.Pointer reinterpretation of
// T's bytes, never allocating beyond the single T value the caller
// already owns. T must be a fixed-size value type containing no
// pointers/slices/strings — the caller is responsible for that
// invariant, same as the source language's unsafe layout cast.
type byteableCodec[T any] struct {
	size int
}

// NewByteableCodec returns a Codec for a fixed-size struct type T whose
// memory layout is the wire format, avoiding both allocation and a
// field-by-field marshal/unmarshal.
func NewByteableCodec[T any]() Codec[T] {
	var zero T
	return byteableCodec[T]{size: int(unsafe.Sizeof(zero))}
}

func (bc byteableCodec[T]) Write(c *Cursor, v T) {
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), bc.size)
	c.WriteBytes(src)
}

func (bc byteableCodec[T]) Read(c *Cursor) T {
	var out T
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&out)), bc.size)
	copy(dst, c.ReadBytes(bc.size))
	return out
}

func (bc byteableCodec[T]) ReadReusing(c *Cursor, reusable T) T {
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&reusable)), bc.size)
	copy(dst, c.ReadBytes(bc.size))
	return reusable
}

// ---------------------------------------------------------------------
// Self-serializing codec: user type implements BytesMarshaller directly
// ---------------------------------------------------------------------

// BytesMarshaller is the "self-serializing" codec kind from spec §4.2,
// consumed from user code per spec §6's Codec interface.
type BytesMarshaller interface {
	MarshalBytes(c *Cursor)
	UnmarshalBytes(c *Cursor)
}

// selfCodec adapts any T that itself implements BytesMarshaller
// (typically a pointer to a struct, with newValue supplying a fresh one
// for reads) into a Codec[T].
type selfCodec[T BytesMarshaller] struct {
	newValue func() T
}

// NewSelfCodec returns a Codec for a user type implementing
// BytesMarshaller. newValue must return a fresh, usable zero value (e.g.
// a pointer to a zeroed struct) for Read to unmarshal into.
func NewSelfCodec[T BytesMarshaller](newValue func() T) Codec[T] {
	return selfCodec[T]{newValue: newValue}
}

func (sc selfCodec[T]) Write(c *Cursor, v T) { v.MarshalBytes(c) }

func (sc selfCodec[T]) Read(c *Cursor) T {
	v := sc.newValue()
	v.UnmarshalBytes(c)
	return v
}

func (sc selfCodec[T]) ReadReusing(c *Cursor, reusable T) T {
	reusable.UnmarshalBytes(c)
	return reusable
}
