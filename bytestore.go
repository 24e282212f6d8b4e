package segmap

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ByteStore owns a single contiguous byte region — either a memory-mapped
// file or an anonymous mapping — and exposes bounds-checked little-endian
// primitives plus compareAndSwapLong over it. Every offset is relative to
// the start of this region, never to the start of the file (the caller,
// Map/Segment, translates header and segment offsets into ByteStore
// offsets).
//
// Grounded on phash.go's data []byte field and its direct syscall.Mmap
// calls, generalized to golang.org/x/sys/unix and to an explicit
// bounds-checked cursor API instead of raw slice indexing.
type ByteStore struct {
	data     []byte
	file     *os.File // nil for an anonymous (non-file-backed) store
	growable bool      // true only for in-memory scratch stores (see newScratchByteStore)
}

// newScratchByteStore returns a small in-memory ByteStore that grows on
// demand, used to encode a key or value through its Codec into a plain
// []byte — e.g. so Map can byte-compare a caller's key against what is
// already stored in an entry_arena without needing a second Codec kind
// for "encode to a temporary buffer".
func newScratchByteStore() *ByteStore {
	return &ByteStore{data: make([]byte, 0, 64), growable: true}
}

// Bytes returns the scratch store's written region. Only meaningful for a
// growable store.
func (bs *ByteStore) Bytes() []byte { return bs.data }

// OpenFileByteStore creates (if absent) or truncates a file to exactly
// size bytes and maps it MAP_SHARED so mutations are visible to other
// processes mapping the same file, satisfying spec §1's "may be shared
// between processes".
func OpenFileByteStore(path string, size int64) (*ByteStore, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, newMapError(ErrIoErrorKind, -1, err, "open %s", path)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newMapError(ErrIoErrorKind, -1, err, "stat %s", path)
	}
	if fi.Size() != size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, newMapError(ErrIoErrorKind, -1, err, "truncate %s to %d", path, size)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, newMapError(ErrIoErrorKind, -1, err, "mmap %s", path)
	}

	return &ByteStore{data: data, file: f}, nil
}

// OpenAnonymousByteStore maps size bytes with no backing file, per spec
// §1's "optionally file-backed" — the non-file-backed case. It still goes
// through unix.Mmap (MAP_ANON|MAP_PRIVATE) rather than a plain
// make([]byte, size) so zeroed pages are demand-paged by the OS the same
// way a file mapping's pages would be.
func OpenAnonymousByteStore(size int) (*ByteStore, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, newMapError(ErrIoErrorKind, -1, err, "mmap anonymous region of %d bytes", size)
	}
	return &ByteStore{data: data}, nil
}

// Len returns the region's size in bytes.
func (bs *ByteStore) Len() int { return len(bs.data) }

// Close unmaps the region and, if file-backed, closes (but does not
// remove) the underlying file — per spec §3 Lifecycle, "leaving the file
// intact on disk".
func (bs *ByteStore) Close() error {
	if bs.data == nil {
		return nil
	}
	err := unix.Munmap(bs.data)
	bs.data = nil
	if bs.file != nil {
		if cerr := bs.file.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return newMapError(ErrIoErrorKind, -1, err, "close byte store")
	}
	return nil
}

// Flush asks the OS to write back the [offset, offset+length) range of a
// file-backed store. It is a no-op for anonymous stores.
func (bs *ByteStore) Flush(offset, length int) error {
	if bs.file == nil {
		return nil
	}
	bs.checkBounds(offset, length)
	// msync needs a page-aligned start address; the mapping itself starts
	// on a page boundary, so round offset down to the page that holds it.
	start := offset &^ (os.Getpagesize() - 1)
	if err := unix.Msync(bs.data[start:offset+length], unix.MS_SYNC); err != nil {
		return newMapError(ErrIoErrorKind, -1, err, "msync range [%d,%d)", offset, offset+length)
	}
	return nil
}

func (bs *ByteStore) checkBounds(offset, length int) {
	if offset < 0 || length < 0 {
		panicOutOfBounds(offset+length, len(bs.data))
	}
	if need := offset + length; need > len(bs.data) {
		if !bs.growable {
			panicOutOfBounds(need, len(bs.data))
		}
		bs.data = append(bs.data, make([]byte, need-len(bs.data))...)
	}
}

// ReadU8 / WriteU8

func (bs *ByteStore) ReadU8(offset int) uint8 {
	bs.checkBounds(offset, 1)
	return bs.data[offset]
}

func (bs *ByteStore) WriteU8(offset int, v uint8) {
	bs.checkBounds(offset, 1)
	bs.data[offset] = v
}

// ReadU32 / WriteU32 — always little-endian, regardless of host byte order.

func (bs *ByteStore) ReadU32(offset int) uint32 {
	bs.checkBounds(offset, 4)
	return leUint32(bs.data[offset : offset+4])
}

func (bs *ByteStore) WriteU32(offset int, v uint32) {
	bs.checkBounds(offset, 4)
	lePutUint32(bs.data[offset:offset+4], v)
}

// ReadU64 / WriteU64

func (bs *ByteStore) ReadU64(offset int) uint64 {
	bs.checkBounds(offset, 8)
	return leUint64(bs.data[offset : offset+8])
}

func (bs *ByteStore) WriteU64(offset int, v uint64) {
	bs.checkBounds(offset, 8)
	lePutUint64(bs.data[offset:offset+8], v)
}

// ReadF64 / WriteF64

func (bs *ByteStore) ReadF64(offset int) float64 {
	return float64frombits(bs.ReadU64(offset))
}

func (bs *ByteStore) WriteF64(offset int, v float64) {
	bs.WriteU64(offset, float64bits(v))
}

// ReadBytes returns a zero-copy view of [offset, offset+n) into the
// region. Callers that hand this slice to user code (codecs, listeners)
// after releasing the segment lock must copy it first.
func (bs *ByteStore) ReadBytes(offset, n int) []byte {
	bs.checkBounds(offset, n)
	return bs.data[offset : offset+n]
}

// CopyBytes reads n bytes starting at offset into a freshly allocated
// slice, safe to retain past the segment lock's release.
func (bs *ByteStore) CopyBytes(offset, n int) []byte {
	out := make([]byte, n)
	copy(out, bs.ReadBytes(offset, n))
	return out
}

// WriteBytes copies b into the region starting at offset.
func (bs *ByteStore) WriteBytes(offset int, b []byte) {
	bs.checkBounds(offset, len(b))
	copy(bs.data[offset:offset+len(b)], b)
}

// WriteUTF writes a length-prefixed (uint32 count of bytes) UTF-8 string
// and returns the number of bytes written, including the prefix.
func (bs *ByteStore) WriteUTF(offset int, s string) int {
	bs.WriteU32(offset, uint32(len(s)))
	bs.WriteBytes(offset+4, []byte(s))
	return 4 + len(s)
}

// ReadUTF reads a length-prefixed UTF-8 string written by WriteUTF and
// returns it along with the number of bytes consumed, including the
// prefix.
func (bs *ByteStore) ReadUTF(offset int) (string, int) {
	n := int(bs.ReadU32(offset))
	b := bs.ReadBytes(offset+4, n)
	return string(b), 4 + n
}

// CompareAndSwapU64 atomically swaps the 8 bytes at offset from expect to
// update, returning whether the swap occurred. offset must be 8-byte
// aligned: the sizer guarantees this for every lock_word and size_counter
// location it hands out.
func (bs *ByteStore) CompareAndSwapU64(offset int, expect, update uint64) bool {
	bs.checkBounds(offset, 8)
	ptr := (*uint64)(unsafe.Pointer(&bs.data[offset]))
	return atomic.CompareAndSwapUint64(ptr, expect, update)
}

// AtomicLoadU64 / AtomicStoreU64 provide the acquire/release pair the
// concurrency model requires at the publication boundary between an
// entry's bytes and its hash_lookup slot (spec §5 Memory ordering).
func (bs *ByteStore) AtomicLoadU64(offset int) uint64 {
	bs.checkBounds(offset, 8)
	ptr := (*uint64)(unsafe.Pointer(&bs.data[offset]))
	return atomic.LoadUint64(ptr)
}

func (bs *ByteStore) AtomicStoreU64(offset int, v uint64) {
	bs.checkBounds(offset, 8)
	ptr := (*uint64)(unsafe.Pointer(&bs.data[offset]))
	atomic.StoreUint64(ptr, v)
}

// AtomicAddU64 is used by the segment's size_counter, which writers
// update under the segment's write lock but readers (Map.Size) peek at
// without taking any lock (spec §4.6: "not locked; an eventually
// consistent snapshot").
func (bs *ByteStore) AtomicAddU64(offset int, delta int64) uint64 {
	bs.checkBounds(offset, 8)
	ptr := (*uint64)(unsafe.Pointer(&bs.data[offset]))
	return atomic.AddUint64(ptr, uint64(delta))
}

// AtomicAddU32, AtomicLoadU32 and AtomicCompareAndSwapU32 are the 32-bit
// counterparts of the atomics above. The segment lock word (lock.go) uses
// only the 64-bit operations.
func (bs *ByteStore) AtomicAddU32(offset int, delta int32) uint32 {
	bs.checkBounds(offset, 4)
	ptr := (*uint32)(unsafe.Pointer(&bs.data[offset]))
	return atomic.AddUint32(ptr, uint32(delta))
}

func (bs *ByteStore) AtomicLoadU32(offset int) uint32 {
	bs.checkBounds(offset, 4)
	ptr := (*uint32)(unsafe.Pointer(&bs.data[offset]))
	return atomic.LoadUint32(ptr)
}

func (bs *ByteStore) AtomicCompareAndSwapU32(offset int, expect, update uint32) bool {
	bs.checkBounds(offset, 4)
	ptr := (*uint32)(unsafe.Pointer(&bs.data[offset]))
	return atomic.CompareAndSwapUint32(ptr, expect, update)
}

// Cursor is a bounds-checked write/read position into a ByteStore, handed
// to user-supplied codecs per the Codec interface in spec §4.2/§6: "write
// must advance cursor by the number of bytes written". Every Write*/Read*
// method advances Pos by the number of bytes transferred.
type Cursor struct {
	Store *ByteStore
	Pos   int
}

func (c *Cursor) WriteU32(v uint32) {
	c.Store.WriteU32(c.Pos, v)
	c.Pos += 4
}

func (c *Cursor) ReadU32() uint32 {
	v := c.Store.ReadU32(c.Pos)
	c.Pos += 4
	return v
}

func (c *Cursor) WriteU64(v uint64) {
	c.Store.WriteU64(c.Pos, v)
	c.Pos += 8
}

func (c *Cursor) ReadU64() uint64 {
	v := c.Store.ReadU64(c.Pos)
	c.Pos += 8
	return v
}

func (c *Cursor) WriteF64(v float64) {
	c.Store.WriteF64(c.Pos, v)
	c.Pos += 8
}

func (c *Cursor) ReadF64() float64 {
	v := c.Store.ReadF64(c.Pos)
	c.Pos += 8
	return v
}

func (c *Cursor) WriteBytes(b []byte) {
	c.Store.WriteBytes(c.Pos, b)
	c.Pos += len(b)
}

func (c *Cursor) ReadBytes(n int) []byte {
	b := c.Store.ReadBytes(c.Pos, n)
	c.Pos += n
	return b
}

func (c *Cursor) WriteUTF(s string) {
	c.Pos += c.Store.WriteUTF(c.Pos, s)
}

func (c *Cursor) ReadUTF() string {
	s, n := c.Store.ReadUTF(c.Pos)
	c.Pos += n
	return s
}

func (c *Cursor) String() string {
	return fmt.Sprintf("cursor@%d", c.Pos)
}
