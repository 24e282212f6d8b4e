package segmap

// EntryHandle is the "entry" argument spec §6's event listener interface
// passes to OnPut/OnGetFound/OnRemove, together with the absolute
// meta/key/value offsets those callbacks name explicitly
// (meta_pos/key_pos/value_pos). It is a thin view over the live region —
// valid only for the duration of the callback, which spec §6 requires to
// run "while the segment lock is held".
type EntryHandle struct {
	store                       *ByteStore
	MetaPos, KeyPos, ValuePos   int
	KeyLen, ValueLen, MetaLen   int
}

// Key returns a zero-copy view of the entry's key bytes.
func (e EntryHandle) Key() []byte { return e.store.ReadBytes(e.KeyPos, e.KeyLen) }

// Value returns a zero-copy view of the entry's current value bytes.
func (e EntryHandle) Value() []byte { return e.store.ReadBytes(e.ValuePos, e.ValueLen) }

// Meta returns a zero-copy view of the entry's meta-data region (empty if
// the map was built with meta_data_bytes=0).
func (e EntryHandle) Meta() []byte {
	if e.MetaLen == 0 {
		return nil
	}
	return e.store.ReadBytes(e.MetaPos, e.MetaLen)
}

// WriteMeta overwrites the entry's meta-data region. Per spec §4.7,
// meta_data_bytes is "writable by listener" — this is the only mutation
// path a listener is meant to use.
func (e EntryHandle) WriteMeta(b []byte) {
	if len(b) > e.MetaLen {
		b = b[:e.MetaLen]
	}
	e.store.WriteBytes(e.MetaPos, b)
}

// EventListener is the observability hook spec §6 exposes to callers.
// Implementations must not re-enter the map: every method runs with the
// owning segment's lock held.
type EventListener interface {
	OnPut(entry EntryHandle, added bool)
	OnGetFound(entry EntryHandle)
	OnGetMissing(key []byte)
	OnRemove(entry EntryHandle)
}

// noopEventListener is the default when a Builder is not given one.
type noopEventListener struct{}

func (noopEventListener) OnPut(EntryHandle, bool)  {}
func (noopEventListener) OnGetFound(EntryHandle)   {}
func (noopEventListener) OnGetMissing([]byte)      {}
func (noopEventListener) OnRemove(EntryHandle)     {}

// ErrorListener is notified when a segment operation fails to acquire its
// lock within the configured deadline (spec §6/§7).
type ErrorListener interface {
	OnLockTimeout(segmentIndex int)
}

type noopErrorListener struct{}

func (noopErrorListener) OnLockTimeout(int) {}
