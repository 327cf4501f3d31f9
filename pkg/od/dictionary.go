// Package od implements the CANopen Object Dictionary: a static, sorted
// registry of objects (by 16-bit index), each holding sorted entries (by
// 8-bit sub-index), with typed access, per-object callbacks, and an
// opaque handle for O(1) re-resolution.
package od

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrInvalidArgument is returned for programmer errors: null/invalid
// handles, out-of-range indices, mismatched buffer widths supplied by the
// caller. It never carries an ODR classification of its own; the
// accompanying ODR return value does that.
var ErrInvalidArgument = errors.New("od: invalid argument")

// Dictionary is the Object Dictionary. Objects are kept sorted and unique
// by Index at all times; the only structural mutation after initial
// construction is adding more objects/entries via the builder methods,
// which is expected to happen once at program start.
type Dictionary struct {
	mu      sync.Mutex
	objects []*Object
	logger  *slog.Logger
}

// New constructs an empty Dictionary. A nil logger defaults to
// slog.Default().
func New(logger *slog.Logger) *Dictionary {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dictionary{logger: logger}
}

func (d *Dictionary) findObjectPos(index uint16) (int, bool) {
	lo, hi := 0, len(d.objects)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case d.objects[mid].Index == index:
			return mid, true
		case d.objects[mid].Index < index:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// AddObject registers a new, empty Object at index. It is a builder
// operation: callers add entries with AddVariable/AddArray afterwards.
func (d *Dictionary) AddObject(index uint16, name string) (*Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pos, found := d.findObjectPos(index)
	if found {
		return nil, fmt.Errorf("od: object 0x%04X already exists: %w", index, ErrInvalidArgument)
	}
	obj := &Object{Index: index, Name: name}
	d.objects = append(d.objects, nil)
	copy(d.objects[pos+1:], d.objects[pos:])
	d.objects[pos] = obj
	return obj, nil
}

// objectAt returns the object registered at index, creating it with name
// if absent (name is ignored if the object already exists).
func (d *Dictionary) objectAt(index uint16, name string) *Object {
	pos, found := d.findObjectPos(index)
	if found {
		return d.objects[pos]
	}
	obj := &Object{Index: index, Name: name}
	d.objects = append(d.objects, nil)
	copy(d.objects[pos+1:], d.objects[pos:])
	d.objects[pos] = obj
	return obj
}

// AddVariable adds a single-entry (VAR) object at index, sub-index 0.
func (d *Dictionary) AddVariable(index uint16, name string, dataType uint16, bits uint8, attr Attribute, size int, initial []byte) (*Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj := d.objectAt(index, name)
	entry := NewEntry(0, dataType, bits, attr, size, initial)
	if !obj.insertEntry(entry) {
		return nil, fmt.Errorf("od: entry 0x%04X:00 already exists: %w", index, ErrInvalidArgument)
	}
	return entry, nil
}

// ArrayMember describes one non-zero sub-index to be added by AddArray.
type ArrayMember struct {
	DataType uint16
	Bits     uint8
	Attr     Attribute
	Size     int
	Initial  []byte
}

// AddArray adds a multi-entry object at index: a sub-index 0 entry of
// type Unsigned8 holding len(members) (the highest supported sub-index),
// followed by one entry per member starting at sub-index 1. This
// satisfies the invariant that any object with non-zero sub-indices
// exposes a sub-index-0 entry reporting the count.
func (d *Dictionary) AddArray(index uint16, name string, members []ArrayMember) (*Object, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj := d.objectAt(index, name)
	countEntry := NewEntry(0, Unsigned8, 8, NewAttribute(AccessRO, PDONone, false), 1, []byte{byte(len(members))})
	if !obj.insertEntry(countEntry) {
		return nil, fmt.Errorf("od: entry 0x%04X:00 already exists: %w", index, ErrInvalidArgument)
	}
	for i, m := range members {
		entry := NewEntry(uint8(i+1), m.DataType, m.Bits, m.Attr, m.Size, m.Initial)
		if !obj.insertEntry(entry) {
			return nil, fmt.Errorf("od: entry 0x%04X:%02X already exists: %w", index, i+1, ErrInvalidArgument)
		}
	}
	return obj, nil
}

// Lock acquires the Dictionary's coarse mutex for a multi-access critical
// section spanning more than one *_unlocked call.
func (d *Dictionary) Lock() { d.mu.Lock() }

// Unlock releases the lock acquired by Lock.
func (d *Dictionary) Unlock() { d.mu.Unlock() }

// Find performs the (object_idx, subindex) -> Handle lookup by binary
// search. It never fails: a total miss returns ZeroHandle, a partial
// match (object exists, sub-index does not) sets only the object-valid
// bit.
func (d *Dictionary) Find(index uint16, subIndex uint8) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findLocked(index, subIndex)
}

func (d *Dictionary) findLocked(index uint16, subIndex uint8) Handle {
	objPos, found := d.findObjectPos(index)
	if !found {
		return ZeroHandle
	}
	entryPos, found := d.objects[objPos].findEntryPos(subIndex)
	if !found {
		return makeHandle(objPos, true, 0, false)
	}
	return makeHandle(objPos, true, entryPos, true)
}

// resolve returns the object/entry a handle refers to. Both may be nil if
// the corresponding validity bit is clear, or if the handle is stale with
// respect to a Dictionary whose shape has since grown (object/entry
// positions are only valid for the Dictionary that produced the handle).
func (d *Dictionary) resolve(h Handle) (*Object, *Entry) {
	var obj *Object
	if h.ObjectValid() {
		pos := h.objectPos()
		if pos < len(d.objects) {
			obj = d.objects[pos]
		}
	}
	var entry *Entry
	if obj != nil && h.EntryValid() {
		pos := h.entryPos()
		if pos < len(obj.entries) {
			entry = obj.entries[pos]
		}
	}
	return obj, entry
}

// Index recovers the CANopen 16-bit index a handle refers to, in O(1).
// Returns false if the handle's object is not valid.
func (d *Dictionary) Index(h Handle) (uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	obj, _ := d.resolve(h)
	if obj == nil {
		return 0, false
	}
	return obj.Index, true
}

// SubIndex recovers the CANopen 8-bit sub-index a handle refers to, in
// O(1). Returns false if the handle's entry is not valid.
func (d *Dictionary) SubIndex(h Handle) (uint8, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, entry := d.resolve(h)
	if entry == nil {
		return 0, false
	}
	return entry.SubIndex, true
}

// FindByHandle re-resolves subIndex within the object h already refers
// to: it skips the object binary search Find would otherwise redo, since
// h already pins the object position, and only binary-searches that
// object's entries. The returned handle's
// object-valid bit matches h's; EntryValid reflects whether subIndex
// exists on that object.
func (d *Dictionary) FindByHandle(h Handle, subIndex uint8) Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !h.ObjectValid() {
		return ZeroHandle
	}
	obj, _ := d.resolve(h)
	if obj == nil {
		return ZeroHandle
	}
	entryPos, found := obj.findEntryPos(subIndex)
	if !found {
		return makeHandle(h.objectPos(), true, 0, false)
	}
	return makeHandle(h.objectPos(), true, entryPos, true)
}

// Type recovers the entry's CANopen data type code, in O(1). Returns
// false if the handle's entry is not valid.
func (d *Dictionary) Type(h Handle) (uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, entry := d.resolve(h)
	if entry == nil {
		return 0, false
	}
	return entry.Type, true
}

// Bits recovers the entry's bit width, in O(1). Returns false if the
// handle's entry is not valid.
func (d *Dictionary) Bits(h Handle) (uint8, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, entry := d.resolve(h)
	if entry == nil {
		return 0, false
	}
	return entry.Bits, true
}

// Size recovers the entry's backing-storage width in bytes, in O(1).
// Returns false if the handle's entry is not valid.
func (d *Dictionary) Size(h Handle) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, entry := d.resolve(h)
	if entry == nil {
		return 0, false
	}
	return entry.Size, true
}

// Attr recovers the entry's Attribute byte, in O(1). Returns false if
// the handle's entry is not valid.
func (d *Dictionary) Attr(h Handle) (Attribute, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, entry := d.resolve(h)
	if entry == nil {
		return 0, false
	}
	return entry.Attr, true
}

// --- set: privileged write bypassing access-attribute checks ---

// SetByHandleUnlocked writes value into the entry h refers to, bypassing
// the access-attribute check (used for privileged internal updates such
// as reset-to-defaults). The caller must already hold the lock.
func (d *Dictionary) SetByHandleUnlocked(h Handle, value []byte) (ODR, error) {
	obj, entry := d.resolve(h)
	if obj == nil {
		return ErrIdxNotExist, fmt.Errorf("od: no such object: %w", ErrInvalidArgument)
	}
	if entry == nil {
		return ErrSubNotExist, fmt.Errorf("od: no such sub-index: %w", ErrInvalidArgument)
	}
	return d.commit(obj, entry, value, false)
}

// SetByHandle is the locking counterpart of SetByHandleUnlocked.
func (d *Dictionary) SetByHandle(h Handle, value []byte) (ODR, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.SetByHandleUnlocked(h, value)
}

// Set resolves (index, subIndex) and writes value, bypassing access
// checks.
func (d *Dictionary) Set(index uint16, subIndex uint8, value []byte) (ODR, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.findLocked(index, subIndex)
	return d.SetByHandleUnlocked(h, value)
}

// --- write: client write, honoring access attribute and bounds ---

// WriteByHandleUnlocked is like SetByHandleUnlocked but additionally
// rejects entries whose Access excludes client writes (RO, Const) and
// enforces min/max bounds and width consistency. The caller must already
// hold the lock.
func (d *Dictionary) WriteByHandleUnlocked(h Handle, value []byte) (ODR, error) {
	obj, entry := d.resolve(h)
	if obj == nil {
		return ErrIdxNotExist, fmt.Errorf("od: no such object: %w", ErrInvalidArgument)
	}
	if entry == nil {
		return ErrSubNotExist, fmt.Errorf("od: no such sub-index: %w", ErrInvalidArgument)
	}
	if !entry.Attr.WritableByClient() {
		return ErrReadonly, fmt.Errorf("od: entry is read-only: %w", ErrInvalidArgument)
	}
	if odr := checkWidth(entry, len(value)); odr != ErrNo {
		return odr, fmt.Errorf("od: width mismatch: %w", ErrInvalidArgument)
	}
	if entry.min != nil && compareBytes(value, entry.min) < 0 {
		return ErrValueLow, fmt.Errorf("od: value below minimum: %w", ErrInvalidArgument)
	}
	if entry.max != nil && compareBytes(value, entry.max) > 0 {
		return ErrValueHigh, fmt.Errorf("od: value above maximum: %w", ErrInvalidArgument)
	}
	return d.commit(obj, entry, value, false)
}

// WriteByHandle is the locking counterpart of WriteByHandleUnlocked.
func (d *Dictionary) WriteByHandle(h Handle, value []byte) (ODR, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.WriteByHandleUnlocked(h, value)
}

// Write resolves (index, subIndex) and performs a checked client write.
func (d *Dictionary) Write(index uint16, subIndex uint8, value []byte) (ODR, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.findLocked(index, subIndex)
	return d.WriteByHandleUnlocked(h, value)
}

// --- read ---

// ReadByHandleUnlocked reads the entry h refers to into a fresh buffer,
// rejecting write-only entries. The caller must already hold the lock.
func (d *Dictionary) ReadByHandleUnlocked(h Handle) ([]byte, ODR, error) {
	obj, entry := d.resolve(h)
	if obj == nil {
		return nil, ErrIdxNotExist, fmt.Errorf("od: no such object: %w", ErrInvalidArgument)
	}
	if entry == nil {
		return nil, ErrSubNotExist, fmt.Errorf("od: no such sub-index: %w", ErrInvalidArgument)
	}
	if !entry.Attr.ReadableByClient() {
		return nil, ErrWriteOnly, fmt.Errorf("od: entry is write-only: %w", ErrInvalidArgument)
	}
	value := entry.Raw()
	if obj.Callback != nil {
		odr := ErrNo
		ret := obj.Callback(d, obj, entry, true, value, &odr, obj.UserData)
		if ret != 0 {
			return nil, odr, fmt.Errorf("od: callback rejected read: %w", ErrInvalidArgument)
		}
	}
	return value, ErrNo, nil
}

// ReadByHandle is the locking counterpart of ReadByHandleUnlocked.
func (d *Dictionary) ReadByHandle(h Handle) ([]byte, ODR, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ReadByHandleUnlocked(h)
}

// Read resolves (index, subIndex) and performs a checked client read.
func (d *Dictionary) Read(index uint16, subIndex uint8) ([]byte, ODR, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.findLocked(index, subIndex)
	return d.ReadByHandleUnlocked(h)
}

// --- callback registration ---

// SetCallback installs the per-object callback and its user-data under
// the Dictionary lock. May be called at any time after the object exists.
func (d *Dictionary) SetCallback(index uint16, cb Callback, userData any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pos, found := d.findObjectPos(index)
	if !found {
		return fmt.Errorf("od: object 0x%04X does not exist: %w", index, ErrInvalidArgument)
	}
	d.objects[pos].Callback = cb
	d.objects[pos].UserData = userData
	return nil
}

// --- iteration ---

// ForeachEntry visits every entry in (object index ascending, sub-index
// ascending) order. cb returning non-zero terminates the walk early with
// that value; ForeachEntry returns it. A complete walk returns 0.
func (d *Dictionary) ForeachEntry(cb func(h Handle, obj *Object, entry *Entry) int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	for objPos, obj := range d.objects {
		for entryPos, entry := range obj.entries {
			if ret := cb(makeHandle(objPos, true, entryPos, true), obj, entry); ret != 0 {
				return ret
			}
		}
	}
	return 0
}

// commit applies the callback (if any) and, absent rejection, writes
// value into entry's backing storage. Shared by Set*/Write* once
// access-level checks have already passed.
func (d *Dictionary) commit(obj *Object, entry *Entry, value []byte, reading bool) (ODR, error) {
	if obj.Callback != nil {
		odr := ErrNo
		ret := obj.Callback(d, obj, entry, reading, value, &odr, obj.UserData)
		if ret != 0 {
			return odr, fmt.Errorf("od: callback rejected write: %w", ErrInvalidArgument)
		}
	}
	entry.setRaw(value)
	return ErrNo, nil
}

func checkWidth(entry *Entry, n int) ODR {
	switch {
	case n == entry.Size:
		return ErrNo
	case n > entry.Size:
		return ErrDataLong
	default:
		return ErrDataShort
	}
}

func compareBytes(a, b []byte) int {
	// Both operands are little-endian fixed-width unsigned magnitudes of
	// equal length (already validated by checkWidth before bound checks
	// run); compare most-significant byte first.
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
