package od

// Callback is invoked by the Dictionary around every read/write/set that
// targets an object carrying one. A non-zero return suppresses the
// standard backing-store commit on writes and must set *odr to the CiA
// 301 failure reason; returning 0 with reading=false permits the normal
// commit path to run; returning 0 with reading=true means the callback
// has already populated value itself. The pkg/sdo server is responsible
// for translating a non-zero ODR into the wire-level abort code.
type Callback func(od *Dictionary, object *Object, entry *Entry, reading bool, value []byte, odr *ODR, userData any) int

// Entry is one sub-index of an Object. It is immutable after construction
// except for the bytes it stores.
type Entry struct {
	SubIndex uint8
	Type     uint16
	Bits     uint8
	Attr     Attribute
	Size     int // width in bytes of data/min/max

	data     []byte
	defaults []byte // compile-time default, restored by ResetApplication/ResetCommunication
	min      []byte // nil if unbounded
	max      []byte // nil if unbounded
}

// NewEntry constructs an Entry whose backing storage is initialized to
// initial (copied, and zero-padded/truncated to size bytes). initial also
// becomes the entry's compile-time default for later resets.
func NewEntry(subIndex uint8, dataType uint16, bits uint8, attr Attribute, size int, initial []byte) *Entry {
	e := &Entry{
		SubIndex: subIndex,
		Type:     dataType,
		Bits:     bits,
		Attr:     attr,
		Size:     size,
		data:     make([]byte, size),
		defaults: make([]byte, size),
	}
	copy(e.data, initial)
	copy(e.defaults, initial)
	return e
}

// WithBounds attaches min/max bound buffers (each size bytes) used by
// Dictionary.Write to reject out-of-range values. Either may be nil.
func (e *Entry) WithBounds(min, max []byte) *Entry {
	if min != nil {
		e.min = append([]byte(nil), min...)
	}
	if max != nil {
		e.max = append([]byte(nil), max...)
	}
	return e
}

// Raw returns a copy of the entry's current backing bytes.
func (e *Entry) Raw() []byte {
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out
}

func (e *Entry) setRaw(value []byte) {
	copy(e.data, value)
}
