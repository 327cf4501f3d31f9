package od

// Access is the 2-bit access-control enum occupying bits[1:0] of an
// Attribute, per the newer of the two diverging drafts found in the
// original source headers.
type Access uint8

const (
	AccessRW    Access = 0 // read/write
	AccessWO    Access = 1 // write only
	AccessRO    Access = 2 // read only
	AccessConst Access = 3 // read only, never changes after ResetCommunication
)

// PDOMappable is the 2-bit PDO-mappability enum occupying bits[3:2] of an
// Attribute. PDO mapping itself is out of scope for this stack, but the
// attribute bit is still carried since it is part of the entry's on-wire
// identity (e.g. exported into an EDS AccessType/PDOMapping pair).
type PDOMappable uint8

const (
	PDONone PDOMappable = 0
	PDORx   PDOMappable = 1 // mappable into an RPDO (device receives)
	PDOTx   PDOMappable = 2 // mappable into a TPDO (device transmits)
	PDOBoth PDOMappable = 3
)

// Attribute packs an entry's access rights, PDO-mappability, and
// relative-COB-ID marker into a single byte:
//
//	bit  0-1: Access
//	bit  2-3: PDOMappable
//	bit  4:   relative (COB-ID entry resolved against node_id)
type Attribute uint8

const (
	attrAccessMask  Attribute = 0x03
	attrPDOShift              = 2
	attrPDOMask     Attribute = 0x03 << attrPDOShift
	attrRelativeBit Attribute = 1 << 4
)

// NewAttribute builds an Attribute byte from its three logical fields.
func NewAttribute(access Access, pdoMappable PDOMappable, relative bool) Attribute {
	a := Attribute(access)&attrAccessMask | (Attribute(pdoMappable)<<attrPDOShift)&attrPDOMask
	if relative {
		a |= attrRelativeBit
	}
	return a
}

func (a Attribute) Access() Access {
	return Access(a & attrAccessMask)
}

func (a Attribute) PDOMappable() PDOMappable {
	return PDOMappable((a & attrPDOMask) >> attrPDOShift)
}

func (a Attribute) Relative() bool {
	return a&attrRelativeBit != 0
}

// WritableByClient reports whether an SDO/application client is allowed
// to write this entry (RW or WO). Const and RO reject client writes with
// ErrReadonly; Set bypasses this check entirely (privileged path).
func (a Attribute) WritableByClient() bool {
	switch a.Access() {
	case AccessRW, AccessWO:
		return true
	default:
		return false
	}
}

// ReadableByClient reports whether a client is allowed to read this entry.
func (a Attribute) ReadableByClient() bool {
	return a.Access() != AccessWO
}
