package od

import "encoding/binary"

// Typed wrappers validate the entry's declared CiA 301 data type before
// delegating to the generic byte-oriented Read/Write/Set. A declared-type
// mismatch is reported as ErrTypeMismatch. A width mismatch (entry stored
// at the wrong byte count for its own declared type) is reported as
// ErrDataLong/Short only by the Write wrappers, via Write's checkWidth
// path; the Read and Set wrappers do not check width.

func (d *Dictionary) typeOf(index uint16, subIndex uint8) (uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.findLocked(index, subIndex)
	_, entry := d.resolve(h)
	if entry == nil {
		return 0, false
	}
	return entry.Type, true
}

func (d *Dictionary) ReadUint8(index uint16, subIndex uint8) (uint8, ODR, error) {
	if t, ok := d.typeOf(index, subIndex); ok && t != Unsigned8 {
		return 0, ErrTypeMismatch, ErrInvalidArgument
	}
	raw, odr, err := d.Read(index, subIndex)
	if err != nil {
		return 0, odr, err
	}
	return raw[0], ErrNo, nil
}

func (d *Dictionary) ReadUint16(index uint16, subIndex uint8) (uint16, ODR, error) {
	if t, ok := d.typeOf(index, subIndex); ok && t != Unsigned16 {
		return 0, ErrTypeMismatch, ErrInvalidArgument
	}
	raw, odr, err := d.Read(index, subIndex)
	if err != nil {
		return 0, odr, err
	}
	return binary.LittleEndian.Uint16(raw), ErrNo, nil
}

func (d *Dictionary) ReadUint32(index uint16, subIndex uint8) (uint32, ODR, error) {
	if t, ok := d.typeOf(index, subIndex); ok && t != Unsigned32 {
		return 0, ErrTypeMismatch, ErrInvalidArgument
	}
	raw, odr, err := d.Read(index, subIndex)
	if err != nil {
		return 0, odr, err
	}
	return binary.LittleEndian.Uint32(raw), ErrNo, nil
}

func (d *Dictionary) WriteUint32(index uint16, subIndex uint8, value uint32) (ODR, error) {
	if t, ok := d.typeOf(index, subIndex); ok && t != Unsigned32 {
		return ErrTypeMismatch, ErrInvalidArgument
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	return d.Write(index, subIndex, buf)
}

func (d *Dictionary) SetUint32(index uint16, subIndex uint8, value uint32) (ODR, error) {
	if t, ok := d.typeOf(index, subIndex); ok && t != Unsigned32 {
		return ErrTypeMismatch, ErrInvalidArgument
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	return d.Set(index, subIndex, buf)
}

func (d *Dictionary) SetUint8(index uint16, subIndex uint8, value uint8) (ODR, error) {
	if t, ok := d.typeOf(index, subIndex); ok && t != Unsigned8 {
		return ErrTypeMismatch, ErrInvalidArgument
	}
	return d.Set(index, subIndex, []byte{value})
}
