package od

// ResetRange restores every entry whose object index falls within
// [start, end] (inclusive) to its compile-time default value, bypassing
// callbacks and access checks. This is the privileged path NMT entry
// actions use for ResetApplication (0x2000-0x9FFF) and
// ResetCommunication (0x1000-0x1FFF).
func (d *Dictionary) ResetRange(start, end uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	lo, _ := d.findObjectPos(start)
	for _, obj := range d.objects[lo:] {
		if obj.Index > end {
			break
		}
		for _, entry := range obj.entries {
			copy(entry.data, entry.defaults)
		}
	}
}

// FixupRelative invokes fn for every entry flagged Relative, in object
// order. Per the invariant that a relative entry's canonical storage is
// always the raw (un-resolved) COB-ID and that base+node_id resolution
// happens at the CAN layer, fn is typically a no-op observer; it exists
// so callers (NMT's ResetApplication entry action) have a defined hook
// without the Object Dictionary itself performing node-ID resolution.
func (d *Dictionary) FixupRelative(fn func(obj *Object, entry *Entry)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, obj := range d.objects {
		for _, entry := range obj.entries {
			if entry.Attr.Relative() {
				fn(obj, entry)
			}
		}
	}
}
