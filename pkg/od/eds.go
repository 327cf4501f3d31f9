package od

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/ini.v1"
)

// ExportEDS serializes the Object Dictionary to the CiA 306 Electronic
// Data Sheet ini format. Sections are named by hex index ("1018"), with
// "<index>sub<n>" sections for every sub-index (including sub-index 0) of
// a multi-entry object, matching the convention readable by standard CANopen
// configuration tools.
func (d *Dictionary) ExportEDS() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	file := ini.Empty()
	for _, obj := range d.objects {
		if obj.SubCount() == 1 {
			section, err := file.NewSection(strconv.FormatUint(uint64(obj.Index), 16))
			if err != nil {
				return nil, err
			}
			if err := populateSection(section, obj.Name, obj.entries[0]); err != nil {
				return nil, fmt.Errorf("od: export 0x%04X: %w", obj.Index, err)
			}
			continue
		}
		header, err := file.NewSection(strconv.FormatUint(uint64(obj.Index), 16))
		if err != nil {
			return nil, err
		}
		if _, err := header.NewKey("ParameterName", obj.Name); err != nil {
			return nil, err
		}
		if _, err := header.NewKey("SubNumber", "0x"+strconv.FormatUint(uint64(obj.SubCount()), 16)); err != nil {
			return nil, err
		}
		for _, entry := range obj.entries {
			name := strconv.FormatUint(uint64(obj.Index), 16) + "sub" + strconv.FormatUint(uint64(entry.SubIndex), 16)
			section, err := file.NewSection(name)
			if err != nil {
				return nil, err
			}
			if err := populateSection(section, fmt.Sprintf("%s sub%d", obj.Name, entry.SubIndex), entry); err != nil {
				return nil, fmt.Errorf("od: export 0x%04X:%02X: %w", obj.Index, entry.SubIndex, err)
			}
		}
	}

	var buf []byte
	writer := &byteSliceWriter{&buf}
	if _, err := file.WriteTo(writer); err != nil {
		return nil, err
	}
	return buf, nil
}

var (
	matchIndexSection    = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
	matchSubIndexSection = regexp.MustCompile(`^([0-9A-Fa-f]{4})sub([0-9A-Fa-f]+)$`)
)

// ImportEDS parses data as a CiA 306 EDS file and applies every
// DefaultValue it finds to the matching, already-registered entry (by
// index, or "<index>sub<n>" for a multi-entry object's sub-indices).
// Unlike ExportEDS's counterpart, ImportEDS never creates objects or
// entries: the Dictionary's shape is fixed at program start via
// AddVariable/AddArray, so a section naming an index or sub-index this
// Dictionary does not carry is skipped rather than treated as an error,
// matching how a device ignores EDS sections outside its own profile.
func (d *Dictionary) ImportEDS(data []byte) error {
	file, err := ini.Load(data)
	if err != nil {
		return fmt.Errorf("od: parse EDS: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, section := range file.Sections() {
		name := section.Name()
		var index uint64
		var subIndex uint64
		switch {
		case matchIndexSection.MatchString(name):
			index, err = strconv.ParseUint(name, 16, 16)
			if err != nil {
				continue
			}
		case matchSubIndexSection.MatchString(name):
			m := matchSubIndexSection.FindStringSubmatch(name)
			index, err = strconv.ParseUint(m[1], 16, 16)
			if err != nil {
				continue
			}
			subIndex, err = strconv.ParseUint(m[2], 16, 8)
			if err != nil {
				continue
			}
		default:
			continue
		}

		key, err := section.GetKey("DefaultValue")
		if err != nil {
			continue
		}
		h := d.findLocked(uint16(index), uint8(subIndex))
		if !h.Valid() {
			continue
		}
		_, entry := d.resolve(h)
		value, err := parseDefaultValue(key.String(), entry.Size)
		if err != nil {
			return fmt.Errorf("od: import 0x%04Xsub%d: %w", index, subIndex, err)
		}
		if _, err := d.SetByHandleUnlocked(h, value); err != nil {
			return fmt.Errorf("od: import 0x%04Xsub%d: %w", index, subIndex, err)
		}
	}
	return nil
}

// parseDefaultValue decodes an EDS DefaultValue string ("0x..." hex or
// plain decimal) into a little-endian buffer of size bytes.
func parseDefaultValue(raw string, size int) ([]byte, error) {
	value, err := strconv.ParseUint(raw, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DefaultValue %q: %w", raw, err)
	}
	buf := make([]byte, size)
	for i := 0; i < size; i++ {
		buf[i] = byte(value >> (8 * i))
	}
	return buf, nil
}

func populateSection(section *ini.Section, name string, entry *Entry) error {
	if _, err := section.NewKey("ParameterName", name); err != nil {
		return err
	}
	if _, err := section.NewKey("DataType", "0x"+strconv.FormatUint(uint64(entry.Type), 16)); err != nil {
		return err
	}
	if _, err := section.NewKey("AccessType", accessTypeString(entry.Attr)); err != nil {
		return err
	}
	value := uint64(0)
	for i := len(entry.data) - 1; i >= 0; i-- {
		value = value<<8 | uint64(entry.data[i])
	}
	_, err := section.NewKey("DefaultValue", "0x"+strconv.FormatUint(value, 16))
	return err
}

func accessTypeString(a Attribute) string {
	switch a.Access() {
	case AccessRO, AccessConst:
		return "ro"
	case AccessWO:
		return "wo"
	default:
		return "rw"
	}
}

// byteSliceWriter adapts a growable []byte to io.Writer without pulling in
// bytes.Buffer just for this one accumulation.
type byteSliceWriter struct {
	buf *[]byte
}

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
