package fifo

import "github.com/henrikbrixandersen/canopen/internal/crc"

// Fifo is a circular byte buffer staging one in-progress SDO segmented
// or block transfer's payload between frames. Capacity is fixed at
// construction; Write silently stops short once full rather than
// growing, leaving the caller to detect the short write and abort.
type Fifo struct {
	buffer   []byte
	writePos int
	readPos  int
}

// NewFifo allocates a Fifo with room for size-1 bytes (one slot is
// always kept empty to distinguish full from empty without a separate
// counter).
func NewFifo(size uint16) *Fifo {
	return &Fifo{buffer: make([]byte, size)}
}

// Reset empties the buffer, discarding any unread bytes.
func (f *Fifo) Reset() {
	f.readPos = 0
	f.writePos = 0
}

// GetOccupied returns the number of unread bytes currently buffered.
func (f *Fifo) GetOccupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Write appends buffer's bytes, stopping early if the Fifo fills up,
// and returns the number of bytes actually written. When crc is
// non-nil, every written byte is folded into it in the same pass, so a
// CRC-enabled block transfer accumulates its checksum while staging
// the payload instead of walking it a second time afterward.
func (f *Fifo) Write(buffer []byte, crc *crc.CRC16) int {
	writeCounter := 0
	for _, element := range buffer {
		writePosNext := f.writePos + 1
		if writePosNext == f.readPos || (writePosNext == len(f.buffer) && f.readPos == 0) {
			break
		}
		f.buffer[f.writePos] = element
		writeCounter++
		if crc != nil {
			crc.Single(element)
		}
		if writePosNext == len(f.buffer) {
			f.writePos = 0
		} else {
			f.writePos++
		}
	}
	return writeCounter
}

// Read drains up to len(buffer) bytes into buffer and returns the
// number of bytes actually read (fewer than len(buffer) once the Fifo
// empties).
func (f *Fifo) Read(buffer []byte) int {
	readCounter := 0
	for index := range buffer {
		if f.readPos == f.writePos {
			break
		}
		buffer[index] = f.buffer[f.readPos]
		readCounter++
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
	}
	return readCounter
}
