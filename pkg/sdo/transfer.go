package sdo

import (
	"encoding/binary"

	"github.com/henrikbrixandersen/canopen/internal/crc"
	"github.com/henrikbrixandersen/canopen/pkg/abort"
	"github.com/henrikbrixandersen/canopen/pkg/can"
)

// handleInitiateDownload dispatches CCS=1. Expedited requests (e=1)
// commit the inlined 1-4 bytes directly; non-expedited requests begin a
// segmented Download transfer.
func (s *Server) handleInitiateDownload(frame can.Frame) {
	s.index, s.subIndex = indexSub(frame)
	flags := frame.Data[0]
	expedited := flags&0x02 != 0
	sizeIndicated := flags&0x01 != 0

	if expedited {
		n := (flags >> 2) & 0x03
		size := 4
		if sizeIndicated {
			size = 4 - int(n)
		}
		value := append([]byte(nil), frame.Data[4:4+size]...)
		if odr, err := s.dict.Write(s.index, s.subIndex, value); err != nil {
			s.abortTransfer(abort.FromODR(odr))
			return
		}
		s.sendInitiateDownloadResponse()
		return
	}

	s.st = stateDownload
	s.toggle = 0
	s.buf.Reset()
	s.sizeKnown = sizeIndicated
	if sizeIndicated {
		s.remaining = binary.LittleEndian.Uint32(frame.Data[4:8])
	} else {
		s.remaining = 0
	}
	s.sendInitiateDownloadResponse()
}

func (s *Server) sendInitiateDownloadResponse() {
	s.sendIndexed(scsInitiateDownload, byte(s.index), byte(s.index>>8), s.subIndex, 0, 0, 0, 0)
}

// handleDownloadSegment dispatches CCS=0, legal only while in Download.
func (s *Server) handleDownloadSegment(frame can.Frame) {
	if s.st != stateDownload {
		s.abortTransfer(abort.CommandSpecifierNotValid)
		return
	}
	flags := frame.Data[0]
	toggle := (flags >> 4) & 0x01
	if toggle != s.toggle {
		s.abortTransfer(abort.ToggleBitNotAlternated)
		return
	}
	last := flags&0x01 != 0
	n := (flags >> 1) & 0x07 // number of unused bytes in this 7-byte segment
	count := 7 - int(n)
	if s.buf.Write(frame.Data[1:1+count], nil) != count {
		s.abortTransfer(abort.OutOfMemory)
		return
	}

	if last {
		size := s.buf.GetOccupied()
		value := make([]byte, size)
		s.buf.Read(value)
		if odr, err := s.dict.Write(s.index, s.subIndex, value); err != nil {
			s.abortTransfer(abort.FromODR(odr))
			return
		}
		s.st = stateIdle
	}

	s.sendIndexed(scsDownloadSegment, toggle<<4, 0, 0, 0, 0, 0, 0)
	s.toggle ^= 1
}

// handleInitiateUpload dispatches CCS=2: read the target entry and reply
// expedited if it fits in 4 bytes, else begin a segmented Upload.
func (s *Server) handleInitiateUpload(frame can.Frame) {
	s.index, s.subIndex = indexSub(frame)
	value, odr, err := s.dict.Read(s.index, s.subIndex)
	if err != nil {
		s.abortTransfer(abort.FromODR(odr))
		return
	}

	if len(value) <= 4 {
		n := 4 - len(value)
		var payload [4]byte
		copy(payload[:], value)
		flags := (scsInitiateUpload << 5) | byte(n<<2) | 0x02 | 0x01
		s.sendRawInitiateUploadExpedited(flags, payload, value)
		return
	}

	s.st = stateUpload
	s.toggle = 0
	s.buf.Reset()
	s.buf.Write(value, nil)
	s.remaining = uint32(len(value))

	var data [8]byte
	data[0] = (scsInitiateUpload << 5) | 0x01 // size indicated, not expedited
	data[1] = byte(s.index)
	data[2] = byte(s.index >> 8)
	data[3] = s.subIndex
	binary.LittleEndian.PutUint32(data[4:8], s.remaining)
	s.sendRaw(data)
}

// sendRawInitiateUploadExpedited sends an expedited Initiate Upload
// response: the pre-packed flags byte, the index/sub-index, and the
// value's bytes in data[4:].
func (s *Server) sendRawInitiateUploadExpedited(flags byte, payload [4]byte, value []byte) {
	var data [8]byte
	data[0] = flags
	data[1] = byte(s.index)
	data[2] = byte(s.index >> 8)
	data[3] = s.subIndex
	copy(data[4:4+len(value)], payload[:len(value)])
	s.sendRaw(data)
}

// handleUploadSegment dispatches CCS=3, legal only while in Upload.
func (s *Server) handleUploadSegment(frame can.Frame) {
	if s.st != stateUpload {
		s.abortTransfer(abort.CommandSpecifierNotValid)
		return
	}
	toggle := (frame.Data[0] >> 4) & 0x01
	if toggle != s.toggle {
		s.abortTransfer(abort.ToggleBitNotAlternated)
		return
	}

	occupied := s.buf.GetOccupied()
	count := occupied
	if count > 7 {
		count = 7
	}
	var segment [7]byte
	s.buf.Read(segment[:count])
	last := s.buf.GetOccupied() == 0
	n := 7 - count

	var data [8]byte
	data[0] = (scsUploadSegment << 5) | (toggle << 4) | byte(n<<1)
	if last {
		data[0] |= 0x01
	}
	copy(data[1:1+count], segment[:count])
	s.sendRaw(data)

	s.toggle ^= 1
	if last {
		s.st = stateIdle
	}
}

// handleBlockDownload dispatches CCS=6: sub-command 0 initiates, 1 ends.
// Data sub-blocks carry no command specifier; they are recognized by
// being in stateBlockDownload already.
func (s *Server) handleBlockDownload(frame can.Frame) {
	if s.st == stateBlockDownload {
		s.handleBlockDownloadSegment(frame)
		return
	}
	sub := frame.Data[0] & 0x01
	switch sub {
	case blockSubCommandInitiate:
		s.handleBlockDownloadInitiate(frame)
	case blockSubCommandEnd:
		s.handleBlockDownloadEnd(frame)
	default:
		s.abortTransfer(abort.CommandSpecifierNotValid)
	}
}

func (s *Server) handleBlockDownloadInitiate(frame can.Frame) {
	s.index, s.subIndex = indexSub(frame)
	s.blockCRCEnabled = frame.Data[0]&0x04 != 0
	sizeIndicated := frame.Data[0]&0x02 != 0
	if sizeIndicated {
		s.remaining = binary.LittleEndian.Uint32(frame.Data[4:8])
	} else {
		s.remaining = 0
	}
	s.buf.Reset()
	s.blockCRC = crc.CRC16(0)
	s.blockSeqNo = 0
	s.blockSize = 127
	s.st = stateBlockDownload

	var data [8]byte
	data[0] = scsBlockDownload<<5 | 0x04 // server supports CRC
	data[1] = byte(s.index)
	data[2] = byte(s.index >> 8)
	data[3] = s.subIndex
	data[4] = s.blockSize
	s.sendRaw(data)
}

func (s *Server) handleBlockDownloadSegment(frame can.Frame) {
	seqNo := frame.Data[0] & 0x7F
	last := frame.Data[0]&0x80 != 0
	s.blockSeqNo++
	if seqNo != s.blockSeqNo {
		// Out-of-order/duplicate segment: drop it. When it ends the
		// sub-block, the ack reports the last good sequence number so
		// the client retransmits from there.
		s.blockSeqNo--
		if last || seqNo == s.blockSize {
			var data [8]byte
			data[0] = scsBlockDownload << 5
			data[1] = s.blockSeqNo
			data[2] = s.blockSize
			s.sendRaw(data)
			s.blockSeqNo = 0
		}
		return
	}
	payload := frame.Data[1:8]
	if s.blockCRCEnabled {
		s.buf.Write(payload, &s.blockCRC)
	} else {
		s.buf.Write(payload, nil)
	}

	if last || s.blockSeqNo == s.blockSize {
		var data [8]byte
		data[0] = scsBlockDownload << 5
		data[1] = s.blockSeqNo
		data[2] = s.blockSize
		s.sendRaw(data)
		s.blockSeqNo = 0
	}
}

func (s *Server) handleBlockDownloadEnd(frame can.Frame) {
	n := (frame.Data[0] >> 2) & 0x07 // unused bytes in the last transmitted segment
	occupied := s.buf.GetOccupied()
	size := occupied - int(n)
	if size < 0 {
		size = 0
	}
	value := make([]byte, size)
	s.buf.Read(value)

	if s.blockCRCEnabled {
		clientCRC := crc.CRC16(binary.LittleEndian.Uint16(frame.Data[1:3]))
		if clientCRC != s.blockCRC {
			s.abortTransfer(abort.CRCError)
			return
		}
	}

	if odr, err := s.dict.Write(s.index, s.subIndex, value); err != nil {
		s.abortTransfer(abort.FromODR(odr))
		return
	}

	s.sendIndexed(scsBlockDownload, blockSubCommandEnd, 0, 0, 0, 0, 0, 0)
	s.st = stateIdle
}

// handleBlockUpload dispatches CCS=5: outside a block upload the frame
// initiates one; during the transfer every further CCS=5 frame (the
// client's start/ack/end sub-commands) goes to handleBlockUploadAck.
// CCS=3 frames are handled as segmented-upload requests, not here.
func (s *Server) handleBlockUpload(frame can.Frame) {
	switch s.st {
	case stateBlockUpload:
		s.handleBlockUploadAck(frame)
	default:
		s.handleBlockUploadInitiate(frame)
	}
}

func (s *Server) handleBlockUploadInitiate(frame can.Frame) {
	s.index, s.subIndex = indexSub(frame)
	s.blockCRCEnabled = frame.Data[0]&0x04 != 0
	value, odr, err := s.dict.Read(s.index, s.subIndex)
	if err != nil {
		s.abortTransfer(abort.FromODR(odr))
		return
	}
	s.buf.Reset()
	s.blockCRC = crc.CRC16(0)
	if s.blockCRCEnabled {
		s.buf.Write(value, &s.blockCRC)
	} else {
		s.buf.Write(value, nil)
	}
	s.remaining = uint32(len(value))
	s.blockSize = 127
	s.st = stateBlockUpload

	var data [8]byte
	data[0] = scsBlockUpload<<5 | 0x02 | 0x04 // size indicated + CRC supported
	data[1] = byte(s.index)
	data[2] = byte(s.index >> 8)
	data[3] = s.subIndex
	binary.LittleEndian.PutUint32(data[4:8], s.remaining)
	s.sendRaw(data)
}

// handleBlockUploadAck handles the client's "start transmission"/sub-block
// ack (sub-command 3 per CiA 301) by streaming the next sub-block of up
// to blockSize segments.
func (s *Server) handleBlockUploadAck(frame can.Frame) {
	sub := frame.Data[0] & 0x03
	if sub == blockSubCommandEnd {
		s.st = stateIdle
		return
	}
	seqNo := uint8(0)
	for s.buf.GetOccupied() > 0 && seqNo < s.blockSize {
		seqNo++
		var segment [7]byte
		s.buf.Read(segment[:])
		var data [8]byte
		if s.buf.GetOccupied() == 0 {
			data[0] = 0x80 // last segment in the transfer
		}
		data[0] |= seqNo
		copy(data[1:], segment[:])
		s.sendRaw(data)
	}
	if s.buf.GetOccupied() == 0 {
		var data [8]byte
		data[0] = scsBlockUpload<<5 | blockSubCommandEnd
		data[1] = seqNo
		n := uint8(0)
		if s.remaining%7 != 0 {
			n = 7 - uint8(s.remaining%7)
		}
		data[1] = n << 2
		if s.blockCRCEnabled {
			binary.LittleEndian.PutUint16(data[2:4], uint16(s.blockCRC))
		}
		s.sendRaw(data)
		s.st = stateIdle
	}
}
