// Package sdo implements the CANopen Service Data Object server: a
// per-channel request/response state machine that performs confirmed
// reads and writes against an Object Dictionary, replying with expedited,
// segmented, or block transfers and standard abort codes on failure.
package sdo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/henrikbrixandersen/canopen/internal/crc"
	"github.com/henrikbrixandersen/canopen/internal/fifo"
	"github.com/henrikbrixandersen/canopen/pkg/abort"
	"github.com/henrikbrixandersen/canopen/pkg/can"
	"github.com/henrikbrixandersen/canopen/pkg/od"
)

// Client command specifiers, top 3 bits of request data[0].
const (
	ccsDownloadSegment  uint8 = 0
	ccsInitiateDownload uint8 = 1
	ccsInitiateUpload   uint8 = 2
	ccsUploadSegment    uint8 = 3
	ccsAbort            uint8 = 4
	ccsBlockUpload      uint8 = 5
	ccsBlockDownload    uint8 = 6
)

// Server command specifiers, top 3 bits of response data[0].
const (
	scsUploadSegment   uint8 = 0
	scsDownloadSegment uint8 = 1
	scsInitiateUpload  uint8 = 2
	scsInitiateDownload uint8 = 3
	scsAbortResponse   uint8 = 4
	scsBlockDownload   uint8 = 5
	scsBlockUpload     uint8 = 6
)

const (
	blockSubCommandInitiate = 0
	blockSubCommandEnd      = 1
)

const (
	requestBaseCOBID  uint32 = 0x600
	responseBaseCOBID uint32 = 0x580
)

// SDONumberMin/Max bound the valid 1-based SDO server number, matching
// the original header's CANOPEN_SDO_NUMBER_MIN/MAX.
const (
	SDONumberMin uint8 = 1
	SDONumberMax uint8 = 128
)

const defaultInactivityTimeout = time.Second
const defaultQueueSize = 16
const maxSegmentedSize = 4096 // generous bound for the buffers this server holds in memory
const blockSegmentPayload = 7

// state is the SDO server's own FSA state, independent of and orthogonal
// to the node's NMT state (the server does not consult the NMT state; it
// processes requests whenever Run is active).
type state uint8

const (
	stateIdle state = iota
	stateDownload
	stateUpload
	stateBlockDownload
	stateBlockUpload
)

// Config configures a new Server.
type Config struct {
	SDONumber  uint8 // 1-based; determines the default COB-IDs when Dictionary has no OD 0x1200+(n-1) override
	NodeID     uint8
	Bus        can.Bus
	Dictionary *od.Dictionary
	Logger     *slog.Logger
	QueueSize  int
	Timeout    time.Duration
}

// Server is one SDO server channel. A node typically runs one (server #1,
// COB-IDs fixed at 0x600/0x580 + node_id) plus optionally more, configured
// from OD index 0x1200+(n-1).
type Server struct {
	sdoNumber uint8
	nodeID    uint8
	bus       can.Bus
	dict      *od.Dictionary
	logger    *slog.Logger
	timeout   time.Duration

	requestCOBID  uint32
	responseCOBID uint32

	rx chan can.Frame

	st       state
	index    uint16
	subIndex uint8
	toggle   uint8

	// segmented transfer
	buf        *fifo.Fifo
	sizeKnown  bool
	remaining  uint32 // bytes remaining to write into OD (download) or left to send (upload)

	// block transfer
	blockCRCEnabled bool
	blockSize       uint8
	blockSeqNo      uint8
	blockCRC        crc.CRC16
	blockLastByteN  uint8 // number of valid bytes in the final block segment (download) or expected (upload)
}

// New validates cfg and constructs a Server. The CAN subscription is
// established immediately; Run must still be called to drive it.
func New(cfg Config) (*Server, error) {
	if cfg.SDONumber < SDONumberMin || cfg.SDONumber > SDONumberMax {
		return nil, fmt.Errorf("sdo: sdo_number %d out of range %d..%d", cfg.SDONumber, SDONumberMin, SDONumberMax)
	}
	if cfg.NodeID < 1 || cfg.NodeID > 127 {
		return nil, fmt.Errorf("sdo: node_id %d out of range 1..127", cfg.NodeID)
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("sdo: bus is nil")
	}
	if cfg.Dictionary == nil {
		return nil, fmt.Errorf("sdo: dictionary is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultInactivityTimeout
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	requestCOBID, responseCOBID := cfg.cobIDs()

	s := &Server{
		sdoNumber:     cfg.SDONumber,
		nodeID:        cfg.NodeID,
		bus:           cfg.Bus,
		dict:          cfg.Dictionary,
		logger:        logger.With("component", "sdo", "sdo_number", cfg.SDONumber, "node_id", cfg.NodeID),
		timeout:       timeout,
		requestCOBID:  requestCOBID,
		responseCOBID: responseCOBID,
		rx:            make(chan can.Frame, queueSize),
		buf:           fifo.NewFifo(maxSegmentedSize),
	}
	if err := cfg.Bus.Subscribe(s); err != nil {
		return nil, fmt.Errorf("sdo: subscribe to bus: %w", err)
	}
	return s, nil
}

// cobIDs resolves the request/response COB-ID pair. Server #1 (the only
// one this stack activates by default) uses the fixed 0x600/0x580 +
// node_id convention; a higher-numbered server reads its COB-IDs from OD
// 0x1200+(n-1) sub-indices 1/2 instead, falling back to the default
// formula if that object is absent.
func (cfg Config) cobIDs() (uint32, uint32) {
	if cfg.SDONumber > 1 && cfg.Dictionary != nil {
		paramIndex := od.IndexSDOServerParam1 + uint16(cfg.SDONumber-1)
		if rx, _, err := cfg.Dictionary.ReadUint32(paramIndex, 1); err == nil {
			if tx, _, err := cfg.Dictionary.ReadUint32(paramIndex, 2); err == nil {
				return rx &^ 0x80000000, tx &^ 0x80000000
			}
		}
	}
	return requestBaseCOBID + uint32(cfg.NodeID), responseBaseCOBID + uint32(cfg.NodeID)
}

// Handle implements can.FrameListener. Only frames matching this server's
// request COB-ID and carrying a full 8-byte payload are accepted.
func (s *Server) Handle(frame can.Frame) {
	if frame.ID != s.requestCOBID {
		return
	}
	if frame.DLC != 8 {
		return
	}
	select {
	case s.rx <- frame:
	default:
		s.logger.Warn("dropped SDO request frame, queue full")
	}
}

// Run drains the request queue until ctx is canceled, processing exactly
// one request to completion (parse, OD access, response) before the next
// is dequeued. An inactivity gap longer than the configured timeout while
// a transfer is in progress aborts it with ProtocolTimedOut.
func (s *Server) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-s.rx:
			s.process(frame)
		case <-time.After(s.timeout):
			if s.st != stateIdle {
				s.abortTransfer(abort.ProtocolTimedOut)
			}
		}
	}
}

func (s *Server) process(frame can.Frame) {
	ccs := frame.Data[0] >> 5
	switch ccs {
	case ccsInitiateDownload:
		s.handleInitiateDownload(frame)
	case ccsInitiateUpload:
		s.handleInitiateUpload(frame)
	case ccsDownloadSegment:
		s.handleDownloadSegment(frame)
	case ccsUploadSegment:
		s.handleUploadSegment(frame)
	case ccsBlockDownload:
		s.handleBlockDownload(frame)
	case ccsBlockUpload:
		s.handleBlockUpload(frame)
	case ccsAbort:
		s.st = stateIdle // client-initiated abort: no response
	default:
		s.abortTransfer(abort.CommandSpecifierNotValid)
	}
}

func (s *Server) sendIndexed(scs uint8, b1, b2, b3, b4, b5, b6, b7 byte) {
	var data [8]byte
	data[0] = scs << 5
	data[1] = b1
	data[2] = b2
	data[3] = b3
	data[4] = b4
	data[5] = b5
	data[6] = b6
	data[7] = b7
	s.sendRaw(data)
}

func (s *Server) sendRaw(data [8]byte) {
	frame := can.Frame{ID: s.responseCOBID, DLC: 8, Data: data}
	if err := s.bus.Send(frame); err != nil {
		s.logger.Warn("SDO response send failed", "err", err)
	}
}

func (s *Server) abortTransfer(code abort.Code) {
	var data [8]byte
	data[0] = scsAbortResponse << 5
	data[1] = byte(s.index)
	data[2] = byte(s.index >> 8)
	data[3] = s.subIndex
	wire := code.Bytes()
	data[4], data[5], data[6], data[7] = wire[0], wire[1], wire[2], wire[3]
	s.logger.Warn("SDO abort", "index", s.index, "subindex", s.subIndex, "code", code)
	s.sendRaw(data)
	s.st = stateIdle
}

func indexSub(frame can.Frame) (uint16, uint8) {
	return uint16(frame.Data[1]) | uint16(frame.Data[2])<<8, frame.Data[3]
}
