// Package abort holds the CiA 301 SDO abort code catalog and the
// conversion from od.ODR failure reasons to abort codes. It imports
// pkg/od for that conversion; pkg/od does not import pkg/abort, so there
// is no import cycle.
package abort

import (
	"fmt"

	"github.com/henrikbrixandersen/canopen/pkg/od"
)

// Code is a 32-bit CANopen SDO abort code, transmitted little-endian in
// bytes 4-7 of an abort response frame.
type Code uint32

const (
	ToggleBitNotAlternated    Code = 0x05030000
	ProtocolTimedOut          Code = 0x05040000
	CommandSpecifierNotValid  Code = 0x05040001
	InvalidBlockSize          Code = 0x05040002
	InvalidSequenceNumber     Code = 0x05040003
	CRCError                  Code = 0x05040004
	OutOfMemory               Code = 0x05040005
	UnsupportedAccess         Code = 0x06010000
	WriteOnly                 Code = 0x06010001
	ReadOnly                  Code = 0x06010002
	ObjectDoesNotExist        Code = 0x06020000
	ObjectCannotBeMapped      Code = 0x06040041
	PDOLengthExceeded         Code = 0x06040042
	ParameterIncompatible     Code = 0x06040043
	DeviceIncompatible        Code = 0x06040047
	HardwareError             Code = 0x06060000
	LengthMismatch            Code = 0x06070010
	LengthTooHigh             Code = 0x06070012
	LengthTooLow              Code = 0x06070013
	SubindexDoesNotExist      Code = 0x06090011
	InvalidValue              Code = 0x06090030
	ValueTooHigh              Code = 0x06090031
	ValueTooLow               Code = 0x06090032
	MaxLessThanMin            Code = 0x06090036
	ResourceNotAvailable      Code = 0x060A0023
	GeneralError              Code = 0x08000000
	ApplicationCannotStore    Code = 0x08000020
	ApplicationLocalControl   Code = 0x08000021
	ApplicationDeviceState    Code = 0x08000022
	NoObjectDictionary        Code = 0x08000023
	NoDataAvailable           Code = 0x08000024
)

var descriptions = map[Code]string{
	ToggleBitNotAlternated:   "toggle bit not alternated",
	ProtocolTimedOut:         "SDO protocol timed out",
	CommandSpecifierNotValid: "client/server command specifier not valid or unknown",
	InvalidBlockSize:         "invalid block size (block mode only)",
	InvalidSequenceNumber:    "invalid sequence number (block mode only)",
	CRCError:                 "CRC error (block mode only)",
	OutOfMemory:              "out of memory",
	UnsupportedAccess:        "unsupported access to an object",
	WriteOnly:                "attempt to read a write only object",
	ReadOnly:                 "attempt to write a read only object",
	ObjectDoesNotExist:       "object does not exist in the object dictionary",
	ObjectCannotBeMapped:     "object cannot be mapped to the PDO",
	PDOLengthExceeded:        "the number and length of the objects to be mapped would exceed PDO length",
	ParameterIncompatible:    "general parameter incompatibility reason",
	DeviceIncompatible:       "general internal incompatibility in the device",
	HardwareError:            "access failed due to a hardware error",
	LengthMismatch:           "data type does not match, length of service parameter does not match",
	LengthTooHigh:            "data type does not match, length of service parameter too high",
	LengthTooLow:             "data type does not match, length of service parameter too low",
	SubindexDoesNotExist:     "sub-index does not exist",
	InvalidValue:             "invalid value for parameter (download only)",
	ValueTooHigh:             "value of parameter written too high (download only)",
	ValueTooLow:              "value of parameter written too low (download only)",
	MaxLessThanMin:           "maximum value is less than minimum value",
	ResourceNotAvailable:     "resource not available: SDO connection",
	GeneralError:             "general error",
	ApplicationCannotStore:   "data cannot be transferred or stored to the application",
	ApplicationLocalControl:  "data cannot be transferred or stored to the application because of local control",
	ApplicationDeviceState:   "data cannot be transferred or stored to the application because of the device state",
	NoObjectDictionary:       "object dictionary dynamic generation fails or no object dictionary is present",
	NoDataAvailable:          "no data available",
}

// String returns the human-readable CiA 301 description of the code, or a
// generic fallback for an unrecognized value.
func (c Code) String() string {
	if description, ok := descriptions[c]; ok {
		return description
	}
	return fmt.Sprintf("unknown abort code 0x%08X", uint32(c))
}

// Error makes Code usable directly as a Go error.
func (c Code) Error() string {
	return fmt.Sprintf("0x%08X: %s", uint32(c), c.String())
}

// Bytes returns the little-endian wire encoding of the code, as carried in
// bytes 4-7 of an SDO abort response frame.
func (c Code) Bytes() [4]byte {
	return [4]byte{
		byte(c),
		byte(c >> 8),
		byte(c >> 16),
		byte(c >> 24),
	}
}

// FromBytes parses the little-endian wire encoding of an abort code.
func FromBytes(b [4]byte) Code {
	return Code(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}

// fromODR maps an od.ODR failure reason onto its CiA 301 SDO abort code,
// mirroring the teacher's sdo.ConvertOdToSdoAbort lookup table.
var fromODR = map[od.ODR]Code{
	od.ErrOutOfMem:     OutOfMemory,
	od.ErrUnsuppAccess: UnsupportedAccess,
	od.ErrWriteOnly:    WriteOnly,
	od.ErrReadonly:     ReadOnly,
	od.ErrIdxNotExist:  ObjectDoesNotExist,
	od.ErrNoMap:        ObjectCannotBeMapped,
	od.ErrMapLen:       PDOLengthExceeded,
	od.ErrParIncompat:  ParameterIncompatible,
	od.ErrDevIncompat:  DeviceIncompatible,
	od.ErrHw:           HardwareError,
	od.ErrTypeMismatch: LengthMismatch,
	od.ErrDataLong:     LengthTooHigh,
	od.ErrDataShort:    LengthTooLow,
	od.ErrSubNotExist:  SubindexDoesNotExist,
	od.ErrInvalidValue: InvalidValue,
	od.ErrValueHigh:    ValueTooHigh,
	od.ErrValueLow:     ValueTooLow,
	od.ErrMaxLessMin:   MaxLessThanMin,
	od.ErrNoRessource:  ResourceNotAvailable,
	od.ErrGeneral:      GeneralError,
	od.ErrDataTransf:   ApplicationCannotStore,
	od.ErrDataLocCtrl:  ApplicationLocalControl,
	od.ErrDataDevState: ApplicationDeviceState,
	od.ErrOdMissing:    NoObjectDictionary,
	od.ErrNoData:       NoDataAvailable,
}

// FromODR converts an od.ODR failure reason into the CiA 301 abort code
// an SDO server response carries on the wire. An ODR with no specific
// mapping (including od.ErrNo and od.ErrPartial, which are not wire
// failures) falls back to GeneralError.
func FromODR(odr od.ODR) Code {
	if code, ok := fromODR[odr]; ok {
		return code
	}
	return GeneralError
}
