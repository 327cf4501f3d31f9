package od

import "errors"

var ErrEdsFormat = errors.New("invalid EDS format")

// ODR is the semantic result of an Object Dictionary access. ErrNo means
// success; every value from ErrOutOfMem to ErrNoData identifies a CiA 301
// failure reason and maps 1:1 onto an abort.Code via abort.FromODR.
// ErrPartial has no abort code of its own (FromODR yields GeneralError).
type ODR int8

const (
	ErrPartial      ODR = -1
	ErrNo           ODR = 0
	ErrOutOfMem     ODR = 1
	ErrUnsuppAccess ODR = 2
	ErrWriteOnly    ODR = 3
	ErrReadonly     ODR = 4
	ErrIdxNotExist  ODR = 5
	ErrNoMap        ODR = 6
	ErrMapLen       ODR = 7
	ErrParIncompat  ODR = 8
	ErrDevIncompat  ODR = 9
	ErrHw           ODR = 10
	ErrTypeMismatch ODR = 11
	ErrDataLong     ODR = 12
	ErrDataShort    ODR = 13
	ErrSubNotExist  ODR = 14
	ErrInvalidValue ODR = 15
	ErrValueHigh    ODR = 16
	ErrValueLow     ODR = 17
	ErrMaxLessMin   ODR = 18
	ErrNoRessource  ODR = 19
	ErrGeneral      ODR = 20
	ErrDataTransf   ODR = 21
	ErrDataLocCtrl  ODR = 22
	ErrDataDevState ODR = 23
	ErrOdMissing    ODR = 24
	ErrNoData       ODR = 25
)

var errorDescriptions = map[ODR]string{
	ErrPartial:      "incomplete transfer",
	ErrNo:           "no error",
	ErrOutOfMem:     "out of memory",
	ErrUnsuppAccess: "unsupported access to an object",
	ErrWriteOnly:    "attempt to read a write only object",
	ErrReadonly:     "attempt to write a read only object",
	ErrIdxNotExist:  "object does not exist in the object dictionary",
	ErrNoMap:        "object cannot be mapped to the PDO",
	ErrMapLen:       "number and length of objects to be mapped exceeds PDO length",
	ErrParIncompat:  "general parameter incompatibility reason",
	ErrDevIncompat:  "general internal incompatibility in device",
	ErrHw:           "access failed due to a hardware error",
	ErrTypeMismatch: "data type does not match, length of service parameter does not match",
	ErrDataLong:     "data type does not match, length of service parameter too high",
	ErrDataShort:    "data type does not match, length of service parameter too low",
	ErrSubNotExist:  "sub-index does not exist",
	ErrInvalidValue: "invalid value for parameter",
	ErrValueHigh:    "value of parameter written too high",
	ErrValueLow:     "value of parameter written too low",
	ErrMaxLessMin:   "maximum value is less than minimum value",
	ErrNoRessource:  "resource not available: SDO connection",
	ErrGeneral:      "general error",
	ErrDataTransf:   "data cannot be transferred or stored to the application",
	ErrDataLocCtrl:  "data cannot be transferred because of local control",
	ErrDataDevState: "data cannot be transferred because of the present device state",
	ErrOdMissing:    "object dictionary not present or dynamic generation fails",
	ErrNoData:       "no data available",
}

func (e ODR) Error() string {
	if description, ok := errorDescriptions[e]; ok {
		return description
	}
	return "unknown object dictionary error"
}

// CiA 301 data type codes.
const (
	Boolean       uint16 = 0x01
	Integer8      uint16 = 0x02
	Integer16     uint16 = 0x03
	Integer32     uint16 = 0x04
	Unsigned8     uint16 = 0x05
	Unsigned16    uint16 = 0x06
	Unsigned32    uint16 = 0x07
	Real32        uint16 = 0x08
	VisibleString uint16 = 0x09
	OctetString   uint16 = 0x0A
	UnicodeString uint16 = 0x0B
	TimeOfDay     uint16 = 0x0C
	TimeDiff      uint16 = 0x0D
	Domain        uint16 = 0x0F
	Integer24     uint16 = 0x10
	Real64        uint16 = 0x11
	Integer40     uint16 = 0x12
	Integer48     uint16 = 0x13
	Integer56     uint16 = 0x14
	Integer64     uint16 = 0x15
	Unsigned24    uint16 = 0x16
	Unsigned40    uint16 = 0x18
	Unsigned48    uint16 = 0x19
	Unsigned56    uint16 = 0x1A
	Unsigned64    uint16 = 0x1B
)

// Index ranges touched by NMT entry actions.
const (
	CommunicationProfileAreaStart uint16 = 0x1000
	CommunicationProfileAreaEnd   uint16 = 0x1FFF
	ManufacturerAreaStart         uint16 = 0x2000
	ManufacturerAreaEnd           uint16 = 0x9FFF
)

// Well-known communication-profile indices referenced by the NMT and SDO
// server components.
const (
	IndexDeviceType        uint16 = 0x1000
	IndexErrorRegister     uint16 = 0x1001
	IndexIdentity          uint16 = 0x1018
	IndexSDOServerParam1   uint16 = 0x1200
)
