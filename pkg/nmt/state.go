package nmt

// State is a CANopen NMT FSA state per CiA 301 §7.3.2, figures 48/49, plus
// the internal Initialisation sub-tree this implementation exposes for
// observability through NMT.State(). State-change callbacks fire on every
// one of them except InternalBootUpWrite.
type State uint8

const (
	Initialisation State = iota
	Initialising
	ResetApplication
	ResetCommunication
	InternalBootUpWrite
	PreOperational
	Operational
	Stopped
)

func (s State) String() string {
	switch s {
	case Initialisation:
		return "Initialisation"
	case Initialising:
		return "Initialising"
	case ResetApplication:
		return "ResetApplication"
	case ResetCommunication:
		return "ResetCommunication"
	case InternalBootUpWrite:
		return "InternalBootUpWrite"
	case PreOperational:
		return "PreOperational"
	case Operational:
		return "Operational"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Event is an internal NMT FSA event tag, produced either by a local API
// call (Start, Stop, ...) or by translating an incoming remote
// node-control frame or transport completion callback.
type Event uint8

const (
	EventPowerOn Event = iota
	EventStart
	EventBootUpWriteAck
	EventBootUpWriteError
	EventEnterPreOperational
	EventStop
	EventResetNode
	EventResetCommunication
)

func (e Event) String() string {
	switch e {
	case EventPowerOn:
		return "PowerOn"
	case EventStart:
		return "Start"
	case EventBootUpWriteAck:
		return "BootUpWriteAck"
	case EventBootUpWriteError:
		return "BootUpWriteError"
	case EventEnterPreOperational:
		return "EnterPreOperational"
	case EventStop:
		return "Stop"
	case EventResetNode:
		return "ResetNode"
	case EventResetCommunication:
		return "ResetCommunication"
	default:
		return "Unknown"
	}
}

// Remote node-control command specifiers, carried in data[0] of a COB-ID
// 0x000, DLC 2 frame.
const (
	csStart               uint8 = 1
	csStop                uint8 = 2
	csEnterPreOperational uint8 = 128
	csResetNode           uint8 = 129
	csResetCommunication  uint8 = 130
)
