package sahara

// Command identifies a Sahara packet.
type Command uint32

// Command codes.
const (
	CmdHello             Command = 0x01
	CmdHelloResponse     Command = 0x02
	CmdReadData          Command = 0x03
	CmdEndImageTransfer  Command = 0x04
	CmdDone              Command = 0x05
	CmdDoneResponse      Command = 0x06
	CmdReset             Command = 0x07
	CmdResetResponse     Command = 0x08
	CmdMemoryDebug       Command = 0x09
	CmdMemoryRead        Command = 0x0A
	CmdCmdReady          Command = 0x0B
	CmdCmdSwitchMode     Command = 0x0C
	CmdCmdExec           Command = 0x0D
	CmdCmdExecResponse   Command = 0x0E
	CmdCmdExecData       Command = 0x0F
	CmdMemoryDebug64     Command = 0x10
	CmdMemoryRead64      Command = 0x11
	CmdReadData64        Command = 0x12
	CmdResetStateMachine Command = 0x13
)

// HeaderSize is the size of the command and length fields every packet starts with.
const HeaderSize = 8

// packetLengths is the fixed on-wire length of every known command, header included.
var packetLengths = map[Command]uint32{
	CmdHello:             0x30,
	CmdHelloResponse:     0x30,
	CmdReadData:          0x14,
	CmdEndImageTransfer:  0x10,
	CmdDone:              0x08,
	CmdDoneResponse:      0x0C,
	CmdReset:             0x08,
	CmdResetResponse:     0x08,
	CmdMemoryDebug:       0x10,
	CmdMemoryRead:        0x10,
	CmdCmdReady:          0x08,
	CmdCmdSwitchMode:     0x0C,
	CmdCmdExec:           0x0C,
	CmdCmdExecResponse:   0x10,
	CmdCmdExecData:       0x0C,
	CmdMemoryDebug64:     0x18,
	CmdMemoryRead64:      0x18,
	CmdReadData64:        0x20,
	CmdResetStateMachine: 0x08,
}

// PacketLength returns the fixed length of cmd and whether cmd is known.
func PacketLength(cmd Command) (uint32, bool) {
	n, ok := packetLengths[cmd]
	return n, ok
}

// MaxPacketSize is the largest fixed packet length.
const MaxPacketSize = 0x30

func (c Command) String() string {
	switch c {
	case CmdHello:
		return "hello"
	case CmdHelloResponse:
		return "hello response"
	case CmdReadData:
		return "read data"
	case CmdEndImageTransfer:
		return "end of image transfer"
	case CmdDone:
		return "done"
	case CmdDoneResponse:
		return "done response"
	case CmdReset:
		return "reset"
	case CmdResetResponse:
		return "reset response"
	case CmdMemoryDebug:
		return "memory debug"
	case CmdMemoryRead:
		return "memory read"
	case CmdCmdReady:
		return "command ready"
	case CmdCmdSwitchMode:
		return "command switch mode"
	case CmdCmdExec:
		return "command execute"
	case CmdCmdExecResponse:
		return "command execute response"
	case CmdCmdExecData:
		return "command execute data"
	case CmdMemoryDebug64:
		return "memory debug 64"
	case CmdMemoryRead64:
		return "memory read 64"
	case CmdReadData64:
		return "read data 64"
	case CmdResetStateMachine:
		return "reset state machine"
	default:
		return "unknown command"
	}
}

// Mode is the sub-protocol the device announces in its Hello packet.
type Mode uint32

// Sahara modes.
const (
	ModeImageTransferPending  Mode = 0x00
	ModeImageTransferComplete Mode = 0x01
	ModeMemoryDebug           Mode = 0x02
	ModeCommand               Mode = 0x03
)

func (m Mode) String() string {
	switch m {
	case ModeImageTransferPending:
		return "image transfer pending"
	case ModeImageTransferComplete:
		return "image transfer complete"
	case ModeMemoryDebug:
		return "memory debug"
	case ModeCommand:
		return "command"
	default:
		return "unknown mode"
	}
}

// Protocol versions spoken by this host. A device is accepted when its
// [compatible, version] range overlaps [MinVersion, Version].
const (
	Version    = 2
	MinVersion = 1
)

// Status codes carried in HelloResponse, EndImageTransfer and friends.
const (
	StatusSuccess                 = 0x00
	StatusInvalidCommand          = 0x01
	StatusProtocolMismatch        = 0x02
	StatusInvalidTargetProtocol   = 0x03
	StatusInvalidHostProtocol     = 0x04
	StatusInvalidPacketSize       = 0x05
	StatusUnexpectedImageID       = 0x06
	StatusInvalidHeaderSize       = 0x07
	StatusInvalidDataSize         = 0x08
	StatusInvalidImageType        = 0x09
	StatusInvalidTxLength         = 0x0A
	StatusInvalidRxLength         = 0x0B
	StatusGeneralTxRxError        = 0x0C
	StatusReadDataError           = 0x0D
	StatusUnsupportedNumPhdrs     = 0x0E
	StatusInvalidPhdrSize         = 0x0F
	StatusMultipleSharedSeg       = 0x10
	StatusUninitPhdrLoc           = 0x11
	StatusInvalidDestAddr         = 0x12
	StatusInvalidImgHdrDataSize   = 0x13
	StatusInvalidELFHeader        = 0x14
	StatusUnknownHostError        = 0x15
	StatusTimeoutRx               = 0x16
	StatusTimeoutTx               = 0x17
	StatusInvalidHostMode         = 0x18
	StatusInvalidMemoryRead       = 0x19
	StatusInvalidDataSizeRequest  = 0x1A
	StatusMemoryDebugNotSupported = 0x1B
	StatusInvalidModeSwitch       = 0x1C
	StatusCmdExecFailure          = 0x1D
	StatusExecCmdInvalidParam     = 0x1E
	StatusExecCmdUnsupported      = 0x1F
	StatusExecDataInvalid         = 0x20
	StatusHashTableAuthFailure    = 0x21
	StatusHashVerificationFailure = 0x22
	StatusHashTableNotFound       = 0x23
	StatusTargetInitFailure       = 0x24
	StatusImageAuthFailure        = 0x25
	StatusInvalidImgHashTableSize = 0x26
)

// DoneResponse status values.
const (
	DoneImageTransferPending  = 0x00
	DoneImageTransferComplete = 0x01
)

var statusNames = map[uint32]string{
	StatusSuccess:                 "success",
	StatusInvalidCommand:          "invalid command",
	StatusProtocolMismatch:        "protocol mismatch",
	StatusInvalidTargetProtocol:   "invalid target protocol",
	StatusInvalidHostProtocol:     "invalid host protocol",
	StatusInvalidPacketSize:       "invalid packet size",
	StatusUnexpectedImageID:       "unexpected image id",
	StatusInvalidHeaderSize:       "invalid header size",
	StatusInvalidDataSize:         "invalid data size",
	StatusInvalidImageType:        "invalid image type",
	StatusInvalidTxLength:         "invalid tx length",
	StatusInvalidRxLength:         "invalid rx length",
	StatusGeneralTxRxError:        "general tx/rx error",
	StatusReadDataError:           "read data error",
	StatusUnsupportedNumPhdrs:     "unsupported number of program headers",
	StatusInvalidPhdrSize:         "invalid program header size",
	StatusMultipleSharedSeg:       "multiple shared segments",
	StatusUninitPhdrLoc:           "uninitialized program header location",
	StatusInvalidDestAddr:         "invalid destination address",
	StatusInvalidImgHdrDataSize:   "invalid image header data size",
	StatusInvalidELFHeader:        "invalid ELF header",
	StatusUnknownHostError:        "unknown host error",
	StatusTimeoutRx:               "receive timeout",
	StatusTimeoutTx:               "transmit timeout",
	StatusInvalidHostMode:         "invalid host mode",
	StatusInvalidMemoryRead:       "invalid memory read",
	StatusInvalidDataSizeRequest:  "invalid data size request",
	StatusMemoryDebugNotSupported: "memory debug not supported",
	StatusInvalidModeSwitch:       "invalid mode switch",
	StatusCmdExecFailure:          "command execution failure",
	StatusExecCmdInvalidParam:     "invalid command parameter",
	StatusExecCmdUnsupported:      "unsupported command",
	StatusExecDataInvalid:         "invalid client command data",
	StatusHashTableAuthFailure:    "hash table authentication failure",
	StatusHashVerificationFailure: "hash verification failure",
	StatusHashTableNotFound:       "hash table not found",
	StatusTargetInitFailure:       "target init failure",
	StatusImageAuthFailure:        "image authentication failure",
	StatusInvalidImgHashTableSize: "invalid image hash table size",
}

// StatusName returns a human-readable name for a Sahara status code.
func StatusName(status uint32) string {
	if name, ok := statusNames[status]; ok {
		return name
	}
	return "unknown status"
}
