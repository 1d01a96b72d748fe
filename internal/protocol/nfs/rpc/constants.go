package rpc

// RPC program numbers served by the gateway.
//
// Reference: RFC 1057 (RPC Protocol Specification Version 2)
const (
	// ProgramPortmap is the port mapper program number (RFC 1833).
	ProgramPortmap = 100000

	// ProgramNFS is the NFS program number (RFC 1813).
	ProgramNFS = 100003

	// ProgramMount is the Mount protocol program number (RFC 1813 Appendix I).
	ProgramMount = 100005
)

// Program versions accepted by the dispatcher.
const (
	PortmapVersion = 2
	NFSVersion3    = 3
	MountVersion1  = 1
	MountVersion3  = 3
)

// RPCVersion is the only ONC RPC protocol version understood (RFC 5531).
const RPCVersion = 2

// RPC Message Types
//
// Reference: RFC 5531 Section 9 (RPC Message Protocol)
const (
	RPCCall  = 0
	RPCReply = 1
)

// RPC Reply States
const (
	// RPCMsgAccepted means the server recognized the program and tried to run it.
	RPCMsgAccepted = 0

	// RPCMsgDenied is used for RPC version mismatch and authentication errors.
	RPCMsgDenied = 1
)

// RPC Accept Status
//
// When an RPC call is accepted (RPCMsgAccepted), the accept_stat field
// indicates whether the procedure executed successfully or why it failed.
const (
	RPCSuccess = 0

	// RPCProgUnavail indicates the program is not exported on this port.
	RPCProgUnavail = 1

	// RPCProgMismatch indicates program version mismatch. The reply body
	// carries the lowest and highest supported versions.
	RPCProgMismatch = 2

	// RPCProcUnavail indicates the procedure number is not implemented.
	RPCProcUnavail = 3

	// RPCGarbageArgs indicates the arguments could not be decoded.
	RPCGarbageArgs = 4

	// RPCSystemErr indicates a server side failure (rate limiting, panics).
	RPCSystemErr = 5
)

// Reject status for RPCMsgDenied replies.
const (
	RPCMismatch = 0
	AuthError   = 1
)

// Authentication flavors (RFC 5531 Section 8.2).
const (
	AuthNull  uint32 = 0
	AuthUnix  uint32 = 1
	AuthShort uint32 = 2
	AuthDES   uint32 = 3
)

// lastFragmentBit marks the final fragment in record marking (RFC 5531 Section 11).
const lastFragmentBit = 0x80000000

// MaxRecordSize bounds a reassembled request. WRITE payloads are capped at
// 1MB by FSINFO, so anything above this is either a bug or an attack.
const MaxRecordSize = 2 << 20
