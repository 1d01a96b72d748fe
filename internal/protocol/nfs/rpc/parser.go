package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"
)

// rpcHeaderSize covers XID, MsgType, RPCVersion, Program, Version and Procedure.
const rpcHeaderSize = 24

// ReadCall parses an RPC call header from a reassembled record.
//
// After calling ReadCall, use ReadData to extract the procedure-specific
// parameters that follow the RPC header.
func ReadCall(data []byte) (*RPCCallMessage, error) {
	call := &RPCCallMessage{}

	if _, err := xdr.Unmarshal(bytes.NewReader(data), call); err != nil {
		return nil, fmt.Errorf("unmarshal RPC call: %w", err)
	}

	if call.MsgType != RPCCall {
		return nil, fmt.Errorf("expected CALL (0), got %d", call.MsgType)
	}

	return call, nil
}

// ReadData returns the procedure arguments that follow the call header.
//
// The returned slice aliases message, so it is only valid while the caller
// holds the message buffer.
func ReadData(message []byte, call *RPCCallMessage) ([]byte, error) {
	offset := rpcHeaderSize

	for _, part := range []string{"credential", "verifier"} {
		if offset+8 > len(message) {
			return nil, fmt.Errorf("truncated %s header at offset %d", part, offset)
		}
		bodyLen := binary.BigEndian.Uint32(message[offset+4 : offset+8])
		offset += 8 + int(bodyLen) + int(XdrPadding(bodyLen))
		if offset > len(message) {
			return nil, fmt.Errorf("truncated %s body: need %d bytes, have %d", part, offset, len(message))
		}
	}

	return message[offset:], nil
}

// MakeSuccessReply builds a complete, record-marked SUCCESS reply carrying data.
func MakeSuccessReply(xid uint32, data []byte) ([]byte, error) {
	return makeAcceptedReply(xid, RPCSuccess, data)
}

// MakeErrorReply builds an accepted reply with a non-success accept_stat
// (PROG_UNAVAIL, PROC_UNAVAIL, GARBAGE_ARGS, SYSTEM_ERR).
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	return makeAcceptedReply(xid, acceptStat, nil)
}

// MakeProgMismatchReply builds a PROG_MISMATCH reply advertising the
// supported version range.
func MakeProgMismatchReply(xid uint32, low, high uint32) ([]byte, error) {
	var body bytes.Buffer
	if _, err := xdr.Marshal(&body, &mismatchInfo{Low: low, High: high}); err != nil {
		return nil, fmt.Errorf("marshal mismatch info: %w", err)
	}
	return makeAcceptedReply(xid, RPCProgMismatch, body.Bytes())
}

// MakeRPCMismatchReply builds a MSG_DENIED reply for callers that do not
// speak RPC version 2.
func MakeRPCMismatchReply(xid uint32) ([]byte, error) {
	reply := rejectedReply{
		XID:          xid,
		MsgType:      RPCReply,
		ReplyState:   RPCMsgDenied,
		RejectStat:   RPCMismatch,
		MismatchInfo: mismatchInfo{Low: RPCVersion, High: RPCVersion},
	}

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal denied reply: %w", err)
	}
	return frame(buf.Bytes()), nil
}

func makeAcceptedReply(xid uint32, acceptStat uint32, data []byte) ([]byte, error) {
	reply := RPCReplyMessage{
		XID:        xid,
		MsgType:    RPCReply,
		ReplyState: RPCMsgAccepted,
		Verf: OpaqueAuth{
			Flavor: AuthNull,
			Body:   []byte{},
		},
		AcceptStat: acceptStat,
	}

	// 24 bytes of header plus the procedure results
	buf := bytes.NewBuffer(make([]byte, 0, 24+len(data)))
	if _, err := xdr.Marshal(buf, &reply); err != nil {
		return nil, fmt.Errorf("marshal reply: %w", err)
	}
	buf.Write(data)

	return frame(buf.Bytes()), nil
}

// frame prepends a single last-fragment record marker.
func frame(payload []byte) []byte {
	result := make([]byte, 4, 4+len(payload))
	binary.BigEndian.PutUint32(result, lastFragmentBit|uint32(len(payload)))
	return append(result, payload...)
}

// XdrPadding returns the number of zero bytes needed to reach a 4-byte boundary.
func XdrPadding(length uint32) uint32 {
	return (4 - (length % 4)) % 4
}
