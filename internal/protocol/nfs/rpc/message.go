package rpc

// RPCCallMessage is the header of an ONC RPC call.
//
// Field order matches the wire layout so the struct can be decoded with
// go-xdr directly. Procedure arguments follow the verifier and are
// extracted separately by ReadData.
type RPCCallMessage struct {
	// XID is echoed back in the reply so the client can match it.
	XID uint32

	// MsgType must be RPCCall.
	MsgType uint32

	// RPCVersion must be 2.
	RPCVersion uint32

	Program   uint32
	Version   uint32
	Procedure uint32

	// Cred carries the client credentials (AUTH_NULL or AUTH_UNIX in practice).
	Cred OpaqueAuth

	// Verf is ignored for AUTH_NULL and AUTH_UNIX.
	Verf OpaqueAuth
}

// RPCReplyMessage is the header of an accepted reply.
type RPCReplyMessage struct {
	XID        uint32
	MsgType    uint32
	ReplyState uint32
	Verf       OpaqueAuth
	AcceptStat uint32
}

// OpaqueAuth is the opaque_auth structure used for credentials and verifiers.
type OpaqueAuth struct {
	Flavor uint32
	Body   []byte `xdr:"opaque"`
}

// mismatchInfo is appended to PROG_MISMATCH replies.
type mismatchInfo struct {
	Low  uint32
	High uint32
}

// rejectedReply is the header of a MSG_DENIED reply with RPC_MISMATCH.
type rejectedReply struct {
	XID          uint32
	MsgType      uint32
	ReplyState   uint32
	RejectStat   uint32
	MismatchInfo mismatchInfo
}

// GetAuthFlavor returns the authentication flavor from the credentials.
func (c *RPCCallMessage) GetAuthFlavor() uint32 {
	return c.Cred.Flavor
}

// GetAuthBody returns the raw credential body.
func (c *RPCCallMessage) GetAuthBody() []byte {
	return c.Cred.Body
}
