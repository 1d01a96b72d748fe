package nfs

import (
	"context"
	"errors"
	"fmt"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	mount "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/mount/handlers"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/rpc"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
	nfs3 "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/v3/handlers"
)

// ErrGarbageArgs is returned by a procedure whose arguments failed to
// decode. The connection answers it with GARBAGE_ARGS.
var ErrGarbageArgs = errors.New("garbage arguments")

// ============================================================================
// Authentication Context Creation
// ============================================================================

// AuthContext holds the authentication information extracted from an RPC
// call. It is converted into the procedure-specific handler context.
//
// Context is derived from the connection and is cancelled on shutdown or
// client disconnect.
type AuthContext struct {
	Context    context.Context
	ClientAddr string

	// AuthFlavor is the RPC authentication type (AUTH_UNIX, AUTH_NULL, ...).
	AuthFlavor uint32

	// Version is the program version the client called.
	Version uint32

	// Unix credentials (nil if not AUTH_UNIX or parsing failed)
	UID  *uint32
	GID  *uint32
	GIDs []uint32
}

// ExtractAuthContext creates an AuthContext from an RPC call message.
//
// Parsing failures are logged but do not fail the call: the gateway does
// no access control, so credentials only feed logging.
func ExtractAuthContext(
	ctx context.Context,
	call *rpc.RPCCallMessage,
	clientAddr string,
	procedure string,
) *AuthContext {
	authCtx := &AuthContext{
		Context:    ctx,
		ClientAddr: clientAddr,
		AuthFlavor: call.GetAuthFlavor(),
		Version:    call.Version,
	}

	if authCtx.AuthFlavor != rpc.AuthUnix {
		return authCtx
	}

	authBody := call.GetAuthBody()
	if len(authBody) == 0 {
		logger.Warn("%s: AUTH_UNIX specified but auth body is empty", procedure)
		return authCtx
	}

	unixAuth, err := rpc.ParseUnixAuth(authBody)
	if err != nil {
		logger.Warn("%s: Failed to parse AUTH_UNIX credentials: %v", procedure, err)
		return authCtx
	}

	logger.Debug("%s: Parsed Unix auth: uid=%d gid=%d ngids=%d",
		procedure, unixAuth.UID, unixAuth.GID, len(unixAuth.GIDs))

	authCtx.UID = &unixAuth.UID
	authCtx.GID = &unixAuth.GID
	authCtx.GIDs = unixAuth.GIDs

	return authCtx
}

func (a *AuthContext) nfsContext() *nfs3.NFSHandlerContext {
	return &nfs3.NFSHandlerContext{
		Context:    a.Context,
		ClientAddr: a.ClientAddr,
		AuthFlavor: a.AuthFlavor,
		UID:        a.UID,
		GID:        a.GID,
		GIDs:       a.GIDs,
	}
}

func (a *AuthContext) mountContext() *mount.MountHandlerContext {
	return &mount.MountHandlerContext{
		Context:    a.Context,
		ClientAddr: a.ClientAddr,
		AuthFlavor: a.AuthFlavor,
		Version:    a.Version,
		UID:        a.UID,
		GID:        a.GID,
		GIDs:       a.GIDs,
	}
}

// ============================================================================
// Programs and Procedure Tables
// ============================================================================

// ProcedureHandler decodes the procedure arguments in data, runs the
// procedure and returns the encoded reply body.
type ProcedureHandler func(authCtx *AuthContext, data []byte) ([]byte, error)

// Procedure is one entry of a program's dispatch table.
type Procedure struct {
	// Name is the procedure name for logging and metrics ("GETATTR").
	Name    string
	Handler ProcedureHandler
}

// Program is an ONC RPC program served on a listener.
type Program struct {
	Number uint32
	Name   string

	// Low and High bound the accepted versions. Calls outside the range
	// get PROG_MISMATCH.
	Low, High uint32

	Procedures map[uint32]*Procedure
}

// Supports reports whether version is within the program's range.
func (p *Program) Supports(version uint32) bool {
	return version >= p.Low && version <= p.High
}

// MetricName returns the label a procedure is recorded under. NFS
// procedures keep their bare name; other programs are prefixed.
func (p *Program) MetricName(proc *Procedure) string {
	if p.Number == rpc.ProgramNFS {
		return proc.Name
	}
	return p.Name + "_" + proc.Name
}

type encoder interface {
	Encode() ([]byte, error)
}

// handleRequest is the decode, handle, encode sequence shared by every
// procedure. A decode failure becomes ErrGarbageArgs; handler errors
// (cancellation) are returned untouched so no reply is sent.
func handleRequest[Req any, Resp encoder](
	data []byte,
	decode func([]byte) (Req, error),
	handle func(Req) (Resp, error),
) ([]byte, error) {
	req, err := decode(data)
	if err != nil {
		logger.Debug("Error decoding request: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrGarbageArgs, err)
	}

	resp, err := handle(req)
	if err != nil {
		return nil, err
	}

	encoded, err := resp.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return encoded, nil
}

func nfsProc[Req any, Resp encoder](
	h *nfs3.Handler,
	name string,
	decode func([]byte) (Req, error),
	fn func(*nfs3.Handler, *nfs3.NFSHandlerContext, Req) (Resp, error),
) *Procedure {
	return &Procedure{
		Name: name,
		Handler: func(authCtx *AuthContext, data []byte) ([]byte, error) {
			return handleRequest(data, decode, func(req Req) (Resp, error) {
				return fn(h, authCtx.nfsContext(), req)
			})
		},
	}
}

func mountProc[Req any, Resp encoder](
	h *mount.Handler,
	name string,
	decode func([]byte) (Req, error),
	fn func(*mount.Handler, *mount.MountHandlerContext, Req) (Resp, error),
) *Procedure {
	return &Procedure{
		Name: name,
		Handler: func(authCtx *AuthContext, data []byte) ([]byte, error) {
			return handleRequest(data, decode, func(req Req) (Resp, error) {
				return fn(h, authCtx.mountContext(), req)
			})
		},
	}
}

// NewNFSProgram returns the NFS version 3 program bound to h.
func NewNFSProgram(h *nfs3.Handler) *Program {
	return &Program{
		Number: rpc.ProgramNFS,
		Name:   "NFS",
		Low:    rpc.NFSVersion3,
		High:   rpc.NFSVersion3,
		Procedures: map[uint32]*Procedure{
			types.NFSProcNull:        nfsProc(h, "NULL", nfs3.DecodeNullRequest, (*nfs3.Handler).Null),
			types.NFSProcGetAttr:     nfsProc(h, "GETATTR", nfs3.DecodeGetAttrRequest, (*nfs3.Handler).GetAttr),
			types.NFSProcSetAttr:     nfsProc(h, "SETATTR", nfs3.DecodeSetAttrRequest, (*nfs3.Handler).SetAttr),
			types.NFSProcLookup:      nfsProc(h, "LOOKUP", nfs3.DecodeLookupRequest, (*nfs3.Handler).Lookup),
			types.NFSProcAccess:      nfsProc(h, "ACCESS", nfs3.DecodeAccessRequest, (*nfs3.Handler).Access),
			types.NFSProcReadLink:    nfsProc(h, "READLINK", nfs3.DecodeReadLinkRequest, (*nfs3.Handler).ReadLink),
			types.NFSProcRead:        nfsProc(h, "READ", nfs3.DecodeReadRequest, (*nfs3.Handler).Read),
			types.NFSProcWrite:       nfsProc(h, "WRITE", nfs3.DecodeWriteRequest, (*nfs3.Handler).Write),
			types.NFSProcCreate:      nfsProc(h, "CREATE", nfs3.DecodeCreateRequest, (*nfs3.Handler).Create),
			types.NFSProcMkdir:       nfsProc(h, "MKDIR", nfs3.DecodeMkdirRequest, (*nfs3.Handler).Mkdir),
			types.NFSProcSymlink:     nfsProc(h, "SYMLINK", nfs3.DecodeSymlinkRequest, (*nfs3.Handler).Symlink),
			types.NFSProcMknod:       nfsProc(h, "MKNOD", nfs3.DecodeMknodRequest, (*nfs3.Handler).Mknod),
			types.NFSProcRemove:      nfsProc(h, "REMOVE", nfs3.DecodeRemoveRequest, (*nfs3.Handler).Remove),
			types.NFSProcRmdir:       nfsProc(h, "RMDIR", nfs3.DecodeRmdirRequest, (*nfs3.Handler).Rmdir),
			types.NFSProcRename:      nfsProc(h, "RENAME", nfs3.DecodeRenameRequest, (*nfs3.Handler).Rename),
			types.NFSProcLink:        nfsProc(h, "LINK", nfs3.DecodeLinkRequest, (*nfs3.Handler).Link),
			types.NFSProcReadDir:     nfsProc(h, "READDIR", nfs3.DecodeReadDirRequest, (*nfs3.Handler).ReadDir),
			types.NFSProcReadDirPlus: nfsProc(h, "READDIRPLUS", nfs3.DecodeReadDirPlusRequest, (*nfs3.Handler).ReadDirPlus),
			types.NFSProcFsStat:      nfsProc(h, "FSSTAT", nfs3.DecodeFsStatRequest, (*nfs3.Handler).FsStat),
			types.NFSProcFsInfo:      nfsProc(h, "FSINFO", nfs3.DecodeFsInfoRequest, (*nfs3.Handler).FsInfo),
			types.NFSProcPathConf:    nfsProc(h, "PATHCONF", nfs3.DecodePathConfRequest, (*nfs3.Handler).PathConf),
			types.NFSProcCommit:      nfsProc(h, "COMMIT", nfs3.DecodeCommitRequest, (*nfs3.Handler).Commit),
		},
	}
}

// NewMountProgram returns the MOUNT program (versions 1 to 3) bound to h.
// Version 2 shares the version 1 wire format.
func NewMountProgram(h *mount.Handler) *Program {
	return &Program{
		Number: rpc.ProgramMount,
		Name:   "MOUNT",
		Low:    rpc.MountVersion1,
		High:   rpc.MountVersion3,
		Procedures: map[uint32]*Procedure{
			mount.MountProcNull:    mountProc(h, "NULL", mount.DecodeNullRequest, (*mount.Handler).MountNull),
			mount.MountProcMnt:     mountProc(h, "MNT", mount.DecodeMountRequest, (*mount.Handler).Mount),
			mount.MountProcDump:    mountProc(h, "DUMP", mount.DecodeDumpRequest, (*mount.Handler).Dump),
			mount.MountProcUmnt:    mountProc(h, "UMNT", mount.DecodeUmountRequest, (*mount.Handler).Umnt),
			mount.MountProcUmntAll: mountProc(h, "UMNTALL", mount.DecodeUmountAllRequest, (*mount.Handler).UmntAll),
			mount.MountProcExport:  mountProc(h, "EXPORT", mount.DecodeExportRequest, (*mount.Handler).Export),
		},
	}
}
