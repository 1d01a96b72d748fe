package types

// NFSv3 procedure numbers (RFC 1813 Section 3.3).
const (
	NFSProcNull        = 0
	NFSProcGetAttr     = 1
	NFSProcSetAttr     = 2
	NFSProcLookup      = 3
	NFSProcAccess      = 4
	NFSProcReadLink    = 5
	NFSProcRead        = 6
	NFSProcWrite       = 7
	NFSProcCreate      = 8
	NFSProcMkdir       = 9
	NFSProcSymlink     = 10
	NFSProcMknod       = 11
	NFSProcRemove      = 12
	NFSProcRmdir       = 13
	NFSProcRename      = 14
	NFSProcLink        = 15
	NFSProcReadDir     = 16
	NFSProcReadDirPlus = 17
	NFSProcFsStat      = 18
	NFSProcFsInfo      = 19
	NFSProcPathConf    = 20
	NFSProcCommit      = 21
)

// NFSv3 status codes (RFC 1813 Section 2.6).
const (
	NFS3OK             = 0
	NFS3ErrPerm        = 1
	NFS3ErrNoEnt       = 2
	NFS3ErrIO          = 5
	NFS3ErrNxio        = 6
	NFS3ErrAcces       = 13
	NFS3ErrExist       = 17
	NFS3ErrXDev        = 18
	NFS3ErrNoDev       = 19
	NFS3ErrNotDir      = 20
	NFS3ErrIsDir       = 21
	NFS3ErrInval       = 22
	NFS3ErrFBig        = 27
	NFS3ErrNoSpc       = 28
	NFS3ErrRofs        = 30
	NFS3ErrMLink       = 31
	NFS3ErrNameTooLong = 63
	NFS3ErrNotEmpty    = 66
	NFS3ErrDQuot       = 69
	NFS3ErrStale       = 70
	NFS3ErrRemote      = 71
	NFS3ErrBadHandle   = 10001
	NFS3ErrNotSync     = 10002
	NFS3ErrBadCookie   = 10003
	NFS3ErrNotSupp     = 10004
	NFS3ErrTooSmall    = 10005
	NFS3ErrServerFault = 10006
	NFS3ErrBadType     = 10007
	NFS3ErrJukebox     = 10008
)

// FSINFO properties bitmask.
const (
	FSFLink        = 0x0001
	FSFSymlink     = 0x0002
	FSFHomogeneous = 0x0008
	FSFCanSetTime  = 0x0010
)

// ftype3 values.
const (
	FileTypeRegular   = 1
	FileTypeDirectory = 2
	FileTypeBlock     = 3
	FileTypeChar      = 4
	FileTypeSymlink   = 5
	FileTypeSocket    = 6
	FileTypeFifo      = 7
)

// ACCESS permission bits.
const (
	AccessRead    = 0x0001
	AccessLookup  = 0x0002
	AccessModify  = 0x0004
	AccessExtend  = 0x0008
	AccessDelete  = 0x0010
	AccessExecute = 0x0020

	AccessAll = AccessRead | AccessLookup | AccessModify | AccessExtend | AccessDelete | AccessExecute
)

// stable_how values for WRITE.
const (
	WriteUnstable = 0
	WriteDataSync = 1
	WriteFileSync = 2
)

// createmode3 values for CREATE.
const (
	CreateUnchecked = 0
	CreateGuarded   = 1
	CreateExclusive = 2
)

// time_how values in sattr3.
const (
	TimeDontChange      = 0
	TimeSetToServer     = 1
	TimeSetToClientTime = 2
)

// Protocol limits.
const (
	// FHSize3 is the maximum file handle length (NFS3_FHSIZE).
	FHSize3 = 64

	// CookieVerfSize and WriteVerfSize are fixed-size opaque fields.
	CookieVerfSize = 8
	WriteVerfSize  = 8

	// MaxNameLen is the longest component name accepted in LOOKUP/CREATE.
	MaxNameLen = 255

	// MaxPathLen bounds MOUNT paths (MNTPATHLEN).
	MaxPathLen = 1024
)
