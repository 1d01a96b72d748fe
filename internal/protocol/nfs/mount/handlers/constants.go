package handlers

// Mount protocol procedure numbers (RFC 1813 Appendix I). Versions 1 and 3
// share the numbering; only the MNT reply differs.
const (
	MountProcNull    = 0
	MountProcMnt     = 1
	MountProcDump    = 2
	MountProcUmnt    = 3
	MountProcUmntAll = 4
	MountProcExport  = 5
)

// mountstat3 values.
const (
	MountOK             = 0
	MountErrPerm        = 1
	MountErrNoEnt       = 2
	MountErrIO          = 5
	MountErrAccess      = 13
	MountErrNotDir      = 20
	MountErrInval       = 22
	MountErrNameTooLong = 63
	MountErrNotSupp     = 10004
	MountErrServerFault = 10006
)

// fhandleV1Size is the fixed handle size of a version 1 fhstatus.
const fhandleV1Size = 32
