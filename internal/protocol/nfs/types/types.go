package types

// TimeVal is nfstime3.
type TimeVal struct {
	Seconds  uint32
	Nseconds uint32
}

// NFSFileAttr is fattr3 (RFC 1813 Section 2.5).
type NFSFileAttr struct {
	Type   uint32   // File type (NF3REG, NF3DIR, etc.)
	Mode   uint32   // Unix permission bits
	Nlink  uint32   // Number of hard links
	UID    uint32   // Owner user ID
	GID    uint32   // Owner group ID
	Size   uint64   // File size in bytes
	Used   uint64   // Disk space used in bytes
	Rdev   SpecData // Device number for special files
	Fsid   uint64   // Filesystem identifier
	Fileid uint64   // File identifier (inode number)
	Atime  TimeVal  // Last access time
	Mtime  TimeVal  // Last modification time
	Ctime  TimeVal  // Last metadata change time
}

// SpecData is specdata3.
type SpecData struct {
	Major uint32
	Minor uint32
}

// WccAttr is the subset of attributes used for weak cache consistency.
type WccAttr struct {
	Size  uint64
	Mtime TimeVal
	Ctime TimeVal
}

// SetAttrs is a decoded sattr3. Nil pointers mean "don't change".
type SetAttrs struct {
	Mode *uint32
	UID  *uint32
	GID  *uint32
	Size *uint64

	// AtimeHow and MtimeHow hold the raw time_how discriminants.
	AtimeHow uint32
	Atime    TimeVal
	MtimeHow uint32
	Mtime    TimeVal
}

// ChangesTime reports whether either timestamp was asked to change.
func (s *SetAttrs) ChangesTime() bool {
	return s.AtimeHow != TimeDontChange || s.MtimeHow != TimeDontChange
}

// ChangesOwnership reports whether mode, uid or gid were supplied.
func (s *SetAttrs) ChangesOwnership() bool {
	return s.Mode != nil || s.UID != nil || s.GID != nil
}

// DirEntry is one READDIR entry.
type DirEntry struct {
	Fileid uint64
	Name   string
	Cookie uint64
}

// DirEntryPlus is one READDIRPLUS entry.
type DirEntryPlus struct {
	Fileid uint64
	Name   string
	Cookie uint64
	Attr   *NFSFileAttr
	Handle []byte
}

// FSStat holds FSSTAT results.
type FSStat struct {
	TotalBytes uint64
	FreeBytes  uint64
	AvailBytes uint64
	TotalFiles uint64
	FreeFiles  uint64
	AvailFiles uint64
	Invarsec   uint32
}

// TimeGuard is sattrguard3.
type TimeGuard struct {
	Check bool
	Time  TimeVal
}
