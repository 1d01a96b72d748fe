// Package portmap implements the PORTMAP version 2 program (RFC 1833
// section 3) used by NFSv3 clients to locate mountd and nfsd.
//
// Two modes are supported. Service is an embedded portmapper, served on its
// own adapter and preloaded with the gateway's mappings. HostRegistrar
// instead registers the mappings with the host's rpcbind.
package portmap

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/TritonDataCenter/manta-nfs/internal/logger"
	nfs "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs"
	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/rpc"
	nfsxdr "github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/xdr"
)

// PORTMAP procedure numbers. CALLIT (5) is not served.
const (
	ProcNull    = 0
	ProcSet     = 1
	ProcUnset   = 2
	ProcGetPort = 3
	ProcDump    = 4
)

// Transport protocol numbers carried in mappings.
const (
	IPProtoTCP = 6
	IPProtoUDP = 17
)

// Mapping binds a program version over a transport to a port.
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

func (m Mapping) String() string {
	return fmt.Sprintf("prog=%d vers=%d prot=%d port=%d", m.Prog, m.Vers, m.Prot, m.Port)
}

// DefaultMappings returns the gateway's registrations: mountd v3 and v1,
// nfsd v3 and, when pmapPort is non-zero, the portmapper itself.
func DefaultMappings(mountPort, nfsPort, pmapPort uint32) []Mapping {
	mappings := []Mapping{
		{Prog: rpc.ProgramMount, Vers: rpc.MountVersion3, Prot: IPProtoTCP, Port: mountPort},
		{Prog: rpc.ProgramMount, Vers: rpc.MountVersion1, Prot: IPProtoTCP, Port: mountPort},
		{Prog: rpc.ProgramNFS, Vers: rpc.NFSVersion3, Prot: IPProtoTCP, Port: nfsPort},
	}
	if pmapPort != 0 {
		mappings = append(mappings, Mapping{
			Prog: rpc.ProgramPortmap, Vers: rpc.PortmapVersion, Prot: IPProtoTCP, Port: pmapPort,
		})
	}
	return mappings
}

// Service is the embedded portmapper table.
type Service struct {
	mu       sync.RWMutex
	mappings []Mapping
}

// NewService returns a table preloaded with initial.
func NewService(initial ...Mapping) *Service {
	s := &Service{}
	for _, m := range initial {
		if !s.Set(m) {
			logger.Warn("portmap: duplicate initial mapping ignored: %s", m)
		}
	}
	return s
}

// Set adds m. It fails if the program, version and protocol are already
// mapped.
func (s *Service) Set(m Mapping) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.mappings {
		if existing.Prog == m.Prog && existing.Vers == m.Vers && existing.Prot == m.Prot {
			return false
		}
	}
	s.mappings = append(s.mappings, m)
	return true
}

// Unset removes every mapping of prog and vers, whatever the protocol. It
// reports whether anything was removed.
func (s *Service) Unset(prog, vers uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.mappings[:0]
	for _, m := range s.mappings {
		if m.Prog != prog || m.Vers != vers {
			kept = append(kept, m)
		}
	}
	removed := len(kept) != len(s.mappings)
	s.mappings = kept
	return removed
}

// GetPort returns the port of prog, vers over prot, or 0 when unmapped.
func (s *Service) GetPort(prog, vers, prot uint32) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.mappings {
		if m.Prog == prog && m.Vers == vers && m.Prot == prot {
			return m.Port
		}
	}
	return 0
}

// Dump returns a copy of the table ordered by program, then version.
func (s *Service) Dump() []Mapping {
	s.mu.RLock()
	out := append([]Mapping(nil), s.mappings...)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Prog != out[j].Prog {
			return out[i].Prog < out[j].Prog
		}
		return out[i].Vers < out[j].Vers
	})
	return out
}

// ============================================================================
// RPC program
// ============================================================================

// Program returns the PORTMAP v2 program bound to s.
func (s *Service) Program() *nfs.Program {
	return &nfs.Program{
		Number: rpc.ProgramPortmap,
		Name:   "PORTMAP",
		Low:    rpc.PortmapVersion,
		High:   rpc.PortmapVersion,
		Procedures: map[uint32]*nfs.Procedure{
			ProcNull:    {Name: "NULL", Handler: s.handleNull},
			ProcSet:     {Name: "SET", Handler: s.handleSet},
			ProcUnset:   {Name: "UNSET", Handler: s.handleUnset},
			ProcGetPort: {Name: "GETPORT", Handler: s.handleGetPort},
			ProcDump:    {Name: "DUMP", Handler: s.handleDump},
		},
	}
}

func decodeMapping(data []byte) (Mapping, error) {
	var m Mapping
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &m); err != nil {
		return Mapping{}, fmt.Errorf("%w: mapping: %v", nfs.ErrGarbageArgs, err)
	}
	return m, nil
}

func encodeBool(v bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := nfsxdr.WriteBool(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Service) handleNull(_ *nfs.AuthContext, _ []byte) ([]byte, error) {
	return []byte{}, nil
}

func (s *Service) handleSet(authCtx *nfs.AuthContext, data []byte) ([]byte, error) {
	m, err := decodeMapping(data)
	if err != nil {
		return nil, err
	}
	ok := s.Set(m)
	logger.Info("PORTMAP SET: %s ok=%v client=%s", m, ok, authCtx.ClientAddr)
	return encodeBool(ok)
}

func (s *Service) handleUnset(authCtx *nfs.AuthContext, data []byte) ([]byte, error) {
	m, err := decodeMapping(data)
	if err != nil {
		return nil, err
	}
	ok := s.Unset(m.Prog, m.Vers)
	logger.Info("PORTMAP UNSET: prog=%d vers=%d ok=%v client=%s", m.Prog, m.Vers, ok, authCtx.ClientAddr)
	return encodeBool(ok)
}

func (s *Service) handleGetPort(authCtx *nfs.AuthContext, data []byte) ([]byte, error) {
	m, err := decodeMapping(data)
	if err != nil {
		return nil, err
	}
	port := s.GetPort(m.Prog, m.Vers, m.Prot)
	logger.Debug("PORTMAP GETPORT: prog=%d vers=%d prot=%d -> %d client=%s",
		m.Prog, m.Vers, m.Prot, port, authCtx.ClientAddr)

	var buf bytes.Buffer
	if _, err := xdr.Marshal(&buf, port); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handleDump encodes the table as the pmaplist linked list.
func (s *Service) handleDump(_ *nfs.AuthContext, _ []byte) ([]byte, error) {
	var buf bytes.Buffer
	for _, m := range s.Dump() {
		if err := nfsxdr.WriteBool(&buf, true); err != nil {
			return nil, err
		}
		if _, err := xdr.Marshal(&buf, &m); err != nil {
			return nil, err
		}
	}
	if err := nfsxdr.WriteBool(&buf, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
