package nfs

import (
	"sync"
)

// Pooled record buffers, sized for the three request shapes seen in practice:
// metadata calls (a few hundred bytes), typical WRITEs (wtpref) and
// maximum WRITEs (wtmax).
var bufferTiers = []int{
	4 << 10,  // 4KB
	64 << 10, // 64KB
	1 << 20,  // 1MB
}

type bufferPool struct {
	pools []sync.Pool
}

var globalBufferPool = newBufferPool(bufferTiers)

func newBufferPool(tiers []int) *bufferPool {
	p := &bufferPool{pools: make([]sync.Pool, len(tiers))}
	for i, size := range tiers {
		p.pools[i].New = func() any {
			buf := make([]byte, size)
			return &buf
		}
	}
	return p
}

// Get returns a buffer of exactly size bytes. Sizes above the largest tier
// are allocated directly and never pooled.
func (p *bufferPool) Get(size uint32) []byte {
	for i, tier := range bufferTiers {
		if int(size) <= tier {
			buf := *(p.pools[i].Get().(*[]byte))
			return buf[:size]
		}
	}
	return make([]byte, size)
}

// Put returns a buffer obtained from Get. Buffers whose capacity does not
// match a tier (oversized or reassembled records) are left to the GC.
func (p *bufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}

	for i, tier := range bufferTiers {
		if cap(buf) == tier {
			full := buf[:tier]
			p.pools[i].Put(&full)
			return
		}
	}
}

// GetBuffer returns a pooled buffer of the given length.
func GetBuffer(size uint32) []byte {
	return globalBufferPool.Get(size)
}

// PutBuffer releases a buffer obtained from GetBuffer.
func PutBuffer(buf []byte) {
	globalBufferPool.Put(buf)
}
