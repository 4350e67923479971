package buffer

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// PlanePool recycles normalized pixel buffers between the capture pipeline
// (which fills them) and the persistence worker (which releases them once
// the frame is on disk). Buffers are bucketed by power-of-two capacity.
type PlanePool struct {
	pools   map[int]*sync.Pool
	maxSize int
	mu      sync.RWMutex

	allocated atomic.Uint64
	hits      atomic.Uint64
	misses    atomic.Uint64
	inUse     atomic.Int64
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	Classes   int    `json:"classes"`
	Allocated uint64 `json:"allocated"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	InUse     int64  `json:"in_use"`
}

// NewPlanePool creates a pool that recycles buffers up to maxSize bytes;
// larger requests are plain allocations.
func NewPlanePool(maxSize int) *PlanePool {
	return &PlanePool{
		pools:   make(map[int]*sync.Pool),
		maxSize: maxSize,
	}
}

// Get returns a buffer of exactly size bytes. Contents are unspecified; the
// caller overwrites every byte.
func (p *PlanePool) Get(size int) []byte {
	if size <= 0 {
		return []byte{}
	}

	class := roundUpPowerOf2(size)
	if class > p.maxSize {
		p.misses.Add(1)
		return make([]byte, size)
	}

	p.mu.RLock()
	pool, exists := p.pools[class]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		pool, exists = p.pools[class]
		if !exists {
			localSize := class
			pool = &sync.Pool{
				New: func() interface{} {
					p.allocated.Add(1)
					b := make([]byte, localSize)
					return &b
				},
			}
			p.pools[class] = pool
		}
		p.mu.Unlock()
	}

	bp := pool.Get().(*[]byte)
	buf := *bp
	if cap(buf) < size {
		p.misses.Add(1)
		return make([]byte, size)
	}

	p.hits.Add(1)
	p.inUse.Add(1)
	return buf[:size]
}

// Put hands a buffer back. Buffers that did not come from the pool are
// accepted if their capacity matches a size class.
func (p *PlanePool) Put(buf []byte) {
	size := cap(buf)
	if size <= 0 || size != roundUpPowerOf2(size) || size > p.maxSize {
		return
	}

	p.mu.RLock()
	pool, exists := p.pools[size]
	p.mu.RUnlock()
	if !exists {
		return
	}

	buf = buf[:size]
	pool.Put(&buf)
	if p.inUse.Load() > 0 {
		p.inUse.Add(-1)
	}
}

// Stats returns pool counters.
func (p *PlanePool) Stats() PoolStats {
	p.mu.RLock()
	classes := len(p.pools)
	p.mu.RUnlock()

	return PoolStats{
		Classes:   classes,
		Allocated: p.allocated.Load(),
		Hits:      p.hits.Load(),
		Misses:    p.misses.Load(),
		InUse:     p.inUse.Load(),
	}
}

// roundUpPowerOf2 rounds n up to the nearest power of 2 (minimum 1)
func roundUpPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
