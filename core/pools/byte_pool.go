package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool hands out fixed-size byte slices in a few size classes. It backs
// connection read buffers and file body chunks.
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets   atomic.Uint64
	misses atomic.Uint64
}

// Size classes used by the server: socket reads and file body chunks.
var defaultSizes = []int{
	4 << 10,
	32 << 10,
}

// NewBytePool creates a pool with the default size classes.
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a pool with ascending size classes.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}
	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}
	return bp
}

// Get returns a slice of length size. Sizes above the largest class are
// allocated directly and never pooled.
func (bp *BytePool) Get(size int) []byte {
	bp.gets.Add(1)
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			buf := *bp.pools[i].Get().(*[]byte)
			return buf[:size]
		}
	}
	bp.misses.Add(1)
	return make([]byte, size)
}

// Put returns a slice obtained from Get. Foreign slices are dropped.
func (bp *BytePool) Put(buf []byte) {
	c := cap(buf)
	for i, poolSize := range bp.sizes {
		if c == poolSize {
			buf = buf[:c]
			bp.pools[i].Put(&buf)
			return
		}
	}
}

// BytePoolStats reports pool usage.
type BytePoolStats struct {
	Gets   uint64
	Misses uint64
}

// Stats returns usage counters.
func (bp *BytePool) Stats() BytePoolStats {
	return BytePoolStats{Gets: bp.gets.Load(), Misses: bp.misses.Load()}
}

var globalBytePool = NewBytePool()

// GetBytes takes a slice from the shared pool.
func GetBytes(size int) []byte {
	return globalBytePool.Get(size)
}

// PutBytes returns a slice to the shared pool.
func PutBytes(buf []byte) {
	globalBytePool.Put(buf)
}

// GetBytePoolStats reports shared pool usage.
func GetBytePoolStats() BytePoolStats {
	return globalBytePool.Stats()
}
