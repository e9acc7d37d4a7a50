package pools

import "sync"

// HeadBufferSize is the initial capacity of a response head buffer.
const HeadBufferSize = 1 << 10

// maxPooledHead keeps one oversized response from pinning memory.
const maxPooledHead = 64 << 10

var headPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 0, HeadBufferSize)
		return &buf
	},
}

// AcquireBuffer returns an empty buffer for assembling a response head or a
// chunk frame.
func AcquireBuffer() *[]byte {
	return headPool.Get().(*[]byte)
}

// ReleaseBuffer returns buf to the pool.
func ReleaseBuffer(buf *[]byte) {
	if buf == nil || cap(*buf) > maxPooledHead {
		return
	}
	*buf = (*buf)[:0]
	headPool.Put(buf)
}
