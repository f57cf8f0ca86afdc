package pools

import (
	"sync"
)

// Buffer size classes tuned for catalog I/O
const (
	RecordSize = 4 << 10   // a handful of text records
	BlockSize  = 32 << 10  // one planter scan block
	RangeSize  = 256 << 10 // a typical tree range
	LargeSize  = 1 << 20   // big trees
	MaxPool    = 4 << 20   // Don't pool buffers larger than this
)

// BytePool provides size-class based pooling for byte slices.
type BytePool struct {
	record sync.Pool // <= 4 KiB
	block  sync.Pool // <= 32 KiB
	rng    sync.Pool // <= 256 KiB
	large  sync.Pool // <= 1 MiB
	max    sync.Pool // <= 4 MiB
}

func sizedPool(size int) sync.Pool {
	return sync.Pool{
		New: func() any {
			b := make([]byte, 0, size)
			return &b
		},
	}
}

// NewBytePool creates a new byte pool.
func NewBytePool() *BytePool {
	return &BytePool{
		record: sizedPool(RecordSize),
		block:  sizedPool(BlockSize),
		rng:    sizedPool(RangeSize),
		large:  sizedPool(LargeSize),
		max:    sizedPool(MaxPool),
	}
}

func (p *BytePool) class(size int) *sync.Pool {
	switch {
	case size <= RecordSize:
		return &p.record
	case size <= BlockSize:
		return &p.block
	case size <= RangeSize:
		return &p.rng
	case size <= LargeSize:
		return &p.large
	case size <= MaxPool:
		return &p.max
	}
	return nil
}

// Get returns a byte slice with length 0 and at least the requested capacity.
func (p *BytePool) Get(size int) []byte {
	pool := p.class(size)
	if pool == nil {
		return make([]byte, 0, size)
	}
	bp, ok := pool.Get().(*[]byte)
	if !ok || cap(*bp) < size {
		return make([]byte, 0, size)
	}
	return (*bp)[:0]
}

// GetSized returns a byte slice with exactly the requested length.
func (p *BytePool) GetSized(size int) []byte {
	return p.Get(size)[:size]
}

// Put returns a byte slice to the pool for reuse. A slice is filed under
// the largest class it can fully serve.
func (p *BytePool) Put(b []byte) {
	c := cap(b)
	if c > MaxPool || c < RecordSize {
		return
	}
	var pool *sync.Pool
	switch {
	case c >= MaxPool:
		pool = &p.max
	case c >= LargeSize:
		pool = &p.large
	case c >= RangeSize:
		pool = &p.rng
	case c >= BlockSize:
		pool = &p.block
	default:
		pool = &p.record
	}
	b = b[:0]
	pool.Put(&b)
}

var defaultBytePool = NewBytePool()

// GetBytesSized returns a byte slice with exact length from the default pool.
func GetBytesSized(size int) []byte {
	return defaultBytePool.GetSized(size)
}

// PutBytes returns a byte slice to the default pool.
func PutBytes(b []byte) {
	defaultBytePool.Put(b)
}
