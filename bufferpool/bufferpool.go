// Package bufferpool pools the buffers used to read response bodies.
package bufferpool

import (
	"bytes"
	"sync"
)

// DefaultMaxRetained is the largest buffer capacity returned to the pool by
// default. Bigger buffers are dropped.
const DefaultMaxRetained = 4 << 20

// BufferPool is a sync.Pool of *bytes.Buffer.
type BufferPool struct {
	pool        *sync.Pool
	maxRetained int
}

// New creates a BufferPool that retains buffers up to maxRetained bytes of
// capacity. A value <= 0 means DefaultMaxRetained.
func New(maxRetained int) *BufferPool {
	if maxRetained <= 0 {
		maxRetained = DefaultMaxRetained
	}
	return &BufferPool{
		pool: &sync.Pool{
			New: func() interface{} {
				return new(bytes.Buffer)
			},
		},
		maxRetained: maxRetained,
	}
}

// Get returns an empty buffer.
func (bp *BufferPool) Get() *bytes.Buffer {
	buf := bp.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// Put returns buf to the pool. Callers must not retain references to its
// contents afterwards.
func (bp *BufferPool) Put(buf *bytes.Buffer) {
	if buf.Cap() > bp.maxRetained {
		return
	}
	bp.pool.Put(buf)
}
