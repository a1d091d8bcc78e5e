package core

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// bufferPool hands out reusable block buffers. Merges of large datasets
// encode thousands of blocks back to back, so buffers are kept across GCs.
type bufferPool struct {
	mu       sync.Mutex
	items    []*bytes.Buffer
	capacity int
	maxItems int

	hits   atomic.Uint64
	misses atomic.Uint64
}

// DefaultBlockBufferSize is the initial capacity of pooled block buffers.
const DefaultBlockBufferSize = 64 * 1024

var BufferPool = NewBufferPool(DefaultBlockBufferSize, 64)

// NewBufferPool creates a pool whose buffers start with the given capacity and
// which retains at most maxItems idle buffers.
func NewBufferPool(capacity, maxItems int) *bufferPool {
	if maxItems <= 0 {
		maxItems = 1
	}
	return &bufferPool{capacity: capacity, maxItems: maxItems}
}

// Get retrieves a buffer from the pool, allocating when it is empty.
func (bp *bufferPool) Get() *bytes.Buffer {
	bp.mu.Lock()
	if n := len(bp.items); n > 0 {
		item := bp.items[n-1]
		bp.items = bp.items[:n-1]
		bp.mu.Unlock()
		bp.hits.Add(1)
		return item
	}
	bp.mu.Unlock()
	bp.misses.Add(1)
	return bytes.NewBuffer(make([]byte, 0, bp.capacity))
}

// Put resets buf and returns it to the pool. Buffers beyond maxItems are dropped.
func (bp *bufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	bp.mu.Lock()
	if len(bp.items) < bp.maxItems {
		bp.items = append(bp.items, buf)
	}
	bp.mu.Unlock()
}

// Stats returns hit and miss counters.
func (bp *bufferPool) Stats() (hits, misses uint64) {
	return bp.hits.Load(), bp.misses.Load()
}
