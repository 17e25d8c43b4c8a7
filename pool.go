// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import "sync"

// rectBufferPool recycles byte buffers used to hold a PendingRectangle's
// raw, client-format-converted pixel bytes. Buffers are bucketed into
// power-of-two size classes so a pool hit never holds on to an
// order-of-magnitude more memory than the rectangle actually needs; this
// is the array-pooling the update pump relies on to avoid a fresh
// allocation per rectangle at a full capture rate.
type rectBufferPool struct {
	classes sync.Map // int (size class) -> *sync.Pool
}

var globalRectBufferPool = newRectBufferPool()

func newRectBufferPool() *rectBufferPool {
	return &rectBufferPool{}
}

// sizeClass rounds n up to the next power of two, with a floor of 64
// bytes to keep the smallest class from being dominated by pool bookkeeping.
func sizeClass(n int) int {
	const minClass = 64
	if n <= minClass {
		return minClass
	}
	class := minClass
	for class < n {
		class <<= 1
	}
	return class
}

func (p *rectBufferPool) poolFor(class int) *sync.Pool {
	if v, ok := p.classes.Load(class); ok {
		return v.(*sync.Pool)
	}
	newPool := &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, class)
			return &buf
		},
	}
	actual, _ := p.classes.LoadOrStore(class, newPool)
	return actual.(*sync.Pool)
}

// Get returns a buffer of exactly n bytes, backed by a recycled
// size-classed allocation when one is available.
func (p *rectBufferPool) Get(n int) []byte {
	class := sizeClass(n)
	pooled := p.poolFor(class).Get().(*[]byte)
	return (*pooled)[:n]
}

// Put returns buf to the pool for its size class. buf must have been
// obtained from Get and must not be referenced again afterward.
func (p *rectBufferPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	class := cap(buf)
	full := buf[:class]
	p.poolFor(class).Put(&full)
}
