package phylum

import "sync"

// syncPool is the built-in BufferPool a Filesystem uses when the caller
// doesn't supply one via WithBufferPool. Nothing in the example pack wires
// up a dedicated object-pool library for this kind of fixed-size scratch
// buffer reuse, and the standard library's sync.Pool is the idiomatic
// minimal tool for exactly this job; see DESIGN.md.
type syncPool struct {
	sectorSize int
	pool       sync.Pool
}

func newSyncPool(sectorSize int) *syncPool {
	p := &syncPool{sectorSize: sectorSize}
	p.pool.New = func() any {
		return make([]byte, sectorSize)
	}
	return p
}

func (p *syncPool) Get() []byte {
	buf := p.pool.Get().([]byte)
	for i := range buf {
		buf[i] = erasedByte
	}
	return buf
}

func (p *syncPool) Put(buf []byte) {
	if len(buf) != p.sectorSize {
		return
	}
	p.pool.Put(buf)
}
