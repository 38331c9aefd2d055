package phylum_test

import (
	"errors"
	"testing"

	"github.com/flashcore/phylum"
)

func newMemoryBacking(t *testing.T, sectorSize, sectorCount int) (*phylum.MemorySectorMap, *phylum.MemoryAllocator) {
	t.Helper()
	sectors := phylum.NewMemorySectorMap(sectorSize, sectorCount)
	return sectors, phylum.NewMemoryAllocator(uint32(sectorCount))
}

func newPool(sectorSize int) phylum.BufferPool {
	return poolFunc(func() []byte {
		buf := make([]byte, sectorSize)
		for i := range buf {
			buf[i] = 0xFF // erased-flash fill; RecordBuffer.Reserve/Raw require it on a fresh sector
		}
		return buf
	})
}

// poolFunc is a minimal BufferPool for tests that don't care about reuse.
type poolFunc func() []byte

func (p poolFunc) Get() []byte    { return p() }
func (p poolFunc) Put(buf []byte) {}

func TestChainCreateMountWalk(t *testing.T) {
	sectors, alloc := newMemoryBacking(t, 64, 16)
	pool := newPool(64)

	c := phylum.NewChain(sectors, alloc, pool, "test-chain", phylum.HeadTail{})
	if err := c.Create(nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	head := c.Head()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2 := phylum.NewChain(sectors, alloc, pool, "test-chain", phylum.HeadTail{Head: head, Tail: head})
	if err := c2.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if c2.LengthSectors() != 1 {
		t.Errorf("LengthSectors: got %d, want 1", c2.LengthSectors())
	}
}

// TestChainFailAtPropagatesRawIOError exercises MemorySectorMap.FailAt the
// way TestErrorHandling exercises the teacher's mockReader.errAt: an
// injected I/O error at a specific sector must come back out of the chain
// operation unchanged, not wrapped or swallowed, per spec.md §7's
// "IoError propagated raw" rule.
func TestChainFailAtPropagatesRawIOError(t *testing.T) {
	sectors, alloc := newMemoryBacking(t, 64, 16)
	pool := newPool(64)

	c := phylum.NewChain(sectors, alloc, pool, "test-chain", phylum.HeadTail{})
	if err := c.Create(nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	head := c.Head()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	injected := errors.New("injected read failure")
	sectors.FailAt(head, injected)

	mounted := phylum.NewChain(sectors, alloc, pool, "test-chain", phylum.HeadTail{Head: head, Tail: head})
	err := mounted.Mount()
	if !errors.Is(err, injected) {
		t.Fatalf("Mount: got %v, want %v", err, injected)
	}
}

func TestChainGrowTail(t *testing.T) {
	sectors, alloc := newMemoryBacking(t, 24, 16)
	pool := newPool(24)

	c := phylum.NewChain(sectors, alloc, pool, "test-chain", phylum.HeadTail{})
	if err := c.Create(nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := c.Prepare(16, nil); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	payload, err := c.Buffer().Reserve(16)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	for i := range payload {
		payload[i] = byte(i)
	}
	c.MarkDirty()
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if err := c.Prepare(16, nil); err != nil {
		t.Fatalf("second Prepare (should grow): %v", err)
	}
	if c.LengthSectors() != 2 {
		t.Fatalf("LengthSectors after growth: got %d, want 2", c.LengthSectors())
	}

	head := c.Head()
	tail := c.Tail()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mounted := phylum.NewChain(sectors, alloc, pool, "test-chain", phylum.HeadTail{Head: head, Tail: tail})
	if err := mounted.Mount(); err != nil {
		t.Fatalf("Mount after growth: %v", err)
	}
	if mounted.LengthSectors() != 2 {
		t.Errorf("LengthSectors after remount: got %d, want 2", mounted.LengthSectors())
	}

	seen := 0
	err = mounted.Walk(func(rec phylum.Record) error {
		seen++
		return nil
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	// Each of the two sectors contributes its own chain-link header record;
	// the first sector additionally holds the 16-byte payload reserved above.
	if seen != 3 {
		t.Errorf("Walk visited %d records, want 3", seen)
	}
}
