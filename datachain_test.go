package phylum_test

import (
	"bytes"
	"testing"

	"github.com/flashcore/phylum"
)

func TestDataChainWriteAndReadAt(t *testing.T) {
	sectors, alloc := newMemoryBacking(t, 32, 16)
	pool := newPool(32)

	dc := phylum.NewDataChain(sectors, alloc, pool, phylum.HeadTail{Head: phylum.InvalidSector, Tail: phylum.InvalidSector})
	if err := dc.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}

	payload := bytes.Repeat([]byte("0123456789"), 10) // 100 bytes, spans several 32-byte sectors
	if err := dc.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	length, err := dc.Length()
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	if length != len(payload) {
		t.Fatalf("Length: got %d, want %d", length, len(payload))
	}

	ht := dc.HeadTail()
	if err := dc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	mounted := phylum.NewDataChain(sectors, alloc, pool, ht)
	if err := mounted.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	out := make([]byte, len(payload))
	cur := mounted.Cursor()
	total := 0
	for total < len(out) {
		n, next, err := mounted.ReadAt(cur, out[total:])
		if err != nil {
			t.Fatalf("ReadAt: %v", err)
		}
		if n == 0 {
			t.Fatalf("ReadAt returned 0 bytes before filling the buffer (%d/%d)", total, len(out))
		}
		cur = next
		total += n
	}

	if !bytes.Equal(out, payload) {
		t.Errorf("ReadAt round trip mismatch: got %q, want %q", out, payload)
	}
}

func TestDataChainMultipleWrites(t *testing.T) {
	sectors, alloc := newMemoryBacking(t, 64, 16)
	pool := newPool(64)

	dc := phylum.NewDataChain(sectors, alloc, pool, phylum.HeadTail{Head: phylum.InvalidSector, Tail: phylum.InvalidSector})
	if err := dc.Format(); err != nil {
		t.Fatalf("Format: %v", err)
	}

	if err := dc.Write([]byte("first-")); err != nil {
		t.Fatalf("Write 1: %v", err)
	}
	if err := dc.Write([]byte("second")); err != nil {
		t.Fatalf("Write 2: %v", err)
	}

	length, err := dc.Length()
	if err != nil {
		t.Fatalf("Length: %v", err)
	}
	want := len("first-second")
	if length != want {
		t.Fatalf("Length: got %d, want %d", length, want)
	}
}
