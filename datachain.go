package phylum

// DataChainCursor addresses a byte position within a data chain: which
// sector (by position in the chain's in-memory sequence) and the in-sector
// byte offset. Obtained from Cursor and advanced by ReadAt, mirroring
// spec.md §4.5's cursor-based reader: O(1) seek within a loaded sector,
// O(sectors) seek across the chain.
type DataChainCursor struct {
	sectorIndex int
	offset      int
	position    int
}

// Position returns the cursor's absolute byte offset from the start of the
// chain's content.
func (c DataChainCursor) Position() int { return c.position }

// DataChain is a sector chain holding pure file bytes with no typed
// records: each sector's content area, after its link header, is a flat
// byte region. Grounded on the teacher's tableReader (tablereader.go),
// which is exactly this shape read-only (length-prefixed metadata blocks
// instead of a flat region, but the same "read current block, advance on
// exhaustion" cursor discipline); DataChain adds the write side squashfs
// never needed.
type DataChain struct {
	chain *Chain
}

// NewDataChain constructs an unmounted data chain.
func NewDataChain(sectors SectorMap, allocator SectorAllocator, pool BufferPool, ht HeadTail) *DataChain {
	c := NewChain(sectors, allocator, pool, "data-chain", ht)
	c.rawContent = true
	return &DataChain{chain: c}
}

// HeadTail returns the chain's current endpoints.
func (dc *DataChain) HeadTail() HeadTail { return dc.chain.HeadTail() }

// LengthSectors returns the number of sectors currently in the chain.
func (dc *DataChain) LengthSectors() int { return dc.chain.LengthSectors() }

// Close releases the chain's borrowed scratch buffer.
func (dc *DataChain) Close() error { return dc.chain.Close() }

// Format allocates the chain's head sector. Data chains carry no
// chain-specific marker record beyond the universal sector-link header.
func (dc *DataChain) Format() error {
	return dc.chain.Create(nil)
}

// Mount loads the chain starting at its head sector.
func (dc *DataChain) Mount() error {
	return dc.chain.Mount()
}

// Write appends data to the chain's tail, growing the chain across as many
// new sectors as needed.
func (dc *DataChain) Write(data []byte) error {
	for len(data) > 0 {
		if err := dc.chain.PrepareRaw(1, nil); err != nil {
			return err
		}

		buf := dc.chain.Buffer()
		n := buf.RawRemaining()
		if n > len(data) {
			n = len(data)
		}

		dst, err := buf.Raw(n)
		if err != nil {
			return err
		}
		copy(dst, data[:n])

		dc.chain.MarkDirty()
		if err := dc.chain.Flush(); err != nil {
			return err
		}

		data = data[n:]
	}
	return nil
}

// Cursor returns a cursor addressing the very start of the chain's content.
func (dc *DataChain) Cursor() DataChainCursor {
	return DataChainCursor{}
}

// ReadAt copies bytes starting at cur into out, advancing across sector
// boundaries as needed, and returns the number of bytes copied and the
// cursor's new position. It returns (0, cur, nil) at end of chain. Callers
// are expected to advance cur monotonically (spec.md's single-writer,
// sequential-reader model); ReadAt repositions the chain forward only.
func (dc *DataChain) ReadAt(cur DataChainCursor, out []byte) (int, DataChainCursor, error) {
	if dc.chain.LengthSectors() == 0 {
		return 0, cur, nil
	}

	if cur.sectorIndex == 0 {
		if err := dc.chain.BackToHead(); err != nil {
			return 0, cur, err
		}
	}
	for dc.chain.curIndex < cur.sectorIndex {
		ok, err := dc.chain.Forward()
		if err != nil {
			return 0, cur, err
		}
		if !ok {
			return 0, cur, corrupt(dc.chain.Current(), "data chain cursor seeks past end of chain")
		}
	}

	total := 0
	for total < len(out) {
		region := dc.chain.Buffer().RawDataRange()
		if cur.offset >= len(region) {
			ok, err := dc.chain.Forward()
			if err != nil {
				return total, cur, err
			}
			if !ok {
				return total, cur, nil
			}
			cur.sectorIndex++
			cur.offset = 0
			continue
		}

		n := copy(out[total:], region[cur.offset:])
		cur.offset += n
		cur.position += n
		total += n
	}

	return total, cur, nil
}

// Length returns the total number of content bytes held across the whole
// chain, per spec.md §4.5: file_size = sum of per-sector content bytes.
func (dc *DataChain) Length() (int, error) {
	if err := dc.chain.BackToHead(); err != nil {
		return 0, err
	}
	total := 0
	for {
		total += len(dc.chain.Buffer().RawDataRange())
		ok, err := dc.chain.Forward()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
	}
	return total, nil
}
