package phylum

import (
	"encoding/binary"
	"fmt"
	"io"
)

// HeadTail identifies a chain by its two endpoints, exactly as persisted
// inside a directory's chained FileData record.
type HeadTail struct {
	Head uint32
	Tail uint32
}

// Valid reports whether both endpoints are set. Per spec.md this check
// requires a nonzero head; the root directory chain is the one sanctioned
// exception and manages its own head (sector 0) without going through
// HeadTail.Valid.
func (ht HeadTail) Valid() bool {
	return ht.Head != InvalidSector && ht.Tail != InvalidSector && ht.Head != 0 && ht.Tail != 0
}

// sectorHeader is the first record of every sector in every chain: the
// back-link to the previous sector.
type sectorHeader struct {
	Prev uint32
}

func encodeSectorHeader(h sectorHeader) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(ChainHeader)
	binary.LittleEndian.PutUint32(buf[1:], h.Prev)
	return buf
}

func decodeSectorHeader(body []byte) (sectorHeader, error) {
	if len(body) < 4 {
		return sectorHeader{}, fmt.Errorf("phylum: truncated sector header")
	}
	return sectorHeader{Prev: binary.LittleEndian.Uint32(body)}, nil
}

// Chain is a doubly-linked (back-linked on media, forward-linked in memory
// once mounted) log of sectors: the shared machinery behind both the
// directory chain and the data chain. Grounded on the teacher's
// tableReader (tablereader.go), generalized from a read-only cursor into a
// read/append cursor with explicit sector boundaries, since phylum -
// unlike squashfs - is the one producing the on-media bytes.
type Chain struct {
	sectors   SectorMap
	allocator SectorAllocator
	pool      BufferPool

	kind string // diagnostic prefix, e.g. "directory-chain"

	// rawContent marks a chain whose sectors hold one framed chain-header
	// record followed by unframed flat bytes (a data chain) rather than a
	// sequence of framed records all the way to the erased tail (a
	// directory chain). It picks Load vs LoadRaw in loadIndex.
	rawContent bool

	head, tail uint32
	sequence   []uint32 // forward sector order, built at mount time
	curIndex   int      // index into sequence of the currently loaded sector

	buf        *RecordBuffer
	rawBuf     []byte
	current    uint32
	dirty      bool
	appendable bool
}

// NewChain constructs an unmounted chain bound to the given endpoints. Call
// Mount to load an existing chain, or Create to allocate a brand-new one.
func NewChain(sectors SectorMap, allocator SectorAllocator, pool BufferPool, kind string, chain HeadTail) *Chain {
	return &Chain{
		sectors:   sectors,
		allocator: allocator,
		pool:      pool,
		kind:      kind,
		head:      chain.Head,
		tail:      chain.Tail,
		current:   InvalidSector,
	}
}

// Head returns the chain's first sector.
func (c *Chain) Head() uint32 { return c.head }

// Tail returns the chain's last sector.
func (c *Chain) Tail() uint32 { return c.tail }

// HeadTail returns the chain's current endpoints.
func (c *Chain) HeadTail() HeadTail { return HeadTail{Head: c.head, Tail: c.tail} }

// LengthSectors returns the number of sectors currently in the chain.
func (c *Chain) LengthSectors() int { return len(c.sequence) }

// String returns a diagnostic label, e.g. "directory-chain[42]", mirroring
// original_source's sector_chain::name().
func (c *Chain) String() string {
	if c.current == InvalidSector {
		return fmt.Sprintf("%s[unmounted]", c.kind)
	}
	return fmt.Sprintf("%s[%d]", c.kind, c.current)
}

func (c *Chain) ensureBuffer() {
	if c.rawBuf == nil {
		c.rawBuf = c.pool.Get()
	}
}

// releaseBuffer returns the scratch buffer to the pool. Call when the chain
// is no longer needed.
func (c *Chain) releaseBuffer() {
	if c.rawBuf != nil {
		c.pool.Put(c.rawBuf)
		c.rawBuf = nil
		c.buf = nil
	}
}

// Close releases the chain's borrowed scratch buffer back to its pool.
func (c *Chain) Close() error {
	if c.dirty {
		if err := c.Flush(); err != nil {
			return err
		}
	}
	c.releaseBuffer()
	return nil
}

// Create allocates a brand-new head sector for this chain and formats it.
// writeHeader is invoked immediately after the sector-link header so chain
// specializations (directory chains) can emplace their own marker record.
func (c *Chain) Create(writeHeader func(*RecordBuffer) error) error {
	sector, err := c.allocator.Allocate()
	if err != nil {
		return err
	}
	return c.createAt(sector, writeHeader)
}

// CreateAt formats a brand-new head sector at a caller-chosen sector
// number rather than one obtained from the allocator. Used only for the
// root directory chain, whose head is pinned to RootDirectorySector by
// convention rather than handed out by the allocator.
func (c *Chain) CreateAt(sector uint32, writeHeader func(*RecordBuffer) error) error {
	return c.createAt(sector, writeHeader)
}

func (c *Chain) createAt(sector uint32, writeHeader func(*RecordBuffer) error) error {
	c.head = sector
	c.tail = sector
	c.sequence = []uint32{sector}
	c.curIndex = 0
	c.current = sector

	c.ensureBuffer()
	c.buf = NewRecordBuffer(c.rawBuf)
	c.buf.SetSector(sector)
	c.buf.SetChainOffset(0)

	if err := c.writeLinkHeader(InvalidSector); err != nil {
		return err
	}
	if writeHeader != nil {
		if err := writeHeader(c.buf); err != nil {
			return err
		}
	}

	c.dirty = true
	c.appendable = true

	return c.Flush()
}

func (c *Chain) writeLinkHeader(prev uint32) error {
	payload, err := c.buf.Reserve(5)
	if err != nil {
		return err
	}
	copy(payload, encodeSectorHeader(sectorHeader{Prev: prev}))
	return nil
}

// Mount loads the chain starting at its head sector and reconstructs the
// in-memory forward sequence by walking backward from the tail via each
// sector's stored prev link, then reversing - the approach spec.md's design
// notes (§9) call for instead of trying to discover successors by
// scanning: a single O(length) pass, one allocation, done once at mount.
func (c *Chain) Mount() error {
	if c.head == InvalidSector || c.tail == InvalidSector {
		return ErrNotMounted
	}

	c.ensureBuffer()

	rev := []uint32{c.tail}
	cursor := c.tail
	for cursor != c.head {
		hdr, err := c.readHeader(cursor)
		if err != nil {
			return err
		}
		if hdr.Prev == InvalidSector {
			return corrupt(cursor, "back-link chain does not reach declared head %d", c.head)
		}
		cursor = hdr.Prev
		rev = append(rev, cursor)
	}

	c.sequence = make([]uint32, len(rev))
	for i, s := range rev {
		c.sequence[len(rev)-1-i] = s
	}

	return c.loadIndex(0)
}

// readHeader reads just enough of a sector to decode its sectorHeader,
// without disturbing the chain's currently loaded buffer. It decodes only
// the chain-offset varint and the one record that follows it directly,
// rather than going through Load's full scan - a data chain's sectors
// carry unframed raw content after that first record, which a generic
// scan would misread as more (bogus) records.
func (c *Chain) readHeader(sector uint32) (sectorHeader, error) {
	tmp := make([]byte, c.sectors.SectorSize())
	if err := c.sectors.Read(sector, tmp); err != nil {
		return sectorHeader{}, err
	}

	_, n, err := decodeVarint(tmp)
	if err != nil {
		if err == ErrErasedSentinel {
			return sectorHeader{}, corrupt(sector, "sector has no chain offset: completely erased")
		}
		return sectorHeader{}, err
	}

	length, consumed, err := decodeVarint(tmp[n:])
	if err != nil {
		if err == ErrErasedSentinel {
			return sectorHeader{}, corrupt(sector, "sector has no records")
		}
		return sectorHeader{}, err
	}
	recStart := n + consumed
	recEnd := recStart + int(length)
	if recEnd > len(tmp) {
		return sectorHeader{}, corrupt(sector, "record length %d runs past end of sector", length)
	}
	rec := Record{Raw: tmp[recStart:recEnd]}
	if rec.Tag() != ChainHeader {
		return sectorHeader{}, corrupt(sector, "first record is not a chain header")
	}
	return decodeSectorHeader(rec.Body())
}

func (c *Chain) loadIndex(idx int) error {
	if c.dirty {
		return ErrChainDirty
	}
	sector := c.sequence[idx]

	tmp := make([]byte, c.sectors.SectorSize())
	if err := c.sectors.Read(sector, tmp); err != nil {
		return err
	}

	c.ensureBuffer()
	copy(c.rawBuf, tmp)
	c.buf = NewRecordBuffer(c.rawBuf)
	if c.rawContent {
		if err := c.buf.LoadRaw(sector, c.rawBuf); err != nil {
			return err
		}
	} else if err := c.buf.Load(sector, c.rawBuf); err != nil {
		return err
	}

	c.curIndex = idx
	c.current = sector
	c.appendable = idx == len(c.sequence)-1

	return nil
}

// BackToHead repositions the chain at its first sector.
func (c *Chain) BackToHead() error {
	return c.loadIndex(0)
}

// BackToTail repositions the chain at its last sector.
func (c *Chain) BackToTail() error {
	return c.loadIndex(len(c.sequence) - 1)
}

// Forward advances to the next sector in the chain. It returns
// (false, nil) at the end of the chain, (true, nil) on success, and a
// non-nil error on I/O or corruption failure.
func (c *Chain) Forward() (bool, error) {
	if c.curIndex+1 >= len(c.sequence) {
		return false, nil
	}
	if err := c.loadIndex(c.curIndex + 1); err != nil {
		return false, err
	}
	return true, nil
}

// WalkFunc is invoked once per record encountered by Walk. Returning a
// non-nil error stops the walk early and propagates the error; io.EOF is
// treated as a deliberate, non-error early stop.
type WalkFunc func(rec Record) error

// Walk loads the head sector and iterates every record across every sector
// of the chain in order, invoking fn for each. It stops at the first error
// fn returns (io.EOF signals a clean, intentional stop) or once every
// sector has been visited.
func (c *Chain) Walk(fn WalkFunc) error {
	if err := c.BackToHead(); err != nil {
		return err
	}

	for {
		it := c.buf.Records()
		for it.Next() {
			if err := fn(it.Record()); err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
		}

		ok, err := c.Forward()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}
}

// GrowTail allocates a new tail sector, links it to the current tail, and
// writes the chain-specific header record (if any) into it. The chain is
// left loaded and appendable at the new tail.
func (c *Chain) GrowTail(writeHeader func(*RecordBuffer) error) error {
	if c.dirty {
		if err := c.Flush(); err != nil {
			return err
		}
	}
	if c.current != c.tail {
		if err := c.BackToTail(); err != nil {
			return err
		}
	}

	oldOffset := c.buf.ChainOffset()
	oldUsed := c.buf.UsedContentBytes()
	oldTail := c.tail

	sector, err := c.allocator.Allocate()
	if err != nil {
		return err
	}

	// c.rawBuf is reused in place across every sector this chain ever
	// frames; it still holds the old tail's written bytes at this point
	// and must read back as freshly erased before the new sector's
	// records are staged into it, or the very first Reserve/Raw call
	// below will reject the write as an overwrite of non-erased media.
	for i := range c.rawBuf {
		c.rawBuf[i] = erasedByte
	}

	c.buf = NewRecordBuffer(c.rawBuf)
	c.buf.SetSector(sector)
	c.buf.SetChainOffset(oldOffset + uint64(oldUsed))

	if err := c.writeLinkHeader(oldTail); err != nil {
		return err
	}
	if writeHeader != nil {
		if err := writeHeader(c.buf); err != nil {
			return err
		}
	}

	c.tail = sector
	c.current = sector
	c.sequence = append(c.sequence, sector)
	c.curIndex = len(c.sequence) - 1
	c.appendable = true
	c.dirty = true

	return c.Flush()
}

// Prepare ensures the chain is positioned at an appendable sector with room
// for n more (framed) bytes, growing the chain if necessary.
func (c *Chain) Prepare(n int, writeHeader func(*RecordBuffer) error) error {
	if !c.appendable {
		if err := c.BackToTail(); err != nil {
			return err
		}
		c.appendable = true
	}
	if !c.buf.RoomFor(n) {
		return c.GrowTail(writeHeader)
	}
	return nil
}

// PrepareRaw is Prepare's counterpart for unframed data-chain writes.
func (c *Chain) PrepareRaw(n int, writeHeader func(*RecordBuffer) error) error {
	if !c.appendable {
		if err := c.BackToTail(); err != nil {
			return err
		}
		c.appendable = true
	}
	if !c.buf.RawRoomFor(n) {
		return c.GrowTail(writeHeader)
	}
	return nil
}

// Buffer exposes the currently loaded delimited buffer for chain
// specializations to Reserve/Raw records into directly.
func (c *Chain) Buffer() *RecordBuffer { return c.buf }

// MarkDirty flags the currently loaded sector as needing a flush before the
// chain moves off of it.
func (c *Chain) MarkDirty() { c.dirty = true }

// Current returns the sector currently loaded into the chain's buffer.
func (c *Chain) Current() uint32 { return c.current }

// SectorSize returns the underlying sector map's sector size.
func (c *Chain) SectorSize() int { return c.sectors.SectorSize() }

// Flush writes the currently loaded buffer back to media if it is dirty.
func (c *Chain) Flush() error {
	if !c.dirty {
		return nil
	}
	if err := c.sectors.Write(c.current, c.buf.Bytes()); err != nil {
		return err
	}
	c.dirty = false
	return nil
}
