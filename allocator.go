package phylum

import "encoding/binary"

// allocatorPointerSector is a second fixed, non-chain sector (alongside
// rootPointerSector) holding PersistentAllocator's next-free counter. It
// exists for the same reason rootPointerSector does: something has to
// survive a remount that isn't itself part of any chain, and the sector
// map's erase-before-write write() contract makes a small fixed superblock
// sector the natural place for it (see fs.go's rootPointerSector comment
// and DESIGN.md's Open Question log).
const allocatorPointerSector uint32 = 2

// PersistentAllocator is a SectorAllocator that survives remounts by
// persisting its high-water mark in allocatorPointerSector, unlike
// MemoryAllocator (memsector.go), which resets to its starting point every
// time it is constructed and is meant only for a freshly formatted,
// never-remounted, in-RAM filesystem such as a test. Anything mounted more
// than once - in particular phylumctl, which remounts the same device file
// on every invocation - needs this one instead.
type PersistentAllocator struct {
	sectors SectorMap
	total   uint32
	next    uint32
	loaded  bool
}

// NewPersistentAllocator returns an allocator bound to sectors, which must
// have total sectors available. Call Format once, on a brand-new device,
// to initialize the counter; an allocator opened against an already
// formatted device loads it lazily on first Allocate.
func NewPersistentAllocator(sectors SectorMap, total uint32) *PersistentAllocator {
	return &PersistentAllocator{sectors: sectors, total: total}
}

// Format initializes the counter to the first sector past every sector
// phylum itself reserves (RootDirectorySector, rootPointerSector,
// allocatorPointerSector).
func (a *PersistentAllocator) Format() error {
	a.next = allocatorPointerSector + 1
	a.loaded = true
	return a.persist()
}

func (a *PersistentAllocator) ensureLoaded() error {
	if a.loaded {
		return nil
	}
	buf := make([]byte, a.sectors.SectorSize())
	if err := a.sectors.Read(allocatorPointerSector, buf); err != nil {
		return err
	}
	a.next = binary.LittleEndian.Uint32(buf[:4])
	a.loaded = true
	return nil
}

func (a *PersistentAllocator) persist() error {
	buf := make([]byte, a.sectors.SectorSize())
	binary.LittleEndian.PutUint32(buf[:4], a.next)
	return a.sectors.Write(allocatorPointerSector, buf)
}

// Allocate implements SectorAllocator.
func (a *PersistentAllocator) Allocate() (uint32, error) {
	if err := a.ensureLoaded(); err != nil {
		return InvalidSector, err
	}
	if a.next >= a.total {
		return InvalidSector, ErrNoSpace
	}
	s := a.next
	a.next++
	if err := a.persist(); err != nil {
		return InvalidSector, err
	}
	return s, nil
}
