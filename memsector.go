package phylum

import "fmt"

// MemorySectorMap is an in-memory SectorMap: every sector starts
// 0xff-filled, exactly like freshly erased flash, and Write fully replaces
// a sector's bytes (the remapping/erase-before-write guarantee spec.md
// assumes of a real page-remapping layer is trivially true here, since
// nothing is actually reused in place). Grounded on the teacher's
// mockReader test harness (mock_test.go), generalized from read-only to
// read/write and exported as a usable backend rather than a test-only type,
// since phylum - unlike squashfs - needs somewhere to mount a fresh
// filesystem for its own example/test suite.
type MemorySectorMap struct {
	sectorSize int
	sectors    [][]byte

	failAt    uint32
	failOnce  bool
	failed    bool
	failError error
}

// NewMemorySectorMap allocates count sectors of sectorSize bytes each, all
// 0xff-filled.
func NewMemorySectorMap(sectorSize, count int) *MemorySectorMap {
	m := &MemorySectorMap{sectorSize: sectorSize, sectors: make([][]byte, count)}
	for i := range m.sectors {
		m.sectors[i] = make([]byte, sectorSize)
		for j := range m.sectors[i] {
			m.sectors[i][j] = erasedByte
		}
	}
	return m
}

// FailAt arranges for the next Read or Write of the given sector to return
// err, then clears the arrangement. Used by tests to exercise I/O error
// propagation the way the teacher's mockReader.errAt/errMsg do.
func (m *MemorySectorMap) FailAt(sector uint32, err error) {
	m.failAt = sector
	m.failOnce = true
	m.failed = false
	m.failError = err
}

func (m *MemorySectorMap) maybeFail(sector uint32) error {
	if m.failOnce && !m.failed && sector == m.failAt {
		m.failed = true
		return m.failError
	}
	return nil
}

// Read implements SectorMap.
func (m *MemorySectorMap) Read(sector uint32, buf []byte) error {
	if err := m.maybeFail(sector); err != nil {
		return err
	}
	if int(sector) >= len(m.sectors) {
		return fmt.Errorf("phylum: sector %d out of range (%d sectors)", sector, len(m.sectors))
	}
	copy(buf, m.sectors[sector])
	return nil
}

// Write implements SectorMap.
func (m *MemorySectorMap) Write(sector uint32, buf []byte) error {
	if err := m.maybeFail(sector); err != nil {
		return err
	}
	if int(sector) >= len(m.sectors) {
		return fmt.Errorf("phylum: sector %d out of range (%d sectors)", sector, len(m.sectors))
	}
	copy(m.sectors[sector], buf)
	return nil
}

// SectorSize implements SectorMap.
func (m *MemorySectorMap) SectorSize() int {
	return m.sectorSize
}

// Erase resets a sector back to 0xff-filled, simulating the host's
// reclamation of an abandoned sector.
func (m *MemorySectorMap) Erase(sector uint32) error {
	if int(sector) >= len(m.sectors) {
		return fmt.Errorf("phylum: sector %d out of range (%d sectors)", sector, len(m.sectors))
	}
	for i := range m.sectors[sector] {
		m.sectors[sector][i] = erasedByte
	}
	return nil
}

// MemoryAllocator hands out sequentially increasing sector numbers,
// skipping RootDirectorySector and rootPointerSector, which are reserved.
// It is paired with MemorySectorMap for tests and simple RAM-backed uses;
// a device-backed allocator would instead track a free list maintained by
// the host's wear-leveling layer.
type MemoryAllocator struct {
	next  uint32
	total uint32
}

// NewMemoryAllocator returns an allocator that will hand out sectors
// [3, total) in order, having reserved sector 0 for the root directory,
// sector 1 for its tail pointer, and sector 2 for PersistentAllocator's
// counter (unused by MemoryAllocator itself, but reserved so the two never
// disagree about what else is off limits).
func NewMemoryAllocator(total uint32) *MemoryAllocator {
	return &MemoryAllocator{next: 3, total: total}
}

// Allocate implements SectorAllocator.
func (a *MemoryAllocator) Allocate() (uint32, error) {
	if a.next >= a.total {
		return InvalidSector, ErrNoSpace
	}
	s := a.next
	a.next++
	return s, nil
}
