//go:build linux || darwin

package phylum

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileSectorMap is a SectorMap backed by a single regular file, memory
// mapped for the file's whole extent. Grounded on the mmap-persister
// pattern used for write-ahead-log storage elsewhere in the example pack
// (a cache's mmap-backed WAL persister): that file grows an mmap region
// and writes a header plus fixed-size records directly into it; phylum's
// device backing does the same, minus the header, since every sector here
// is already self-describing via its own chain-link record.
//
// FillAttr-style per-platform differences live in device_linux.go and
// device_darwin.go; this file holds what's identical on both.
type FileSectorMap struct {
	file       *os.File
	data       []byte
	sectorSize int
	sectors    int
}

// OpenFileSectorMap mmaps path, whose size must be a whole multiple of
// sectorSize; the sector count is taken from that size (see
// CreateFileSectorMap to format a new one). It takes an exclusive advisory lock on path for the process
// lifetime, enforcing spec.md's single-writer assumption against a second
// process opening the same device file.
func OpenFileSectorMap(path string, sectorSize int) (*FileSectorMap, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("phylum: open device: %w", err)
	}
	if err := lockExclusive(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("phylum: lock device: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("phylum: stat device: %w", err)
	}
	size := info.Size()
	if size%int64(sectorSize) != 0 {
		f.Close()
		return nil, fmt.Errorf("phylum: device size %d is not a multiple of sector size %d", size, sectorSize)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("phylum: mmap device: %w", err)
	}

	return &FileSectorMap{
		file:       f,
		data:       data,
		sectorSize: sectorSize,
		sectors:    int(size) / sectorSize,
	}, nil
}

// CreateFileSectorMap creates and formats a new device file of exactly
// sectorCount sectors, every byte 0xff-filled to mimic freshly erased
// flash, then opens it the same way OpenFileSectorMap does.
func CreateFileSectorMap(path string, sectorSize, sectorCount int) (*FileSectorMap, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("phylum: create device: %w", err)
	}

	total := int64(sectorSize) * int64(sectorCount)
	if err := f.Truncate(total); err != nil {
		f.Close()
		return nil, fmt.Errorf("phylum: truncate device: %w", err)
	}

	fill := make([]byte, sectorSize)
	for i := range fill {
		fill[i] = erasedByte
	}
	for s := 0; s < sectorCount; s++ {
		if _, err := f.WriteAt(fill, int64(s)*int64(sectorSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("phylum: format device: %w", err)
		}
	}
	f.Close()

	return OpenFileSectorMap(path, sectorSize)
}

// Read implements SectorMap.
func (m *FileSectorMap) Read(sector uint32, buf []byte) error {
	if err := m.bounds(sector); err != nil {
		return err
	}
	off := int(sector) * m.sectorSize
	copy(buf, m.data[off:off+m.sectorSize])
	return nil
}

// Write implements SectorMap. The mapping is MAP_SHARED, so the write is
// visible to any concurrent reader of the same mapping immediately; Sync
// is still needed to push it to the underlying storage.
func (m *FileSectorMap) Write(sector uint32, buf []byte) error {
	if err := m.bounds(sector); err != nil {
		return err
	}
	off := int(sector) * m.sectorSize
	copy(m.data[off:off+m.sectorSize], buf)
	return nil
}

// SectorSize implements SectorMap.
func (m *FileSectorMap) SectorSize() int {
	return m.sectorSize
}

// SectorCount returns the total number of sectors the device holds.
func (m *FileSectorMap) SectorCount() uint32 {
	return uint32(m.sectors)
}

func (m *FileSectorMap) bounds(sector uint32) error {
	if int(sector) >= m.sectors {
		return fmt.Errorf("phylum: sector %d out of range (%d sectors)", sector, m.sectors)
	}
	return nil
}

// Sync flushes the mapping to the backing file.
func (m *FileSectorMap) Sync() error {
	return unix.Msync(m.data, unix.MS_SYNC)
}

// Close unmaps and closes the backing file, releasing its lock.
func (m *FileSectorMap) Close() error {
	if err := m.Sync(); err != nil {
		return err
	}
	if err := unix.Munmap(m.data); err != nil {
		return err
	}
	return m.file.Close()
}
