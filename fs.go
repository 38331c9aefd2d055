package phylum

import "encoding/binary"

// rootPointerSector is a fixed, non-chain sector holding nothing but the
// root directory chain's current tail. Its head is pinned to
// RootDirectorySector (sector 0) by convention per spec.md, but nothing
// persists that chain's tail anywhere else the way a data chain's tail is
// persisted inside the FileData record that references it - there is no
// "directory entry" pointing at the root. Mounting the root therefore needs
// a bootstrap fact the rest of the design gets for free.
//
// This resolves that gap the way spec.md's own external contract allows:
// the sector map's write() is specified to go through a remapping layer
// that performs erase-before-write on every call (spec.md §6), so a fixed
// "superblock" sector can be safely rewritten in place across the root
// chain's lifetime without violating the append-only discipline the
// in-chain record log itself depends on - that discipline models what a
// single physical flash page requires, and the sector map is precisely the
// layer that already hides page relocation from everything above it. See
// DESIGN.md's Open Question log.
const rootPointerSector uint32 = 1

func readRootPointer(sectors SectorMap) (uint32, error) {
	buf := make([]byte, sectors.SectorSize())
	if err := sectors.Read(rootPointerSector, buf); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:4]), nil
}

func writeRootPointer(sectors SectorMap, tail uint32) error {
	buf := make([]byte, sectors.SectorSize())
	binary.LittleEndian.PutUint32(buf[:4], tail)
	return sectors.Write(rootPointerSector, buf)
}

// Filesystem is phylum's public surface: the flat-namespace, append-only
// flash filesystem built atop a directory chain and its data chains.
// Grounded on the teacher's top-level Superblock (super.go), which is
// likewise the one type gluing together on-media parsing and the public
// fs.FS-shaped surface - phylum's Filesystem plays the same organizing
// role for a read/write log instead of a read-only compressed image.
type Filesystem struct {
	sectors   SectorMap
	allocator SectorAllocator
	pool      BufferPool
	log       Logger

	root *DirectoryChain
}

// New constructs a Filesystem bound to the given sector map and allocator.
// Call Format on first use, or Mount to load an existing filesystem.
func New(sectors SectorMap, allocator SectorAllocator, opts ...Option) *Filesystem {
	fs := &Filesystem{
		sectors:   sectors,
		allocator: allocator,
		pool:      newSyncPool(sectors.SectorSize()),
		log:       defaultLogger,
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// allocatorFormatter is implemented by allocators that reserve their own
// on-media bookkeeping sector and need it initialized on a fresh format
// (PersistentAllocator); MemoryAllocator needs no such step.
type allocatorFormatter interface {
	Format() error
}

// Format initializes a fresh filesystem: the root directory chain's head
// sector, pinned to RootDirectorySector, and the root pointer superblock.
func (fs *Filesystem) Format() error {
	fs.logf("phylum: formatting root directory at sector %d", RootDirectorySector)

	if f, ok := fs.allocator.(allocatorFormatter); ok {
		if err := f.Format(); err != nil {
			return err
		}
	}

	root := NewDirectoryChain(fs.sectors, fs.allocator, fs.pool, HeadTail{Head: RootDirectorySector, Tail: RootDirectorySector})
	if err := root.FormatAt(RootDirectorySector); err != nil {
		return err
	}
	if err := writeRootPointer(fs.sectors, RootDirectorySector); err != nil {
		return err
	}

	fs.root = root
	return nil
}

// Mount loads an existing filesystem from media.
func (fs *Filesystem) Mount() error {
	tail, err := readRootPointer(fs.sectors)
	if err != nil {
		return err
	}

	fs.logf("phylum: mounting root directory, tail=%d", tail)

	root := NewDirectoryChain(fs.sectors, fs.allocator, fs.pool, HeadTail{Head: RootDirectorySector, Tail: tail})
	if err := root.Mount(); err != nil {
		return err
	}

	fs.root = root
	return nil
}

// Close releases the filesystem's borrowed resources.
func (fs *Filesystem) Close() error {
	if fs.root == nil {
		return nil
	}
	return fs.root.Close()
}

func (fs *Filesystem) syncRootPointer() error {
	ht := fs.root.HeadTail()
	return writeRootPointer(fs.sectors, ht.Tail)
}

// Touch binds name to a freshly derived file id and returns it.
func (fs *Filesystem) Touch(name string) (uint32, error) {
	before := fs.root.HeadTail()
	id, err := fs.root.Touch(name)
	if err != nil {
		return 0, err
	}
	if after := fs.root.HeadTail(); after != before {
		if err := fs.syncRootPointer(); err != nil {
			return 0, err
		}
	}
	fs.logf("phylum: touch %q -> id=0x%x", name, id)
	return id, nil
}

// Unlink tombstones name: it is no longer found, though its sectors are
// not reclaimed until directory rotation.
func (fs *Filesystem) Unlink(name string) error {
	before := fs.root.HeadTail()
	if err := fs.root.Unlink(name); err != nil {
		return err
	}
	if after := fs.root.HeadTail(); after != before {
		if err := fs.syncRootPointer(); err != nil {
			return err
		}
	}
	fs.logf("phylum: unlink %q", name)
	return nil
}

// Find locates name and, if cfg is non-nil, fills its attribute slots.
func (fs *Filesystem) Find(name string, cfg *OpenFileConfig) (bool, FoundFile, error) {
	return fs.root.Find(name, cfg)
}

// Open is a convenience wrapper around Find that returns ErrNotFound
// instead of a boolean when the file is absent.
func (fs *Filesystem) Open(name string, cfg *OpenFileConfig) (FoundFile, error) {
	ok, file, err := fs.root.Find(name, cfg)
	if err != nil {
		return FoundFile{}, err
	}
	if !ok {
		return FoundFile{}, ErrNotFound
	}
	return file, nil
}

// Reopen re-finds name using the attribute config captured in file.Cfg by
// an earlier Find/Open, without the caller re-passing that config.
func (fs *Filesystem) Reopen(name string, file FoundFile) (FoundFile, error) {
	ok, refreshed, err := fs.root.Reopen(name, file)
	if err != nil {
		return FoundFile{}, err
	}
	if !ok {
		return FoundFile{}, ErrNotFound
	}
	return refreshed, nil
}

// WriteAttributes journals a batch of attribute writes for a located file.
func (fs *Filesystem) WriteAttributes(file FoundFile, attrs []AttributeWrite) error {
	before := fs.root.HeadTail()
	if err := fs.root.WriteAttributes(file.ID, attrs); err != nil {
		return err
	}
	if after := fs.root.HeadTail(); after != before {
		return fs.syncRootPointer()
	}
	return nil
}

// NewAppender returns a FileAppender bound to a located file. Its writes
// are buffered until Flush or Close, which may grow the root directory
// chain (promotion to an external data chain journals a FileChain record);
// the appender's owning Filesystem keeps the root pointer in sync whenever
// that happens.
func (fs *Filesystem) NewAppender(file FoundFile) (*FileAppender, error) {
	return newFileAppender(fs.root, fs.sectors, fs.allocator, fs.pool, file, fs)
}

// NewReader returns a FileReader streaming a located file's content.
func (fs *Filesystem) NewReader(file FoundFile) (*FileReader, error) {
	return NewFileReader(fs.root, fs.sectors, fs.allocator, fs.pool, file)
}
