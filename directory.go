package phylum

import (
	"encoding/binary"
	"hash/fnv"
)

// MaxNameLength bounds a file name, mirroring original_source's fixed
// char[N] name buffer (the on-media record here is itself length-framed,
// so this is purely a sanity cap enforced at Touch, not a padded width).
const MaxNameLength = 64

// MaxAttributeSize bounds a single attribute payload.
const MaxAttributeSize = 1<<16 - 1

// InvalidFileID is the sentinel file id meaning "no file", matching
// original_source's file_.id == UINT32_MAX reset value.
const InvalidFileID uint32 = 0xFFFFFFFF

// FileID derives a file's stable id from its name. Nothing in the example
// pack pulls in a non-cryptographic hash library (xxhash, cityhash, ...)
// for this kind of short-key hashing, so this uses the standard library's
// hash/fnv, the idiomatic minimal choice for a stable 32-bit name digest;
// see DESIGN.md.
func FileID(name string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return h.Sum32()
}

// AttributeWrite is one slot of a WriteAttributes batch.
type AttributeWrite struct {
	Type  uint8
	Value []byte
}

// AttributeSlot describes one attribute a Find caller wants copied out:
// Type identifies the attribute, Value is zeroed then filled in place.
// Mirrors spec.md §6's open_file_config attribute slot.
type AttributeSlot struct {
	Type  uint8
	Value []byte
}

// OpenFileConfig lists the attribute slots a Find call should populate.
type OpenFileConfig struct {
	Attributes []AttributeSlot
}

// FoundFile is the transient view a directory walk reconstructs: spec.md's
// found_file.
type FoundFile struct {
	ID                uint32
	Chain             HeadTail
	DirectorySize     int
	DirectoryCapacity int
	Cfg               *OpenFileConfig
}

func freshFoundFile() FoundFile {
	return FoundFile{ID: InvalidFileID, Chain: HeadTail{Head: InvalidSector, Tail: InvalidSector}}
}

// HasChain reports whether the file's content lives in an external data
// chain rather than inline in the directory.
func (f FoundFile) HasChain() bool {
	return f.Chain.Head != InvalidSector || f.Chain.Tail != InvalidSector
}

// DirectoryChain is a sector chain whose sectors are tagged
// DirectorySector and whose records form the flat-namespace journal:
// file-creation, attribute writes, inline data, and references out to data
// chains. Grounded on original_source's directory_chain.cpp, generalized
// from its C++ union-based file_data_t into the length-framed disambiguation
// spec.md's record table documents.
type DirectoryChain struct {
	chain *Chain
}

// NewDirectoryChain constructs an unmounted directory chain. Pass
// HeadTail{Head: RootDirectorySector, Tail: RootDirectorySector} for the
// filesystem's root.
func NewDirectoryChain(sectors SectorMap, allocator SectorAllocator, pool BufferPool, ht HeadTail) *DirectoryChain {
	return &DirectoryChain{chain: NewChain(sectors, allocator, pool, "directory-chain", ht)}
}

func writeDirectoryMarker(buf *RecordBuffer) error {
	payload, err := buf.Reserve(1)
	if err != nil {
		return err
	}
	payload[0] = byte(DirectorySector)
	return nil
}

// Mount loads the chain and verifies its second record is the
// DirectorySector marker.
func (d *DirectoryChain) Mount() error {
	if err := d.chain.Mount(); err != nil {
		return err
	}

	it := d.chain.Buffer().Records()
	if !it.Next() {
		return corrupt(d.chain.Current(), "directory sector missing chain header")
	}
	if !it.Next() {
		return corrupt(d.chain.Current(), "directory sector missing DirectorySector marker")
	}
	if it.Record().Tag() != DirectorySector {
		return corrupt(d.chain.Current(), "directory sector's second record is not a DirectorySector marker")
	}
	return nil
}

// Format allocates the directory chain's head sector (the caller is
// responsible for having it land on the conventional root sector, when
// formatting the root) and writes both the chain-link header and the
// DirectorySector marker.
func (d *DirectoryChain) Format() error {
	return d.chain.Create(writeDirectoryMarker)
}

// FormatAt formats the directory chain's head at a specific sector number
// instead of one obtained from the allocator - used for the root directory,
// pinned to RootDirectorySector by convention.
func (d *DirectoryChain) FormatAt(sector uint32) error {
	return d.chain.CreateAt(sector, writeDirectoryMarker)
}

// HeadTail returns the chain's current endpoints.
func (d *DirectoryChain) HeadTail() HeadTail { return d.chain.HeadTail() }

// Close releases the chain's borrowed scratch buffer.
func (d *DirectoryChain) Close() error { return d.chain.Close() }

func (d *DirectoryChain) appendRecord(record []byte) error {
	if err := d.chain.Prepare(len(record), writeDirectoryMarker); err != nil {
		return err
	}
	if err := d.chain.Buffer().Emplace(record); err != nil {
		return err
	}
	d.chain.MarkDirty()
	return d.chain.Flush()
}

// Touch appends a FileEntry binding name to a freshly derived file id and
// returns that id.
func (d *DirectoryChain) Touch(name string) (uint32, error) {
	if len(name) == 0 || len(name) > MaxNameLength {
		return 0, ErrInvalidArgument
	}

	id := FileID(name)
	record := make([]byte, 5+len(name))
	record[0] = byte(FileEntry)
	binary.LittleEndian.PutUint32(record[1:5], id)
	copy(record[5:], name)

	if err := d.appendRecord(record); err != nil {
		return 0, err
	}
	return id, nil
}

// Unlink appends a zero-size FileData tombstone for name.
func (d *DirectoryChain) Unlink(name string) error {
	id := FileID(name)
	return d.FileData(id, nil)
}

// FileData appends an inline FileData record. A zero-length data slice
// marks the file deleted/truncated.
func (d *DirectoryChain) FileData(id uint32, data []byte) error {
	record := make([]byte, 9+len(data))
	record[0] = byte(FileData)
	binary.LittleEndian.PutUint32(record[1:5], id)
	binary.LittleEndian.PutUint32(record[5:9], uint32(len(data)))
	copy(record[9:], data)
	return d.appendRecord(record)
}

// FileChain appends a chained FileData record: henceforth id's content
// lives in the external data chain identified by ht.
func (d *DirectoryChain) FileChain(id uint32, ht HeadTail) error {
	record := make([]byte, 17)
	record[0] = byte(FileData)
	binary.LittleEndian.PutUint32(record[1:5], id)
	binary.LittleEndian.PutUint32(record[5:9], 0)
	binary.LittleEndian.PutUint32(record[9:13], ht.Head)
	binary.LittleEndian.PutUint32(record[13:17], ht.Tail)
	return d.appendRecord(record)
}

// FileAttribute appends a single FileAttribute record.
func (d *DirectoryChain) FileAttribute(id uint32, attrType uint8, value []byte) error {
	if len(value) > MaxAttributeSize {
		return ErrInvalidArgument
	}
	record := make([]byte, 8+len(value))
	record[0] = byte(FileAttribute)
	binary.LittleEndian.PutUint32(record[1:5], id)
	record[5] = attrType
	binary.LittleEndian.PutUint16(record[6:8], uint16(len(value)))
	copy(record[8:], value)
	return d.appendRecord(record)
}

// WriteAttributes journals a batch of attribute writes for id behind a
// single flush, mirroring original_source's file_appender-driven
// directory_chain::file_attributes, which skips slots the caller hasn't
// marked dirty; here every slot passed in is written.
func (d *DirectoryChain) WriteAttributes(id uint32, attrs []AttributeWrite) error {
	for _, a := range attrs {
		if len(a.Value) > MaxAttributeSize {
			return ErrInvalidArgument
		}
		record := make([]byte, 8+len(a.Value))
		record[0] = byte(FileAttribute)
		binary.LittleEndian.PutUint32(record[1:5], id)
		record[5] = a.Type
		binary.LittleEndian.PutUint16(record[6:8], uint16(len(a.Value)))
		copy(record[8:], a.Value)

		if err := d.chain.Prepare(len(record), writeDirectoryMarker); err != nil {
			return err
		}
		if err := d.chain.Buffer().Emplace(record); err != nil {
			return err
		}
		d.chain.MarkDirty()
	}
	return d.chain.Flush()
}

// Find performs a single left-to-right (oldest to newest) walk of the
// directory chain, reconstructing the state-machine spec.md §4.4
// describes: FileEntry sets the id, FileData entries accumulate or reset
// inline size / redirect to a chain / tombstone, and FileAttribute entries
// matching a requested slot overwrite that slot (last writer wins, which
// walk order guarantees). It returns (true, file, nil) if found,
// (false, FoundFile{}, nil) if absent, and a non-nil error on I/O or
// corruption failure.
func (d *DirectoryChain) Find(name string, cfg *OpenFileConfig) (bool, FoundFile, error) {
	wantID := FileID(name)

	if cfg != nil {
		for i := range cfg.Attributes {
			for j := range cfg.Attributes[i].Value {
				cfg.Attributes[i].Value[j] = 0
			}
		}
	}

	file := freshFoundFile()
	file.Cfg = cfg
	matched := false

	err := d.chain.Walk(func(rec Record) error {
		switch rec.Tag() {
		case FileEntry:
			id, name2, err := decodeFileEntry(rec.Body())
			if err != nil {
				return err
			}
			if name2 == name && id == wantID {
				file.ID = id
				matched = true
			}
		case FileData:
			id, fd, err := decodeFileData(rec.Body())
			if err != nil {
				return err
			}
			if matched && id == file.ID {
				switch {
				case fd.chained:
					file.DirectorySize = 0
					file.Chain = HeadTail{Head: fd.head, Tail: fd.tail}
				case fd.size == 0:
					file = freshFoundFile()
					file.Cfg = cfg
					matched = false
				default:
					file.DirectorySize += int(fd.size)
				}
			}
		case FileAttribute:
			id, attrType, value, err := decodeFileAttribute(rec.Body())
			if err != nil {
				return err
			}
			if matched && id == file.ID && cfg != nil {
				for i := range cfg.Attributes {
					if cfg.Attributes[i].Type == attrType {
						n := copy(cfg.Attributes[i].Value, value)
						_ = n
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return false, FoundFile{}, err
	}

	file.DirectoryCapacity = d.chain.SectorSize()/2 - file.DirectorySize

	if !matched || file.ID == InvalidFileID {
		return false, FoundFile{}, nil
	}
	return true, file, nil
}

// Reopen re-runs Find for name using the attribute config file.Cfg already
// captured by an earlier Find/Open, so a caller holding a FoundFile doesn't
// need to rebuild and re-pass the same OpenFileConfig to refresh it.
// Mirrors original_source's found_file.cfg round-trip.
func (d *DirectoryChain) Reopen(name string, file FoundFile) (bool, FoundFile, error) {
	return d.Find(name, file.Cfg)
}

// listNames reconstructs the set of names currently live in the directory,
// replaying the same FileEntry/tombstone state machine Find uses but
// tracking every name at once instead of a single target. Supplements
// spec.md for Export, which has no other way to enumerate files since the
// directory chain is a journal, not an index.
func (d *DirectoryChain) listNames() ([]string, error) {
	idToName := make(map[uint32]string)
	live := make(map[uint32]bool)
	var order []uint32

	err := d.chain.Walk(func(rec Record) error {
		switch rec.Tag() {
		case FileEntry:
			id, name, err := decodeFileEntry(rec.Body())
			if err != nil {
				return err
			}
			if _, seen := idToName[id]; !seen {
				order = append(order, id)
			}
			idToName[id] = name
			live[id] = true
		case FileData:
			id, fd, err := decodeFileData(rec.Body())
			if err != nil {
				return err
			}
			if !fd.chained && fd.size == 0 {
				live[id] = false
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(order))
	for _, id := range order {
		if live[id] {
			names = append(names, idToName[id])
		}
	}
	return names, nil
}

// seekFileEntry reports whether a FileEntry record for id has ever been
// journaled. Supplements spec.md. Nothing in the package calls it: Touch
// following Unlink is always a resurrection and needs no such check (see
// DESIGN.md's Open Question decision).
func (d *DirectoryChain) seekFileEntry(id uint32) (bool, error) {
	found := false
	err := d.chain.Walk(func(rec Record) error {
		if rec.Tag() == FileEntry {
			entryID, _, err := decodeFileEntry(rec.Body())
			if err != nil {
				return err
			}
			if entryID == id {
				found = true
			}
		}
		return nil
	})
	return found, err
}

// Read walks the chain invoking fn with each inline FileData fragment
// belonging to id, in journal order, and returns the total bytes delivered.
func (d *DirectoryChain) Read(id uint32, fn func([]byte) error) (int, error) {
	copied := 0
	err := d.chain.Walk(func(rec Record) error {
		if rec.Tag() != FileData {
			return nil
		}
		fid, fd, err := decodeFileData(rec.Body())
		if err != nil {
			return err
		}
		if fid != id || fd.chained || fd.size == 0 {
			return nil
		}
		if err := fn(fd.inline); err != nil {
			return err
		}
		copied += len(fd.inline)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return copied, nil
}

func decodeFileEntry(body []byte) (uint32, string, error) {
	if len(body) < 4 {
		return 0, "", corrupt(0, "truncated FileEntry record")
	}
	id := binary.LittleEndian.Uint32(body[:4])
	return id, string(body[4:]), nil
}

type fileDataBody struct {
	chained bool
	head    uint32
	tail    uint32
	size    uint32
	inline  []byte
}

func decodeFileData(body []byte) (uint32, fileDataBody, error) {
	if len(body) < 8 {
		return 0, fileDataBody{}, corrupt(0, "truncated FileData record")
	}
	id := binary.LittleEndian.Uint32(body[0:4])
	size := binary.LittleEndian.Uint32(body[4:8])
	rest := body[8:]

	if size == 0 && len(rest) == 8 {
		return id, fileDataBody{
			chained: true,
			head:    binary.LittleEndian.Uint32(rest[0:4]),
			tail:    binary.LittleEndian.Uint32(rest[4:8]),
		}, nil
	}
	if len(rest) != int(size) {
		return 0, fileDataBody{}, corrupt(0, "FileData size field disagrees with record length")
	}
	return id, fileDataBody{size: size, inline: rest}, nil
}

func decodeFileAttribute(body []byte) (uint32, uint8, []byte, error) {
	if len(body) < 7 {
		return 0, 0, nil, corrupt(0, "truncated FileAttribute record")
	}
	id := binary.LittleEndian.Uint32(body[0:4])
	attrType := body[4]
	size := binary.LittleEndian.Uint16(body[5:7])
	rest := body[7:]
	if len(rest) != int(size) {
		return 0, 0, nil, corrupt(0, "FileAttribute size field disagrees with record length")
	}
	return id, attrType, rest, nil
}
