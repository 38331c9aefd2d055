package phylum

// FileAppender buffers writes for one file and decides, on flush, whether
// they fit inline in the directory chain or require promoting the file to
// an external data chain. Grounded on original_source's file_appender.h,
// translated from its simple_buffer + data_chain pair into an explicit
// pending-bytes slice plus a lazily created *DataChain.
type FileAppender struct {
	directory *DirectoryChain
	sectors   SectorMap
	allocator SectorAllocator
	pool      BufferPool

	file    FoundFile
	pending []byte

	dataChain *DataChain

	// owner, if set, is notified after Flush so it can keep the root
	// directory's persisted tail pointer in sync whenever a promotion or
	// FileChain re-journal grows the root chain. Set only by
	// Filesystem.NewAppender.
	owner *Filesystem
}

// NewFileAppender returns an appender bound to an already-located file
// (the result of DirectoryChain.Find). If the file already has an external
// data chain, the appender mounts it immediately so later writes can append
// to its tail.
func NewFileAppender(directory *DirectoryChain, sectors SectorMap, allocator SectorAllocator, pool BufferPool, file FoundFile) (*FileAppender, error) {
	return newFileAppender(directory, sectors, allocator, pool, file, nil)
}

func newFileAppender(directory *DirectoryChain, sectors SectorMap, allocator SectorAllocator, pool BufferPool, file FoundFile, owner *Filesystem) (*FileAppender, error) {
	fa := &FileAppender{
		directory: directory,
		sectors:   sectors,
		allocator: allocator,
		pool:      pool,
		file:      file,
		owner:     owner,
	}

	if file.HasChain() {
		fa.dataChain = NewDataChain(sectors, allocator, pool, file.Chain)
		if err := fa.dataChain.Mount(); err != nil {
			return nil, err
		}
	}

	return fa, nil
}

func (fa *FileAppender) hasChain() bool {
	return fa.dataChain != nil
}

// Write buffers data for the next Flush. It never promotes or journals by
// itself; call Flush (or Close) to commit.
func (fa *FileAppender) Write(data []byte) error {
	fa.pending = append(fa.pending, data...)
	return nil
}

// WriteString is a convenience wrapper around Write.
func (fa *FileAppender) WriteString(s string) error {
	return fa.Write([]byte(s))
}

// Flush commits any buffered bytes: inline into the directory if there is
// room, or by promoting (or continuing to append) to an external data
// chain otherwise. On promotion or on any subsequent append that moves the
// chain's tail, it re-journals a FileChain record so later Finds observe
// the current {head, tail}.
func (fa *FileAppender) Flush() error {
	if len(fa.pending) == 0 {
		return nil
	}
	data := fa.pending
	fa.pending = nil

	rootBefore := fa.rootHeadTail()

	if !fa.hasChain() {
		if fa.file.DirectoryCapacity >= len(data) {
			if err := fa.directory.FileData(fa.file.ID, data); err != nil {
				return err
			}
			fa.file.DirectorySize += len(data)
			fa.file.DirectoryCapacity -= len(data)
			return fa.syncOwner(rootBefore)
		}
		if err := fa.promote(data); err != nil {
			return err
		}
		return fa.syncOwner(rootBefore)
	}

	before := fa.dataChain.HeadTail()
	if err := fa.dataChain.Write(data); err != nil {
		return err
	}
	after := fa.dataChain.HeadTail()
	if after != before {
		if err := fa.directory.FileChain(fa.file.ID, after); err != nil {
			return err
		}
		fa.file.Chain = after
	}
	return fa.syncOwner(rootBefore)
}

func (fa *FileAppender) rootHeadTail() HeadTail {
	if fa.owner == nil {
		return HeadTail{}
	}
	return fa.owner.root.HeadTail()
}

func (fa *FileAppender) syncOwner(before HeadTail) error {
	if fa.owner == nil {
		return nil
	}
	if fa.owner.root.HeadTail() == before {
		return nil
	}
	return fa.owner.syncRootPointer()
}

// promote allocates and formats a new external data chain, writes data
// into it, and journals the directory's FileChain redirect so the file's
// content henceforth lives there instead of inline.
func (fa *FileAppender) promote(data []byte) error {
	dc := NewDataChain(fa.sectors, fa.allocator, fa.pool, HeadTail{Head: InvalidSector, Tail: InvalidSector})
	if err := dc.Format(); err != nil {
		return err
	}
	if err := dc.Write(data); err != nil {
		return err
	}

	ht := dc.HeadTail()
	if err := fa.directory.FileChain(fa.file.ID, ht); err != nil {
		return err
	}

	fa.dataChain = dc
	fa.file.Chain = ht
	fa.file.DirectorySize = 0
	return nil
}

// Close flushes any pending bytes and releases borrowed resources.
func (fa *FileAppender) Close() error {
	if err := fa.Flush(); err != nil {
		return err
	}
	if fa.dataChain != nil {
		return fa.dataChain.Close()
	}
	return nil
}

// File returns the appender's current view of the file, including any
// chain promotion that has happened so far.
func (fa *FileAppender) File() FoundFile {
	return fa.file
}
