package phylum

import "io"

// FileReader streams a file's content, transparently sourcing bytes from
// an external data chain or concatenating inline directory fragments,
// whichever the located FoundFile indicates. Symmetric counterpart to
// FileAppender, per spec.md §4.7.
type FileReader struct {
	file     FoundFile
	position int

	dataChain *DataChain
	cursor    DataChainCursor

	inline []byte
}

var _ io.Reader = (*FileReader)(nil)

// NewFileReader returns a reader bound to an already-located file (the
// result of DirectoryChain.Find).
func NewFileReader(directory *DirectoryChain, sectors SectorMap, allocator SectorAllocator, pool BufferPool, file FoundFile) (*FileReader, error) {
	r := &FileReader{file: file}

	if file.HasChain() {
		r.dataChain = NewDataChain(sectors, allocator, pool, file.Chain)
		if err := r.dataChain.Mount(); err != nil {
			return nil, err
		}
		r.cursor = r.dataChain.Cursor()
		return r, nil
	}

	var inline []byte
	_, err := directory.Read(file.ID, func(fragment []byte) error {
		inline = append(inline, fragment...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.inline = inline

	return r, nil
}

// Read implements io.Reader.
func (r *FileReader) Read(p []byte) (int, error) {
	if r.dataChain != nil {
		n, cur, err := r.dataChain.ReadAt(r.cursor, p)
		r.cursor = cur
		r.position += n
		if err != nil {
			return n, err
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}

	if r.position >= len(r.inline) {
		return 0, io.EOF
	}
	n := copy(p, r.inline[r.position:])
	r.position += n
	return n, nil
}

// Position returns the number of bytes delivered to the caller so far.
func (r *FileReader) Position() int {
	return r.position
}

// Close releases the reader's borrowed resources.
func (r *FileReader) Close() error {
	if r.dataChain != nil {
		return r.dataChain.Close()
	}
	return nil
}
