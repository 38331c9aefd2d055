package phylum

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Codec is a named, pluggable compressor, the same optionally-compiled-in
// shape as the teacher's CompHandler/RegisterCompHandler registry
// (comp_xz.go, comp_zstd.go): a codec only exists in the binary if its
// build tag was passed, and is looked up here by name at runtime rather
// than imported directly, so phylumctl doesn't have to know at compile
// time which codecs were linked in.
type Codec struct {
	Name       string
	NewWriter  func(w io.Writer) (io.WriteCloser, error)
	NewReader  func(r io.Reader) (io.ReadCloser, error)
}

var codecs = map[string]*Codec{}

// RegisterCodec adds a codec to the registry. Called from init() in
// export_zstd.go / export_xz.go, each gated by its own build tag.
func RegisterCodec(c *Codec) {
	codecs[c.Name] = c
}

func lookupCodec(name string) (*Codec, error) {
	if name == "" || name == "none" {
		return &Codec{Name: "none", NewWriter: nopWriter, NewReader: nopReader}, nil
	}
	c, ok := codecs[name]
	if !ok {
		return nil, fmt.Errorf("phylum: codec %q not compiled in", name)
	}
	return c, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func nopWriter(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func nopReader(r io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(r), nil
}

const snapshotMagic = "PHYLSNAP"

// Export walks every file reachable from the root directory chain's
// journal and writes a self-contained snapshot to w: a small header, then
// one (name, size, data) record per file still live (tombstoned names are
// skipped since listNames, which Export relies on, leaves them out), the
// whole stream optionally run through a Codec. Supplements spec.md, whose
// Non-goals exclude full backup/restore tooling but not a bulk read-out a
// host image builder would still want; see original_source's archive
// export path and DESIGN.md.
func Export(fsys *Filesystem, w io.Writer, codecName string) error {
	codec, err := lookupCodec(codecName)
	if err != nil {
		return err
	}
	cw, err := codec.NewWriter(w)
	if err != nil {
		return err
	}

	if _, err := cw.Write([]byte(snapshotMagic)); err != nil {
		cw.Close()
		return err
	}

	names, err := fsys.root.listNames()
	if err != nil {
		cw.Close()
		return err
	}

	if err := writeUint32(cw, uint32(len(names))); err != nil {
		cw.Close()
		return err
	}

	for _, name := range names {
		file, err := fsys.Open(name, nil)
		if err != nil {
			cw.Close()
			return err
		}
		r, err := fsys.NewReader(file)
		if err != nil {
			cw.Close()
			return err
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			cw.Close()
			return err
		}

		if err := writeUint32(cw, uint32(len(name))); err != nil {
			cw.Close()
			return err
		}
		if _, err := io.WriteString(cw, name); err != nil {
			cw.Close()
			return err
		}
		if err := writeUint32(cw, uint32(len(data))); err != nil {
			cw.Close()
			return err
		}
		if _, err := cw.Write(data); err != nil {
			cw.Close()
			return err
		}
	}

	return cw.Close()
}

// Import replays a snapshot written by Export into fsys, touching and
// writing each contained file. fsys must already be formatted or mounted.
func Import(fsys *Filesystem, r io.Reader, codecName string) error {
	codec, err := lookupCodec(codecName)
	if err != nil {
		return err
	}
	cr, err := codec.NewReader(r)
	if err != nil {
		return err
	}
	defer cr.Close()

	magic := make([]byte, len(snapshotMagic))
	if _, err := io.ReadFull(cr, magic); err != nil {
		return err
	}
	if string(magic) != snapshotMagic {
		return fmt.Errorf("phylum: not a phylum snapshot")
	}

	count, err := readUint32(cr)
	if err != nil {
		return err
	}

	for i := uint32(0); i < count; i++ {
		nameLen, err := readUint32(cr)
		if err != nil {
			return err
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(cr, nameBuf); err != nil {
			return err
		}
		dataLen, err := readUint32(cr)
		if err != nil {
			return err
		}
		data := make([]byte, dataLen)
		if _, err := io.ReadFull(cr, data); err != nil {
			return err
		}

		name := string(nameBuf)
		if _, err := fsys.Touch(name); err != nil {
			return err
		}
		file, err := fsys.Open(name, nil)
		if err != nil {
			return err
		}
		appender, err := fsys.NewAppender(file)
		if err != nil {
			return err
		}
		if err := appender.Write(data); err != nil {
			appender.Close()
			return err
		}
		if err := appender.Close(); err != nil {
			return err
		}
	}

	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
