//go:build zstd

package phylum

import (
	"io"

	"github.com/klauspost/compress/zstd"
)

func init() {
	RegisterCodec(&Codec{
		Name: "zstd",
		NewWriter: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w)
		},
		NewReader: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
	})
}
