// Package compress zstd-compresses prepared images, both as whole files for
// local distribution and as streams for registry uploads.
package compress

import (
	"bufio"
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
)

// MagicHeader is the start of zstd files.
var MagicHeader = []byte{'\x28', '\xb5', '\x2f', '\xfd'}

// IsZstd reports whether r starts with a zstd frame. It consumes up to four
// bytes of r.
func IsZstd(r io.Reader) (bool, error) {
	buf := make([]byte, len(MagicHeader))
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bytes.Equal(buf[:n], MagicHeader), nil
}

func encoderLevel(level int) zstd.EOption {
	return zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level))
}

// ReadCloserLevel reads uncompressed input data from the io.ReadCloser and
// returns an io.ReadCloser from which compressed data may be read.
func ReadCloserLevel(r io.ReadCloser, level int) io.ReadCloser {
	pr, pw := io.Pipe()

	// zstd emits tiny writes for highly compressible input (zeroed free
	// blocks); batch them before they hit the pipe and the registry upload.
	bw := bufio.NewWriterSize(pw, 2<<16)

	go func() {
		defer r.Close()
		zw, err := zstd.NewWriter(bw, encoderLevel(level))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(zw, r); err != nil {
			zw.Close()
			pw.CloseWithError(err)
			return
		}
		// Close zstd writer to Flush it and write zstd trailers.
		if err := zw.Close(); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(bw.Flush())
	}()

	return pr
}
