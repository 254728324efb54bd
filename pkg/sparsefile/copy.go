// Package sparsefile writes disk images without allocating blocks for runs
// of zeroes, which make up most of a freshly shrunk or zero-freed image.
package sparsefile

import (
	"io"
)

const maxBufSize = 64 * 1024

// Stats counts bytes physically written and bytes skipped as holes.
type Stats struct {
	Written int64
	Skipped int64
}

// Copy copies src into dst starting at dst's current offset, seeking over
// all-zero blocks instead of writing them. dst must already be zero (or a
// hole) in the range being skipped.
func Copy(dst io.WriteSeeker, src io.Reader) (Stats, error) {
	return copySparseBuffer(dst, src, nil)
}

func copySparseBuffer(dst io.WriteSeeker, src io.Reader, buf []byte) (st Stats, err error) {
	if buf == nil {
		buf = make([]byte, maxBufSize)
	}
	var deferred int64
	for {
		nr, er := io.ReadFull(src, buf)
		if er == io.ErrUnexpectedEOF {
			er = io.EOF
		}
		if nr > 0 && er == nil && isAllZeroes(buf[:nr]) {
			deferred += int64(nr)
			continue
		}
		if deferred > 0 {
			if nr == 0 {
				// the stream ends in a hole: write its last byte so the
				// destination reaches the full length
				deferred--
				nr = 1
				buf[0] = 0
			}
			if _, ers := dst.Seek(deferred, io.SeekCurrent); ers != nil {
				return st, ers
			}
			st.Skipped += deferred
			deferred = 0
		}
		if nr > 0 {
			nw, ew := dst.Write(buf[:nr])
			st.Written += int64(nw)
			if ew != nil {
				return st, ew
			}
		}
		if er != nil {
			if er != io.EOF {
				err = er
			}
			return st, err
		}
	}
}
