package segment

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

type rangeReader struct {
	f *os.File
	r *bufio.Reader
}

func newRangeReader(path string, start, stop int64) (*rangeReader, error) {
	size := stop - start + 1
	if size <= 0 {
		return nil, fmt.Errorf("invalid range: start (%d) must be less than or equal to stop (%d)", start, stop)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if start >= info.Size() {
		f.Close()
		return nil, fmt.Errorf("start position (%d) is beyond file size (%d)", start, info.Size())
	}
	size = min(size, info.Size()-start)
	return &rangeReader{
		f: f,
		r: bufio.NewReaderSize(io.NewSectionReader(f, start, size), 512*1024),
	}, nil
}

func (rr *rangeReader) Read(p []byte) (int, error) {
	return rr.r.Read(p)
}

func (rr *rangeReader) Close() error {
	return rr.f.Close()
}
