package sparsefile

import (
	"io"
	"os"
)

// Writer is an io.WriteCloser over a file that turns zero blocks into holes.
type Writer struct {
	f        *os.File
	deferred int64
	stats    Stats
}

func NewWriter(f *os.File) *Writer {
	return &Writer{f: f}
}

func (w *Writer) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		chunk := p[:min(len(p), maxBufSize)]
		p = p[len(chunk):]
		if isAllZeroes(chunk) {
			w.deferred += int64(len(chunk))
			continue
		}
		if err := w.flushHole(); err != nil {
			return total - len(p) - len(chunk), err
		}
		n, err := w.f.Write(chunk)
		w.stats.Written += int64(n)
		if err != nil {
			return total - len(p) - len(chunk) + n, err
		}
	}
	return total, nil
}

func (w *Writer) flushHole() error {
	if w.deferred == 0 {
		return nil
	}
	if _, err := w.f.Seek(w.deferred, io.SeekCurrent); err != nil {
		return err
	}
	w.stats.Skipped += w.deferred
	w.deferred = 0
	return nil
}

// Stats returns the counters so far.
func (w *Writer) Stats() Stats {
	return w.stats
}

// Close extends the file over a trailing hole and closes it.
func (w *Writer) Close() error {
	if w.deferred > 0 {
		if err := w.flushHole(); err != nil {
			w.f.Close()
			return err
		}
		pos, err := w.f.Seek(0, io.SeekCurrent)
		if err != nil {
			w.f.Close()
			return err
		}
		info, err := w.f.Stat()
		if err != nil {
			w.f.Close()
			return err
		}
		if info.Size() < pos {
			if err := w.f.Truncate(pos); err != nil {
				w.f.Close()
				return err
			}
		}
	}
	return w.f.Close()
}
