package compress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/macvmio/imgprep/pkg/sparsefile"
	"github.com/schollz/progressbar/v3"
)

// Stats summarises a file operation.
type Stats struct {
	In      int64
	Out     int64
	Skipped int64
}

// Ratio is output size over input size.
func (s Stats) Ratio() float64 {
	if s.In == 0 {
		return 0
	}
	return float64(s.Out) / float64(s.In)
}

// CompressFile writes src zstd-compressed to dst. The output is written to a
// temporary name next to dst and renamed once complete, so an interrupted
// run never leaves a truncated archive under the final name.
func CompressFile(src, dst string, opt ...Option) (Stats, error) {
	opts := makeOptions(opt...)
	in, err := os.Open(src)
	if err != nil {
		return Stats{}, fmt.Errorf("unable to open '%v': %w", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return Stats{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".partial-*")
	if err != nil {
		return Stats{}, fmt.Errorf("unable to create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	zw, err := zstd.NewWriter(tmp, encoderLevel(opts.level))
	if err != nil {
		tmp.Close()
		return Stats{}, err
	}
	var r io.Reader = in
	bar := opts.bar(info.Size(), "compressing "+filepath.Base(src))
	if bar != nil {
		r = io.TeeReader(in, bar)
	}
	n, err := io.Copy(zw, r)
	if err != nil {
		zw.Close()
		tmp.Close()
		return Stats{}, fmt.Errorf("unable to compress '%v': %w", src, err)
	}
	if err := zw.Close(); err != nil {
		tmp.Close()
		return Stats{}, err
	}
	if bar != nil {
		_ = bar.Finish()
	}
	out, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		tmp.Close()
		return Stats{}, err
	}
	if err := tmp.Close(); err != nil {
		return Stats{}, err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Stats{}, fmt.Errorf("unable to move archive into place: %w", err)
	}
	return Stats{In: n, Out: out}, nil
}

// DecompressFile expands a zstd archive into dst, leaving holes for zero
// blocks.
func DecompressFile(src, dst string, opt ...Option) (Stats, error) {
	opts := makeOptions(opt...)
	in, err := os.Open(src)
	if err != nil {
		return Stats{}, fmt.Errorf("unable to open '%v': %w", src, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return Stats{}, err
	}
	ok, err := IsZstd(in)
	if err != nil {
		return Stats{}, err
	}
	if !ok {
		return Stats{}, fmt.Errorf("'%v' is not a zstd archive", src)
	}
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return Stats{}, err
	}

	var r io.Reader = in
	bar := opts.bar(info.Size(), "expanding "+filepath.Base(src))
	if bar != nil {
		r = io.TeeReader(in, bar)
	}
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Stats{}, err
	}
	defer zr.Close()

	f, err := os.Create(dst)
	if err != nil {
		return Stats{}, fmt.Errorf("unable to create '%v': %w", dst, err)
	}
	w := sparsefile.NewWriter(f)
	n, copyErr := io.Copy(w, zr)
	closeErr := w.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return Stats{}, fmt.Errorf("unable to expand '%v': %w", src, err)
	}
	if bar != nil {
		_ = bar.Finish()
	}
	st := w.Stats()
	return Stats{In: info.Size(), Out: n, Skipped: st.Skipped}, nil
}

func (o *options) bar(size int64, desc string) *progressbar.ProgressBar {
	if o.progress == nil {
		return nil
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(o.progress),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(progressThrottle),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(o.progress) }),
	)
}
