package publish

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/cache"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/macvmio/imgprep/pkg/diskcache"
	"github.com/macvmio/imgprep/pkg/segment"
	"github.com/macvmio/imgprep/pkg/sparsefile"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Result describes a reassembled image.
type Result struct {
	Path    string
	Size    int64
	Written int64
	Skipped int64
}

// Pull downloads imageRef into dst. When dst is a directory the file keeps
// the name it was pushed with.
func Pull(imageRef, dst string, opt ...Option) (*Result, error) {
	opts := makeOptions(opt...)
	ref, err := name.ParseReference(imageRef, opts.nameOptions...)
	if err != nil {
		return nil, fmt.Errorf("unable to parse reference '%v': %w", imageRef, err)
	}
	img, err := remote.Image(ref, opts.remoteOptions...)
	if err != nil {
		return nil, err
	}
	if opts.cachePath != "" {
		img = cache.Image(img, diskcache.NewFilesystemCache(opts.cachePath, opts.log))
	}
	return reassemble(img, dst, opts)
}

// Reassemble writes the segments of img into a sparse file at dst.
func Reassemble(img v1.Image, dst string, opt ...Option) (*Result, error) {
	return reassemble(img, dst, makeOptions(opt...))
}

func reassemble(img v1.Image, dst string, opts *options) (*Result, error) {
	m, err := img.Manifest()
	if err != nil {
		return nil, fmt.Errorf("unable to read manifest: %w", err)
	}
	descs, size, err := segment.ParseManifest(m)
	if err != nil {
		return nil, fmt.Errorf("not an imgprep image: %w", err)
	}

	res := &Result{Path: dst, Size: size}
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		res.Path = filepath.Join(dst, filepath.Base(descs[0].Filename()))
	}
	if err := os.MkdirAll(filepath.Dir(res.Path), 0o755); err != nil {
		return nil, err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if opts.force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(res.Path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("unable to create '%v': %w", res.Path, err)
	}
	truncErr := f.Truncate(size)
	if err := errors.Join(truncErr, f.Close()); err != nil {
		return nil, err
	}

	stats := make([]sparsefile.Stats, len(descs))
	g, _ := errgroup.WithContext(opts.ctx)
	g.SetLimit(opts.workersCount)
	for i, d := range descs {
		g.Go(func() error {
			st, err := writeSegment(img, d, res.Path)
			if err != nil {
				return fmt.Errorf("segment %d-%d: %w", d.Start(), d.Stop(), err)
			}
			stats[i] = st
			opts.log.WithFields(logrus.Fields{
				"range":   fmt.Sprintf("%d-%d", d.Start(), d.Stop()),
				"skipped": st.Skipped,
			}).Debug("segment written")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		os.Remove(res.Path)
		return nil, err
	}
	for _, st := range stats {
		res.Written += st.Written
		res.Skipped += st.Skipped
	}
	return res, nil
}

func writeSegment(img v1.Image, d *segment.Descriptor, path string) (sparsefile.Stats, error) {
	l, err := img.LayerByDigest(d.Digest())
	if err != nil {
		return sparsefile.Stats{}, err
	}
	rc, err := l.Uncompressed()
	if err != nil {
		return sparsefile.Stats{}, err
	}
	defer rc.Close()

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return sparsefile.Stats{}, err
	}
	defer f.Close()
	if _, err := f.Seek(d.Start(), io.SeekStart); err != nil {
		return sparsefile.Stats{}, err
	}
	st, err := sparsefile.Copy(f, io.LimitReader(rc, d.Length()+1))
	if err != nil {
		return st, err
	}
	if n := st.Written + st.Skipped; n != d.Length() {
		return st, fmt.Errorf("got %d bytes, expected %d", n, d.Length())
	}
	return st, f.Close()
}
