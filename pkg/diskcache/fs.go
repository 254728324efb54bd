// Package diskcache keeps pulled segments on disk, keyed by layer digest, so
// that pulling an image which shares segments with an earlier pull skips
// their download.
package diskcache

import (
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/cache"
	"github.com/macvmio/imgprep/pkg/segment"
	"github.com/macvmio/imgprep/pkg/sparsefile"
	"github.com/sirupsen/logrus"
)

const diffIDSuffix = ".diffid"

type fscache struct {
	path string
	log  logrus.FieldLogger
}

// NewFilesystemCache stores uncompressed segments under path. Entries are
// written only once a layer was read completely and matched its diff ID.
func NewFilesystemCache(path string, log logrus.FieldLogger) cache.Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &fscache{path: path, log: log}
}

type teeLayer struct {
	v1.Layer

	c              *fscache
	digest, diffID v1.Hash
}

func (l *teeLayer) Uncompressed() (io.ReadCloser, error) {
	if err := os.MkdirAll(l.c.path, 0o700); err != nil {
		return nil, fmt.Errorf("unable to create directories: %w", err)
	}
	rc, err := l.Layer.Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("unable to get uncompressed layer: %w", err)
	}
	f, err := os.CreateTemp(l.c.path, l.digest.Hex+".partial-*")
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("unable to create cached layer: %w", err)
	}
	h, err := v1.Hasher(l.diffID.Algorithm)
	if err != nil {
		rc.Close()
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}
	w := sparsefile.NewWriter(f)
	return &readcloser{
		t:     io.TeeReader(rc, io.MultiWriter(w, h)),
		rc:    rc,
		w:     w,
		tmp:   f.Name(),
		h:     h,
		layer: l,
	}, nil
}

type readcloser struct {
	t     io.Reader
	rc    io.ReadCloser
	w     *sparsefile.Writer
	tmp   string
	h     hash.Hash
	layer *teeLayer
}

func (rc *readcloser) Read(b []byte) (int, error) {
	return rc.t.Read(b)
}

// Close moves the entry into place when everything the layer holds went
// through the tee.
func (rc *readcloser) Close() error {
	err := errors.Join(rc.rc.Close(), rc.w.Close())
	got := fmt.Sprintf("%x", rc.h.Sum(nil))
	if err != nil || got != rc.layer.diffID.Hex {
		os.Remove(rc.tmp)
		return err
	}
	c := rc.layer.c
	final := c.entry(rc.layer.digest)
	if err := os.WriteFile(final+diffIDSuffix, []byte(rc.layer.diffID.String()), 0o600); err != nil {
		os.Remove(rc.tmp)
		return err
	}
	if err := os.Rename(rc.tmp, final); err != nil {
		os.Remove(rc.tmp)
		return err
	}
	c.log.WithField("digest", rc.layer.digest.String()).Debug("cached segment")
	return nil
}

type cachedLayer struct {
	*segment.Layer

	digest, diffID v1.Hash
}

func (l *cachedLayer) Digest() (v1.Hash, error) {
	return l.digest, nil
}

func (l *cachedLayer) DiffID() (v1.Hash, error) {
	return l.diffID, nil
}

func (c *fscache) Put(l v1.Layer) (v1.Layer, error) {
	digest, err := l.Digest()
	if err != nil {
		return nil, err
	}
	diffID, err := l.DiffID()
	if err != nil {
		return nil, err
	}
	return &teeLayer{Layer: l, c: c, digest: digest, diffID: diffID}, nil
}

// Get looks h up as a layer digest. Entries whose content no longer
// matches their diff ID are dropped.
func (c *fscache) Get(h v1.Hash) (v1.Layer, error) {
	path := c.entry(h)
	b, err := os.ReadFile(path + diffIDSuffix)
	if errors.Is(err, os.ErrNotExist) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	diffID, err := v1.NewHash(strings.TrimSpace(string(b)))
	if err != nil {
		return nil, c.corrupted(h, err)
	}
	l, err := segment.NewLayer(path)
	if err != nil {
		return nil, c.corrupted(h, err)
	}
	got, err := l.DiffID()
	if err != nil {
		return nil, c.corrupted(h, err)
	}
	if got != diffID {
		return nil, c.corrupted(h, fmt.Errorf("content hash %v, want %v", got, diffID))
	}
	return &cachedLayer{Layer: l, digest: h, diffID: diffID}, nil
}

func (c *fscache) corrupted(h v1.Hash, reason error) error {
	c.log.WithError(reason).WithField("digest", h.String()).Warn("dropping corrupted cache entry")
	if err := c.Delete(h); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return cache.ErrNotFound
}

func (c *fscache) Delete(h v1.Hash) error {
	path := c.entry(h)
	return errors.Join(os.RemoveAll(path), os.RemoveAll(path+diffIDSuffix))
}

func (c *fscache) entry(h v1.Hash) string {
	return filepath.Join(c.path, h.String())
}
