// Package segment exposes byte ranges of a large image file as individually
// compressed OCI layers, so a multi-gigabyte image can be pushed and pulled
// in parallel and unchanged ranges are deduplicated by the registry.
package segment

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/macvmio/imgprep/pkg/compress"
	"github.com/sirupsen/logrus"
)

const MediaType = types.MediaType("application/vnd.macvmio.imgprep.segment.v1+zstd")

// Layer is the inclusive range [start, stop] of a file.
type Layer struct {
	filePath string
	start    int64
	stop     int64
	level    int

	diffID           v1.Hash
	diffIDErr        error
	hash             v1.Hash
	size             int64
	hashSizeError    error
	compressedOnce   sync.Once
	uncompressedOnce sync.Once

	log logrus.FieldLogger
}

var _ v1.Layer = (*Layer)(nil)

func (l *Layer) DiffID() (v1.Hash, error) {
	l.uncompressedOnce.Do(func() {
		rc, err := l.Uncompressed()
		if err != nil {
			l.diffIDErr = err
			return
		}
		defer rc.Close()
		l.diffID, _, l.diffIDErr = v1.SHA256(rc)
		l.log.WithField("segment", l.String()).Debug("calculated uncompressed segment hash")
	})
	return l.diffID, l.diffIDErr
}

// Uncompressed implements v1.Layer
func (l *Layer) Uncompressed() (io.ReadCloser, error) {
	return newRangeReader(l.filePath, l.start, l.stop)
}

// Compressed implements v1.Layer
func (l *Layer) Compressed() (io.ReadCloser, error) {
	u, err := l.Uncompressed()
	if err != nil {
		return nil, err
	}
	return compress.ReadCloserLevel(u, l.level), nil
}

// Digest implements v1.Layer
func (l *Layer) Digest() (v1.Hash, error) {
	l.calcSizeHash()
	return l.hash, l.hashSizeError
}

func (l *Layer) calcSizeHash() {
	l.compressedOnce.Do(func() {
		var r io.ReadCloser
		r, l.hashSizeError = l.Compressed()
		if l.hashSizeError != nil {
			return
		}
		defer r.Close()
		l.hash, l.size, l.hashSizeError = v1.SHA256(r)
		l.log.WithField("segment", l.String()).Debug("calculated compressed segment hash")
	})
}

func (l *Layer) MediaType() (types.MediaType, error) {
	return MediaType, nil
}

func (l *Layer) Size() (int64, error) {
	l.calcSizeHash()
	return l.size, l.hashSizeError
}

func (l *Layer) String() string {
	return fmt.Sprintf("segment of '%v' range[%v-%v]", filepath.Base(l.filePath), l.start, l.stop)
}

func (l *Layer) Start() int64 {
	return l.start
}

func (l *Layer) Stop() int64 {
	return l.stop
}

func (l *Layer) Length() int64 {
	return l.stop - l.start + 1
}

// Descriptor describes where the layer's bytes belong.
func (l *Layer) Descriptor() *Descriptor {
	return &Descriptor{filename: filepath.Base(l.filePath), start: l.start, stop: l.stop}
}

func (l *Layer) Annotations() map[string]string {
	return l.Descriptor().Annotations()
}

func NewLayer(filePath string, opts ...LayerOpt) (*Layer, error) {
	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("'%v' is empty", filePath)
	}

	l := &Layer{
		filePath: filePath,
		start:    0,
		stop:     info.Size() - 1,
		level:    1,
		log:      logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(l)
	}
	if l.stop >= info.Size() {
		return nil, errors.New("provided 'stop' is outside of file size")
	}
	if l.start < 0 || l.start > l.stop {
		return nil, errors.New("provided 'start' index is out of range")
	}
	return l, nil
}
