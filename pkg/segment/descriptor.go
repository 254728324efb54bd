package segment

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
)

const (
	FilenameAnnotationKey = "com.macvmio.imgprep.filename"
	RangeAnnotationKey    = "com.macvmio.imgprep.range"
)

// Descriptor locates a pulled segment inside the reassembled file.
type Descriptor struct {
	filename string
	start    int64
	stop     int64
	digest   v1.Hash
}

func (d *Descriptor) Filename() string {
	return d.filename
}

func (d *Descriptor) Start() int64 {
	return d.start
}

func (d *Descriptor) Stop() int64 {
	return d.stop
}

func (d *Descriptor) Digest() v1.Hash {
	return d.digest
}

func (d *Descriptor) Length() int64 {
	return d.stop - d.start + 1
}

func (d *Descriptor) Annotations() map[string]string {
	return map[string]string{
		FilenameAnnotationKey: d.filename,
		RangeAnnotationKey:    fmt.Sprintf("%d-%d", d.start, d.stop),
	}
}

func parseRange(s string) (int64, int64, error) {
	first, second, ok := strings.Cut(s, "-")
	if !ok {
		return 0, 0, errors.New("incorrect format, expected '<int>-<int>'")
	}
	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("range start: %w", err)
	}
	stop, err := strconv.ParseInt(second, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("range stop: %w", err)
	}
	if start < 0 || stop < start {
		return 0, 0, fmt.Errorf("empty range %d-%d", start, stop)
	}
	return start, stop, nil
}

func ParseDescriptor(d v1.Descriptor) (*Descriptor, error) {
	if d.MediaType != MediaType {
		return nil, fmt.Errorf("unsupported layer type %q", d.MediaType)
	}
	filename, present := d.Annotations[FilenameAnnotationKey]
	if !present {
		return nil, errors.New("missing filename annotation")
	}
	rangeString, present := d.Annotations[RangeAnnotationKey]
	if !present {
		return nil, errors.New("missing range annotation")
	}
	start, stop, err := parseRange(rangeString)
	if err != nil {
		return nil, fmt.Errorf("invalid range: %w", err)
	}
	return &Descriptor{filename: filename, start: start, stop: stop, digest: d.Digest}, nil
}

// ParseManifest extracts the segment descriptors of m, ordered by offset,
// and checks they tile [0, size) without gaps or overlaps.
func ParseManifest(m *v1.Manifest) (descs []*Descriptor, size int64, err error) {
	for _, l := range m.Layers {
		d, err := ParseDescriptor(l)
		if err != nil {
			return nil, 0, err
		}
		descs = append(descs, d)
	}
	if len(descs) == 0 {
		return nil, 0, errors.New("image has no segments")
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].start < descs[j].start })
	for _, d := range descs {
		if d.filename != descs[0].filename {
			return nil, 0, fmt.Errorf("segments belong to different files: %q and %q", descs[0].filename, d.filename)
		}
		if d.start != size {
			return nil, 0, fmt.Errorf("segment %d-%d does not continue at offset %d", d.start, d.stop, size)
		}
		size = d.stop + 1
	}
	return descs, size, nil
}
