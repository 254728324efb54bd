// Package publish distributes prepared images through OCI registries. An
// image file is split into ranged segments, each stored as its own zstd
// layer, and reassembled into a sparse file on pull.
package publish

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/macvmio/imgprep/pkg/segment"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	TitleAnnotationKey = "org.opencontainers.image.title"
	SizeAnnotationKey  = "com.macvmio.imgprep.size"
)

// Build assembles an OCI image whose layers are the segments of imagePath.
func Build(imagePath string, opt ...Option) (v1.Image, error) {
	opts := makeOptions(opt...)
	return build(imagePath, opts)
}

func build(imagePath string, opts *options) (v1.Image, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, err
	}
	layers, err := segment.Split(imagePath, opts.segmentSize,
		segment.WithLevel(opts.level), segment.WithLogger(opts.log))
	if err != nil {
		return nil, fmt.Errorf("unable to split '%v': %w", imagePath, err)
	}

	img := mutate.MediaType(empty.Image, types.OCIManifestSchema1)
	img = mutate.ConfigMediaType(img, types.OCIConfigJSON)
	adds := make([]mutate.Addendum, 0, len(layers))
	for _, l := range layers {
		adds = append(adds, mutate.Addendum{Layer: l, Annotations: l.Annotations()})
	}
	img, err = mutate.Append(img, adds...)
	if err != nil {
		return nil, fmt.Errorf("unable to append segments: %w", err)
	}
	img, err = mutate.Config(img, v1.Config{Labels: opts.annotations})
	if err != nil {
		return nil, err
	}

	annotations := map[string]string{
		TitleAnnotationKey: filepath.Base(imagePath),
		SizeAnnotationKey:  strconv.FormatInt(info.Size(), 10),
	}
	for k, v := range opts.annotations {
		annotations[k] = v
	}
	return mutate.Annotations(img, annotations).(v1.Image), nil
}

// Push uploads imagePath to imageRef and returns the manifest digest.
func Push(imagePath, imageRef string, opt ...Option) (v1.Hash, error) {
	opts := makeOptions(opt...)

	ref, err := name.ParseReference(imageRef, opts.nameOptions...)
	if err != nil {
		return v1.Hash{}, fmt.Errorf("unable to parse reference '%v': %w", imageRef, err)
	}
	img, err := build(imagePath, opts)
	if err != nil {
		return v1.Hash{}, err
	}
	layers, err := img.Layers()
	if err != nil {
		return v1.Hash{}, fmt.Errorf("unable to extract layers from image: %w", err)
	}

	g, _ := errgroup.WithContext(opts.ctx)
	g.SetLimit(opts.workersCount)
	for _, l := range layers {
		g.Go(func() error {
			opts.log.WithField("layer", l).Info("pushing")
			return remote.WriteLayer(ref.Context(), l, opts.remoteOptions...)
		})
	}
	if err := g.Wait(); err != nil {
		return v1.Hash{}, fmt.Errorf("error occurred while pushing layers concurrently: %w", err)
	}
	if err := remote.Write(ref, img, opts.remoteOptions...); err != nil {
		return v1.Hash{}, fmt.Errorf("unable to push image to registry: %w", err)
	}
	digest, err := img.Digest()
	if err != nil {
		return v1.Hash{}, err
	}
	opts.log.WithFields(logrus.Fields{"ref": ref.String(), "digest": digest.String()}).Info("pushed")
	return digest, nil
}
