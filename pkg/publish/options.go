package publish

import (
	"context"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/sirupsen/logrus"
)

const DefaultSegmentSize = 512 * 1024 * 1024

type options struct {
	remoteOptions []remote.Option
	nameOptions   []name.Option
	workersCount  int
	segmentSize   int64
	level         int
	annotations   map[string]string
	force         bool
	cachePath     string
	log           logrus.FieldLogger
	ctx           context.Context
}

type Option func(opts *options)

// WithInsecure allows plain HTTP registries.
func WithInsecure(insecure bool) Option {
	return func(o *options) {
		if insecure {
			o.nameOptions = append(o.nameOptions, name.Insecure)
		}
	}
}

func WithWorkersCount(workersCount int) Option {
	return func(o *options) {
		if workersCount > 0 {
			o.workersCount = workersCount
		}
	}
}

func WithSegmentSize(size int64) Option {
	return func(o *options) {
		if size > 0 {
			o.segmentSize = size
		}
	}
}

// WithLevel sets the zstd level of uploaded segments.
func WithLevel(level int) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithAnnotations adds manifest annotations on push.
func WithAnnotations(annotations map[string]string) Option {
	return func(o *options) {
		for k, v := range annotations {
			o.annotations[k] = v
		}
	}
}

// WithForce overwrites an existing output file on pull.
func WithForce(force bool) Option {
	return func(o *options) {
		o.force = force
	}
}

// WithCachePath keeps pulled segments in dir and reuses them on later pulls.
func WithCachePath(dir string) Option {
	return func(o *options) {
		o.cachePath = dir
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

func WithRemoteOptions(ro ...remote.Option) Option {
	return func(o *options) {
		o.remoteOptions = append(o.remoteOptions, ro...)
	}
}

func WithContext(ctx context.Context) Option {
	return func(o *options) {
		o.ctx = ctx
		o.remoteOptions = append(o.remoteOptions, remote.WithContext(ctx))
	}
}

func makeOptions(opts ...Option) *options {
	res := options{
		remoteOptions: []remote.Option{
			remote.WithAuthFromKeychain(authn.DefaultKeychain),
		},
		workersCount: 8,
		segmentSize:  DefaultSegmentSize,
		level:        1,
		annotations:  map[string]string{},
		log:          logrus.StandardLogger(),
		ctx:          context.Background(),
	}
	for _, o := range opts {
		o(&res)
	}
	return &res
}
