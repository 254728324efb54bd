package compress

import (
	"io"
	"time"
)

const progressThrottle = 200 * time.Millisecond

type options struct {
	level    int
	progress io.Writer
}

type Option func(opts *options)

func makeOptions(opts ...Option) *options {
	res := &options{
		level: 3,
	}
	for _, o := range opts {
		o(res)
	}
	return res
}

// WithLevel sets the zstd level (1-22).
func WithLevel(level int) Option {
	return func(opts *options) {
		if level > 0 {
			opts.level = level
		}
	}
}

// WithProgress draws a progress bar on w. Without it nothing is printed.
func WithProgress(w io.Writer) Option {
	return func(opts *options) {
		opts.progress = w
	}
}
