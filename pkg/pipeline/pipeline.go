// Package pipeline turns a raw SD-card image into a minimised, compressed
// copy. Steps run strictly one after another; loop devices and mounts live
// only inside the step that created them.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/macvmio/imgprep/pkg/checksum"
	"github.com/macvmio/imgprep/pkg/e2fs"
	"github.com/macvmio/imgprep/pkg/osrelease"
	"github.com/macvmio/imgprep/pkg/parted"
	"github.com/sirupsen/logrus"
)

const (
	ShrunkSuffix  = "-shrunk.img"
	ArchiveSuffix = ".zst"
)

// Result collects what the run produced.
type Result struct {
	Input    string
	Image    string
	Archive  string
	Root     parted.Partition
	Release  osrelease.Release
	Removed  []string
	Shrink   e2fs.ShrinkResult
	Size     int64
	Expanded bool
	Sums     []checksum.Sum
}

type step struct {
	name string
	run  func(ctx context.Context, res *Result) error
	skip bool
}

type Pipeline struct {
	input string
	opts  *options
}

func New(input string, opt ...Option) *Pipeline {
	return &Pipeline{input: input, opts: makeOptions(opt...)}
}

// OutputPath is where the working copy of input is written.
func OutputPath(outputDir, input string) string {
	base := filepath.Base(input)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, base+ShrunkSuffix)
}

func (p *Pipeline) steps() []step {
	return []step{
		{name: "preflight", run: p.preflight},
		{name: "copy", run: p.copy},
		{name: "partitions", run: p.partitions},
		{name: "fsck", run: p.fsck},
		{name: "scrub", run: p.scrub},
		{name: "autoexpand", run: p.autoexpand, skip: !p.opts.autoExpand},
		{name: "shrink", run: p.shrink},
		{name: "zerofree", run: p.zeroFree, skip: !p.opts.zeroFreeBlocks},
		{name: "truncate", run: p.truncate},
		{name: "compress", run: p.compress, skip: !p.opts.compress},
		{name: "checksum", run: p.checksum},
	}
}

// Run executes every step in order and stops at the first failure. Pending
// cleanups run before Run returns, whatever the outcome.
func (p *Pipeline) Run(ctx context.Context) (res *Result, err error) {
	log := p.opts.log.WithField("image", p.input)
	stack := p.opts.stack

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	if p.opts.signals != nil {
		go stack.Watch(watchCtx, p.opts.signals, p.opts.exit)
	}
	defer func() {
		err = errors.Join(err, stack.Run())
	}()

	res = &Result{
		Input: p.input,
		Image: OutputPath(p.opts.outputDir, p.input),
	}
	for _, s := range p.steps() {
		stepLog := log.WithField("step", s.name)
		if s.skip {
			stepLog.Info("disabled, skipping")
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("step %q: %w", s.name, err)
		}
		start := time.Now()
		stepLog.Info("starting")
		if err := s.run(ctx, res); err != nil {
			return res, fmt.Errorf("step %q: %w", s.name, err)
		}
		stepLog.WithField("took", time.Since(start).Round(time.Millisecond)).Debug("done")
	}
	log.WithFields(logrus.Fields{
		"output": res.Image,
		"size":   res.Size,
	}).Info("image prepared")
	return res, nil
}
