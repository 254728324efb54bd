package e2fs

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/macvmio/imgprep/pkg/shell"
	"github.com/sirupsen/logrus"
)

type ShrinkOptions struct {
	// MaxPasses bounds the number of `resize2fs -M` runs.
	MaxPasses int
	// ExtraBlocks are added back after the filesystem reached its minimum.
	ExtraBlocks int64
	Log         logrus.FieldLogger
}

// ShrinkResult describes what Shrink did.
type ShrinkResult struct {
	Before    Info
	After     Info
	Passes    int
	Converged bool
}

// Shrunk reports whether the filesystem got smaller.
func (r ShrinkResult) Shrunk() bool {
	return r.After.BlockCount < r.Before.BlockCount
}

const nothingToDo = "Nothing to do"

// Shrink brings the filesystem on dev down to its minimum size. A single
// `resize2fs -M` often stops short because moving blocks frees up more
// metadata, so it is repeated until a pass no longer reduces the block
// count or resize2fs says there is nothing to do. MaxPasses only guards
// against a tool that keeps shrinking by a few blocks forever.
func Shrink(ctx context.Context, r shell.Runner, dev string, opts ShrinkOptions) (ShrinkResult, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("device", dev)
	maxPasses := opts.MaxPasses
	if maxPasses <= 0 {
		maxPasses = 10
	}

	before, err := ReadInfo(ctx, r, dev)
	if err != nil {
		return ShrinkResult{}, err
	}
	res := ShrinkResult{Before: before, After: before}

	minBlocks, err := MinimumBlocks(ctx, r, dev)
	if err != nil {
		return res, err
	}
	log.WithFields(logrus.Fields{"blocks": before.BlockCount, "minimum": minBlocks}).Info("filesystem size")
	if before.BlockCount <= minBlocks {
		log.Info("filesystem already at minimum size, skipping shrink")
		res.Converged = true
		return res, nil
	}

	current := before
	for res.Passes < maxPasses {
		res.Passes++
		out, err := r.Run(ctx, "resize2fs", "-M", dev)
		if err != nil {
			return res, fmt.Errorf("resize pass %d failed: %w", res.Passes, err)
		}
		next, err := ReadInfo(ctx, r, dev)
		if err != nil {
			return res, err
		}
		res.After = next
		log.WithFields(logrus.Fields{"pass": res.Passes, "blocks": next.BlockCount}).Info("resize pass done")
		if next.BlockCount >= current.BlockCount || strings.Contains(out.Combined(), nothingToDo) {
			res.Converged = true
			break
		}
		current = next
	}
	if !res.Converged {
		log.WithField("passes", res.Passes).Warn("filesystem still shrinking after the last allowed pass, keeping current size")
	}

	if opts.ExtraBlocks > 0 {
		target := min(res.After.BlockCount+opts.ExtraBlocks, before.BlockCount)
		if _, err := r.Run(ctx, "resize2fs", dev, strconv.FormatInt(target, 10)); err != nil {
			return res, fmt.Errorf("unable to add %d extra blocks: %w", opts.ExtraBlocks, err)
		}
		after, err := ReadInfo(ctx, r, dev)
		if err != nil {
			return res, err
		}
		res.After = after
	}
	return res, nil
}

// ZeroFree overwrites unused blocks of dev with zeroes so they compress
// away.
func ZeroFree(ctx context.Context, r shell.Runner, dev string) error {
	if _, err := r.Run(ctx, "zerofree", dev); err != nil {
		return fmt.Errorf("unable to zero free blocks on %s: %w", dev, err)
	}
	return nil
}
