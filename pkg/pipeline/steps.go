package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/macvmio/imgprep/pkg/autoexpand"
	"github.com/macvmio/imgprep/pkg/checksum"
	"github.com/macvmio/imgprep/pkg/compress"
	"github.com/macvmio/imgprep/pkg/duplicator"
	"github.com/macvmio/imgprep/pkg/e2fs"
	"github.com/macvmio/imgprep/pkg/loopdev"
	"github.com/macvmio/imgprep/pkg/mount"
	"github.com/macvmio/imgprep/pkg/osrelease"
	"github.com/macvmio/imgprep/pkg/parted"
	"github.com/macvmio/imgprep/pkg/preflight"
	"github.com/macvmio/imgprep/pkg/scrub"
	"github.com/sirupsen/logrus"
)

func (p *Pipeline) stepLog(name string) logrus.FieldLogger {
	return p.opts.log.WithFields(logrus.Fields{"image": p.input, "step": name})
}

func (p *Pipeline) preflight(_ context.Context, _ *Result) error {
	return p.opts.checker.All(p.input, preflight.RequiredTools(p.opts.zeroFreeBlocks))
}

func (p *Pipeline) copy(ctx context.Context, res *Result) error {
	return duplicator.CloneFile(ctx, p.opts.runner, p.input, res.Image)
}

func (p *Pipeline) partitions(ctx context.Context, res *Result) error {
	t, err := parted.Read(ctx, p.opts.runner, res.Image)
	if err != nil {
		return err
	}
	root, err := t.Root()
	if err != nil {
		return err
	}
	if t.Logical(root) {
		return fmt.Errorf("root partition %d is a logical partition, only primary partitions can be shrunk", root.Number)
	}
	if !root.IsExt() {
		return fmt.Errorf("root partition %d has filesystem %q, expected ext2, ext3 or ext4", root.Number, root.Filesystem)
	}
	res.Root = root
	p.stepLog("partitions").WithFields(logrus.Fields{
		"root":  root.String(),
		"label": t.Label,
	}).Info("found root partition")
	return nil
}

// withRoot attaches the root partition for the duration of fn.
func (p *Pipeline) withRoot(ctx context.Context, res *Result, fn func(d *loopdev.Device) error) error {
	return loopdev.With(ctx, p.opts.runner, p.opts.stack, res.Image, res.Root.Start, fn)
}

func (p *Pipeline) fsck(ctx context.Context, res *Result) error {
	return p.withRoot(ctx, res, func(d *loopdev.Device) error {
		return e2fs.CheckAndRepair(ctx, p.opts.runner, p.stepLog("fsck"), d.Path)
	})
}

func (p *Pipeline) scrub(ctx context.Context, res *Result) error {
	log := p.stepLog("scrub")
	return p.withRoot(ctx, res, func(d *loopdev.Device) error {
		return mount.With(ctx, p.opts.runner, p.opts.stack, d.Path, func(m *mount.Mountpoint) error {
			fsys := p.opts.fs(m.Dir)
			removed, err := scrub.Scrub(fsys, p.opts.patterns)
			if err != nil {
				return err
			}
			res.Removed = removed
			log.WithField("count", len(removed)).Info("removed files")
			for _, r := range removed {
				log.WithField("path", r).Debug("removed")
			}

			rel, err := osrelease.Read(fsys)
			switch {
			case errors.Is(err, osrelease.ErrNotFound):
				log.Warn("no os-release file on root filesystem")
			case err != nil:
				log.WithError(err).Warn("unable to read os-release")
			default:
				res.Release = rel
				log.WithField("os", rel.String()).Info("detected operating system")
			}
			return nil
		})
	})
}

func (p *Pipeline) autoexpand(ctx context.Context, res *Result) error {
	log := p.stepLog("autoexpand")
	t, err := parted.Read(ctx, p.opts.runner, res.Image)
	if err != nil {
		return err
	}
	boot, ok := t.Boot()
	if !ok {
		log.Warn("no FAT boot partition, skipping")
		return nil
	}
	return loopdev.With(ctx, p.opts.runner, p.opts.stack, res.Image, boot.Start, func(d *loopdev.Device) error {
		return mount.With(ctx, p.opts.runner, p.opts.stack, d.Path, func(m *mount.Mountpoint) error {
			changed, err := autoexpand.Configure(p.opts.fs(m.Dir), p.opts.cmdlineParam)
			switch {
			case errors.Is(err, autoexpand.ErrNoCmdline):
				log.Warn("no cmdline.txt on boot partition, skipping")
				return nil
			case err != nil:
				return err
			case changed:
				res.Expanded = true
				log.WithField("param", p.opts.cmdlineParam).Info("enabled first boot expansion")
			default:
				res.Expanded = true
				log.Info("first boot expansion already enabled")
			}
			return nil
		})
	})
}

func (p *Pipeline) shrink(ctx context.Context, res *Result) error {
	log := p.stepLog("shrink")
	err := p.withRoot(ctx, res, func(d *loopdev.Device) error {
		// the scrub mount leaves the filesystem needing a forced check
		// before resize2fs accepts it
		if err := e2fs.CheckAndRepair(ctx, p.opts.runner, log, d.Path); err != nil {
			return err
		}
		sr, err := e2fs.Shrink(ctx, p.opts.runner, d.Path, e2fs.ShrinkOptions{
			MaxPasses:   p.opts.maxPasses,
			ExtraBlocks: p.opts.extraBlocks,
			Log:         log,
		})
		res.Shrink = sr
		return err
	})
	if err != nil {
		return err
	}
	end, err := parted.ShrinkPartition(ctx, p.opts.runner, res.Image, res.Root, res.Shrink.After.Bytes())
	if err != nil {
		return err
	}
	res.Root.End = end
	res.Root.Size = end - res.Root.Start + 1
	log.WithFields(logrus.Fields{
		"passes": res.Shrink.Passes,
		"blocks": res.Shrink.After.BlockCount,
		"end":    end,
	}).Info("root partition shrunk")
	return nil
}

func (p *Pipeline) zeroFree(ctx context.Context, res *Result) error {
	return p.withRoot(ctx, res, func(d *loopdev.Device) error {
		return e2fs.ZeroFree(ctx, p.opts.runner, d.Path)
	})
}

func (p *Pipeline) truncate(ctx context.Context, res *Result) error {
	log := p.stepLog("truncate")
	truncated, size, err := parted.TruncateTrailingFree(ctx, p.opts.runner, res.Image)
	if err != nil {
		return err
	}
	if !truncated {
		log.Info("no free space, skipping")
	} else {
		log.WithField("size", size).Info("truncated image")
	}
	info, err := os.Stat(res.Image)
	if err != nil {
		return err
	}
	res.Size = info.Size()
	return nil
}

func (p *Pipeline) compress(_ context.Context, res *Result) error {
	archive := res.Image + ArchiveSuffix
	opts := []compress.Option{compress.WithLevel(p.opts.compressionLevel)}
	if p.opts.progress != nil {
		opts = append(opts, compress.WithProgress(p.opts.progress))
	}
	st, err := compress.CompressFile(res.Image, archive, opts...)
	if err != nil {
		return err
	}
	res.Archive = archive
	p.stepLog("compress").WithFields(logrus.Fields{
		"archive": archive,
		"ratio":   fmt.Sprintf("%.2f", st.Ratio()),
	}).Info("compressed image")
	return nil
}

func (p *Pipeline) checksum(ctx context.Context, res *Result) error {
	paths := []string{res.Image}
	if res.Archive != "" {
		paths = append(paths, res.Archive)
	}
	sums, err := checksum.WriteSidecars(ctx, paths...)
	if err != nil {
		return err
	}
	res.Sums = sums
	return nil
}
