package parted

import (
	"context"
	"fmt"
	"strconv"

	"github.com/macvmio/imgprep/pkg/shell"
)

// ShrinkPartition recreates partition p so that it spans exactly newSize
// bytes from its current start. It returns the new inclusive end offset.
func ShrinkPartition(ctx context.Context, r shell.Runner, img string, p Partition, newSize int64) (int64, error) {
	if newSize <= 0 {
		return 0, fmt.Errorf("invalid size %d for partition %d", newSize, p.Number)
	}
	end := p.Start + newSize - 1
	if end > p.End {
		return 0, fmt.Errorf("partition %d would grow from end %d to %d", p.Number, p.End, end)
	}
	if _, err := r.Run(ctx, "parted", "-s", "-a", "minimal", img, "rm", strconv.Itoa(p.Number)); err != nil {
		return 0, fmt.Errorf("unable to remove partition %d: %w", p.Number, err)
	}
	start := strconv.FormatInt(p.Start, 10) + "B"
	stop := strconv.FormatInt(end, 10) + "B"
	if _, err := r.Run(ctx, "parted", "-s", img, "unit", "B", "mkpart", "primary", start, stop); err != nil {
		return 0, fmt.Errorf("unable to recreate partition %d ending at %d: %w", p.Number, end, err)
	}
	return end, nil
}

// TruncateTrailingFree cuts img at the start of its trailing free space. When
// the report does not end with free space it does nothing and returns false.
func TruncateTrailingFree(ctx context.Context, r shell.Runner, img string) (truncated bool, size int64, err error) {
	t, err := ReadFree(ctx, r, img)
	if err != nil {
		return false, 0, err
	}
	free, ok := t.TrailingFree()
	if !ok {
		return false, t.Size, nil
	}
	if _, err := r.Run(ctx, "truncate", "-s", strconv.FormatInt(free.Start, 10), img); err != nil {
		return false, 0, fmt.Errorf("unable to truncate '%v' to %d bytes: %w", img, free.Start, err)
	}
	return true, free.Start, nil
}
