package e2fs

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/macvmio/imgprep/pkg/shell"
)

type Info struct {
	BlockCount int64
	BlockSize  int64
}

// Bytes is the filesystem size.
func (i Info) Bytes() int64 {
	return i.BlockCount * i.BlockSize
}

// ParseInfo reads block count and size from `tune2fs -l` output.
func ParseInfo(out string) (Info, error) {
	var (
		info                Info
		haveCount, haveSize bool
	)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Block count":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Info{}, fmt.Errorf("block count %q: %w", value, err)
			}
			info.BlockCount, haveCount = n, true
		case "Block size":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Info{}, fmt.Errorf("block size %q: %w", value, err)
			}
			info.BlockSize, haveSize = n, true
		}
	}
	if err := sc.Err(); err != nil {
		return Info{}, err
	}
	if !haveCount || !haveSize {
		return Info{}, fmt.Errorf("tune2fs output lacks block count or block size")
	}
	return info, nil
}

// ReadInfo runs tune2fs -l against dev.
func ReadInfo(ctx context.Context, r shell.Runner, dev string) (Info, error) {
	res, err := r.Run(ctx, "tune2fs", "-l", dev)
	if err != nil {
		return Info{}, fmt.Errorf("unable to read filesystem info: %w", err)
	}
	return ParseInfo(res.Stdout)
}

const minimumSizePrefix = "Estimated minimum size of the filesystem:"

// ParseMinimumBlocks reads the estimate printed by `resize2fs -P`.
func ParseMinimumBlocks(out string) (int64, error) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if v, ok := strings.CutPrefix(line, minimumSizePrefix); ok {
			return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		}
	}
	return 0, fmt.Errorf("resize2fs did not report a minimum size")
}

// MinimumBlocks asks resize2fs for the smallest block count dev can take.
func MinimumBlocks(ctx context.Context, r shell.Runner, dev string) (int64, error) {
	res, err := r.Run(ctx, "resize2fs", "-P", dev)
	if err != nil {
		return 0, fmt.Errorf("unable to estimate minimum size: %w", err)
	}
	return ParseMinimumBlocks(res.Stdout + "\n" + res.Stderr)
}
