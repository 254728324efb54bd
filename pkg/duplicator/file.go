// Package duplicator makes the working copy of an image that the pipeline
// is allowed to mutate.
package duplicator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/macvmio/imgprep/pkg/shell"
)

var ErrSameFile = errors.New("source and destination are the same file")

// CloneFile copies srcFile to dstFile with cp, sharing extents when the
// filesystem supports reflinks and keeping holes either way.
func CloneFile(ctx context.Context, r shell.Runner, srcFile, dstFile string) error {
	srcInfo, err := os.Stat(srcFile)
	if err != nil {
		return fmt.Errorf("unable to stat source '%v': %w", srcFile, err)
	}
	if dstInfo, err := os.Stat(dstFile); err == nil && os.SameFile(srcInfo, dstInfo) {
		return fmt.Errorf("%w: %s", ErrSameFile, dstFile)
	}
	if err := os.MkdirAll(filepath.Dir(dstFile), 0o755); err != nil {
		return fmt.Errorf("failed to create dst directory '%v': %w", filepath.Dir(dstFile), err)
	}
	if _, err := r.Run(ctx, "cp", "--reflink=auto", "--sparse=always", srcFile, dstFile); err != nil {
		return fmt.Errorf("failed to clone '%v' to '%v': %w", srcFile, dstFile, err)
	}
	return nil
}
