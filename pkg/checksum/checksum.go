// Package checksum writes sha256sum compatible sidecar files next to the
// prepared images.
package checksum

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	v1 "github.com/google/go-containerregistry/pkg/v1"
	"golang.org/x/sync/errgroup"
)

const Suffix = ".sha256"

// Sum is the digest of one file.
type Sum struct {
	Path    string
	Hash    v1.Hash
	Size    int64
	Sidecar string
}

// File hashes path.
func File(path string) (v1.Hash, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return v1.Hash{}, 0, err
	}
	defer f.Close()
	h, n, err := v1.SHA256(f)
	if err != nil {
		return v1.Hash{}, 0, fmt.Errorf("unable to hash '%v': %w", path, err)
	}
	return h, n, nil
}

// Line renders the sha256sum format: "<hex>  <basename>".
func Line(h v1.Hash, path string) string {
	return fmt.Sprintf("%s  %s\n", h.Hex, filepath.Base(path))
}

// WriteSidecars hashes every path concurrently and writes <path>.sha256 for
// each. Results keep the order of paths.
func WriteSidecars(ctx context.Context, paths ...string) ([]Sum, error) {
	sums := make([]Sum, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			h, n, err := File(p)
			if err != nil {
				return err
			}
			sidecar := p + Suffix
			if err := os.WriteFile(sidecar, []byte(Line(h, p)), 0o644); err != nil {
				return fmt.Errorf("unable to write '%v': %w", sidecar, err)
			}
			sums[i] = Sum{Path: p, Hash: h, Size: n, Sidecar: sidecar}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sums, nil
}

// Verify checks path against its sidecar.
func Verify(path string) error {
	b, err := os.ReadFile(path + Suffix)
	if err != nil {
		return err
	}
	fields := strings.Fields(string(b))
	if len(fields) < 1 {
		return fmt.Errorf("empty checksum file for '%v'", path)
	}
	want, err := v1.NewHash("sha256:" + fields[0])
	if err != nil {
		return fmt.Errorf("malformed checksum file for '%v': %w", path, err)
	}
	got, _, err := File(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("checksum mismatch for '%v': expected %s, got %s", path, want.Hex, got.Hex)
	}
	return nil
}
