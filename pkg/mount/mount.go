// Package mount mounts block devices on temporary directories for the
// duration of a pipeline step.
package mount

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/macvmio/imgprep/pkg/cleanup"
	"github.com/macvmio/imgprep/pkg/shell"
)

// Mountpoint is a mounted block device.
type Mountpoint struct {
	Device string
	Dir    string

	runner     shell.Runner
	createdDir bool
	handle     *cleanup.Handle
}

// Mount mounts device on dir. When dir is empty a temporary directory is
// created and removed again on Unmount. Unmount is registered on stack.
func Mount(ctx context.Context, r shell.Runner, stack *cleanup.Stack, device, dir string) (*Mountpoint, error) {
	m := &Mountpoint{Device: device, Dir: dir, runner: r}
	if err := stack.Acquire(func() error { return m.mount(ctx, stack) }); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mountpoint) mount(ctx context.Context, stack *cleanup.Stack) error {
	if m.Dir == "" {
		d, err := os.MkdirTemp("", "imgprep-mnt-*")
		if err != nil {
			return fmt.Errorf("unable to create mountpoint: %w", err)
		}
		m.Dir = d
		m.createdDir = true
	}
	if _, err := m.runner.Run(ctx, "mount", m.Device, m.Dir); err != nil {
		if m.createdDir {
			_ = os.Remove(m.Dir)
		}
		return fmt.Errorf("failed to mount %s on %s: %w", m.Device, m.Dir, err)
	}
	m.handle = stack.Push("umount "+m.Dir, func() error {
		return m.unmount(context.Background())
	})
	return nil
}

// Unmount releases the mount. It is safe to call more than once.
func (m *Mountpoint) Unmount() error {
	return m.handle.Release()
}

func (m *Mountpoint) unmount(ctx context.Context) error {
	if _, err := m.runner.Run(ctx, "umount", m.Dir); err != nil {
		return fmt.Errorf("failed to unmount %s: %w", m.Dir, err)
	}
	if m.createdDir {
		if err := os.Remove(m.Dir); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("unable to remove mountpoint: %w", err)
		}
	}
	return nil
}

// With mounts device on a temporary directory for the duration of fn.
func With(ctx context.Context, r shell.Runner, stack *cleanup.Stack, device string, fn func(m *Mountpoint) error) (err error) {
	m, err := Mount(ctx, r, stack, device, "")
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, m.Unmount())
	}()
	return fn(m)
}
