// Package loopdev attaches image files to loop block devices through losetup.
package loopdev

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/macvmio/imgprep/pkg/cleanup"
	"github.com/macvmio/imgprep/pkg/shell"
)

// Device is an attached loop device. Its lifetime is bounded by the step
// that attached it.
type Device struct {
	Path    string
	Backing string
	Offset  int64

	runner shell.Runner
	handle *cleanup.Handle
}

func (d *Device) String() string {
	return fmt.Sprintf("%s (%s @%d)", d.Path, d.Backing, d.Offset)
}

// Attach binds img, starting at offset bytes, to the first free loop device.
func Attach(ctx context.Context, r shell.Runner, img string, offset int64) (*Device, error) {
	if offset < 0 {
		return nil, fmt.Errorf("negative offset %d", offset)
	}
	res, err := r.Run(ctx, "losetup", "--find", "--show", "--offset", strconv.FormatInt(offset, 10), img)
	if err != nil {
		return nil, fmt.Errorf("failed to setup loopback device: %w", err)
	}
	dev := strings.TrimSpace(res.Stdout)
	if !strings.HasPrefix(dev, "/dev/") {
		return nil, fmt.Errorf("losetup returned unexpected device %q", dev)
	}
	return &Device{Path: dev, Backing: img, Offset: offset, runner: r}, nil
}

// AttachScoped is Attach with the detach registered on stack, so that a
// signal arriving mid step still frees the device. Callers must Detach.
func AttachScoped(ctx context.Context, r shell.Runner, stack *cleanup.Stack, img string, offset int64) (*Device, error) {
	var d *Device
	err := stack.Acquire(func() (err error) {
		d, err = Attach(ctx, r, img, offset)
		if err != nil {
			return err
		}
		d.handle = stack.Push("detach "+d.Path, func() error {
			// detaching must not depend on the caller's context, which is
			// usually the one that was just cancelled
			return d.detach(context.Background())
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Detach frees the device. It is safe to call more than once.
func (d *Device) Detach(ctx context.Context) error {
	if d.handle != nil {
		return d.handle.Release()
	}
	return d.detach(ctx)
}

func (d *Device) detach(ctx context.Context) error {
	if _, err := d.runner.Run(ctx, "losetup", "-d", d.Path); err != nil {
		return fmt.Errorf("failed to detach loopback device: %w", err)
	}
	return nil
}

// With attaches img at offset, runs fn and detaches again whatever fn
// returns.
func With(ctx context.Context, r shell.Runner, stack *cleanup.Stack, img string, offset int64, fn func(d *Device) error) (err error) {
	d, err := AttachScoped(ctx, r, stack, img, offset)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, d.Detach(ctx))
	}()
	return fn(d)
}
