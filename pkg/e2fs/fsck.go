// Package e2fs drives e2fsprogs (e2fsck, tune2fs, resize2fs) and zerofree
// against an ext2/3/4 filesystem exposed through a block device.
package e2fs

import (
	"context"
	"fmt"

	"github.com/macvmio/imgprep/pkg/shell"
	"github.com/sirupsen/logrus"
)

// RepairPasses are tried in order until one succeeds: a preen, a forced
// repair answering yes to everything, and finally a repair from the first
// backup superblock (present at block 32768 with 4k blocks).
var RepairPasses = [][]string{
	{"-pf"},
	{"-y"},
	{"-fy", "-b", "32768"},
}

// e2fsck exit status is a bit mask: 1 errors corrected, 2 corrected and a
// reboot is advised. Both leave a consistent filesystem.
func fsckPassed(code int) bool {
	return code == 0 || code == 1 || code == 2
}

// CheckAndRepair runs RepairPasses against dev until one passes. It fails
// only when the last pass fails too, or when e2fsck cannot be run at all.
func CheckAndRepair(ctx context.Context, r shell.Runner, log logrus.FieldLogger, dev string) error {
	var lastErr error
	for i, flags := range RepairPasses {
		args := append(append([]string{}, flags...), dev)
		_, err := r.Run(ctx, "e2fsck", args...)
		code, hasCode := shell.ExitCode(err)
		if err == nil || (hasCode && fsckPassed(code)) {
			log.WithFields(logrus.Fields{"device": dev, "pass": i + 1, "status": code}).Info("filesystem check passed")
			return nil
		}
		if !hasCode {
			return fmt.Errorf("unable to check filesystem on %s: %w", dev, err)
		}
		lastErr = err
		if i < len(RepairPasses)-1 {
			log.WithFields(logrus.Fields{"device": dev, "pass": i + 1, "status": code}).
				Warn("filesystem check failed, escalating repair")
		}
	}
	return fmt.Errorf("filesystem on %s could not be repaired: %w", dev, lastErr)
}
