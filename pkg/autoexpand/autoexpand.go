// Package autoexpand makes a shrunk image grow its root partition back to
// the size of the card on first boot, by adding an init hook to the kernel
// command line on the boot partition.
package autoexpand

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/afero"
)

const (
	CmdlineFile = "cmdline.txt"

	// DefaultParam is the Raspberry Pi OS resize hook.
	DefaultParam = "init=/usr/lib/raspi-config/init_resize.sh"
)

var ErrNoCmdline = errors.New("boot partition has no " + CmdlineFile)

// Configure appends param to cmdline.txt on fsys, which must be rooted at the
// boot partition. It reports whether the file changed; a parameter already
// present is left alone.
func Configure(fsys afero.Fs, param string) (bool, error) {
	param = strings.TrimSpace(param)
	if param == "" {
		return false, errors.New("empty kernel parameter")
	}
	info, err := fsys.Stat(CmdlineFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, ErrNoCmdline
		}
		return false, fmt.Errorf("unable to stat %s: %w", CmdlineFile, err)
	}
	content, err := afero.ReadFile(fsys, CmdlineFile)
	if err != nil {
		return false, fmt.Errorf("unable to read %s: %w", CmdlineFile, err)
	}
	line := strings.TrimSpace(string(content))
	for _, f := range strings.Fields(line) {
		if f == param {
			return false, nil
		}
	}
	if line != "" {
		line += " "
	}
	line += param + "\n"
	if err := afero.WriteFile(fsys, CmdlineFile, []byte(line), info.Mode().Perm()); err != nil {
		return false, fmt.Errorf("unable to write %s: %w", CmdlineFile, err)
	}
	return true, nil
}
