// Package preflight verifies the host before any destructive step runs.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sort"
	"strings"
)

var (
	ErrNotLinux     = errors.New("imgprep only runs on Linux")
	ErrNotRoot      = errors.New("imgprep must be run as root (try sudo)")
	ErrMissingTools = errors.New("required tools are missing")
	ErrInputMissing = errors.New("input image does not exist")
)

// InstallHints maps each tool to the Debian package that ships it.
var InstallHints = map[string]string{
	"losetup":   "mount",
	"mount":     "mount",
	"umount":    "mount",
	"parted":    "parted",
	"e2fsck":    "e2fsprogs",
	"tune2fs":   "e2fsprogs",
	"resize2fs": "e2fsprogs",
	"zerofree":  "zerofree",
	"truncate":  "coreutils",
	"cp":        "coreutils",
}

// RequiredTools lists what the pipeline shells out to. zerofree is only
// needed when free blocks are zeroed.
func RequiredTools(zeroFreeBlocks bool) []string {
	tools := []string{"cp", "e2fsck", "losetup", "mount", "parted", "resize2fs", "truncate", "tune2fs", "umount"}
	if zeroFreeBlocks {
		tools = append(tools, "zerofree")
	}
	sort.Strings(tools)
	return tools
}

type MissingToolsError struct {
	Tools []string
}

func (e *MissingToolsError) Error() string {
	pkgs := map[string]struct{}{}
	for _, t := range e.Tools {
		if p, ok := InstallHints[t]; ok {
			pkgs[p] = struct{}{}
		}
	}
	names := make([]string, 0, len(pkgs))
	for p := range pkgs {
		names = append(names, p)
	}
	sort.Strings(names)
	msg := fmt.Sprintf("missing tools: %s", strings.Join(e.Tools, ", "))
	if len(names) > 0 {
		msg += fmt.Sprintf(" (install with: apt-get install -y %s)", strings.Join(names, " "))
	}
	return msg
}

func (e *MissingToolsError) Unwrap() error {
	return ErrMissingTools
}

// Checker holds the host probes so tests can replace them.
type Checker struct {
	GOOS     string
	Geteuid  func() int
	LookPath func(file string) (string, error)
	Stat     func(name string) (os.FileInfo, error)
}

func NewChecker() *Checker {
	return &Checker{
		GOOS:     runtime.GOOS,
		Geteuid:  os.Geteuid,
		LookPath: exec.LookPath,
		Stat:     os.Stat,
	}
}

// Host checks operating system and privileges.
func (c *Checker) Host() error {
	if c.GOOS != "linux" {
		return fmt.Errorf("%w (running on %s)", ErrNotLinux, c.GOOS)
	}
	if c.Geteuid() != 0 {
		return ErrNotRoot
	}
	return nil
}

// Tools reports every tool from the list that is not on PATH.
func (c *Checker) Tools(tools []string) error {
	var missing []string
	for _, t := range tools {
		if _, err := c.LookPath(t); err != nil {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return &MissingToolsError{Tools: missing}
	}
	return nil
}

// Input checks that path names an existing regular file.
func (c *Checker) Input(path string) error {
	if path == "" {
		return fmt.Errorf("%w: no --input given", ErrInputMissing)
	}
	info, err := c.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrInputMissing, path)
		}
		return fmt.Errorf("unable to stat input '%v': %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("input '%v' is not a regular file", path)
	}
	return nil
}

// All runs Host, Tools and Input in that order and returns the first failure.
func (c *Checker) All(input string, tools []string) error {
	if err := c.Host(); err != nil {
		return err
	}
	if err := c.Tools(tools); err != nil {
		return err
	}
	return c.Input(input)
}
