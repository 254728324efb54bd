package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Result holds the captured output of a finished command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Combined returns stdout followed by stderr, trimmed.
func (r Result) Combined() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stdout) + "\n" + strings.TrimSpace(r.Stderr))
}

// Runner executes external tools. Implementations must wait for the
// command to exit before returning.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ExitError is returned when a command ran but exited with a non-zero status.
type ExitError struct {
	Command string
	Result  Result
}

func (e *ExitError) Error() string {
	out := e.Result.Combined()
	if out == "" {
		return fmt.Sprintf("%s exited with status %d", e.Command, e.Result.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Command, e.Result.ExitCode, out)
}

// ExitCode extracts the exit status from err. ok is false when err does not
// carry one, for example when the binary could not be started.
func ExitCode(err error) (code int, ok bool) {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Result.ExitCode, true
	}
	return 0, false
}

// CommandLine renders name and args the way they would be typed.
func CommandLine(name string, args ...string) string {
	return strings.Join(append([]string{name}, args...), " ")
}

type execRunner struct {
	log logrus.FieldLogger
}

// NewRunner returns a Runner backed by os/exec.
func NewRunner(opts ...Option) Runner {
	o := makeOptions(opts...)
	return &execRunner{log: o.log}
}

// Run starts the command and waits for it. The context is only consulted
// before the process starts: a running tool is never killed half way, since
// interrupting resize2fs or parted leaves the image worse than finishing.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	line := CommandLine(name, args...)
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("not running %q: %w", line, err)
	}
	log := r.log.WithField("cmd", line)
	log.Info("exec")

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if out := res.Combined(); out != "" {
		log.Debugf("output: %s", out)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Command: line, Result: res}
		}
		res.ExitCode = -1
		return res, fmt.Errorf("unable to run %q: %w", line, err)
	}
	return res, nil
}
