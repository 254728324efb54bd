// Package shelltest provides a scripted shell.Runner for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/macvmio/imgprep/pkg/shell"
)

// Response is one scripted outcome of a command.
type Response struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type handler struct {
	prefix    string
	responses []Response
	fn        func(args []string) Response
}

// Fake matches each command line against registered prefixes. The first
// matching handler answers; queued responses are consumed in order and the
// last one repeats. Unmatched commands succeed with empty output.
type Fake struct {
	mu       sync.Mutex
	handlers []*handler
	calls    []string
}

func New() *Fake {
	return &Fake{}
}

// On queues responses for commands whose line starts with prefix.
func (f *Fake) On(prefix string, responses ...Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, &handler{prefix: prefix, responses: responses})
	return f
}

// OnFunc answers matching commands with fn.
func (f *Fake) OnFunc(prefix string, fn func(args []string) Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, &handler{prefix: prefix, fn: fn})
	return f
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) (shell.Result, error) {
	line := shell.CommandLine(name, args...)
	f.mu.Lock()
	f.calls = append(f.calls, line)
	var (
		resp Response
		fn   func(args []string) Response
	)
	for _, h := range f.handlers {
		if !strings.HasPrefix(line, h.prefix) {
			continue
		}
		switch {
		case h.fn != nil:
			fn = h.fn
		case len(h.responses) > 1:
			resp = h.responses[0]
			h.responses = h.responses[1:]
		case len(h.responses) == 1:
			resp = h.responses[0]
		}
		break
	}
	f.mu.Unlock()
	// fn may run further commands
	if fn != nil {
		resp = fn(args)
	}

	res := shell.Result{Stdout: resp.Stdout, Stderr: resp.Stderr, ExitCode: resp.ExitCode}
	if resp.ExitCode != 0 {
		return res, &shell.ExitError{Command: line, Result: res}
	}
	return res, nil
}

// Calls returns every command line run so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many command lines started with prefix.
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *Fake) Called(prefix string) bool {
	return f.Count(prefix) > 0
}
