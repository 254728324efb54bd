// Package cleanup tracks release callbacks for OS resources (loop devices,
// mounts, temporary directories) so they are undone exactly once, whether
// the owner returns normally, fails, or the process receives a signal.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Handle is a single registered callback.
type Handle struct {
	name  string
	fn    func() error
	once  sync.Once
	err   error
	stack *Stack
}

// Release runs the callback if it has not run yet and drops it from the
// stack. Later calls return the first result.
func (h *Handle) Release() error {
	h.once.Do(func() {
		h.stack.remove(h)
		h.stack.log.WithField("cleanup", h.name).Debug("releasing")
		h.err = h.fn()
		if h.err != nil {
			h.err = fmt.Errorf("cleanup %q: %w", h.name, h.err)
		}
	})
	return h.err
}

// ErrInterrupted is returned by Acquire once a signal has been handled.
var ErrInterrupted = errors.New("interrupted by signal")

// Stack is a LIFO registry of pending callbacks. It is safe for concurrent
// use: the signal watcher and the owning goroutine may race to release.
type Stack struct {
	mu      sync.Mutex
	pending []*Handle
	log     logrus.FieldLogger

	// held while a resource is acquired and its release pushed
	acquire     sync.Mutex
	interrupted bool
}

func NewStack(log logrus.FieldLogger) *Stack {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Stack{log: log}
}

// Push registers fn under name and returns its handle.
func (s *Stack) Push(name string, fn func() error) *Handle {
	h := &Handle{name: name, fn: fn, stack: s}
	s.mu.Lock()
	s.pending = append(s.pending, h)
	s.mu.Unlock()
	return h
}

// Acquire runs fn, which creates a resource and pushes its release, so that
// the signal watcher only runs once the release is registered. After a
// signal it returns ErrInterrupted without calling fn.
func (s *Stack) Acquire(fn func() error) error {
	s.acquire.Lock()
	defer s.acquire.Unlock()
	if s.interrupted {
		return ErrInterrupted
	}
	return fn()
}

func (s *Stack) remove(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.pending {
		if p == h {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Pending returns the names of callbacks not yet released, newest first.
func (s *Stack) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.pending))
	for i := len(s.pending) - 1; i >= 0; i-- {
		names = append(names, s.pending[i].name)
	}
	return names
}

// Run releases every pending callback, newest first, and joins their errors.
// A failing callback does not stop the others.
func (s *Stack) Run() error {
	var errs []error
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.mu.Unlock()
			break
		}
		h := s.pending[len(s.pending)-1]
		s.mu.Unlock()
		if err := h.Release(); err != nil {
			s.log.WithError(err).Warn("cleanup failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Watch releases everything and calls exit(1) when a signal arrives on
// signals. A command running inside Acquire is allowed to finish first.
// It returns once ctx is done or after handling a signal.
func (s *Stack) Watch(ctx context.Context, signals <-chan os.Signal, exit func(code int)) {
	select {
	case <-ctx.Done():
		return
	case sig := <-signals:
		s.log.WithField("signal", sig.String()).Warn("received signal, cleaning up")
		s.acquire.Lock()
		s.interrupted = true
		s.acquire.Unlock()
		_ = s.Run()
		exit(1)
	}
}
