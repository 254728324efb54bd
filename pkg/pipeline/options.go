package pipeline

import (
	"io"
	"os"

	"github.com/macvmio/imgprep/pkg/autoexpand"
	"github.com/macvmio/imgprep/pkg/cleanup"
	"github.com/macvmio/imgprep/pkg/preflight"
	"github.com/macvmio/imgprep/pkg/scrub"
	"github.com/macvmio/imgprep/pkg/shell"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

type options struct {
	outputDir        string
	compress         bool
	compressionLevel int
	zeroFreeBlocks   bool
	autoExpand       bool
	cmdlineParam     string
	patterns         scrub.Patterns
	maxPasses        int
	extraBlocks      int64
	progress         io.Writer

	runner  shell.Runner
	checker *preflight.Checker
	stack   *cleanup.Stack
	fs      func(dir string) afero.Fs
	signals <-chan os.Signal
	exit    func(code int)
	log     logrus.FieldLogger
}

type Option func(opts *options)

func WithOutputDirectory(dir string) Option {
	return func(o *options) {
		o.outputDir = dir
	}
}

func WithCompression(enabled bool) Option {
	return func(o *options) {
		o.compress = enabled
	}
}

func WithCompressionLevel(level int) Option {
	return func(o *options) {
		if level > 0 {
			o.compressionLevel = level
		}
	}
}

// WithZeroFreeBlocks toggles zerofree. When off, zerofree is not required
// on the host.
func WithZeroFreeBlocks(enabled bool) Option {
	return func(o *options) {
		o.zeroFreeBlocks = enabled
	}
}

// WithAutoExpand toggles the first-boot resize hook. An empty param keeps
// the default.
func WithAutoExpand(enabled bool, param string) Option {
	return func(o *options) {
		o.autoExpand = enabled
		if param != "" {
			o.cmdlineParam = param
		}
	}
}

func WithScrubPatterns(p scrub.Patterns) Option {
	return func(o *options) {
		o.patterns = p
	}
}

func WithMaxPasses(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxPasses = n
		}
	}
}

func WithExtraBlocks(n int64) Option {
	return func(o *options) {
		o.extraBlocks = n
	}
}

// WithProgress draws compression progress on w.
func WithProgress(w io.Writer) Option {
	return func(o *options) {
		o.progress = w
	}
}

func WithRunner(r shell.Runner) Option {
	return func(o *options) {
		o.runner = r
	}
}

func WithChecker(c *preflight.Checker) Option {
	return func(o *options) {
		o.checker = c
	}
}

func WithCleanupStack(s *cleanup.Stack) Option {
	return func(o *options) {
		o.stack = s
	}
}

// WithFilesystem sets how a mountpoint is opened for file edits.
func WithFilesystem(fs func(dir string) afero.Fs) Option {
	return func(o *options) {
		o.fs = fs
	}
}

// WithSignals releases every loop device and mount and calls exit(1) when
// a signal arrives on signals while the pipeline runs.
func WithSignals(signals <-chan os.Signal, exit func(code int)) Option {
	return func(o *options) {
		o.signals = signals
		o.exit = exit
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(o *options) {
		o.log = log
	}
}

func makeOptions(opts ...Option) *options {
	res := options{
		outputDir:        ".",
		compress:         true,
		compressionLevel: 3,
		zeroFreeBlocks:   true,
		autoExpand:       true,
		cmdlineParam:     autoexpand.DefaultParam,
		patterns:         scrub.DefaultPatterns(),
		maxPasses:        10,
		checker:          preflight.NewChecker(),
		fs: func(dir string) afero.Fs {
			return afero.NewBasePathFs(afero.NewOsFs(), dir)
		},
		exit: os.Exit,
		log:  logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(&res)
	}
	if res.runner == nil {
		res.runner = shell.NewRunner(shell.WithLogger(res.log))
	}
	if res.stack == nil {
		res.stack = cleanup.NewStack(res.log)
	}
	return &res
}
