package segment

import "github.com/sirupsen/logrus"

type LayerOpt func(*Layer)

func WithRange(start, stop int64) LayerOpt {
	return func(l *Layer) {
		l.start = start
		l.stop = stop
	}
}

// WithLevel sets the zstd level used for the compressed form.
func WithLevel(level int) LayerOpt {
	return func(l *Layer) {
		if level > 0 {
			l.level = level
		}
	}
}

func WithLogger(log logrus.FieldLogger) LayerOpt {
	return func(l *Layer) {
		l.log = log
	}
}
