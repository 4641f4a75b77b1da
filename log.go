package flvmux

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger used across the package. It is the same
// interface go-rtmp accepts, so one logger can serve both.
type Logger = logrus.FieldLogger

// discardLogger returns a logger that drops everything.
func discardLogger() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func loggerOrDiscard(l Logger) Logger {
	if l == nil {
		return discardLogger()
	}
	return l
}
