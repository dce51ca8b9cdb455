package utils

import (
	"os"

	"github.com/sirupsen/logrus"
)

var (
	InfoLogger  = newLogger(os.Stdout, logrus.InfoLevel)
	ErrorLogger = newLogger(os.Stderr, logrus.ErrorLevel)
)

func newLogger(out *os.File, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(level)
	return l
}

// InitLogger resets both loggers. level is applied to InfoLogger; an unknown
// level falls back to info.
func InitLogger(level ...string) {
	InfoLogger = newLogger(os.Stdout, logrus.InfoLevel)
	ErrorLogger = newLogger(os.Stderr, logrus.ErrorLevel)

	if len(level) > 0 && level[0] != "" {
		if lvl, err := logrus.ParseLevel(level[0]); err == nil {
			InfoLogger.SetLevel(lvl)
		}
	}
}
