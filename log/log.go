// Package log provides loggers for voltpipe stages.
package log

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
)

// DebugEnv is the environment variable that enables debug output.
const DebugEnv = "VOLTPIPE_DEBUG"

var debug bool

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv(DebugEnv))
	if err != nil {
		debug = false
	}
}

// GetLogger returns a new logger instance.
func GetLogger() *logrus.Logger {
	l := logrus.New()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// WithLevel returns a new logger instance with provided level. Empty level
// keeps the default one.
func WithLevel(level string) (*logrus.Logger, error) {
	l := GetLogger()
	if level == "" || debug {
		return l, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	l.SetLevel(lvl)
	return l, nil
}

// Stage returns logger entry of the stage.
func Stage(l logrus.FieldLogger, name string) logrus.FieldLogger {
	if l == nil {
		l = GetLogger()
	}
	return l.WithField("stage", name)
}
