package voltpipe

import (
	"errors"
	"strings"

	"pipelined.dev/voltpipe/internal/runtime"
)

// ErrorRun is returned if stage was successfully started, but execution
// and/or flush failed.
type ErrorRun = runtime.ErrorRun

// execErrors wraps errors that might occur when multiple operations fail.
type execErrors []error

func (e execErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// Is checks if any of errors match provided sentinel error.
func (e execErrors) Is(err error) bool {
	for _, se := range e {
		if errors.Is(se, err) {
			return true
		}
	}
	return false
}

// ret returns untyped nil if error is list is empty.
func (e execErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
