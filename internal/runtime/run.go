// Package runtime executes pipe stages.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
)

type (
	// Executor executes a single stage iteration. Execute returns io.EOF
	// when stage is done.
	Executor interface {
		Execute(context.Context) error
		Start(context.Context) error
		Flush(context.Context) error
	}

	// ErrorRun is returned if executor was successfully started, but
	// execution and/or flush failed.
	ErrorRun struct {
		Stage    string
		ErrExec  error
		ErrFlush error
	}
)

// Run the executor in its own goroutine. The returned channel receives at
// most one error and is closed when executor is done.
func Run(ctx context.Context, name string, e Executor) <-chan error {
	errc := make(chan error, 1)
	go run(ctx, name, e, errc)
	return errc
}

func run(ctx context.Context, name string, e Executor, errc chan<- error) {
	defer close(errc)
	if err := e.Start(ctx); err != nil {
		errc <- fmt.Errorf("error starting %v: %w", name, err)
		return
	}

	var err error
	for err == nil {
		err = e.Execute(ctx)
	}
	if err == io.EOF {
		err = nil
	}
	flushErr := e.Flush(ctx)
	if err != nil || flushErr != nil {
		errc <- &ErrorRun{
			Stage:    name,
			ErrExec:  err,
			ErrFlush: flushErr,
		}
	}
}

func (e *ErrorRun) Error() string {
	switch {
	case e.ErrExec != nil && e.ErrFlush != nil:
		return fmt.Sprintf("%v flush error: %v after execute error: %v", e.Stage, e.ErrFlush, e.ErrExec)
	case e.ErrExec != nil:
		return fmt.Sprintf("%v execute error: %v", e.Stage, e.ErrExec)
	case e.ErrFlush != nil:
		return fmt.Sprintf("%v flush error: %v", e.Stage, e.ErrFlush)
	}
	return ""
}

// Is checks if any of errors match provided sentinel error.
func (e *ErrorRun) Is(err error) bool {
	if e.ErrExec != nil && errors.Is(e.ErrExec, err) {
		return true
	}
	if e.ErrFlush != nil && errors.Is(e.ErrFlush, err) {
		return true
	}
	return false
}
