package voltpipe

import (
	"context"

	"github.com/sirupsen/logrus"

	"pipelined.dev/voltpipe/internal/runtime"
)

// Runner executes the pipe.
type Runner struct {
	cancelFn  context.CancelFunc
	errorChan chan error
}

// Run starts all stages of the pipe. The pipe runs until all stages are
// done, any stage fails or the context is done.
func (p *Pipe) Run(ctx context.Context) *Runner {
	ctx, cancelFn := context.WithCancel(ctx)
	merger := errorMerger{
		// every stage sends at most one error.
		errorChan: make(chan error, len(p.stages)),
	}
	for i := range p.stages {
		merger.add(runtime.Run(ctx, p.names[i], p.stages[i]))
	}
	go merger.wait()
	p.log.WithField("stages", p.names).Info("pipe started")

	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer cancelFn()
		err, ok := <-merger.errorChan
		if !ok {
			p.log.Info("pipe done")
			return
		}
		cancelFn()
		rest := merger.drain()
		p.log.WithFields(logrus.Fields{
			"error":  err,
			"others": len(rest),
		}).Error("pipe failed")
		if len(rest) > 0 {
			err = append(execErrors{err}, rest...)
		}
		errc <- err
	}()
	return &Runner{
		cancelFn:  cancelFn,
		errorChan: errc,
	}
}

// Stop requests all stages to stop. Wait returns when they are done.
func (r *Runner) Stop() {
	r.cancelFn()
}

// Wait for successful finish or first error to occur. Errors of other
// stages failed in the meantime are joined.
func (r *Runner) Wait() error {
	for err := range r.errorChan {
		if err != nil {
			return err
		}
	}
	return nil
}
