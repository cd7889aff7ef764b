package voltpipe

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"pipelined.dev/voltpipe/internal/runtime"
	"pipelined.dev/voltpipe/log"
	"pipelined.dev/voltpipe/metric"
	"pipelined.dev/voltpipe/status"
)

type (
	// Stage is a pipe stage executor.
	Stage = runtime.Executor

	// Funcs is a stage built from closures.
	Funcs = runtime.Funcs
	// StartFunc is a closure called when stage starts.
	StartFunc = runtime.StartFunc
	// ExecuteFunc is a closure called for every stage iteration.
	ExecuteFunc = runtime.ExecuteFunc
	// FlushFunc is a closure called when stage is done.
	FlushFunc = runtime.FlushFunc

	// Allocator instantiates the stage with resources of the pipe.
	Allocator func(Env) (Stage, error)

	// Registry maps stage names to their allocators.
	Registry map[string]Allocator

	// Env holds resources available to stage allocators.
	Env struct {
		PipeID string
		Name   string
		Rings  *Rings
		Status *status.Registry
		Meter  *metric.Meter
		Logger logrus.FieldLogger
	}

	// Pipe is the set of allocated stages.
	Pipe struct {
		uid    string
		rings  *Rings
		names  []string
		stages []Stage
		metric *metric.Metric
		status *status.Registry
		log    logrus.FieldLogger
	}

	// Option provides a way to set functional parameters to pipe.
	Option func(p *Pipe) error
)

var (
	// ErrUnknownStage is returned when stage is not registered.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrDuplicateStage is returned when stage name is used twice.
	ErrDuplicateStage = errors.New("duplicate stage")
	// ErrNoStages is returned when pipe has nothing to run.
	ErrNoStages = errors.New("no stages")
)

// newUID returns new unique id value.
func newUID() string {
	return xid.New().String()
}

// Register adds the allocator to the registry.
func (r Registry) Register(name string, fn Allocator) error {
	if _, ok := r[name]; ok {
		return fmt.Errorf("%w: %v", ErrDuplicateStage, name)
	}
	r[name] = fn
	return nil
}

// Names returns sorted names of registered stages.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithMetric sets metric for the pipe.
func WithMetric(m *metric.Metric) Option {
	return func(p *Pipe) error {
		p.metric = m
		return nil
	}
}

// WithStatus sets status registry for the pipe.
func WithStatus(s *status.Registry) Option {
	return func(p *Pipe) error {
		p.status = s
		return nil
	}
}

// WithLogger sets logger for the pipe.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipe) error {
		if l == nil {
			return errors.New("nil logger")
		}
		p.log = l
		return nil
	}
}

// New allocates stages with provided names. Rings are shared by all
// stages and must outlive the pipe.
func New(rings *Rings, reg Registry, stages []string, options ...Option) (*Pipe, error) {
	if len(stages) == 0 {
		return nil, ErrNoStages
	}
	p := &Pipe{
		uid:   newUID(),
		rings: rings,
		names: stages,
	}
	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}
	if p.log == nil {
		p.log = log.GetLogger()
	}
	p.log = p.log.WithField("pipe", p.uid)
	if p.status == nil {
		p.status = &status.Registry{}
	}

	allocated := make(map[string]struct{}, len(stages))
	for _, name := range stages {
		fn, ok := reg[name]
		if !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnknownStage, name)
		}
		if _, ok := allocated[name]; ok {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateStage, name)
		}
		allocated[name] = struct{}{}
		s, err := fn(Env{
			PipeID: p.uid,
			Name:   name,
			Rings:  rings,
			Status: p.status,
			Meter:  p.metric.Meter(name),
			Logger: log.Stage(p.log, name),
		})
		if err != nil {
			return nil, fmt.Errorf("error allocating %v: %w", name, err)
		}
		p.stages = append(p.stages, s)
	}
	return p, nil
}

// ID returns unique pipe id.
func (p *Pipe) ID() string {
	return p.uid
}

// Stages returns names of pipe stages.
func (p *Pipe) Stages() []string {
	return p.names
}

// Status returns status registry of the pipe.
func (p *Pipe) Status() *status.Registry {
	return p.status
}
