package runtime

import (
	"context"
	"io"
)

type (
	// StartFunc is a closure that triggers stage start hook.
	StartFunc func(ctx context.Context) error
	// ExecuteFunc is a closure that executes stage iteration.
	ExecuteFunc func(ctx context.Context) error
	// FlushFunc is a closure that triggers stage flush hook.
	FlushFunc func(ctx context.Context) error

	// Funcs is the executor built from closures. Nil hooks are no-op, nil
	// execute stops immediately.
	Funcs struct {
		StartFunc
		ExecuteFunc
		FlushFunc
	}
)

// Start calls the start hook.
func (fn StartFunc) Start(ctx context.Context) error {
	return callHook(ctx, fn)
}

// Execute calls the execute closure.
func (fn ExecuteFunc) Execute(ctx context.Context) error {
	if fn == nil {
		return io.EOF
	}
	return fn(ctx)
}

// Flush calls the flush hook.
func (fn FlushFunc) Flush(ctx context.Context) error {
	return callHook(ctx, fn)
}

func callHook(ctx context.Context, hook func(context.Context) error) error {
	if hook == nil {
		return nil
	}
	return hook(ctx)
}
