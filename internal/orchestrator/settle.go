package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Outcome is what one branch of a settle-both join produced.
type Outcome[T any] struct {
	Value T
	Err   error
}

// OK reports whether the branch finished without error.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// settleBoth runs both tasks concurrently and waits for both. The group has
// no shared context and the tasks never return an error to it, so one
// branch failing never cancels or short-circuits the other. A panic inside a
// task is converted into that branch's error.
func settleBoth[T any](ctx context.Context, local, remote func(context.Context) (T, error)) (Outcome[T], Outcome[T]) {
	var l, r Outcome[T]
	var g errgroup.Group
	g.Go(func() error {
		l = capture(ctx, local)
		return nil
	})
	g.Go(func() error {
		r = capture(ctx, remote)
		return nil
	})
	_ = g.Wait()
	return l, r
}

func capture[T any](ctx context.Context, task func(context.Context) (T, error)) (out Outcome[T]) {
	defer func() {
		if p := recover(); p != nil {
			out = Outcome[T]{Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	v, err := task(ctx)
	return Outcome[T]{Value: v, Err: err}
}
