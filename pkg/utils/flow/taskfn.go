// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package flow provides utilities to run functions concurrently with
// well-defined error handling and cancellation semantics.
package flow

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// TaskFn is a payload function of a task.
type TaskFn func(ctx context.Context) error

// EmptyTaskFn is a TaskFn that does nothing (returns nil).
var EmptyTaskFn TaskFn = func(_ context.Context) error { return nil }

// SkipIf returns a TaskFn that does nothing if the condition is true, otherwise the function
// will be executed once called.
func (t TaskFn) SkipIf(condition bool) TaskFn {
	if condition {
		return EmptyTaskFn
	}
	return t
}

// DoIf returns a TaskFn that will be executed if the condition is true when it is called.
// Otherwise, it will do nothing when called.
func (t TaskFn) DoIf(condition bool) TaskFn {
	return t.SkipIf(!condition)
}

// Timeout returns a TaskFn that is bound to a context which times out.
func (t TaskFn) Timeout(timeout time.Duration) TaskFn {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return t(ctx)
	}
}

// Sequential runs the given TaskFns sequentially.
func Sequential(fns ...TaskFn) TaskFn {
	return func(ctx context.Context) error {
		for _, fn := range fns {
			if err := fn(ctx); err != nil {
				return err
			}

			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	}
}

// ParallelWithSubmitter runs the given TaskFns in parallel with the given Submitter, collecting their errors in a multierror.
func ParallelWithSubmitter(s Submitter, fns ...TaskFn) TaskFn {
	return func(ctx context.Context) error {
		var (
			wg     sync.WaitGroup
			errCh  = make(chan error)
			result error
		)

		for _, fn := range fns {
			t := fn
			wg.Add(1)
			s.Submit(func() {
				defer wg.Done()
				errCh <- t(ctx)
			})
		}

		go func() {
			defer close(errCh)
			wg.Wait()
		}()

		for err := range errCh {
			if err != nil {
				result = multierror.Append(result, err)
			}
		}
		return result
	}
}

// Parallel runs the given TaskFns in parallel, collecting their errors in a multierror.
func Parallel(fns ...TaskFn) TaskFn {
	return ParallelWithSubmitter(UnlimitedSubmitter, fns...)
}

// ParallelExitOnError runs the given TaskFns in parallel and cancels the remaining ones as soon as
// one TaskFn returns an error. It returns the first error and waits for all tasks to terminate.
func ParallelExitOnError(fns ...TaskFn) TaskFn {
	return func(ctx context.Context) error {
		var (
			wg             sync.WaitGroup
			errCh          = make(chan error)
			subCtx, cancel = context.WithCancel(ctx)
		)
		defer cancel()

		for _, fn := range fns {
			t := fn
			wg.Add(1)
			go func() {
				defer wg.Done()
				errCh <- t(subCtx)
			}()
		}

		go func() {
			defer close(errCh)
			wg.Wait()
		}()

		var result error
		for err := range errCh {
			if err != nil && result == nil {
				result = err
				cancel()
			}
		}
		return result
	}
}

// Submitter is an interface to run functions in parallel.
type Submitter interface {
	// Submit runs the given function asynchronously. This function should not block
	// during the execution of f.
	Submit(f func())
}

type unlimitedSubmitter struct{}

// Submit implements Submitter.
func (unlimitedSubmitter) Submit(f func()) {
	go f()
}

// UnlimitedSubmitter is a Submitter that spawns one goroutine per submitted function.
var UnlimitedSubmitter Submitter = unlimitedSubmitter{}

// LimitSubmitter runs submitted functions with a bounded number of workers.
type LimitSubmitter struct {
	work chan func()
	wg   sync.WaitGroup
	once sync.Once
	size int
}

// NewLimitSubmitter returns a LimitSubmitter running at most size functions concurrently.
// It must be started before use and stopped when no more functions will be submitted.
func NewLimitSubmitter(size int) *LimitSubmitter {
	return &LimitSubmitter{
		work: make(chan func()),
		size: size,
	}
}

// Start starts the workers of the LimitSubmitter.
func (l *LimitSubmitter) Start() {
	l.once.Do(func() {
		for i := 0; i < l.size; i++ {
			l.wg.Add(1)
			go func() {
				defer l.wg.Done()
				for f := range l.work {
					f()
				}
			}()
		}
	})
}

// Stop stops the workers after all submitted functions have run.
func (l *LimitSubmitter) Stop() {
	close(l.work)
	l.wg.Wait()
}

// Submit dispatches the given function to the LimitSubmitter.
// The LimitSubmitter must have been started.
func (l *LimitSubmitter) Submit(f func()) {
	l.work <- f
}
