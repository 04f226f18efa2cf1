// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package retry provides utilities for retrying operations until they
// succeed, yield a severe error, or their context expires.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Func is a function that reports whether it is done, errored or should be retried.
// A nil error with done == false means the operation should simply be retried.
type Func func(ctx context.Context) (done bool, err error)

// Ok returns (true, nil), indicating a successful retry operation.
func Ok() (bool, error) {
	return true, nil
}

// NotOk returns (false, nil), indicating an unsuccessful retry operation that should be retried.
func NotOk() (bool, error) {
	return false, nil
}

// MinorError returns (false, err), indicating an unsuccessful retry operation that should be retried.
// The last minor error is reported once the retry budget is exhausted.
func MinorError(err error) (bool, error) {
	return false, err
}

// SevereError returns (true, err), indicating a failed retry operation that should not be retried.
func SevereError(err error) (bool, error) {
	return true, err
}

// Error is an error that occurred during a retry operation.
type Error struct {
	ctxError error
	err      error
}

// Error implements error.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("retry failed with %v, last error: %v", e.ctxError, e.err)
	}
	return fmt.Sprintf("retry failed with %v", e.ctxError)
}

// Unwrap returns the last error that occurred during the retries, if any, otherwise the context error.
func (e *Error) Unwrap() error {
	if e.err != nil {
		return e.err
	}
	return e.ctxError
}

// NewError returns a new error with the given context error and the last error that occurred during the retries.
func NewError(ctxError, err error) error {
	return &Error{ctxError, err}
}

// Ops are the operations to execute retry functions. It allows mocking the waiting in unit tests.
type Ops interface {
	// Until retries the given Func every interval until it is done, errors severely or the context expires.
	Until(ctx context.Context, interval time.Duration, f Func) error
	// UntilTimeout is like Until but bounds the retries by the given timeout.
	UntilTimeout(ctx context.Context, interval, timeout time.Duration, f Func) error
}

type ops struct{}

// DefaultOps implements Ops using real sleeps between retries.
var DefaultOps Ops = ops{}

// Until retries f every interval until it is done, returns a severe error or ctx expires.
// When ctx expires, an Error wrapping the last minor error of f is returned.
func Until(ctx context.Context, interval time.Duration, f Func) error {
	var lastErr error

	for {
		done, err := f(ctx)
		if err != nil {
			if done {
				return err
			}

			lastErr = err
		} else if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return NewError(ctx.Err(), lastErr)
		case <-time.After(interval):
		}
	}
}

// UntilTimeout is like Until but bounds the retries by the given timeout.
func UntilTimeout(ctx context.Context, interval, timeout time.Duration, f Func) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return Until(ctx, interval, f)
}

func (ops) Until(ctx context.Context, interval time.Duration, f Func) error {
	return Until(ctx, interval, f)
}

func (ops) UntilTimeout(ctx context.Context, interval, timeout time.Duration, f Func) error {
	return UntilTimeout(ctx, interval, timeout, f)
}
