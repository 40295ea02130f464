package stream

import (
	"context"
	"errors"
)

// ErrStop can be returned from a yield callback to end consumption early.
// Producers return it unchanged; Collect, Drain and Last treat it as completion.
var ErrStop = errors.New("stream: stop")

// Stream is a cold, lazily driven sequence of values.
//
// Calling the function subscribes: the producer calls yield zero or more times and
// then returns nil to signal completion or a non-nil error to signal failure. No
// value is yielded after the function returns. If yield returns an error the
// producer stops and returns that error. Cancelling ctx must stop the producer.
//
// A Stream is single-consumption unless its producer documents otherwise.
type Stream[T any] func(ctx context.Context, yield func(T) error) error

// Subscribe drives the stream with the given callback
func (s Stream[T]) Subscribe(ctx context.Context, yield func(T) error) error {
	return s(ctx, yield)
}

// Of emits the given values in order and completes
func Of[T any](values ...T) Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		for _, v := range values {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := yield(v); err != nil {
				return err
			}
		}
		return nil
	}
}

// Empty completes without emitting
func Empty[T any]() Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		return nil
	}
}

// Fail fails immediately with err
func Fail[T any](err error) Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		return err
	}
}

// Defer builds the stream at subscription time
func Defer[T any](factory func() Stream[T]) Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		return factory()(ctx, yield)
	}
}

// FromFunc emits the single value produced by fn when subscribed
func FromFunc[T any](fn func(ctx context.Context) (T, error)) Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		return yield(v)
	}
}

// Map transforms every value
func Map[T, U any](s Stream[T], fn func(T) (U, error)) Stream[U] {
	return func(ctx context.Context, yield func(U) error) error {
		return s(ctx, func(v T) error {
			out, err := fn(v)
			if err != nil {
				return err
			}
			return yield(out)
		})
	}
}

// MapErr rewrites a failure; a nil result turns the failure into completion
func MapErr[T any](s Stream[T], fn func(error) error) Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		err := s(ctx, yield)
		if err == nil {
			return nil
		}
		return fn(err)
	}
}

// Filter drops values for which keep returns false
func Filter[T any](s Stream[T], keep func(T) bool) Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		return s(ctx, func(v T) error {
			if !keep(v) {
				return nil
			}
			return yield(v)
		})
	}
}

// Tap observes every value without changing it
func Tap[T any](s Stream[T], fn func(T)) Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		return s(ctx, func(v T) error {
			fn(v)
			return yield(v)
		})
	}
}

// Concat subscribes to each stream in turn after the previous one completes
func Concat[T any](streams ...Stream[T]) Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		for _, s := range streams {
			if err := s(ctx, yield); err != nil {
				return err
			}
		}
		return nil
	}
}

// Catch replaces a failure of s with the stream returned by handler.
// Errors raised by the consumer's own yield callback are not caught.
func Catch[T any](s Stream[T], handler func(error) Stream[T]) Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		var consumerErr error
		err := s(ctx, func(v T) error {
			if err := yield(v); err != nil {
				consumerErr = err
				return err
			}
			return nil
		})
		if err == nil || (consumerErr != nil && errors.Is(err, consumerErr)) {
			return err
		}
		return handler(err)(ctx, yield)
	}
}

// Finally runs fn once the subscription ends, with the terminal error (nil on completion)
func Finally[T any](s Stream[T], fn func(error)) Stream[T] {
	return func(ctx context.Context, yield func(T) error) (err error) {
		defer func() {
			fn(err)
		}()
		return s(ctx, yield)
	}
}

// Take completes after the first n values and stops the upstream producer
func Take[T any](s Stream[T], n int) Stream[T] {
	return func(ctx context.Context, yield func(T) error) error {
		if n <= 0 {
			return nil
		}
		seen := 0
		err := s(ctx, func(v T) error {
			if err := yield(v); err != nil {
				return err
			}
			seen++
			if seen >= n {
				return ErrStop
			}
			return nil
		})
		if errors.Is(err, ErrStop) && seen >= n {
			return nil
		}
		return err
	}
}

// Collect drives the stream to the end and returns every value.
// Values received before a failure are returned alongside the error.
func Collect[T any](ctx context.Context, s Stream[T]) ([]T, error) {
	var out []T
	err := s(ctx, func(v T) error {
		out = append(out, v)
		return nil
	})
	if errors.Is(err, ErrStop) {
		err = nil
	}
	return out, err
}

// Drain drives the stream to the end, discarding values
func Drain[T any](ctx context.Context, s Stream[T]) error {
	err := s(ctx, func(T) error { return nil })
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

// Last drives the stream and returns the last value matching keep.
// ok is false when no value matched.
func Last[T any](ctx context.Context, s Stream[T], keep func(T) bool) (last T, ok bool, err error) {
	err = s(ctx, func(v T) error {
		if keep == nil || keep(v) {
			last = v
			ok = true
		}
		return nil
	})
	if errors.Is(err, ErrStop) {
		err = nil
	}
	return last, ok, err
}

// Item is one element delivered through Channel: a value, or the terminal error
type Item[T any] struct {
	Value T
	Err   error
}

// Channel drives the stream on a new goroutine and delivers values over a channel.
// A failure is delivered as a final Item with Err set; the channel is closed when the
// subscription ends. Cancelling ctx stops the producer.
func Channel[T any](ctx context.Context, s Stream[T]) <-chan Item[T] {
	out := make(chan Item[T])
	go func() {
		defer close(out)
		err := s(ctx, func(v T) error {
			select {
			case out <- Item[T]{Value: v}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil && !errors.Is(err, ErrStop) {
			select {
			case out <- Item[T]{Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}
