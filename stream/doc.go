// Package stream provides a small lazy event-stream abstraction.
//
// A Stream is a function that, when called with a context and a yield callback,
// produces zero or more values and then completes (returns nil) or fails (returns
// an error). Nothing runs until the stream is subscribed, so building a stream
// never blocks. Cancellation flows through the context passed at subscription.
//
// Operators such as Map, Filter, Concat and Catch compose streams without
// subscribing to them:
//
//	s := stream.Catch(source, func(err error) stream.Stream[int] {
//		return stream.Of(0)
//	})
//	values, err := stream.Collect(ctx, s)
package stream
