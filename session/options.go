package session

import (
	"errors"
	"time"
)

// ErrClosed is returned by every operation on a store after Close.
var ErrClosed = errors.New("session: store closed")

// Options configures the backends in this package.
type Options struct {
	// Clock returns the commit timestamp. Defaults to time.Now in UTC.
	Clock func() time.Time
}

func applyOptions(optFns []func(o *Options)) Options {
	opts := Options{Clock: func() time.Time { return time.Now().UTC() }}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return opts
}

// WithClock overrides the commit timestamp source.
func WithClock(clock func() time.Time) func(o *Options) {
	return func(o *Options) { o.Clock = clock }
}
