package bounds

import "patchcert/internal/window"

type options struct {
	strategy Strategy
	cache    *window.Cache
}

// Option configures a bound provider.
type Option func(*options)

// WithStrategy overrides the default summed-area strategy.
func WithStrategy(s Strategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithCache uses a private placement cache instead of window.Shared.
func WithCache(c *window.Cache) Option {
	return func(o *options) { o.cache = c }
}

func buildOptions(opts []Option) options {
	o := options{strategy: StrategySummedArea, cache: window.Shared}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
