package fetch

import (
	"time"

	"github.com/pricewatch/pricewatch/limiter"
	"github.com/pricewatch/pricewatch/proxy"
	"go.uber.org/zap"
)

type Option func(opts *options)

type options struct {
	Timeout     time.Duration
	WaitMin     time.Duration
	WaitMax     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Profiles    []Profile
	Proxy       proxy.Func
	Limit       limiter.RateLimiter
	logger      *zap.Logger
}

var defaultOptions = options{
	Timeout:     30 * time.Second,
	WaitMin:     1000 * time.Millisecond,
	WaitMax:     1500 * time.Millisecond,
	MaxAttempts: 3,
	Backoff:     500 * time.Millisecond,
	logger:      zap.NewNop(),
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(opts *options) {
		opts.Timeout = timeout
	}
}

// WithWaitRange sets the random inter-request sleep interval.
func WithWaitRange(min, max time.Duration) Option {
	return func(opts *options) {
		opts.WaitMin = min
		opts.WaitMax = max
	}
}

func WithMaxAttempts(n int) Option {
	return func(opts *options) {
		opts.MaxAttempts = n
	}
}

func WithBackoff(d time.Duration) Option {
	return func(opts *options) {
		opts.Backoff = d
	}
}

func WithProfiles(profiles []Profile) Option {
	return func(opts *options) {
		opts.Profiles = profiles
	}
}

func WithProxy(p proxy.Func) Option {
	return func(opts *options) {
		opts.Proxy = p
	}
}

func WithLimiter(l limiter.RateLimiter) Option {
	return func(opts *options) {
		opts.Limit = l
	}
}
