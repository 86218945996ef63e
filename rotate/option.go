package rotate

import (
	"time"

	"go.uber.org/zap"
)

type Option func(opts *options)

type options struct {
	Enabled       bool
	MinRequests   int
	MaxRequests   int
	MaxAttempts   int
	Backoff       time.Duration
	RotateTimeout time.Duration
	VerifyTimeout time.Duration
	Rotator       Rotator
	Checker       IdentityChecker
	Sessions      SessionSink
	logger        *zap.Logger
}

var defaultOptions = options{
	Enabled:       true,
	MinRequests:   15,
	MaxRequests:   35,
	MaxAttempts:   3,
	Backoff:       2 * time.Second,
	RotateTimeout: 60 * time.Second,
	VerifyTimeout: 10 * time.Second,
	Sessions:      &NopSessionSink{},
	logger:        zap.NewNop(),
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func WithEnabled(enabled bool) Option {
	return func(opts *options) {
		opts.Enabled = enabled
	}
}

// WithRequestRange sets the bounds the per-session rotation threshold is
// drawn from.
func WithRequestRange(min, max int) Option {
	return func(opts *options) {
		opts.MinRequests = min
		opts.MaxRequests = max
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

func WithRotateTimeout(d time.Duration) Option {
	return func(opts *options) {
		opts.RotateTimeout = d
	}
}

func WithVerifyTimeout(d time.Duration) Option {
	return func(opts *options) {
		opts.VerifyTimeout = d
	}
}

func WithRotator(r Rotator) Option {
	return func(opts *options) {
		opts.Rotator = r
	}
}

func WithChecker(c IdentityChecker) Option {
	return func(opts *options) {
		opts.Checker = c
	}
}

func WithSessionSink(s SessionSink) Option {
	return func(opts *options) {
		opts.Sessions = s
	}
}
