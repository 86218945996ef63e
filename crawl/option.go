package crawl

import (
	"go.uber.org/zap"
)

type Option func(opts *options)

type options struct {
	StatePath   string
	MaxRequeues int
	logger      *zap.Logger
}

var defaultOptions = options{
	MaxRequeues: 2,
	logger:      zap.NewNop(),
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

// WithStatePath enables frontier/visited-set persistence, making the
// traversal resumable across runs.
func WithStatePath(path string) Option {
	return func(opts *options) {
		opts.StatePath = path
	}
}

// WithMaxRequeues bounds how many times a block-signature page is put back
// on the frontier for a later session before it is given up on.
func WithMaxRequeues(n int) Option {
	return func(opts *options) {
		opts.MaxRequeues = n
	}
}
