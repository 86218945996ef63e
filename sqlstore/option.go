package sqlstore

import (
	"time"

	"go.uber.org/zap"
)

type Option func(opts *options)

type options struct {
	sqlURL       string
	retryBackoff time.Duration
	logger       *zap.Logger
}

var defaultOptions = options{
	retryBackoff: 2 * time.Second,
	logger:       zap.NewNop(),
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func WithSQLURL(sqlURL string) Option {
	return func(opts *options) {
		opts.sqlURL = sqlURL
	}
}

func WithRetryBackoff(d time.Duration) Option {
	return func(opts *options) {
		opts.retryBackoff = d
	}
}
