package engine

import (
	"context"

	"github.com/pricewatch/pricewatch/catalog"
	"github.com/pricewatch/pricewatch/crawl"
	"github.com/pricewatch/pricewatch/rotate"
	"go.uber.org/zap"
)

// Store persists one page atomically. The mysql store implements it; dry
// runs swap in NopStore.
type Store interface {
	Persist(ctx context.Context, p *catalog.Product, v *catalog.Variant, o *catalog.Observation) error
}

type NopStore struct{}

func (NopStore) Persist(ctx context.Context, p *catalog.Product, v *catalog.Variant, o *catalog.Observation) error {
	return nil
}

// Discoverer is the crawler surface the engine drives.
type Discoverer interface {
	Discover(ctx context.Context, seed string) <-chan crawl.Discovery
	SaveState() error
}

type Extractor interface {
	Extract(markup []byte, v *catalog.Variant, sessionID string) (*catalog.Observation, error)
}

// Scheduler is the identity-rotation surface the engine owns the lifecycle of.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() rotate.State
}

type Option func(opts *options)

type options struct {
	WorkCount int
	MaxPages  int
	Seeds     []string
	Store     Store
	Extractor Extractor
	Scheduler Scheduler
	logger    *zap.Logger
}

var defaultOptions = options{
	WorkCount: 4,
	MaxPages:  2000,
	Store:     NopStore{},
	logger:    zap.NewNop(),
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		opts.logger = logger
	}
}

func WithWorkCount(workCount int) Option {
	return func(opts *options) {
		opts.WorkCount = workCount
	}
}

// WithMaxPages bounds the number of variant pages handled in one run.
func WithMaxPages(n int) Option {
	return func(opts *options) {
		opts.MaxPages = n
	}
}

func WithSeeds(seeds []string) Option {
	return func(opts *options) {
		opts.Seeds = seeds
	}
}

func WithStore(s Store) Option {
	return func(opts *options) {
		opts.Store = s
	}
}

func WithExtractor(e Extractor) Option {
	return func(opts *options) {
		opts.Extractor = e
	}
}

func WithScheduler(s Scheduler) Option {
	return func(opts *options) {
		opts.Scheduler = s
	}
}
