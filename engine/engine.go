package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/pricewatch/pricewatch/crawl"
	"github.com/pricewatch/pricewatch/fetch"
	"github.com/pricewatch/pricewatch/rotate"
	"go.uber.org/zap"
)

// Engine wires the pipeline: the crawler fetches pages one at a time
// (pacing, not throughput, is the anti-detection control), while a bounded
// pool of workers extracts and persists already-fetched pages in parallel.
// Observations for a variant stay in fetch order because each variant is
// discovered at most once per run.
type Engine struct {
	options
	crawler Discoverer
}

func New(crawler Discoverer, opts ...Option) *Engine {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	e := &Engine{crawler: crawler}
	e.options = options

	return e
}

// Run executes the fetch-extract-persist pipeline over every seed. The
// returned error is non-nil only for failures before any crawling starts;
// everything later lands in the summary.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	if e.Scheduler != nil {
		if err := e.Scheduler.Start(ctx); err != nil {
			return nil, err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, seed := range e.Seeds {
		e.logger.Info("crawling seed", zap.String("seed", seed))
		e.runSeed(runCtx, cancel, seed, summary)

		if summary.Fatal || runCtx.Err() != nil {
			break
		}
	}

	if e.Scheduler != nil {
		// the parent ctx may already be cancelled; closing the session
		// must still be attempted
		if err := e.Scheduler.Stop(context.WithoutCancel(ctx)); err != nil {
			e.logger.Error("close final session", zap.Error(err))
		}
		if e.Scheduler.State() == rotate.Halted {
			summary.add(func(s *Summary) { s.Fatal = true })
		}
	}

	if err := e.crawler.SaveState(); err != nil {
		e.logger.Error("save crawl state", zap.Error(err))
	}

	summary.Log(e.logger)

	return summary, nil
}

func (e *Engine) runSeed(ctx context.Context, cancel context.CancelFunc, seed string, summary *Summary) {
	discoveries := e.crawler.Discover(ctx, seed)

	var wg sync.WaitGroup
	work := make(chan crawl.Discovery)

	for i := 0; i < e.WorkCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range work {
				e.handle(ctx, d, summary)
			}
		}()
	}

	pages := 0
	for d := range discoveries {
		if d.Err != nil {
			e.recordError(d, summary)
			if summary.Fatal {
				cancel()
				break
			}
			continue
		}

		work <- d

		pages++
		if e.MaxPages > 0 && pages >= e.MaxPages {
			e.logger.Info("page budget reached", zap.Int("pages", pages))
			cancel()
			break
		}
	}

	close(work)
	wg.Wait()

	// drain anything the crawler emitted while we were shutting down
	for d := range discoveries {
		if d.Err != nil {
			e.recordError(d, summary)
		}
	}
}

func (e *Engine) handle(ctx context.Context, d crawl.Discovery, summary *Summary) {
	summary.add(func(s *Summary) { s.Attempted++ })

	obs, err := e.Extractor.Extract(d.Body, d.Variant, d.SessionID)
	if err != nil {
		e.logger.Warn("extraction failed",
			zap.String("url", d.URL),
			zap.Error(err))
		summary.add(func(s *Summary) { s.ExtractErrors++ })
		return
	}

	if err := e.Store.Persist(ctx, d.Product, d.Variant, obs); err != nil {
		e.logger.Error("persist failed",
			zap.String("variant", d.Variant.ID),
			zap.Error(err))
		summary.add(func(s *Summary) { s.PersistErrors++ })
		return
	}

	if obs.Anomaly {
		e.logger.Warn("anomalous observation kept",
			zap.String("variant", d.Variant.ID),
			zap.Stringer("omnibus", obs.Omnibus),
			zap.Stringer("current", obs.Current))
	}

	summary.add(func(s *Summary) { s.Succeeded++ })
}

func (e *Engine) recordError(d crawl.Discovery, summary *Summary) {
	summary.add(func(s *Summary) {
		s.Attempted++

		switch {
		case errors.Is(d.Err, rotate.ErrHalted):
			s.Fatal = true
		case errors.Is(d.Err, fetch.ErrBlocked):
			s.BlockErrors++
		case errors.Is(d.Err, fetch.ErrNotFound), errors.Is(d.Err, fetch.ErrExhausted):
			s.FetchErrors++
		case errors.Is(d.Err, context.Canceled):
			// interrupted page, not a page failure
			s.Attempted--
		default:
			s.DiscoverErrors++
		}
	})

	if !errors.Is(d.Err, context.Canceled) {
		e.logger.Warn("page discovery failed",
			zap.String("url", d.URL),
			zap.Error(d.Err))
	}
}
