package crawl

import (
	"context"
	"errors"
	"sync"

	"github.com/pricewatch/pricewatch/catalog"
	"github.com/pricewatch/pricewatch/fetch"
	"github.com/pricewatch/pricewatch/rotate"
	"go.uber.org/zap"
)

// Fetcher is the request-client surface the crawler consumes.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Discovery is one element of the streamed discovery sequence: either a
// variant page (with its markup, ready for extraction) or a page-level
// discovery error.
type Discovery struct {
	URL       string
	Product   *catalog.Product
	Variant   *catalog.Variant
	Body      []byte
	SessionID string
	Err       error
}

// Crawler expands a seed URL into the product's full variant set. Variant
// pages cross-link to siblings, so the graph is cyclic; traversal is
// frontier-based with a visited set keyed by canonical variant id, which
// bounds memory by the true graph size and guarantees termination.
type Crawler struct {
	options

	fetcher Fetcher

	mu        sync.Mutex
	visited   map[string]bool
	urlSeen   map[string]bool
	frontier  []string
	requeues  map[string]int
	paging    map[string]bool
	completed bool
}

func New(fetcher Fetcher, opts ...Option) (*Crawler, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	c := &Crawler{
		fetcher:  fetcher,
		visited:  map[string]bool{},
		urlSeen:  map[string]bool{},
		requeues: map[string]int{},
		paging:   map[string]bool{},
	}
	c.options = options

	if c.StatePath != "" {
		if err := c.loadState(); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Discover streams the variant set reachable from seed. The sequence is
// lazy and finite; the channel closes on frontier exhaustion or context
// cancellation. Restarting from the same seed re-walks the graph and
// re-yields every variant, so each run appends that day's observations;
// the store upserts keep the dimension rows from being re-created.
func (c *Crawler) Discover(ctx context.Context, seed string) <-chan Discovery {
	out := make(chan Discovery)

	c.mu.Lock()
	c.completed = false
	if len(c.frontier) == 0 {
		c.push(seed)
	}
	c.mu.Unlock()

	go func() {
		defer close(out)

		for {
			url, ok := c.pop()
			if !ok {
				c.mu.Lock()
				c.completed = true
				c.mu.Unlock()
				return
			}

			select {
			case <-ctx.Done():
				// put the aborted page back so a resumed run retries it
				c.pushFront(url)
				return
			default:
			}

			body, sessionID, err := c.fetcher.Fetch(ctx, url)
			if err != nil {
				if errors.Is(err, rotate.ErrHalted) || errors.Is(err, context.Canceled) {
					c.pushFront(url)
					c.emit(ctx, out, Discovery{URL: url, Err: err})
					return
				}
				if errors.Is(err, fetch.ErrBlocked) && c.requeue(url) {
					c.logger.Info("blocked page requeued for next session", zap.String("url", url))
					continue
				}
				if errors.Is(err, fetch.ErrNotFound) && c.isPaging(url) {
					// walked past the last synthesized listing page
					c.logger.Debug("listing pagination exhausted", zap.String("url", url))
					continue
				}
				c.emit(ctx, out, Discovery{URL: url, Err: err})
				continue
			}

			p, err := parsePage(body, url)
			if err != nil {
				// malformed page: report and keep traversing siblings
				c.emit(ctx, out, Discovery{URL: url, Err: err})
				continue
			}

			if p.listing {
				c.pushAll(p.links)
				if !p.hasNext && len(p.links) > 0 {
					c.pushPaging(nextListingURL(url))
				}
				continue
			}

			if c.isVisited(p.variant.ID) {
				// reached again through a sibling cycle
				c.pushAll(p.links)
				continue
			}

			if !c.emit(ctx, out, Discovery{
				URL:       url,
				Product:   p.product,
				Variant:   p.variant,
				Body:      body,
				SessionID: sessionID,
			}) {
				// undelivered page goes back so a resumed run retries it
				c.pushFront(url)
				return
			}

			c.markVisited(p.variant.ID)
			c.pushAll(p.links)
		}
	}()

	return out
}

func (c *Crawler) emit(ctx context.Context, out chan<- Discovery, d Discovery) bool {
	select {
	case out <- d:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Crawler) isVisited(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visited[id]
}

// markVisited records the canonical id only once the discovery has been
// delivered; a page lost to cancellation stays undone.
func (c *Crawler) markVisited(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.visited[id] = true
}

func (c *Crawler) push(url string) {
	if url == "" || c.urlSeen[url] {
		return
	}
	c.urlSeen[url] = true
	c.frontier = append(c.frontier, url)
}

func (c *Crawler) pushAll(urls []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range urls {
		c.push(u)
	}
}

// pushPaging enqueues a synthesized listing page URL. Fetching past the
// last page is the natural stop there, so its not-found is swallowed.
func (c *Crawler) pushPaging(url string) {
	if url == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.paging[url] = true
	c.push(url)
}

func (c *Crawler) isPaging(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paging[url]
}

func (c *Crawler) pushFront(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frontier = append([]string{url}, c.frontier...)
}

func (c *Crawler) pop() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.frontier) == 0 {
		return "", false
	}

	url := c.frontier[0]
	c.frontier = c.frontier[1:]

	return url, true
}

// requeue puts a blocked URL back on the frontier tail so it is retried
// under a fresh identity, up to the requeue bound.
func (c *Crawler) requeue(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.requeues[url] >= c.MaxRequeues {
		return false
	}
	c.requeues[url]++
	c.frontier = append(c.frontier, url)

	return true
}
