package crawl

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pricewatch/pricewatch/fetch"
	"github.com/pricewatch/pricewatch/rotate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher serves pages from memory and records the fetch order.
type fakeFetcher struct {
	pages   map[string]string
	blocked map[string]int
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	f.fetched = append(f.fetched, url)

	if n, ok := f.blocked[url]; ok && n > 0 {
		f.blocked[url] = n - 1
		return nil, "s1", fmt.Errorf("fetch %s:%w", url, fetch.ErrBlocked)
	}

	body, ok := f.pages[url]
	if !ok {
		return nil, "s1", fmt.Errorf("fetch %s:%w", url, fetch.ErrNotFound)
	}

	return []byte(body), "s1", nil
}

func variantPage(id string, links ...string) string {
	picker := ""
	for _, l := range links {
		picker += fmt.Sprintf(`<a href=%q>%s</a>`, l, l)
	}

	return fmt.Sprintf(`<html><body>
		<div data-variant-id=%q data-product-id="P1"></div>
		<h1 data-testid="pd-name">Krem nawilżający</h1>
		<span data-testid="pd-brand">Marka</span>
		<div data-testid="variant-picker">%s</div>
	</body></html>`, id, picker)
}

func listingPage(links ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="productListWrapper">`)
	for _, l := range links {
		fmt.Fprintf(&b, `<a href=%q>x</a>`, l)
	}
	b.WriteString(`</div></body></html>`)

	return b.String()
}

func collect(t *testing.T, c *Crawler, seed string) []Discovery {
	t.Helper()

	var out []Discovery
	for d := range c.Discover(context.Background(), seed) {
		out = append(out, d)
	}

	return out
}

func TestDiscoverCyclicVariantGraph(t *testing.T) {
	// seed lists V1..V3; V2 links back to the seed and to V3
	f := &fakeFetcher{pages: map[string]string{
		"http://shop.test/v1": variantPage("V1", "/v2", "/v3"),
		"http://shop.test/v2": variantPage("V2", "/v1", "/v3"),
		"http://shop.test/v3": variantPage("V3"),
	}}

	c, err := New(f)
	require.NoError(t, err)

	ds := collect(t, c, "http://shop.test/v1")
	require.Len(t, ds, 3, "exactly one discovery per variant despite the cycle")

	seen := map[string]bool{}
	for _, d := range ds {
		require.NoError(t, d.Err)
		assert.False(t, seen[d.Variant.ID])
		seen[d.Variant.ID] = true
		assert.Equal(t, "P1", d.Variant.ProductID)
		assert.Equal(t, "Krem nawilżający", d.Product.Name)
	}
	assert.True(t, seen["V1"] && seen["V2"] && seen["V3"])
}

func TestDiscoverDedupesURLAliases(t *testing.T) {
	// two URLs serve the same canonical variant
	f := &fakeFetcher{pages: map[string]string{
		"http://shop.test/v1":       variantPage("V1", "/v1-promo"),
		"http://shop.test/v1-promo": variantPage("V1"),
	}}

	c, err := New(f)
	require.NoError(t, err)

	ds := collect(t, c, "http://shop.test/v1")
	require.Len(t, ds, 1)
	assert.Equal(t, "V1", ds[0].Variant.ID)
	assert.Len(t, f.fetched, 2, "both URLs fetched, one variant yielded")
}

func TestDiscoverListingPage(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"http://shop.test/cat": listingPage("/v1", "/v2"),
		"http://shop.test/v1":  variantPage("V1"),
		"http://shop.test/v2":  variantPage("V2"),
	}}

	c, err := New(f)
	require.NoError(t, err)

	ds := collect(t, c, "http://shop.test/cat")
	require.Len(t, ds, 2, "listing pages expand without being yielded")
	for _, d := range ds {
		require.NoError(t, d.Err)
	}
}

func TestListingPaginationSynthesized(t *testing.T) {
	// no rel=next anywhere: page URLs are synthesized through the "f"
	// parameter until the store answers not-found
	f := &fakeFetcher{pages: map[string]string{
		"http://shop.test/kosmetyka/":     listingPage("/v1"),
		"http://shop.test/kosmetyka/?f=2": listingPage("/v2"),
		"http://shop.test/v1":             variantPage("V1"),
		"http://shop.test/v2":             variantPage("V2"),
	}}

	c, err := New(f)
	require.NoError(t, err)

	ds := collect(t, c, "http://shop.test/kosmetyka/")
	require.Len(t, ds, 2)
	for _, d := range ds {
		require.NoError(t, d.Err, "walking past the last page is a natural stop, not an error")
	}
	assert.Contains(t, f.fetched, "http://shop.test/kosmetyka/?f=2")
	assert.Contains(t, f.fetched, "http://shop.test/kosmetyka/?f=3")
}

func TestNextListingURL(t *testing.T) {
	assert.Equal(t, "http://shop.test/kosmetyka/?f=2", nextListingURL("http://shop.test/kosmetyka/"))
	assert.Equal(t, "http://shop.test/kosmetyka/?f=3-1-2", nextListingURL("http://shop.test/kosmetyka/?f=2-1-2"))
	assert.Equal(t, "", nextListingURL("http://shop.test/?f=abc"))
}

func TestDiscoverMalformedPageSkipsSiblingsContinue(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{
		"http://shop.test/v1":  variantPage("V1", "/bad", "/v2"),
		"http://shop.test/bad": `<html><body><p>no identity here</p></body></html>`,
		"http://shop.test/v2":  variantPage("V2"),
	}}

	c, err := New(f)
	require.NoError(t, err)

	ds := collect(t, c, "http://shop.test/v1")
	require.Len(t, ds, 3)

	var errs, variants int
	for _, d := range ds {
		if d.Err != nil {
			errs++
			continue
		}
		variants++
	}
	assert.Equal(t, 1, errs, "malformed page reported as discovery error")
	assert.Equal(t, 2, variants, "siblings keep traversing")
}

func TestDiscoverBlockedPageRequeued(t *testing.T) {
	f := &fakeFetcher{
		pages: map[string]string{
			"http://shop.test/v1": variantPage("V1", "/v2"),
			"http://shop.test/v2": variantPage("V2"),
		},
		blocked: map[string]int{"http://shop.test/v2": 1},
	}

	c, err := New(f)
	require.NoError(t, err)

	ds := collect(t, c, "http://shop.test/v1")
	require.Len(t, ds, 2)
	for _, d := range ds {
		require.NoError(t, d.Err)
	}
	// v1, v2 (blocked), v2 again after requeue
	assert.Len(t, f.fetched, 3)
}

func TestDiscoverBlockedPageGivenUpAfterBound(t *testing.T) {
	f := &fakeFetcher{
		pages:   map[string]string{"http://shop.test/v1": variantPage("V1")},
		blocked: map[string]int{"http://shop.test/v1": 100},
	}

	c, err := New(f, WithMaxRequeues(2))
	require.NoError(t, err)

	ds := collect(t, c, "http://shop.test/v1")
	require.Len(t, ds, 1)
	assert.ErrorIs(t, ds[0].Err, fetch.ErrBlocked)
	assert.Len(t, f.fetched, 3, "initial fetch plus two requeues")
}

func TestCleanRunResetsState(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	pages := map[string]string{
		"http://shop.test/v1": variantPage("V1", "/v2"),
		"http://shop.test/v2": variantPage("V2"),
	}

	first, err := New(&fakeFetcher{pages: pages}, WithStatePath(statePath))
	require.NoError(t, err)
	require.Len(t, collect(t, first, "http://shop.test/v1"), 2)
	require.NoError(t, first.SaveState())

	_, err = os.Stat(statePath)
	assert.ErrorIs(t, err, fs.ErrNotExist, "a finished run leaves no resume state behind")

	// the next run re-walks the graph and yields every variant again, so
	// each day appends fresh observations
	second, err := New(&fakeFetcher{pages: pages}, WithStatePath(statePath))
	require.NoError(t, err)
	assert.Len(t, collect(t, second, "http://shop.test/v1"), 2)
}

func TestInterruptedRunResumes(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "state.json")
	pages := map[string]string{
		"http://shop.test/v1": variantPage("V1", "/v2"),
		"http://shop.test/v2": variantPage("V2"),
	}

	first, err := New(&haltAfterFetcher{inner: fakeFetcher{pages: pages}, allow: 1}, WithStatePath(statePath))
	require.NoError(t, err)

	ds := collect(t, first, "http://shop.test/v1")
	require.Len(t, ds, 2)
	require.NoError(t, ds[0].Err)
	assert.ErrorIs(t, ds[1].Err, rotate.ErrHalted)
	require.NoError(t, first.SaveState())

	// only the page the halt cut off is left to do
	resumed, err := New(&fakeFetcher{pages: pages}, WithStatePath(statePath))
	require.NoError(t, err)

	ds = collect(t, resumed, "http://shop.test/v1")
	require.Len(t, ds, 1)
	require.NoError(t, ds[0].Err)
	assert.Equal(t, "V2", ds[0].Variant.ID)
}

func TestCancelledDeliveryStaysUndone(t *testing.T) {
	f := &notifyFetcher{
		pages:   map[string]string{"http://shop.test/v1": variantPage("V1")},
		fetched: make(chan struct{}, 1),
	}

	c, err := New(f)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	out := c.Discover(ctx, "http://shop.test/v1")

	<-f.fetched
	cancel()

	// the aborted page must land back on the frontier before the stream ends
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.frontier) == 1
	}, time.Second, time.Millisecond)

	for range out {
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.False(t, c.visited["V1"], "an undelivered page is not marked done")
	assert.Equal(t, []string{"http://shop.test/v1"}, c.frontier)
}

func TestDiscoverHaltedSchedulerStopsTraversal(t *testing.T) {
	f := &haltingFetcher{}

	c, err := New(f)
	require.NoError(t, err)

	ds := collect(t, c, "http://shop.test/v1")
	require.Len(t, ds, 1)
	assert.ErrorIs(t, ds[0].Err, rotate.ErrHalted)
	assert.Equal(t, 1, f.calls, "no further fetches after the scheduler halts")
}

type haltingFetcher struct{ calls int }

func (f *haltingFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	f.calls++
	return nil, "", fmt.Errorf("before request:%w", rotate.ErrHalted)
}

// haltAfterFetcher serves a bounded number of pages, then reports the
// scheduler as halted.
type haltAfterFetcher struct {
	inner fakeFetcher
	allow int
	calls int
}

func (f *haltAfterFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	f.calls++
	if f.calls > f.allow {
		return nil, "", fmt.Errorf("before request:%w", rotate.ErrHalted)
	}

	return f.inner.Fetch(ctx, url)
}

// notifyFetcher signals each completed fetch so a test can time a
// cancellation between fetch and delivery.
type notifyFetcher struct {
	pages   map[string]string
	fetched chan struct{}
}

func (f *notifyFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	body := f.pages[url]
	f.fetched <- struct{}{}

	return []byte(body), "s1", nil
}
