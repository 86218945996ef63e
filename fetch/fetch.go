package fetch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/pricewatch/pricewatch/catalog"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrBlocked marks a block-signature response. It is not retried locally;
// the scheduler is signalled and the caller may requeue the page for the
// next session.
var ErrBlocked = errors.New("block signature detected")

// ErrNotFound is a definitive page-level failure (the page is gone).
var ErrNotFound = errors.New("page not found")

// ErrExhausted wraps a transient failure that survived every retry.
var ErrExhausted = errors.New("fetch attempts exhausted")

// Gate is the scheduler surface the client consults around every fetch.
type Gate interface {
	BeforeRequest(ctx context.Context) error
	CountRequest()
	OnBlock()
	Session() *catalog.FetchSession
}

// body markers of anti-bot challenge pages
var blockMarkers = []string{
	"cf-chl",
	"captcha-delivery",
	"g-recaptcha",
	"Access Denied",
	"Request unsuccessful. Incapsula",
}

// Client issues browser-like fetches. One impersonation profile is held
// fixed per fetch session and re-chosen only when the session changes.
type Client struct {
	options

	gate       Gate
	httpClient *http.Client

	mu        sync.Mutex
	profile   Profile
	sessionID string
}

func New(gate Gate, opts ...Option) *Client {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	if len(options.Profiles) == 0 {
		options.Profiles = DefaultProfiles()
	}

	c := &Client{gate: gate}
	c.options = options

	transport := &http.Transport{}
	if c.Proxy != nil {
		transport.Proxy = c.Proxy
	}
	c.httpClient = &http.Client{
		Timeout:   c.Timeout,
		Transport: transport,
	}

	return c
}

// Fetch retrieves one page and returns the UTF-8 normalized markup plus
// the id of the session the fetch ran under. Transient failures are
// retried with exponential backoff and jitter up to the attempt bound;
// block signatures are reported to the scheduler and never retried here.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	if err := c.gate.BeforeRequest(ctx); err != nil {
		return nil, "", err
	}

	session := c.gate.Session()
	profile := c.profileFor(session)

	if c.Limit != nil {
		if err := c.Limit.Wait(ctx); err != nil {
			return nil, "", err
		}
	}
	if err := c.pause(ctx); err != nil {
		return nil, "", err
	}

	sessionID := ""
	if session != nil {
		sessionID = session.ID
	}

	var lastErr error

	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		body, err := c.do(ctx, url, profile)

		switch {
		case err == nil:
			c.gate.CountRequest()
			return body, sessionID, nil

		case errors.Is(err, ErrBlocked):
			// a burned identity: the whole attempt is over, not just this try
			c.gate.CountRequest()
			c.gate.OnBlock()
			return nil, sessionID, fmt.Errorf("fetch %s:%w", url, err)

		case errors.Is(err, ErrNotFound):
			c.gate.CountRequest()
			return nil, sessionID, fmt.Errorf("fetch %s:%w", url, err)
		}

		lastErr = err
		c.logger.Warn("transient fetch failure",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < c.MaxAttempts {
			backoff := c.Backoff * time.Duration(1<<(attempt-1))
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return nil, sessionID, ctx.Err()
			}
		}
	}

	c.gate.CountRequest()

	return nil, sessionID, fmt.Errorf("%w: %s after %d attempts: %v", ErrExhausted, url, c.MaxAttempts, lastErr)
}

func (c *Client) do(ctx context.Context, url string, profile Profile) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request:%w", err)
	}

	for k, vs := range profile.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", profile.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if blocked(resp.StatusCode, raw) {
		return nil, ErrBlocked
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("server error status:%d", resp.StatusCode)
	default:
		// other client errors are definitive for this page
		return nil, fmt.Errorf("%w (status %d)", ErrNotFound, resp.StatusCode)
	}

	bodyReader := bufio.NewReader(bytes.NewReader(raw))
	e := determineEncoding(bodyReader)
	utf8Reader := transform.NewReader(bodyReader, e.NewDecoder())

	return io.ReadAll(utf8Reader)
}

func blocked(status int, body []byte) bool {
	if status == http.StatusForbidden || status == http.StatusTooManyRequests {
		return true
	}

	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	for _, marker := range blockMarkers {
		if bytes.Contains(head, []byte(marker)) {
			return true
		}
	}

	return false
}

// pause sleeps a random interval inside the configured wait range to keep
// request timing from looking machine generated.
func (c *Client) pause(ctx context.Context) error {
	if c.WaitMax <= 0 {
		return nil
	}

	wait := c.WaitMin
	if span := c.WaitMax - c.WaitMin; span > 0 {
		wait += time.Duration(rand.Int63n(int64(span)))
	}

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) profileFor(session *catalog.FetchSession) Profile {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := ""
	if session != nil {
		id = session.ID
	}

	if c.sessionID != id || c.profile.Name == "" {
		c.profile = pickProfile(c.Profiles)
		c.sessionID = id
		c.logger.Debug("impersonation profile selected",
			zap.String("profile", c.profile.Name),
			zap.String("session", id))
	}

	return c.profile
}

func determineEncoding(r *bufio.Reader) encoding.Encoding {
	peek, err := r.Peek(1024)
	if err != nil && len(peek) == 0 {
		return unicode.UTF8
	}

	e, _, _ := charset.DetermineEncoding(peek, "")

	return e
}
