package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pricewatch/pricewatch/catalog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGate struct {
	beforeCalls int
	counted     int
	blocks      int
	beforeErr   error
	session     *catalog.FetchSession
}

func (g *fakeGate) BeforeRequest(ctx context.Context) error {
	g.beforeCalls++
	return g.beforeErr
}

func (g *fakeGate) CountRequest() { g.counted++ }
func (g *fakeGate) OnBlock()      { g.blocks++ }

func (g *fakeGate) Session() *catalog.FetchSession { return g.session }

func newTestClient(gate Gate, opts ...Option) *Client {
	base := []Option{
		WithWaitRange(0, 0),
		WithBackoff(time.Millisecond),
		WithMaxAttempts(3),
	}

	return New(gate, append(base, opts...)...)
}

func TestFetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	gate := &fakeGate{session: &catalog.FetchSession{ID: "s1"}}
	c := newTestClient(gate)

	body, sessionID, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ok")
	assert.Equal(t, "s1", sessionID)
	assert.Equal(t, 1, gate.beforeCalls)
	assert.Equal(t, 1, gate.counted)
}

func TestFetchBlockSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	gate := &fakeGate{session: &catalog.FetchSession{ID: "s1"}}
	c := newTestClient(gate)

	_, _, err := c.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, 1, gate.blocks, "block reported to the scheduler")
	assert.Equal(t, 1, gate.counted, "a blocked attempt is still a completed attempt")
}

func TestFetchBlockBodyMarker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><div class="g-recaptcha"></div></html>`))
	}))
	defer srv.Close()

	gate := &fakeGate{}
	c := newTestClient(gate)

	_, _, err := c.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, 1, gate.blocks)
}

func TestFetchTransientRetry(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("<html>fine</html>"))
	}))
	defer srv.Close()

	gate := &fakeGate{}
	c := newTestClient(gate)

	body, _, err := c.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "fine")
	assert.Equal(t, 3, hits)
	assert.Equal(t, 1, gate.counted, "retries of one attempt count once")
}

func TestFetchTransientExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	gate := &fakeGate{}
	c := newTestClient(gate, WithMaxAttempts(2))

	_, _, err := c.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, gate.counted)
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	gate := &fakeGate{}
	c := newTestClient(gate)

	_, _, err := c.Fetch(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchGateErrorAborts(t *testing.T) {
	gate := &fakeGate{beforeErr: assert.AnError}
	c := newTestClient(gate)

	_, _, err := c.Fetch(context.Background(), "http://unused.test")
	assert.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, gate.counted)
}

func TestProfileFixedPerSession(t *testing.T) {
	gate := &fakeGate{session: &catalog.FetchSession{ID: "s1"}}
	c := newTestClient(gate)

	first := c.profileFor(gate.session)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first.Name, c.profileFor(gate.session).Name)
	}

	// a new session may re-draw; the pin is only per session
	c.profileFor(&catalog.FetchSession{ID: "s2"})
	assert.Equal(t, "s2", c.sessionID)
}
