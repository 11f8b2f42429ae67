package verify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/entity-enricher/internal/candidate"
	"github.com/JakeFAU/entity-enricher/internal/enrichment"
)

// --- fakes ---

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]enrichment.FetchResponse
	errors    map[string]error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]enrichment.FetchResponse),
		errors:    make(map[string]error),
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, req enrichment.FetchRequest) (enrichment.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL)
	if err, ok := f.errors[req.URL]; ok {
		return enrichment.FetchResponse{}, err
	}
	if resp, ok := f.responses[req.URL]; ok {
		return resp, nil
	}
	return enrichment.FetchResponse{URL: req.URL, StatusCode: 404}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type countingLimiter struct {
	mu    sync.Mutex
	waits int
	err   error
}

func (l *countingLimiter) Wait(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return l.err
}

type alwaysPromote struct{}

func (alwaysPromote) ShouldPromote(enrichment.FetchResponse) bool { return true }

// --- tests ---

func newTestEngine(fetcher, headless enrichment.Fetcher, detector enrichment.HeadlessDetector, limiter enrichment.Limiter) *Engine {
	return New(candidate.New(candidate.Config{}), fetcher, headless, detector, limiter,
		Config{FollowContactPage: true}, nil)
}

func TestDiscoverAcceptsFirstQualifyingCandidate(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.responses["https://www.acmetools.co.uk"] = enrichment.FetchResponse{
		URL:        "https://www.shopfront-hosting.net/acme",
		Host:       "www.shopfront-hosting.net",
		StatusCode: 200,
		Body:       []byte(`<html><body><p>Registered office SW1A1AA. Company no 01234567.</p></body></html>`),
	}
	limiter := &countingLimiter{}
	engine := newTestEngine(fetcher, nil, nil, limiter)

	disc, err := engine.Discover(context.Background(), 1, acme())
	require.NoError(t, err)
	assert.True(t, disc.Found())
	assert.Equal(t, "https://www.acmetools.co.uk", disc.Website)
	assert.Equal(t, 90, disc.Result.Score)
	assert.Equal(t, []string{enrichment.SignalRegistrationNumber, enrichment.SignalPostcode}, disc.Result.Signals)
	assert.True(t, disc.Contacts.Empty())
	assert.NotEmpty(t, disc.Page)

	calls := fetcher.Calls()
	assert.Equal(t, []string{
		"https://www.acmetoolsltd.co.uk",
		"https://acmetoolsltd.co.uk",
		"https://www.acmetoolsltd.com",
		"https://www.acmetools.co.uk",
		"https://www.acmetools.co.uk/contact",
	}, calls, "evaluation stops at the first acceptance")
	assert.Equal(t, len(calls), limiter.waits)
	assert.Len(t, disc.Tried, 4)
}

func TestDiscoverReportsNoWebsite(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.errors["https://www.acmetoolsltd.co.uk"] = errors.New("dial tcp: no such host")
	fetcher.responses["https://www.acme.co.uk"] = enrichment.FetchResponse{
		Host:       "www.acme-widgets.example",
		StatusCode: 200,
		Body:       []byte(`<body>We sell widgets.</body>`),
	}
	engine := newTestEngine(fetcher, nil, nil, nil)

	disc, err := engine.Discover(context.Background(), 2, acme())
	require.ErrorIs(t, err, enrichment.ErrNoWebsite)
	assert.False(t, disc.Found())
	want := candidate.New(candidate.Config{}).ForEntity(acme())
	assert.Len(t, disc.Tried, len(want))
	for _, r := range disc.Tried {
		assert.Less(t, r.Score, DefaultThreshold)
		assert.False(t, r.Accepted)
	}
}

func TestDiscoverScrapesKnownWebsite(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.responses["https://acme.example"] = enrichment.FetchResponse{
		Host:       "acme.example",
		StatusCode: 200,
		Body:       []byte(`<body>Email jane.whitfield@acme.example or call 020 7946 0000</body>`),
	}
	entity := acme()
	entity.Website = "https://acme.example"
	engine := New(nil, fetcher, nil, nil, nil, Config{}, nil)

	disc, err := engine.Discover(context.Background(), 3, entity)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.example", disc.Website)
	assert.Equal(t, "jane.whitfield@acme.example", disc.Contacts.Email)
	assert.Equal(t, "+44 2079 460 000", disc.Contacts.Phone)
	assert.Equal(t, []string{"https://acme.example"}, fetcher.Calls())
}

func TestDiscoverPromotesJavaScriptShells(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	fetcher.responses["https://www.acmetoolsltd.co.uk"] = enrichment.FetchResponse{
		Host:       "www.acmetoolsltd.co.uk",
		StatusCode: 200,
		Body:       []byte(`<div id="__next"></div>`),
	}
	headless := newFakeFetcher()
	headless.responses["https://www.acmetoolsltd.co.uk"] = enrichment.FetchResponse{
		StatusCode: 200,
		Body:       []byte(`<body>Acme Tools Ltd, company number 01234567</body>`),
	}
	engine := New(nil, fetcher, headless, alwaysPromote{}, nil, Config{}, nil)

	disc, err := engine.Discover(context.Background(), 4, acme())
	require.NoError(t, err)
	assert.Equal(t, "https://www.acmetoolsltd.co.uk", disc.Website)
	// 70 registration + 30 domain (host inherited from the probe) + 10 name.
	assert.Equal(t, MaxScore, disc.Result.Score)
	assert.Equal(t, []string{"https://www.acmetoolsltd.co.uk"}, headless.Calls())
}

func TestDiscoverStopsWhenContextEnds(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	engine := newTestEngine(newFakeFetcher(), nil, nil, nil)

	_, err := engine.Discover(ctx, 5, acme())
	require.Error(t, err)
	assert.NotErrorIs(t, err, enrichment.ErrNoWebsite)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDiscoverLimiterErrorSkipsCandidate(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher()
	limiter := &countingLimiter{err: errors.New("rate limit wait: would exceed deadline")}
	engine := New(nil, fetcher, nil, nil, limiter, Config{MaxCandidates: 2}, nil)

	disc, err := engine.Discover(context.Background(), 6, acme())
	require.ErrorIs(t, err, enrichment.ErrNoWebsite)
	assert.Empty(t, fetcher.Calls())
	assert.Len(t, disc.Tried, 2)
}

func TestDiscoverRequiresFetcher(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, nil, nil, nil, Config{}, nil).Discover(context.Background(), 7, acme())
	require.Error(t, err)
}
