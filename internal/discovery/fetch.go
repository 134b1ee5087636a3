package discovery

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/growthtools/leadscout/internal/resilience"
)

// Fetcher retrieves page bodies with per-host politeness.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (string, error)
}

// maxBodyBytes caps how much of a page we read. Contact data lives near
// the top of a page, full downloads of media-heavy sites are wasted work.
const maxBodyBytes = 2 << 20

// HTTPFetcher implements Fetcher using net/http with a lazily grown
// per-host rate limiter table.
type HTTPFetcher struct {
	client   *http.Client
	ua       string
	hostRate rate.Limit

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher creates a fetcher with the given request timeout and
// per-host request rate.
func NewHTTPFetcher(timeout time.Duration, hostRate float64) *HTTPFetcher {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	if hostRate <= 0 {
		hostRate = 2
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		ua:       "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		hostRate: rate.Limit(hostRate),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) limiterFor(rawURL string) *rate.Limiter {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Host
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.hostRate, int(f.hostRate)+1)
		f.limiters[host] = lim
	}
	return lim
}

// Get fetches rawURL and returns the body. Responses with status >= 400
// come back as transient errors so callers can decide on fallbacks.
func (f *HTTPFetcher) Get(ctx context.Context, rawURL string) (string, error) {
	if err := f.limiterFor(rawURL).Wait(ctx); err != nil {
		return "", eris.Wrap(err, "discovery: rate limiter wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", eris.Wrapf(err, "discovery: build request %s", rawURL)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "discovery: fetch %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return "", resilience.NewTransientError(
			eris.Errorf("discovery: fetch %s: status %d", rawURL, resp.StatusCode),
			resp.StatusCode,
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", eris.Wrapf(err, "discovery: read body %s", rawURL)
	}
	return string(body), nil
}
