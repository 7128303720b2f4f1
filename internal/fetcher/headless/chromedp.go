// Package headless implements the browser-driven fetcher on chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/metrics"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/session"
)

// Config controls navigation defaults applied when the fetch policy leaves
// them unset.
type Config struct {
	NavigationTimeout time.Duration
	DefaultWait       crawl.WaitMode
	DefaultDelay      time.Duration
	MaxRedirects      int
	ViewportWidth     int
	ViewportHeight    int
}

// Fetcher renders pages through sessions borrowed from the pool. It is the
// only component that touches raw session handles, and it holds at most one
// per in-flight Fetch.
type Fetcher struct {
	cfg    Config
	pool   *session.Pool
	logger *zap.Logger
}

// New builds a headless Fetcher over the given session pool.
func New(cfg Config, pool *session.Pool, logger *zap.Logger) *Fetcher {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.DefaultWait == "" {
		cfg.DefaultWait = crawl.WaitDOMReady
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, pool: pool, logger: logger}
}

// Fetch borrows a session, navigates, applies the wait condition, and
// captures the rendered DOM. Failures come back classified.
func (f *Fetcher) Fetch(ctx context.Context, req crawl.Request) (crawl.FetchResult, error) {
	s, err := f.pool.Acquire(ctx)
	if err != nil {
		return crawl.FetchResult{}, err
	}
	health := session.HealthOK
	defer func() { f.pool.Release(s, health) }()

	taskCtx, cancel := context.WithTimeout(s.Context(), f.timeout(req.Policy))
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	meta := newPageMeta(f.maxRedirects(req.Policy), cancel)
	chromedp.ListenTarget(taskCtx, meta.handleEvent)

	start := time.Now()
	html, finalURL, err := f.run(taskCtx, req)
	duration := time.Since(start)
	if err != nil {
		class := f.classify(err, meta)
		if class == crawl.FailRender || class == crawl.FailTimeout {
			// The tab may be wedged mid-navigation; recycle it.
			health = session.HealthCorrupt
		}
		metrics.ObserveFetch("headless", string(class), duration)
		f.logger.Debug("headless fetch failed",
			zap.String("url", req.URL),
			zap.String("class", string(class)),
			zap.Error(err),
		)
		return crawl.FetchResult{}, crawl.NewFailure(class, err)
	}

	status, headers, responseURL := meta.snapshot(req.URL, finalURL)
	if status < 200 || status > 299 {
		metrics.ObserveFetch("headless", string(crawl.FailHTTP), duration)
		return crawl.FetchResult{}, crawl.HTTPFailure(status)
	}

	metrics.ObserveFetch("headless", "ok", duration)
	return crawl.FetchResult{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     duration,
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) run(ctx context.Context, req crawl.Request) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.setupAction(req.Policy),
		chromedp.Navigate(req.URL),
		f.waitAction(req.Policy),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) setupAction(policy crawl.FetchPolicy) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if len(policy.Headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(policy.Headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		width, height := f.viewport(policy)
		if width > 0 && height > 0 {
			if err := chromedp.EmulateViewport(int64(width), int64(height)).Do(ctx); err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) waitAction(policy crawl.FetchPolicy) chromedp.Action {
	mode := policy.Wait
	if mode == "" {
		mode = f.cfg.DefaultWait
	}
	switch mode {
	case crawl.WaitSelector:
		if policy.WaitSelector != "" {
			return chromedp.WaitVisible(policy.WaitSelector, chromedp.ByQuery)
		}
		return chromedp.WaitReady("body", chromedp.ByQuery)
	case crawl.WaitDelay:
		delay := policy.Delay
		if delay <= 0 {
			delay = f.cfg.DefaultDelay
		}
		if delay <= 0 {
			delay = 500 * time.Millisecond
		}
		return chromedp.Sleep(delay)
	default:
		return chromedp.WaitReady("body", chromedp.ByQuery)
	}
}

func (f *Fetcher) classify(err error, meta *pageMeta) crawl.FailureClass {
	if meta.redirectOverflow() {
		return crawl.FailRedirectLoop
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawl.FailTimeout
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "net::ERR_NAME_NOT_RESOLVED"),
		strings.Contains(msg, "net::ERR_CONNECTION"),
		strings.Contains(msg, "net::ERR_ADDRESS"),
		strings.Contains(msg, "net::ERR_INTERNET_DISCONNECTED"),
		strings.Contains(msg, "net::ERR_PROXY"):
		return crawl.FailNetwork
	case strings.Contains(msg, "net::ERR_TIMED_OUT"):
		return crawl.FailTimeout
	}
	return crawl.FailRender
}

func (f *Fetcher) timeout(policy crawl.FetchPolicy) time.Duration {
	if policy.Timeout > 0 {
		return policy.Timeout
	}
	return f.cfg.NavigationTimeout
}

func (f *Fetcher) maxRedirects(policy crawl.FetchPolicy) int {
	if policy.MaxRedirects > 0 {
		return policy.MaxRedirects
	}
	return f.cfg.MaxRedirects
}

func (f *Fetcher) viewport(policy crawl.FetchPolicy) (int, int) {
	if policy.ViewportWidth > 0 && policy.ViewportHeight > 0 {
		return policy.ViewportWidth, policy.ViewportHeight
	}
	return f.cfg.ViewportWidth, f.cfg.ViewportHeight
}

// pageMeta collects response metadata for the document request from CDP
// events, and aborts the navigation when the redirect chain exceeds the cap.
type pageMeta struct {
	mu        sync.Mutex
	status    int
	headers   http.Header
	url       string
	redirects int
	max       int
	abort     context.CancelFunc
	overflow  bool
}

func newPageMeta(maxRedirects int, abort context.CancelFunc) *pageMeta {
	return &pageMeta{
		headers: http.Header{},
		max:     maxRedirects,
		abort:   abort,
	}
}

func (m *pageMeta) handleEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Type != network.ResourceTypeDocument || e.RedirectResponse == nil {
			return
		}
		m.mu.Lock()
		m.redirects++
		tripped := m.max > 0 && m.redirects > m.max
		if tripped {
			m.overflow = true
		}
		m.mu.Unlock()
		if tripped && m.abort != nil {
			m.abort()
		}
	case *network.EventResponseReceived:
		if e.Type != network.ResourceTypeDocument || e.Response == nil {
			return
		}
		headers := http.Header{}
		for key, value := range e.Response.Headers {
			switch v := value.(type) {
			case string:
				headers.Add(key, v)
			case []interface{}:
				for _, entry := range v {
					headers.Add(key, fmt.Sprint(entry))
				}
			default:
				headers.Add(key, fmt.Sprint(v))
			}
		}
		m.mu.Lock()
		m.status = int(e.Response.Status)
		m.headers = headers
		m.url = e.Response.URL
		m.mu.Unlock()
	}
}

func (m *pageMeta) redirectOverflow() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.overflow
}

func (m *pageMeta) snapshot(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	url := m.url
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	headers := make(http.Header, len(m.headers))
	for k, values := range m.headers {
		for _, v := range values {
			headers.Add(k, v)
		}
	}
	return status, headers, url
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}
