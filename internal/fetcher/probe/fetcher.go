// Package probe implements a plain-HTTP fetcher on gocolly, used when a
// headless render fails and the fetch policy allows degrading to the
// unrendered document.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/crawl"
	"github.com/rafaelrnzo/AI-Article-Summarizer/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
}

// Fetcher implements crawl.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	logger        *zap.Logger
	transport     *http.Transport
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	return &Fetcher{
		cfg:           cfg,
		logger:        logger,
		transport:     newHTTPTransport(),
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET and classifies any failure.
func (f *Fetcher) Fetch(ctx context.Context, req crawl.Request) (crawl.FetchResult, error) {
	var (
		result   crawl.FetchResult
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(req, start, &result, &fetchErr)

	err := f.runCollector(ctx, collector, req.URL, &fetchErr)
	duration := time.Since(start)
	if err != nil {
		failure := f.classify(err, req)
		metrics.ObserveFetch("probe", string(failure.Class), duration)
		return crawl.FetchResult{}, failure
	}
	metrics.ObserveFetch("probe", "ok", duration)
	return result, nil
}

func (f *Fetcher) buildCollector(
	req crawl.Request,
	start time.Time,
	result *crawl.FetchResult,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := req.Policy.Timeout
	if timeout <= 0 {
		timeout = f.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)

	maxRedirects := req.Policy.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = f.cfg.MaxRedirects
	}
	collector.SetClient(&http.Client{
		Transport: f.transport,
		Timeout:   timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errRedirectLimit
			}
			return nil
		},
	})

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range req.Policy.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		*result = crawl.FetchResult{
			URL:          r.Request.URL.String(),
			StatusCode:   r.StatusCode,
			Headers:      r.Headers.Clone(),
			Body:         append([]byte(nil), r.Body...),
			Duration:     time.Since(start),
			UsedHeadless: false,
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= 300 {
			*fetchErr = crawl.HTTPFailure(r.StatusCode)
			return
		}
		*fetchErr = err
	})
	return collector
}

var errRedirectLimit = errors.New("redirect limit exceeded")

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("probe fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return fmt.Errorf("probe visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) classify(err error, req crawl.Request) *crawl.Failure {
	var failure *crawl.Failure
	if errors.As(err, &failure) {
		return failure
	}
	if errors.Is(err, errRedirectLimit) {
		return crawl.NewFailure(crawl.FailRedirectLoop, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return crawl.NewFailure(crawl.FailTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return crawl.NewFailure(crawl.FailTimeout, err)
		}
		return crawl.NewFailure(crawl.FailNetwork, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return crawl.NewFailure(crawl.FailNetwork, err)
	}
	f.logger.Debug("unclassified probe error treated as network",
		zap.String("url", req.URL), zap.Error(err))
	return crawl.NewFailure(crawl.FailNetwork, err)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
