// Package static renders pages without a browser using gocolly. Pages are
// returned as served: no script runs and no screenshot is taken.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Renderer implements crawler.RenderPort using the Colly collector.
type Renderer struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Renderer sharing one pooled transport.
func New(cfg Config, logger *zap.Logger) *Renderer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	// Robots admission happens before a URL reaches the frontier.
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	return &Renderer{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger.Named("render.static"),
	}
}

// Load executes a single GET and returns the response as a snapshot.
func (r *Renderer) Load(ctx context.Context, req crawler.RenderRequest) (crawler.Snapshot, error) {
	var (
		snap     crawler.Snapshot
		fetchErr error
	)
	start := time.Now()
	collector := r.buildCollector(req, start, &snap, &fetchErr)
	if err := r.runCollector(ctx, collector, req.URL, &fetchErr); err != nil {
		return crawler.Snapshot{}, classify(req.URL, err)
	}
	r.logger.Debug("page fetched",
		zap.String("url", req.URL),
		zap.Int("status", snap.StatusCode),
		zap.Duration("elapsed", snap.Elapsed),
	)
	return snap, nil
}

func (r *Renderer) buildCollector(
	req crawler.RenderRequest,
	start time.Time,
	snap *crawler.Snapshot,
	fetchErr *error,
) *colly.Collector {
	collector := r.baseCollector.Clone()
	collector.UserAgent = r.cfg.UserAgent
	if req.UserAgent != "" {
		collector.UserAgent = req.UserAgent
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	collector.SetRequestTimeout(timeout)
	r.configureCollectorHooks(collector, req, start, snap, fetchErr)
	return collector
}

func (r *Renderer) configureCollectorHooks(
	hooks collectorHooks,
	req crawler.RenderRequest,
	start time.Time,
	snap *crawler.Snapshot,
	fetchErr *error,
) {
	hooks.OnRequest(func(cr *colly.Request) {
		cr.Headers.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	})

	hooks.OnResponse(func(resp *colly.Response) {
		var headers http.Header
		if resp.Headers != nil {
			headers = resp.Headers.Clone()
		}
		*snap = crawler.Snapshot{
			URL:        req.URL,
			FinalURL:   resp.Request.URL.String(),
			StatusCode: resp.StatusCode,
			Headers:    headers,
			DOM:        string(resp.Body),
			Elapsed:    time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (r *Renderer) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func classify(target string, err error) error {
	kind := crawler.FetchNavigation
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		kind = crawler.FetchTimeout
	case errors.Is(err, context.Canceled):
		kind = crawler.FetchRender
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		kind = crawler.FetchTimeout
	}
	return &crawler.PageFetchError{URL: target, Kind: kind, Err: err}
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
