// Package headless renders pages in Chrome through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultSettle     = 500 * time.Millisecond
	screenshotQuality = 90
	maxConsole        = 200
)

// Config controls the chromedp renderer.
type Config struct {
	MaxParallel int
	UserAgent   string
	Timeout     time.Duration
	// Settle is the pause after body ready so late scripts can mutate the DOM.
	Settle     time.Duration
	Screenshot bool
	Window     crawler.WindowSize
	ExecPath   string
}

// Renderer implements crawler.RenderPort with one browser process per
// headless mode, started lazily.
type Renderer struct {
	cfg     Config
	limiter chan struct{}
	logger  *zap.Logger

	mu         sync.Mutex
	allocators map[bool]allocator
}

type allocator struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a chromedp renderer.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Settle < 0 {
		cfg.Settle = 0
	} else if cfg.Settle == 0 {
		cfg.Settle = defaultSettle
	}
	if cfg.Window.Width <= 0 || cfg.Window.Height <= 0 {
		cfg.Window = crawler.DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Renderer{
		cfg:        cfg,
		limiter:    limiter,
		logger:     logger.Named("render.headless"),
		allocators: make(map[bool]allocator),
	}, nil
}

// Close stops every browser process.
func (r *Renderer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for mode, a := range r.allocators {
		a.cancel()
		delete(r.allocators, mode)
	}
}

func (r *Renderer) allocatorFor(headless bool) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.allocators[headless]; ok {
		return a.ctx
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(r.cfg.Window.Width, r.cfg.Window.Height),
	)
	if headless {
		opts = append(opts, chromedp.Flag("headless", "new"))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	ctx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	r.allocators[headless] = allocator{ctx: ctx, cancel: cancel}
	return ctx
}

// dropAllocator stops the browser for one mode so the next load starts a
// fresh process.
func (r *Renderer) dropAllocator(headless bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.allocators[headless]; ok {
		a.cancel()
		delete(r.allocators, headless)
	}
}

// Load navigates to req.URL and captures DOM, screenshot and console output.
func (r *Renderer) Load(ctx context.Context, req crawler.RenderRequest) (crawler.Snapshot, error) {
	if err := r.acquire(ctx); err != nil {
		return crawler.Snapshot{}, &crawler.PageFetchError{URL: req.URL, Kind: crawler.FetchRender, Err: err}
	}
	defer r.release()

	allocCtx := r.allocatorFor(req.Headless)
	if err := allocCtx.Err(); err != nil {
		r.dropAllocator(req.Headless)
		return crawler.Snapshot{}, &crawler.PageFetchError{
			URL:  req.URL,
			Kind: crawler.FetchFatal,
			Err:  fmt.Errorf("browser allocator: %w: %w", crawler.ErrRendererUnavailable, err),
		}
	}
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()
	// The task context must not outlive the caller.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Timeout
	}
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	events := newPageEvents()
	chromedp.ListenTarget(taskCtx, events.captureEvent)

	start := time.Now()
	var (
		html       string
		finalURL   string
		screenshot []byte
	)
	actions := []chromedp.Action{
		r.setupAction(req),
		chromedp.Navigate(req.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if r.cfg.Screenshot {
		actions = append(actions, chromedp.FullScreenshot(&screenshot, screenshotQuality))
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		fetchErr := classify(taskCtx, req.URL, err)
		if fetchErr.Fatal() {
			r.logger.Error("browser unavailable", zap.String("url", req.URL), zap.Error(err))
			r.dropAllocator(req.Headless)
		}
		return crawler.Snapshot{}, fetchErr
	}

	status, headers, responseURL := events.responseWithFallbacks(req.URL, finalURL)
	if finalURL == "" {
		finalURL = responseURL
	}
	elapsed := time.Since(start)
	r.logger.Debug("page rendered",
		zap.String("url", req.URL),
		zap.String("final_url", finalURL),
		zap.Int("status", status),
		zap.Duration("elapsed", elapsed),
	)
	return crawler.Snapshot{
		URL:        req.URL,
		FinalURL:   finalURL,
		StatusCode: status,
		Headers:    headers,
		DOM:        html,
		Screenshot: screenshot,
		Console:    events.console(),
		Elapsed:    elapsed,
	}, nil
}

func (r *Renderer) setupAction(req crawler.RenderRequest) chromedp.Action {
	window := req.Window
	if window.Width <= 0 || window.Height <= 0 {
		window = r.cfg.Window
	}
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = r.cfg.UserAgent
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := runtime.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable runtime domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		err := emulation.SetDeviceMetricsOverride(int64(window.Width), int64(window.Height), 1, false).Do(ctx)
		if err != nil {
			return fmt.Errorf("set device metrics: %w", err)
		}
		return nil
	})
}

// classify maps a chromedp failure onto the page fetch error kinds.
func classify(taskCtx context.Context, url string, err error) *crawler.PageFetchError {
	if browserGone(err) {
		return &crawler.PageFetchError{
			URL:  url,
			Kind: crawler.FetchFatal,
			Err:  fmt.Errorf("chromedp run: %w: %w", crawler.ErrRendererUnavailable, err),
		}
	}
	kind := crawler.FetchRender
	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		kind = crawler.FetchTimeout
	case strings.Contains(msg, "net::ERR_"), strings.Contains(msg, "page load error"):
		kind = crawler.FetchNavigation
	}
	return &crawler.PageFetchError{URL: url, Kind: kind, Err: fmt.Errorf("chromedp run: %w", err)}
}

var browserGoneMarkers = []string{
	"executable file not found",
	"chrome failed to start",
	"websocket: close",
	"process exited",
	"target closed",
}

// browserGone reports failures that leave the browser process unusable.
func browserGone(err error) bool {
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range browserGoneMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

// pageEvents collects the document response and console output of one load.
type pageEvents struct {
	mu       sync.RWMutex
	status   int
	headers  http.Header
	url      string
	messages []crawler.ConsoleMessage
}

func newPageEvents() *pageEvents {
	return &pageEvents{
		headers: http.Header{},
	}
}

func (p *pageEvents) captureEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventResponseReceived:
		p.captureResponse(e)
	case *runtime.EventConsoleAPICalled:
		parts := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			switch {
			case arg.Description != "":
				parts = append(parts, arg.Description)
			case len(arg.Value) > 0:
				parts = append(parts, strings.Trim(string(arg.Value), `"`))
			}
		}
		p.addConsole(string(e.Type), strings.Join(parts, " "))
	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails != nil {
			text := e.ExceptionDetails.Text
			if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
				text = e.ExceptionDetails.Exception.Description
			}
			p.addConsole("exception", text)
		}
	}
}

func (p *pageEvents) addConsole(level, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.messages) >= maxConsole {
		return
	}
	p.messages = append(p.messages, crawler.ConsoleMessage{Level: level, Text: text})
}

func (p *pageEvents) console() []crawler.ConsoleMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]crawler.ConsoleMessage(nil), p.messages...)
}

func (p *pageEvents) captureResponse(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			// Chrome folds repeated headers with newlines.
			for _, entry := range strings.Split(v, "\n") {
				headers.Add(key, entry)
			}
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	// Redirect chains deliver several documents; the first main response wins
	// unless it was a redirect.
	if p.status != 0 && (p.status < 300 || p.status >= 400) {
		return
	}
	p.status = int(event.Response.Status)
	p.headers = headers
	p.url = event.Response.URL
}

func (p *pageEvents) response() (int, http.Header, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status, cloneHeader(p.headers), p.url
}

func (p *pageEvents) responseWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	status, headers, url := p.response()
	switch {
	case url != "":
	case finalURL != "":
		url = finalURL
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	if headers == nil {
		headers = http.Header{}
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	dst := make(http.Header, len(src))
	for k, values := range src {
		for _, v := range values {
			dst.Add(k, v)
		}
	}
	return dst
}
