package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

func TestNewLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{MaxParallel: -1}, nil); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	renderer, err := New(Config{MaxParallel: 2}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cap(renderer.limiter) != 2 {
		t.Fatalf("expected limiter capacity 2, got %d", cap(renderer.limiter))
	}
	if renderer.cfg.Window != crawler.DefaultWindow {
		t.Fatalf("expected default window, got %+v", renderer.cfg.Window)
	}
	if renderer.cfg.Timeout != defaultTimeout {
		t.Fatalf("expected default timeout, got %v", renderer.cfg.Timeout)
	}
}

func TestAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	renderer, err := New(Config{MaxParallel: 1}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := renderer.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := renderer.acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled acquire, got %v", err)
	}
	renderer.release()
	if err := renderer.acquire(context.Background()); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestClassifyErrors(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	<-ctx.Done()

	var fetchErr *crawler.PageFetchError
	err := classify(ctx, "https://slow.example", context.DeadlineExceeded)
	if !errors.As(err, &fetchErr) || fetchErr.Kind != crawler.FetchTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}

	live := context.Background()
	err = classify(live, "https://nx.example", errors.New("page load error net::ERR_NAME_NOT_RESOLVED"))
	if !errors.As(err, &fetchErr) || fetchErr.Kind != crawler.FetchNavigation {
		t.Fatalf("expected navigation error, got %v", err)
	}
	if fetchErr.Outcome() != crawler.OutcomeNavigation {
		t.Fatalf("unexpected outcome %s", fetchErr.Outcome())
	}

	err = classify(live, "https://broken.example", errors.New("could not find node"))
	if !errors.As(err, &fetchErr) || fetchErr.Kind != crawler.FetchRender {
		t.Fatalf("expected render error, got %v", err)
	}
}

func TestClassifyBrowserGoneIsFatal(t *testing.T) {
	t.Parallel()

	live := context.Background()
	for _, cause := range []error{
		fmt.Errorf("start browser: %w", exec.ErrNotFound),
		errors.New("chrome failed to start:\n"),
		errors.New("websocket: close 1006 (abnormal closure)"),
	} {
		fetchErr := classify(live, "https://example.com", cause)
		if fetchErr.Kind != crawler.FetchFatal || !fetchErr.Fatal() {
			t.Fatalf("expected fatal for %v, got %s", cause, fetchErr.Kind)
		}
		if !errors.Is(fetchErr, crawler.ErrRendererUnavailable) {
			t.Fatalf("expected ErrRendererUnavailable in chain: %v", fetchErr)
		}
		if fetchErr.Outcome() != crawler.OutcomeRender {
			t.Fatalf("unexpected outcome %s", fetchErr.Outcome())
		}
	}
}

func TestLoadAfterBrowserStoppedIsFatal(t *testing.T) {
	t.Parallel()

	renderer, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	renderer.allocatorFor(true)
	renderer.allocators[true].cancel()

	_, err = renderer.Load(context.Background(), crawler.RenderRequest{URL: "https://example.com", Headless: true})
	var fetchErr *crawler.PageFetchError
	if !errors.As(err, &fetchErr) || !fetchErr.Fatal() {
		t.Fatalf("expected fatal fetch error, got %v", err)
	}
	if _, ok := renderer.allocators[true]; ok {
		t.Fatal("stopped allocator should be dropped")
	}
}

func TestPageEventsResponseAndFallbacks(t *testing.T) {
	t.Parallel()

	events := newPageEvents()
	events.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  301,
			URL:     "https://example.com/old",
			Headers: network.Headers{"Location": "/new"},
		},
	})
	events.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  403,
			URL:     "https://example.com/new",
			Headers: network.Headers{"Server": "cloudflare", "Set-Cookie": "a=1\nb=2"},
		},
	})
	events.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 200, URL: "https://example.com/app.js"},
	})
	status, headers, url := events.responseWithFallbacks("https://req", "")
	if status != 403 || url != "https://example.com/new" || headers.Get("Server") != "cloudflare" {
		t.Fatalf("unexpected response: status=%d url=%s headers=%v", status, url, headers)
	}
	if len(headers.Values("Set-Cookie")) != 2 {
		t.Fatalf("expected folded headers to split, got %v", headers.Values("Set-Cookie"))
	}

	events = newPageEvents()
	status, _, url = events.responseWithFallbacks("https://req", "https://final")
	if status != http.StatusOK || url != "https://final" {
		t.Fatalf("expected fallback values, got status=%d url=%s", status, url)
	}
}

func TestPageEventsConsole(t *testing.T) {
	t.Parallel()

	events := newPageEvents()
	events.captureEvent(&runtime.EventConsoleAPICalled{
		Type: runtime.APITypeWarning,
		Args: []*runtime.RemoteObject{{Description: "deprecated api"}},
	})
	events.captureEvent(&runtime.EventExceptionThrown{
		ExceptionDetails: &runtime.ExceptionDetails{Text: "Uncaught TypeError"},
	})
	got := events.console()
	if len(got) != 2 {
		t.Fatalf("expected two console messages, got %+v", got)
	}
	if got[0].Level != "warning" || got[0].Text != "deprecated api" {
		t.Fatalf("unexpected console message %+v", got[0])
	}
	if got[1].Level != "exception" || got[1].Text != "Uncaught TypeError" {
		t.Fatalf("unexpected exception message %+v", got[1])
	}
}

func TestCloneHeader(t *testing.T) {
	t.Parallel()

	src := http.Header{"X-Test": {"a", "b"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	if len(src["X-Test"]) != 2 {
		t.Fatalf("source header mutated: %+v", src)
	}
	if cloneHeader(nil) != nil {
		t.Fatal("expected nil clone of nil header")
	}
}
