package static

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

func TestLoadReturnsSnapshot(t *testing.T) {
	t.Parallel()

	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/next">next</a></body></html>`))
	}))
	defer srv.Close()

	renderer := New(Config{UserAgent: "crawl-test/1.0"}, nil)
	snap, err := renderer.Load(context.Background(), crawler.RenderRequest{URL: srv.URL + "/"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", snap.StatusCode)
	}
	if !strings.Contains(snap.DOM, `href="/next"`) {
		t.Fatalf("unexpected body %q", snap.DOM)
	}
	if snap.Headers.Get("Content-Type") != "text/html" {
		t.Fatalf("expected content type header, got %v", snap.Headers)
	}
	if snap.FinalURL != srv.URL+"/" {
		t.Fatalf("unexpected final url %s", snap.FinalURL)
	}
	if snap.Screenshot != nil {
		t.Fatal("static renderer must not produce screenshots")
	}
	if gotUA != "crawl-test/1.0" {
		t.Fatalf("expected configured user agent, got %q", gotUA)
	}
}

func TestLoadFollowsRedirect(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/new", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>moved</body></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	snap, err := New(Config{}, nil).Load(context.Background(), crawler.RenderRequest{URL: srv.URL + "/old"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.URL != srv.URL+"/old" || snap.FinalURL != srv.URL+"/new" {
		t.Fatalf("unexpected urls: %s -> %s", snap.URL, snap.FinalURL)
	}
}

func TestLoadKeepsErrorStatusPages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html><body>Checking your browser</body></html>"))
	}))
	defer srv.Close()

	snap, err := New(Config{}, nil).Load(context.Background(), crawler.RenderRequest{URL: srv.URL})
	if err != nil {
		t.Fatalf("error pages must still produce a snapshot: %v", err)
	}
	if snap.StatusCode != http.StatusForbidden || snap.Headers.Get("Server") != "cloudflare" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestLoadTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	_, err := New(Config{}, nil).Load(context.Background(), crawler.RenderRequest{
		URL:     srv.URL,
		Timeout: 50 * time.Millisecond,
	})
	var fetchErr *crawler.PageFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected page fetch error, got %v", err)
	}
	if fetchErr.Kind != crawler.FetchTimeout {
		t.Fatalf("expected timeout kind, got %v", fetchErr.Kind)
	}
}

func TestLoadUnreachableHost(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	_, err := New(Config{Timeout: time.Second}, nil).Load(context.Background(), crawler.RenderRequest{URL: target})
	var fetchErr *crawler.PageFetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected page fetch error, got %v", err)
	}
	if fetchErr.Outcome() != crawler.OutcomeNavigation {
		t.Fatalf("expected navigation outcome, got %s", fetchErr.Outcome())
	}
}

func TestLoadContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{}, nil).Load(ctx, crawler.RenderRequest{URL: "http://127.0.0.1:1/"})
	if err == nil {
		t.Fatal("expected error for canceled context")
	}
}
