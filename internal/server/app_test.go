package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/crawl-orchestrator/internal/config"
	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/orchestrator"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Render.Backend = config.BackendStatic
	cfg.Crawler.DelaySeconds = 0.01
	cfg.RateLimit.RPS = 0
	cfg.Tracing.SampleRatio = 0
	return cfg
}

func buildTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	app, err := Build(context.Background(), cfg, Options{
		Logger:     zaptest.NewLogger(t),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return app
}

func TestBuildServesAPI(t *testing.T) {
	app := buildTestApp(t, testConfig(t))
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = http.Post(srv.URL+"/v1/jobs", "application/json",
		strings.NewReader(`{"start_url":"https://example.com","max_pages":2}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	jobs, err := app.Engine().List(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, crawler.StatePending, jobs[0].State)
	require.Equal(t, 2, jobs[0].Config.MaxPages)
}

func TestBuildRejectsUnreachableBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.LocalDir = ""

	_, err := Build(context.Background(), cfg, Options{
		Logger:     zaptest.NewLogger(t),
		Registerer: prometheus.NewRegistry(),
	})
	require.Error(t, err)
}

func TestCrawlRunsJobToCompletion(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<h1>Welcome</h1><p>Landing page with one link.</p><a href="/about">About</a></body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><title>About</title></head><body>
<h1>About us</h1><p>We build small test sites.</p></body></html>`)
	})
	site := httptest.NewServer(mux)
	defer site.Close()

	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLitePath = t.TempDir() + "/crawl.db"
	app := buildTestApp(t, cfg)

	job, stats, err := app.Crawl(context.Background(), orchestrator.CreateRequest{
		StartURL: site.URL + "/",
		Config:   cfg.JobDefaults(),
	})
	require.NoError(t, err)
	require.Equal(t, crawler.StateCompleted, job.State)
	require.Equal(t, 2, stats.PagesVisited)
	require.Equal(t, 2, stats.Succeeded)

	pages, err := app.Engine().Pages(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, pages, 2)
}
