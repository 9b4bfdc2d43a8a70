package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// ExampleServer_jobEvents shows how a client pages through a job's event record.
func ExampleServer_jobEvents() {
	jobs := newFakeJobs()
	jobs.put(crawler.Job{ID: testJobID, State: crawler.StateRunning})
	jobs.events[testJobID] = []crawler.Event{
		{JobID: testJobID, Seq: 1, Kind: crawler.EventStateChanged, To: crawler.StatePending},
		{JobID: testJobID, Seq: 2, Kind: crawler.EventStateChanged, To: crawler.StateRunning},
		{JobID: testJobID, Seq: 3, Kind: crawler.EventPageLoaded, URL: "https://example.com/"},
	}
	server := NewServer(jobs, Options{}, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/"+testJobID+"/events?after=1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	var payload struct {
		Events []crawler.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		panic(err)
	}
	for _, evt := range payload.Events {
		fmt.Println(evt.Seq, evt.Kind)
	}
	// Output:
	// 2 state_changed
	// 3 page_loaded
}
