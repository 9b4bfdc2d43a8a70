package scheduler

import (
	"time"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
	"github.com/JakeFAU/crawl-orchestrator/internal/frontier"
	"github.com/JakeFAU/crawl-orchestrator/internal/lifecycle"
)

// Runtime is the in-memory state of one job between runner attachments. It
// survives pauses and challenge halts so a resumed loop continues at the same
// frontier position. Only the runner holding the job lock touches it.
type Runtime struct {
	Job      crawler.Job
	Machine  *lifecycle.Machine
	Frontier *frontier.Frontier

	deny         *crawler.DomainMatcher
	seeded       bool
	lastSeq      int
	visited      int
	failed       int
	consecutive  int
	lastFetchEnd time.Time
}

// NewRuntime builds the runtime for job with an empty frontier.
func NewRuntime(job crawler.Job, machine *lifecycle.Machine, mode crawler.QueryMode) *Runtime {
	return &Runtime{
		Job:      job,
		Machine:  machine,
		Frontier: frontier.New(job.Config.MaxPages, job.Config.MaxDepth, mode),
		deny:     crawler.NewDomainMatcher(job.Config.DenyDomains),
	}
}

// Progress is a point-in-time view of the loop counters.
type Progress struct {
	Visited     int `json:"visited"`
	Failed      int `json:"failed"`
	Consecutive int `json:"consecutive_failures"`
	Pending     int `json:"pending"`
}

// Progress reports the loop counters.
func (rt *Runtime) Progress() Progress {
	return Progress{
		Visited:     rt.visited,
		Failed:      rt.failed,
		Consecutive: rt.consecutive,
		Pending:     rt.Frontier.Pending(),
	}
}

func (rt *Runtime) record(page crawler.PageResult) {
	if page.Seq > rt.lastSeq {
		rt.lastSeq = page.Seq
	}
	rt.visited++
	if page.Failed() {
		rt.failed++
		rt.consecutive++
		return
	}
	rt.consecutive = 0
}

func (rt *Runtime) failureRatio() float64 {
	if rt.visited == 0 {
		return 0
	}
	return float64(rt.failed) / float64(rt.visited)
}
