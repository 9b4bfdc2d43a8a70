package scheduler

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Restore rebuilds rt from its persisted page history after a process
// restart. Pages are replayed in sequence order through the same frontier
// and admission rules, so the frontier ends at the position it held when the
// previous process stopped.
func (s *Scheduler) Restore(ctx context.Context, rt *Runtime, pages []crawler.PageResult) error {
	if rt.seeded {
		return fmt.Errorf("restore %s: runtime already seeded", rt.Job.ID)
	}
	if len(pages) == 0 {
		return nil
	}
	if _, err := rt.Frontier.Enqueue(rt.Job.StartURL, 0, ""); err != nil {
		return fmt.Errorf("restore %s: %w", rt.Job.ID, err)
	}
	rt.seeded = true

	ordered := append([]crawler.PageResult(nil), pages...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })
	for _, page := range ordered {
		entry, ok := rt.Frontier.Next()
		if !ok {
			return fmt.Errorf("restore %s: frontier exhausted before page %d", rt.Job.ID, page.Seq)
		}
		if entry.URL != page.URL {
			s.logger.Warn("replay diverged",
				zap.String("job_id", rt.Job.ID),
				zap.Int("seq", page.Seq),
				zap.String("expected", page.URL),
				zap.String("got", entry.URL),
			)
		}
		rt.record(page)
		if !page.Failed() {
			s.enqueueLinks(ctx, rt, entry, page.Data)
		}
		if page.FetchedAt.After(rt.lastFetchEnd) {
			rt.lastFetchEnd = page.FetchedAt
		}
	}
	return nil
}
