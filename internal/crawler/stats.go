package crawler

// ComputeStats derives JobStats from the page history of one job.
func ComputeStats(pages []PageResult) JobStats {
	stats := JobStats{}
	var total int64
	for _, p := range pages {
		stats.PagesVisited++
		total += p.Duration.Milliseconds()
		if p.Failed() {
			stats.Failed++
		} else {
			stats.Succeeded++
		}
		if p.Halted() {
			stats.Challenges++
		}
		if p.Classification != "" {
			if stats.Classification == nil {
				stats.Classification = make(map[PageType]int)
			}
			stats.Classification[p.Classification]++
		}
	}
	if stats.PagesVisited > 0 {
		stats.AvgDurationMs = float64(total) / float64(stats.PagesVisited)
		stats.SuccessRate = float64(stats.Succeeded) / float64(stats.PagesVisited)
	}
	return stats
}
