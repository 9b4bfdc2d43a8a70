// Package frontier tracks the discovered and visited URLs of one crawl job in
// breadth-first discovery order.
package frontier

import (
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Frontier is the per-job URL set. Entries are deduplicated by normalized URL
// and handed out in FIFO discovery order.
type Frontier struct {
	mu       sync.Mutex
	entries  []crawler.FrontierEntry
	index    map[string]int
	cursor   int
	visited  int
	maxPages int
	maxDepth int
	mode     crawler.QueryMode
}

// New builds an empty frontier bounded by maxPages visits and maxDepth hops.
func New(maxPages, maxDepth int, mode crawler.QueryMode) *Frontier {
	return &Frontier{
		index:    make(map[string]int),
		maxPages: maxPages,
		maxDepth: maxDepth,
		mode:     mode,
	}
}

// Enqueue normalizes rawURL and appends it. It returns false without error when
// the URL was already seen in this job or depth exceeds the depth limit.
func (f *Frontier) Enqueue(rawURL string, depth int, source string) (bool, error) {
	normalized, err := crawler.NormalizeURLMode(rawURL, f.mode)
	if err != nil {
		return false, fmt.Errorf("frontier enqueue: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if depth < 0 || depth > f.maxDepth {
		return false, nil
	}
	if _, ok := f.index[normalized]; ok {
		return false, nil
	}
	f.index[normalized] = len(f.entries)
	f.entries = append(f.entries, crawler.FrontierEntry{
		URL:    normalized,
		Depth:  depth,
		Source: source,
	})
	return true, nil
}

// Next marks the earliest unvisited entry as visited and returns it. It
// returns false when nothing is pending or the page limit has been reached.
func (f *Frontier) Next() (crawler.FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursor >= len(f.entries) || (f.maxPages > 0 && f.visited >= f.maxPages) {
		return crawler.FrontierEntry{}, false
	}
	f.entries[f.cursor].Visited = true
	entry := f.entries[f.cursor]
	f.cursor++
	f.visited++
	return entry, true
}

// Peek returns the entry the next call to Next would return.
func (f *Frontier) Peek() (crawler.FrontierEntry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursor >= len(f.entries) || (f.maxPages > 0 && f.visited >= f.maxPages) {
		return crawler.FrontierEntry{}, false
	}
	return f.entries[f.cursor], true
}

// Visited is the number of entries handed out by Next.
func (f *Frontier) Visited() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.visited
}

// Pending is the number of discovered entries not yet visited.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries) - f.cursor
}

// Seen reports whether rawURL was ever enqueued in this job.
func (f *Frontier) Seen(rawURL string) bool {
	normalized, err := crawler.NormalizeURLMode(rawURL, f.mode)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.index[normalized]
	return ok
}

// Entries returns a copy of every entry in discovery order.
func (f *Frontier) Entries() []crawler.FrontierEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]crawler.FrontierEntry, len(f.entries))
	copy(out, f.entries)
	return out
}
