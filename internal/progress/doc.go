// Package progress fans sequenced job events out to observers. The Hub never
// blocks the crawl loop: events are buffered, batched on a background
// goroutine and handed to pluggable sinks such as structured logs,
// Prometheus, a message bus publisher or alert rules. Sinks see events after
// they are durably appended to the event log; a dropped event here never
// loses history.
package progress
