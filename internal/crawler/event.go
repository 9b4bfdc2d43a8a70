package crawler

import "time"

// EventKind names one entry type in the event log.
type EventKind string

// Supported event kinds.
const (
	EventStateChanged    EventKind = "state_changed"
	EventPageLoaded      EventKind = "page_loaded"
	EventPageFailed      EventKind = "page_failed"
	EventCaptchaDetected EventKind = "captcha_detected"
	EventCaptchaSolved   EventKind = "captcha_solved"
	EventJobFailed       EventKind = "job_failed"
)

// Event is one append-only record. Seq is assigned by the event log and is
// strictly increasing per job.
type Event struct {
	JobID    string            `json:"job_id"`
	Seq      int64             `json:"seq"`
	Kind     EventKind         `json:"kind"`
	At       time.Time         `json:"at"`
	From     JobState          `json:"from,omitempty"`
	To       JobState          `json:"to,omitempty"`
	URL      string            `json:"url,omitempty"`
	Depth    int               `json:"depth,omitempty"`
	Outcome  FetchOutcome      `json:"outcome,omitempty"`
	Status   int               `json:"status,omitempty"`
	Duration time.Duration     `json:"duration,omitempty"`
	Bytes    int64             `json:"bytes,omitempty"`
	Page     PageType          `json:"page_type,omitempty"`
	Finding  *ChallengeFinding `json:"finding,omitempty"`
	Cause    string            `json:"cause,omitempty"`
	Stats    *JobStats         `json:"stats,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}
