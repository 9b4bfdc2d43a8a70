package progress

import (
	"errors"
	"fmt"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Event is the unit the hub carries.
type Event = crawler.Event

// StatusClass is a coarse HTTP response grouping used as a metric label.
type StatusClass string

// Supported HTTP status classes.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// ClassifyStatus groups HTTP status codes.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

func validate(evt Event) error {
	if evt.JobID == "" {
		return errors.New("job id is required")
	}
	if evt.Seq <= 0 {
		return errors.New("event must be sequenced before fan-out")
	}
	if evt.At.IsZero() {
		return errors.New("timestamp is required")
	}
	switch evt.Kind {
	case crawler.EventStateChanged:
		if evt.To == "" {
			return errors.New("state change requires target state")
		}
	case crawler.EventPageLoaded, crawler.EventPageFailed:
		if evt.URL == "" {
			return fmt.Errorf("%s requires url", evt.Kind)
		}
	case crawler.EventCaptchaDetected:
		if evt.Finding == nil {
			return errors.New("captcha event requires finding")
		}
	case crawler.EventCaptchaSolved, crawler.EventJobFailed:
	default:
		return fmt.Errorf("unknown event kind %q", evt.Kind)
	}
	if evt.Duration < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
