package crawler

import (
	"errors"
	"fmt"
	"os/exec"
)

// Sentinel errors shared across the orchestration packages.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrLockHeld          = errors.New("job lock held by another runner")
	ErrQueueClosed       = errors.New("queue closed")

	// ErrRendererUnavailable means the RenderPort itself is gone (browser
	// exited, executable missing) rather than one page failing.
	ErrRendererUnavailable = errors.New("renderer unavailable")
)

// FetchErrorKind classifies a page fetch failure.
type FetchErrorKind string

// Supported fetch error kinds.
const (
	FetchTimeout    FetchErrorKind = "timeout"
	FetchNavigation FetchErrorKind = "navigation"
	FetchRender     FetchErrorKind = "render"

	// FetchFatal is an irrecoverable RenderPort failure; it ends the job.
	FetchFatal FetchErrorKind = "fatal"
)

// PageFetchError is a per-page failure reported by a RenderPort.
type PageFetchError struct {
	URL  string
	Kind FetchErrorKind
	Err  error
}

func (e *PageFetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *PageFetchError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the failure makes the renderer unusable for the rest
// of the job. A missing browser executable counts whatever kind the port
// reported.
func (e *PageFetchError) Fatal() bool {
	return e.Kind == FetchFatal ||
		errors.Is(e.Err, ErrRendererUnavailable) ||
		errors.Is(e.Err, exec.ErrNotFound)
}

// Outcome maps the error kind to the recorded page outcome.
func (e *PageFetchError) Outcome() FetchOutcome {
	switch e.Kind {
	case FetchTimeout:
		return OutcomeTimeout
	case FetchRender, FetchFatal:
		return OutcomeRender
	default:
		return OutcomeNavigation
	}
}

// ChallengeHalt records a deliberate stop on a detected challenge. It is not
// an error and is never retried automatically.
type ChallengeHalt struct {
	URL     string
	Finding ChallengeFinding
}

func (h ChallengeHalt) String() string {
	return fmt.Sprintf("%s detected on %s (confidence %.2f)", h.Finding.Type, h.URL, h.Finding.Confidence)
}

// ConfigurationError reports invalid job configuration before any fetch.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// FatalJobError ends a job in FAILED and carries the triggering cause.
type FatalJobError struct {
	Reason string
	Cause  error
}

func (e *FatalJobError) Error() string {
	if e.Cause == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Cause)
}

func (e *FatalJobError) Unwrap() error {
	return e.Cause
}

// AsPageFetchError converts err into a PageFetchError, defaulting to a
// navigation failure when the RenderPort returned an untyped error.
func AsPageFetchError(url string, err error) *PageFetchError {
	var pfe *PageFetchError
	if errors.As(err, &pfe) {
		return pfe
	}
	if errors.Is(err, ErrRendererUnavailable) {
		return &PageFetchError{URL: url, Kind: FetchFatal, Err: err}
	}
	return &PageFetchError{URL: url, Kind: FetchNavigation, Err: err}
}
