package crawler

import (
	"net/http"
	"time"
)

// JobState is the lifecycle state of a crawl job.
type JobState string

// Supported job states.
const (
	StatePending         JobState = "PENDING"
	StateRunning         JobState = "RUNNING"
	StatePaused          JobState = "PAUSED"
	StateCaptchaDetected JobState = "CAPTCHA_DETECTED"
	StateCompleted       JobState = "COMPLETED"
	StateFailed          JobState = "FAILED"
	StateCancelled       JobState = "CANCELLED"
)

// Terminal reports whether no further transitions are possible from s.
func (s JobState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Priority orders ready jobs in the queue.
type Priority string

// Supported priorities, lowest first.
const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Rank returns a sortable weight; unknown priorities rank as NORMAL.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

// WindowSize is the browser viewport in CSS pixels.
type WindowSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// JobConfig holds the per-job crawl limits and rendering options.
type JobConfig struct {
	MaxPages               int            `json:"max_pages" yaml:"max_pages" mapstructure:"max_pages"`
	MaxDepth               int            `json:"max_depth" yaml:"max_depth" mapstructure:"max_depth"`
	Delay                  time.Duration  `json:"delay_between_requests" yaml:"-" mapstructure:"-"`
	Timeout                time.Duration  `json:"timeout" yaml:"-" mapstructure:"-"`
	UserAgent              string         `json:"user_agent" yaml:"user_agent" mapstructure:"user_agent"`
	Headless               bool           `json:"headless" yaml:"headless" mapstructure:"headless"`
	Window                 WindowSize     `json:"window_size" yaml:"-" mapstructure:"-"`
	Priority               Priority       `json:"priority" yaml:"priority" mapstructure:"priority"`
	RespectRobots          bool           `json:"respect_robots" yaml:"respect_robots" mapstructure:"respect_robots"`
	AllowExternal          bool           `json:"allow_external" yaml:"allow_external" mapstructure:"allow_external"`
	DenyDomains            []string       `json:"deny_domains,omitempty" yaml:"deny_domains" mapstructure:"deny_domains"`
	MaxConsecutiveFailures int            `json:"max_consecutive_failures" yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	MaxFailureRatio        float64        `json:"max_failure_ratio" yaml:"max_failure_ratio" mapstructure:"max_failure_ratio"`
	Extra                  map[string]any `json:"config,omitempty" yaml:"config" mapstructure:"config"`
}

// Job is the authoritative record of one crawl job.
type Job struct {
	ID         string     `json:"id"`
	StartURL   string     `json:"start_url"`
	Config     JobConfig  `json:"config"`
	State      JobState   `json:"state"`
	Cause      string     `json:"cause,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// FrontierEntry is one discovered URL awaiting or past its visit.
type FrontierEntry struct {
	URL     string `json:"url"`
	Depth   int    `json:"depth"`
	Source  string `json:"source,omitempty"`
	Visited bool   `json:"visited"`
}

// FetchOutcome is the coarse result of one RenderPort call.
type FetchOutcome string

// Supported fetch outcomes.
const (
	OutcomeSuccess    FetchOutcome = "success"
	OutcomeTimeout    FetchOutcome = "timeout"
	OutcomeNavigation FetchOutcome = "navigation_error"
	OutcomeRender     FetchOutcome = "render_error"
)

// PageType is the closed page classification.
type PageType string

// Supported page types.
const (
	PageEcommerce PageType = "ecommerce"
	PageBlog      PageType = "blog"
	PageLanding   PageType = "landing"
	PageForm      PageType = "form"
	PageDirectory PageType = "directory"
	PageOther     PageType = "other"
)

// ArtifactRef points at one stored artifact.
type ArtifactRef struct {
	Kind        string `json:"kind"`
	Key         string `json:"key"`
	URI         string `json:"uri"`
	ContentType string `json:"content_type"`
	Hash        string `json:"hash"`
}

// PageResult is created once per fetch attempt and never mutated afterwards.
type PageResult struct {
	JobID          string             `json:"job_id"`
	Seq            int                `json:"seq"`
	URL            string             `json:"url"`
	FinalURL       string             `json:"final_url,omitempty"`
	Depth          int                `json:"depth"`
	Outcome        FetchOutcome       `json:"outcome"`
	StatusCode     int                `json:"status_code,omitempty"`
	Error          string             `json:"error,omitempty"`
	Classification PageType           `json:"classification,omitempty"`
	Data           *ExtractedData     `json:"data,omitempty"`
	Findings       []ChallengeFinding `json:"findings,omitempty"`
	Challenge      *ChallengeFinding  `json:"challenge,omitempty"`
	Artifacts      []ArtifactRef      `json:"artifacts,omitempty"`
	Duration       time.Duration      `json:"duration"`
	FetchedAt      time.Time          `json:"fetched_at"`
}

// Halted reports whether this page stopped the job on a challenge. Challenge
// is the top finding that crossed the halt threshold; Findings may also hold
// weaker ones that did not.
func (p PageResult) Halted() bool {
	return p.Challenge != nil
}

// Failed reports whether the fetch attempt did not produce a page.
func (p PageResult) Failed() bool {
	return p.Outcome != OutcomeSuccess
}

// ChallengeType is the closed enumeration of anti-automation mechanisms.
type ChallengeType string

// Supported challenge types in tie-break order.
const (
	ChallengeRecaptchaV2 ChallengeType = "recaptcha_v2"
	ChallengeRecaptchaV3 ChallengeType = "recaptcha_v3"
	ChallengeHCaptcha    ChallengeType = "hcaptcha"
	ChallengeFunCaptcha  ChallengeType = "funcaptcha"
	ChallengeCloudflare  ChallengeType = "cloudflare"
	ChallengeGeneric     ChallengeType = "generic"
)

// ChallengeTypes lists every challenge type in tie-break order.
var ChallengeTypes = []ChallengeType{
	ChallengeRecaptchaV2,
	ChallengeRecaptchaV3,
	ChallengeHCaptcha,
	ChallengeFunCaptcha,
	ChallengeCloudflare,
	ChallengeGeneric,
}

// ChallengeLocation describes where a finding sits on the page.
type ChallengeLocation struct {
	Selector string `json:"selector,omitempty"`
	X        int    `json:"x,omitempty"`
	Y        int    `json:"y,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// ChallengeFinding is one detected challenge on a page.
type ChallengeFinding struct {
	Type       ChallengeType     `json:"type"`
	Confidence float64           `json:"confidence"`
	Location   ChallengeLocation `json:"location"`
	Visible    bool              `json:"visible"`
	Signals    []string          `json:"signals,omitempty"`
}

// ConsoleMessage is one console entry captured while rendering.
type ConsoleMessage struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

// RenderRequest is the input to a RenderPort.
type RenderRequest struct {
	URL       string
	Timeout   time.Duration
	Headless  bool
	Window    WindowSize
	UserAgent string
}

// Snapshot is a rendered page as returned by a RenderPort.
type Snapshot struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	DOM        string
	Screenshot []byte
	Console    []ConsoleMessage
	Elapsed    time.Duration
}

// Contact groups contact details found on a page.
type Contact struct {
	Emails      []string `json:"emails,omitempty"`
	Phones      []string `json:"phones,omitempty"`
	Social      []string `json:"social,omitempty"`
	ContactForm bool     `json:"contact_form"`
}

// Price is one price occurrence.
type Price struct {
	Raw      string  `json:"raw"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// Product groups commerce fields.
type Product struct {
	Prices       []Price `json:"prices,omitempty"`
	Availability string  `json:"availability,omitempty"`
}

// Metadata groups document metadata.
type Metadata struct {
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	Keywords    []string          `json:"keywords,omitempty"`
	Canonical   string            `json:"canonical,omitempty"`
	Language    string            `json:"language,omitempty"`
	Author      string            `json:"author,omitempty"`
	OpenGraph   map[string]string `json:"open_graph,omitempty"`
	Twitter     map[string]string `json:"twitter,omitempty"`
}

// LinkStats summarizes anchors on a page.
type LinkStats struct {
	Internal int `json:"internal"`
	External int `json:"external"`
}

// ImageStats summarizes images on a page.
type ImageStats struct {
	Total      int `json:"total"`
	MissingAlt int `json:"missing_alt"`
}

// Scores are independent 0-100 quality dimensions.
type Scores struct {
	SEO           float64 `json:"seo"`
	Accessibility float64 `json:"accessibility"`
	Quality       float64 `json:"quality"`
	Security      float64 `json:"security"`
	Performance   float64 `json:"performance"`
}

// ExtractedData is the structured output of content extraction. Nil pointers
// and empty slices mean the field was not found.
type ExtractedData struct {
	Contact   *Contact   `json:"contact,omitempty"`
	Product   *Product   `json:"product,omitempty"`
	Metadata  *Metadata  `json:"metadata,omitempty"`
	Links     []string   `json:"links,omitempty"`
	LinkStats LinkStats  `json:"link_stats"`
	Images    ImageStats `json:"images"`
	Excerpt   string     `json:"excerpt,omitempty"`
	WordCount int        `json:"word_count"`
	Scores    Scores     `json:"scores"`

	Recommendations []string `json:"recommendations,omitempty"`
}

// JobStats is derived from PageResults and never stored as a source of truth.
type JobStats struct {
	PagesVisited   int              `json:"pages_visited"`
	Succeeded      int              `json:"succeeded"`
	Failed         int              `json:"failed"`
	Challenges     int              `json:"challenges"`
	AvgDurationMs  float64          `json:"avg_duration_ms"`
	SuccessRate    float64          `json:"success_rate"`
	Classification map[PageType]int `json:"classification,omitempty"`
}

// QueueItem is a ready job handed to the worker pool.
type QueueItem struct {
	JobID    string   `json:"job_id"`
	Priority Priority `json:"priority"`
	Enqueued int64    `json:"enqueued"`
}
