package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Default job limits applied when a request leaves them unset.
const (
	DefaultMaxPages               = 3
	DefaultMaxDepth               = 2
	DefaultDelay                  = time.Second
	DefaultTimeout                = 30 * time.Second
	DefaultMaxConsecutiveFailures = 5
	DefaultMaxFailureRatio        = 0.5
)

// DefaultWindow is the viewport used when none is configured.
var DefaultWindow = WindowSize{Width: 1920, Height: 1080}

// ParseWindowSize parses a "WxH" string such as "1920x1080".
func ParseWindowSize(raw string) (WindowSize, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(raw)), "x")
	if len(parts) != 2 {
		return WindowSize{}, &ConfigurationError{Field: "window_size", Reason: fmt.Sprintf("%q is not WxH", raw)}
	}
	w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
	h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errW != nil || errH != nil || w <= 0 || h <= 0 {
		return WindowSize{}, &ConfigurationError{Field: "window_size", Reason: fmt.Sprintf("%q is not WxH", raw)}
	}
	return WindowSize{Width: w, Height: h}, nil
}

func (w WindowSize) String() string {
	return fmt.Sprintf("%dx%d", w.Width, w.Height)
}

// WithDefaults fills zero-valued limits with package defaults.
func (c JobConfig) WithDefaults() JobConfig {
	if c.MaxPages == 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Window == (WindowSize{}) {
		c.Window = DefaultWindow
	}
	if c.Priority == "" {
		c.Priority = PriorityNormal
	}
	if c.MaxConsecutiveFailures == 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.MaxFailureRatio == 0 {
		c.MaxFailureRatio = DefaultMaxFailureRatio
	}
	if c.Extra == nil {
		c.Extra = map[string]any{}
	}
	return c
}

// Validate checks limits and returns a *ConfigurationError on the first problem.
func (c JobConfig) Validate() error {
	switch {
	case c.MaxPages < 1:
		return &ConfigurationError{Field: "max_pages", Reason: "must be >= 1"}
	case c.MaxDepth < 0:
		return &ConfigurationError{Field: "max_depth", Reason: "must be >= 0"}
	case c.Delay < 0:
		return &ConfigurationError{Field: "delay_between_requests", Reason: "must be >= 0"}
	case c.Timeout <= 0:
		return &ConfigurationError{Field: "timeout", Reason: "must be > 0"}
	case c.Window.Width <= 0 || c.Window.Height <= 0:
		return &ConfigurationError{Field: "window_size", Reason: "width and height must be > 0"}
	case c.MaxConsecutiveFailures < 1:
		return &ConfigurationError{Field: "max_consecutive_failures", Reason: "must be >= 1"}
	case c.MaxFailureRatio <= 0 || c.MaxFailureRatio > 1:
		return &ConfigurationError{Field: "max_failure_ratio", Reason: "must be in (0,1]"}
	}
	switch c.Priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
	default:
		return &ConfigurationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", c.Priority)}
	}
	return nil
}

// ValidateStartURL requires an absolute http(s) URL with a host.
func ValidateStartURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return &ConfigurationError{Field: "start_url", Reason: err.Error()}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ConfigurationError{Field: "start_url", Reason: "scheme must be http or https"}
	}
	if u.Host == "" {
		return &ConfigurationError{Field: "start_url", Reason: "host is required"}
	}
	return nil
}

// Clone deep-copies slices and maps so templates are never shared.
func (c JobConfig) Clone() JobConfig {
	cp := c
	if c.DenyDomains != nil {
		cp.DenyDomains = append([]string(nil), c.DenyDomains...)
	}
	if c.Extra != nil {
		cp.Extra = make(map[string]any, len(c.Extra))
		for k, v := range c.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

// SecondsToDuration converts fractional seconds from external config.
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
