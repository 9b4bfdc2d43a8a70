package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// QueryMode controls how query strings are treated during normalization.
type QueryMode int

// Supported query modes.
const (
	QuerySort QueryMode = iota
	QueryPreserve
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, fragments and
// empty paths, and sorts query parameters.
func NormalizeURL(rawURL string) (string, error) {
	return NormalizeURLMode(rawURL, QuerySort)
}

// NormalizeURLMode is NormalizeURL with an explicit query mode.
func NormalizeURLMode(rawURL string, mode QueryMode) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse url: %q is not absolute", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	if mode == QuerySort {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// Host returns the lowercase hostname of rawURL or "" when it cannot be parsed.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
