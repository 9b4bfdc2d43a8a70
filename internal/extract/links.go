package extract

import (
	"net"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

var skippedSchemes = []string{"javascript:", "mailto:", "tel:", "data:", "ftp:", "sms:"}

var skippedExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".zip": {}, ".rar": {}, ".gz": {}, ".tar": {}, ".7z": {}, ".exe": {}, ".dmg": {}, ".iso": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".jpg": {}, ".jpeg": {}, ".png": {},
	".gif": {}, ".svg": {}, ".webp": {}, ".css": {}, ".js": {}, ".xml": {}, ".rss": {},
}

// links resolves anchors against the page and returns the followable ones in
// document order, deduplicated and capped, plus internal/external counts over
// every http(s) anchor.
func (e *Extractor) links(d *document, opts Options) ([]string, crawler.LinkStats) {
	var (
		out   []string
		stats crawler.LinkStats
		seen  = map[string]struct{}{}
	)
	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || hasSkippedScheme(href) {
			return
		}
		ref, err := d.base.Parse(href)
		if err != nil || (ref.Scheme != "http" && ref.Scheme != "https") || ref.Host == "" {
			return
		}
		internal := d.site != "" && registrableDomain(ref.Hostname()) == d.site
		if internal {
			stats.Internal++
		} else {
			stats.External++
		}
		if !internal && !opts.AllowExternal {
			return
		}
		if _, skip := skippedExtensions[strings.ToLower(path.Ext(ref.Path))]; skip {
			return
		}
		normalized, err := crawler.NormalizeURLMode(ref.String(), e.cfg.QueryMode)
		if err != nil {
			return
		}
		if _, dup := seen[normalized]; dup || len(out) >= e.cfg.LinksPerPage {
			return
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	})
	return out, stats
}

func hasSkippedScheme(href string) bool {
	lower := strings.ToLower(href)
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return true
		}
	}
	return false
}

// registrableDomain returns the eTLD+1 of host, or host itself for IPs,
// localhost and other names without a public suffix.
func registrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}
