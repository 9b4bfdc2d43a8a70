package extract

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const (
	largeImageEdge        = 1000
	maxExternalScripts    = 10
	maxPageResources      = 50
	maxLargeImages        = 5
	maxInlineStyles       = 20
	maxExternalResources  = 20
	difficultSentenceSize = 25
)

// indicators are the raw security and performance counts behind the scores
// and recommendations.
type indicators struct {
	https             bool
	mixedContent      int
	externalScripts   int
	resources         int
	largeImages       int
	inlineStyles      int
	externalResources int
}

func measure(d *document) indicators {
	doc := d.doc
	ind := indicators{https: strings.EqualFold(d.base.Scheme, "https")}

	doc.Find(`img[src], script[src], link[rel~="stylesheet"][href], iframe[src]`).Each(func(_ int, s *goquery.Selection) {
		ref := s.AttrOr("src", s.AttrOr("href", ""))
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(ref)), "http://") {
			ind.mixedContent++
		}
	})
	doc.Find("img[src], script[src]").Each(func(_ int, s *goquery.Selection) {
		if d.external(s.AttrOr("src", "")) {
			ind.externalResources++
			if goquery.NodeName(s) == "script" {
				ind.externalScripts++
			}
		}
	})

	imgs := doc.Find("img")
	ind.resources = imgs.Length() +
		doc.Find("script[src]").Length() +
		doc.Find(`link[rel~="stylesheet"]`).Length()
	imgs.Each(func(_ int, s *goquery.Selection) {
		if dimension(s, "width") > largeImageEdge || dimension(s, "height") > largeImageEdge {
			ind.largeImages++
		}
	})
	ind.inlineStyles = doc.Find("[style]").Length()
	if !ind.https {
		// Every http:// reference on a plain http page is expected, not mixed.
		ind.mixedContent = 0
	}
	return ind
}

// external reports whether ref points at an absolute URL on another site.
func (d *document) external(ref string) bool {
	ref = strings.TrimSpace(ref)
	lower := strings.ToLower(ref)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") && !strings.HasPrefix(lower, "//") {
		return false
	}
	u, err := d.base.Parse(ref)
	if err != nil {
		return false
	}
	return registrableDomain(u.Hostname()) != d.site
}

func dimension(s *goquery.Selection, attr string) int {
	v := strings.TrimSuffix(strings.TrimSpace(s.AttrOr(attr, "")), "px")
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func securityScore(ind indicators) float64 {
	return fractionScore(
		ind.https,
		ind.mixedContent == 0,
		ind.externalScripts < maxExternalScripts,
	)
}

func performanceScore(ind indicators) float64 {
	return fractionScore(
		ind.resources < maxPageResources,
		ind.largeImages < maxLargeImages,
		ind.inlineStyles < maxInlineStyles,
		ind.externalResources < maxExternalResources,
	)
}

func fractionScore(factors ...bool) float64 {
	passed := 0
	for _, ok := range factors {
		if ok {
			passed++
		}
	}
	return clamp(100 * float64(passed) / float64(len(factors)))
}

// recommendations turns weak scores and missing signals into short fixes for
// the page owner, in a stable order.
func recommendations(data *crawler.ExtractedData, main article, ind indicators) []string {
	var out []string
	if main.sentences > 0 && main.words/main.sentences > difficultSentenceSize {
		out = append(out, "Consider simplifying content for better readability")
	}
	if data.Scores.Quality < 50 {
		out = append(out, "Add more comprehensive content to improve page value")
	}
	meta := data.Metadata
	if meta == nil || meta.Title == "" {
		out = append(out, "Add a title tag for better SEO")
	}
	if meta == nil || meta.Description == "" {
		out = append(out, "Add a meta description for better search visibility")
	}
	if data.Scores.Accessibility < 70 {
		out = append(out, "Improve accessibility by adding alt text to images and proper heading structure")
	}
	if !ind.https {
		out = append(out, "Serve the page over HTTPS")
	}
	if ind.mixedContent > 0 {
		out = append(out, "Load every resource over HTTPS to remove mixed content")
	}
	if ind.largeImages > 3 {
		out = append(out, "Optimize large images to improve page load speed")
	}
	return out
}
