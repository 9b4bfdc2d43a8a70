package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const (
	structuralBonus = 0.3
	minTypeScore    = 0.15
)

type pageRule struct {
	kind       crawler.PageType
	indicators []string
	structural func(*goquery.Document) bool
}

// pageRules are scored in order; ties keep the earlier type.
var pageRules = []pageRule{
	{
		kind: crawler.PageEcommerce,
		indicators: []string{
			"add to cart", "buy now", "price", "shopping cart", "checkout",
			"product", "sale", "discount", "in stock", "free shipping",
		},
		structural: func(doc *goquery.Document) bool {
			return doc.Find(`[itemprop="price"], [itemtype*="schema.org/Product"], [class*="add-to-cart"], `+
				`button[name="add-to-cart"], meta[property="og:type"][content="product"]`).Length() > 0
		},
	},
	{
		kind: crawler.PageBlog,
		indicators: []string{
			"posted", "blog", "author", "published", "comments",
			"read more", "tags", "categories", "min read",
		},
		structural: func(doc *goquery.Document) bool {
			return doc.Find(`article time[datetime], [rel="author"], [itemtype*="schema.org/BlogPosting"], `+
				`meta[property="og:type"][content="article"], meta[property="article:published_time"]`).Length() > 0
		},
	},
	{
		kind: crawler.PageLanding,
		indicators: []string{
			"sign up", "get started", "free trial", "download now", "learn more",
			"request a demo", "join now", "start now",
		},
		structural: func(doc *goquery.Document) bool {
			return doc.Find(`[class*="hero"], [class*="cta"], [id*="hero"]`).Length() > 0
		},
	},
	{
		kind: crawler.PageForm,
		indicators: []string{
			"submit", "register", "login", "sign in", "contact us", "survey",
			"application", "registration", "required field",
		},
		structural: func(doc *goquery.Document) bool {
			found := false
			doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
				if formFields(form) >= 3 {
					found = true
				}
				return !found
			})
			return found
		},
	},
	{
		kind: crawler.PageDirectory,
		indicators: []string{
			"directory", "listing", "search results", "filter", "sort by",
			"browse", "results", "page 1",
		},
		structural: hasListingRepetition,
	},
}

func classify(d *document) crawler.PageType {
	text := strings.ToLower(d.text)
	best, bestScore := crawler.PageOther, 0.0
	for _, rule := range pageRules {
		matches := 0
		for _, ind := range rule.indicators {
			if strings.Contains(text, ind) {
				matches++
			}
		}
		score := float64(matches) / float64(len(rule.indicators))
		if rule.structural(d.doc) {
			score += structuralBonus
		}
		if score > bestScore {
			best, bestScore = rule.kind, score
		}
	}
	if bestScore < minTypeScore {
		return crawler.PageOther
	}
	return best
}

// formFields counts user-editable controls.
func formFields(form *goquery.Selection) int {
	n := 0
	form.Find("input, textarea, select").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) != "input" {
			n++
			return
		}
		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "hidden", "submit", "button", "reset", "image":
		default:
			n++
		}
	})
	return n
}

// hasListingRepetition looks for a container with many siblings sharing one
// class, each carrying a link.
func hasListingRepetition(doc *goquery.Document) bool {
	const minRepeats = 8
	found := false
	doc.Find("ul, ol, div, section, tbody").EachWithBreak(func(_ int, parent *goquery.Selection) bool {
		counts := map[string]int{}
		parent.Children().Each(func(_ int, child *goquery.Selection) {
			if child.Find("a[href]").Length() == 0 {
				return
			}
			key := goquery.NodeName(child) + "." + child.AttrOr("class", "")
			counts[key]++
		})
		for _, n := range counts {
			if n >= minRepeats {
				found = true
				return false
			}
		}
		return true
	})
	return found
}
