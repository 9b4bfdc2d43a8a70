// Package extract turns a rendered page into structured data: a page type,
// contact, price and metadata fields, followable links, independent SEO,
// accessibility, quality, security and performance scores, and
// recommendations derived from them. A field that cannot be extracted is left
// empty; extraction never fails the page.
package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// DefaultLinksPerPage caps links followed from one page.
const DefaultLinksPerPage = 50

// Config tunes the extractor.
type Config struct {
	LinksPerPage   int
	DetectLanguage bool
	QueryMode      crawler.QueryMode
}

// Options are per-job extraction switches.
type Options struct {
	AllowExternal bool
}

// Result is the extractor output for one snapshot.
type Result struct {
	Classification crawler.PageType
	Data           *crawler.ExtractedData
}

// Extractor is safe for concurrent use.
type Extractor struct {
	cfg    Config
	lang   *languageDetector
	logger *zap.Logger
}

// New builds an Extractor. A nil logger discards output.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if cfg.LinksPerPage <= 0 {
		cfg.LinksPerPage = DefaultLinksPerPage
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Extractor{cfg: cfg, logger: logger.Named("extract")}
	if cfg.DetectLanguage {
		e.lang = newLanguageDetector()
	}
	return e
}

// document is the parsed page shared by the field extractors.
type document struct {
	doc  *goquery.Document
	base *url.URL
	site string
	text string
}

// Extract runs every field extractor over snapshot.
func (e *Extractor) Extract(snapshot crawler.Snapshot, opts Options) Result {
	data := &crawler.ExtractedData{}
	res := Result{Classification: crawler.PageOther, Data: data}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snapshot.DOM))
	if err != nil {
		e.logger.Warn("parse dom failed", zap.String("url", snapshot.URL), zap.Error(err))
		return res
	}
	pageURL := snapshot.FinalURL
	if pageURL == "" {
		pageURL = snapshot.URL
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		base = &url.URL{}
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, err := base.Parse(strings.TrimSpace(href)); err == nil {
			base = ref
		}
	}
	d := &document{
		doc:  doc,
		base: base,
		site: registrableDomain(base.Hostname()),
		text: normalizeSpace(doc.Find("body").Text()),
	}

	e.safely(pageURL, "metadata", func() { data.Metadata = e.metadata(d) })
	e.safely(pageURL, "contact", func() { data.Contact = contact(d) })
	e.safely(pageURL, "product", func() { data.Product = product(d) })
	e.safely(pageURL, "links", func() {
		data.Links, data.LinkStats = e.links(d, opts)
	})
	e.safely(pageURL, "images", func() { data.Images = images(d) })
	var main article
	e.safely(pageURL, "content", func() {
		main = readArticle(snapshot.DOM, base, d.text)
		data.Excerpt = main.excerpt
		data.WordCount = main.words
		if data.Metadata != nil && data.Metadata.Author == "" {
			data.Metadata.Author = main.byline
		}
	})
	var ind indicators
	e.safely(pageURL, "scores", func() {
		ind = measure(d)
		data.Scores = scores(d, data, main, ind)
	})
	e.safely(pageURL, "recommendations", func() { data.Recommendations = recommendations(data, main, ind) })
	e.safely(pageURL, "classification", func() { res.Classification = classify(d) })
	return res
}

// safely isolates one field extractor so a panic on malformed markup leaves
// only that field empty.
func (e *Extractor) safely(pageURL, field string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("field extraction failed",
				zap.String("url", pageURL),
				zap.String("field", field),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
