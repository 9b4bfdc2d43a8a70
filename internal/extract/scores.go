package extract

import (
	"math"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

func scores(d *document, data *crawler.ExtractedData, main article, ind indicators) crawler.Scores {
	return crawler.Scores{
		SEO:           seoScore(d, data),
		Accessibility: accessibilityScore(d, data.Images),
		Quality:       qualityScore(d, data, main),
		Security:      securityScore(ind),
		Performance:   performanceScore(ind),
	}
}

// seoScore awards points for on-page signals search engines read.
func seoScore(d *document, data *crawler.ExtractedData) float64 {
	meta := data.Metadata
	if meta == nil {
		meta = &crawler.Metadata{}
	}
	score := 0.0
	if meta.Title != "" {
		score += 15
		if n := len([]rune(meta.Title)); n >= 30 && n <= 65 {
			score += 10
		}
	}
	if meta.Description != "" {
		score += 15
		if n := len([]rune(meta.Description)); n >= 70 && n <= 160 {
			score += 10
		}
	}
	if d.doc.Find("h1").Length() == 1 {
		score += 15
	}
	if meta.Canonical != "" {
		score += 10
	}
	if d.doc.Find("html").AttrOr("lang", "") != "" {
		score += 5
	}
	if data.Images.MissingAlt == 0 {
		score += 10
	}
	if meta.OpenGraph["title"] != "" {
		score += 10
	}
	return clamp(score)
}

// accessibilityScore starts from full marks and deducts per issue class.
func accessibilityScore(d *document, imgs crawler.ImageStats) float64 {
	doc := d.doc
	score := 100.0
	if imgs.Total > 0 {
		score -= 30 * float64(imgs.MissingAlt) / float64(imgs.Total)
	}
	switch {
	case doc.Find("h1, h2, h3, h4, h5, h6").Length() == 0:
		score -= 20
	case doc.Find("h1").Length() == 0:
		score -= 10
	}
	if inputs, unlabeled := unlabeledInputs(doc); inputs > 0 {
		score -= 25 * float64(unlabeled) / float64(inputs)
	}
	if doc.Find("html").AttrOr("lang", "") == "" {
		score -= 10
	}
	anchors, empty := 0, 0
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		anchors++
		if strings.TrimSpace(s.Text()) == "" && s.AttrOr("aria-label", "") == "" &&
			s.Find("img[alt]").Length() == 0 {
			empty++
		}
	})
	if anchors > 0 {
		score -= 15 * float64(empty) / float64(anchors)
	}
	return clamp(score)
}

func unlabeledInputs(doc *goquery.Document) (int, int) {
	total, unlabeled := 0, 0
	doc.Find(`input, textarea, select`).Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "input" {
			switch strings.ToLower(s.AttrOr("type", "text")) {
			case "hidden", "submit", "button", "reset", "image":
				return
			}
		}
		total++
		if s.AttrOr("aria-label", "") != "" || s.AttrOr("aria-labelledby", "") != "" ||
			s.ParentsFiltered("label").Length() > 0 {
			return
		}
		if id := s.AttrOr("id", ""); id != "" {
			labelled := false
			doc.Find("label[for]").EachWithBreak(func(_ int, l *goquery.Selection) bool {
				labelled = l.AttrOr("for", "") == id
				return !labelled
			})
			if labelled {
				return
			}
		}
		unlabeled++
	})
	return total, unlabeled
}

// qualityScore combines main-content length, sentence length and page
// completeness.
func qualityScore(d *document, data *crawler.ExtractedData, main article) float64 {
	score := 40 * math.Min(float64(main.words)/300, 1)
	if main.words > 0 {
		sentences := main.sentences
		if sentences == 0 {
			sentences = 1
		}
		avg := float64(main.words) / float64(sentences)
		switch {
		case avg >= 8 && avg <= 25:
			score += 20
		case avg > 25 && avg <= 40:
			score += 10
		}
	}
	meta := data.Metadata
	factors := []bool{
		meta != nil && meta.Title != "",
		meta != nil && meta.Description != "",
		d.doc.Find("h1").Length() > 0,
		data.Images.Total > 0,
		main.words > 100,
	}
	for _, ok := range factors {
		if ok {
			score += 8
		}
	}
	return clamp(score)
}

func clamp(v float64) float64 {
	return math.Round(math.Max(0, math.Min(100, v))*10) / 10
}
