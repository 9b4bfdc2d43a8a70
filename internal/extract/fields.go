package extract

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const maxPrices = 10

var (
	emailRe = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	phoneRe = regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\d{2,4}\)?[\s.-]\d{3,4}[\s.-]\d{3,4}\b`)
	priceRe = regexp.MustCompile(`([$€£¥₹])\s?(\d{1,3}(?:[,.\s]\d{3})*(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)` +
		`|(\d{1,3}(?:[,.]\d{3})*(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?)\s?(USD|EUR|GBP|JPY|INR|CAD|AUD)\b`)
)

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
	"₹": "INR",
}

var socialDomains = []string{
	"facebook.com", "fb.com", "twitter.com", "x.com", "linkedin.com",
	"instagram.com", "youtube.com", "youtu.be", "tiktok.com", "pinterest.com",
}

// availabilityIndicators are checked in order so negatives win over "in stock".
var availabilityIndicators = []struct {
	phrase string
	value  string
}{
	{"out of stock", "out_of_stock"},
	{"sold out", "out_of_stock"},
	{"discontinued", "discontinued"},
	{"pre-order", "pre_order"},
	{"preorder", "pre_order"},
	{"coming soon", "coming_soon"},
	{"in stock", "in_stock"},
}

func contact(d *document) *crawler.Contact {
	c := &crawler.Contact{}
	emails := map[string]struct{}{}
	phones := map[string]struct{}{}
	social := map[string]struct{}{}

	for _, m := range emailRe.FindAllString(d.text, -1) {
		emails[strings.ToLower(m)] = struct{}{}
	}
	for _, m := range phoneRe.FindAllString(d.text, -1) {
		if digits := countDigits(m); digits >= 10 && digits <= 15 {
			phones[strings.TrimSpace(m)] = struct{}{}
		}
	}
	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		lower := strings.ToLower(href)
		switch {
		case strings.HasPrefix(lower, "mailto:"):
			addr := strings.SplitN(href[len("mailto:"):], "?", 2)[0]
			if addr != "" {
				emails[strings.ToLower(addr)] = struct{}{}
			}
		case strings.HasPrefix(lower, "tel:"):
			if num := strings.TrimSpace(href[len("tel:"):]); num != "" {
				phones[num] = struct{}{}
			}
		default:
			u, err := url.Parse(href)
			if err != nil || u.Host == "" {
				return
			}
			host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
			for _, domain := range socialDomains {
				if host == domain || strings.HasSuffix(host, "."+domain) {
					social[href] = struct{}{}
					return
				}
			}
		}
	})
	d.doc.Find("form").EachWithBreak(func(_ int, form *goquery.Selection) bool {
		c.ContactForm = isContactForm(form)
		return !c.ContactForm
	})

	c.Emails = sortedKeys(emails)
	c.Phones = sortedKeys(phones)
	c.Social = sortedKeys(social)
	if len(c.Emails) == 0 && len(c.Phones) == 0 && len(c.Social) == 0 && !c.ContactForm {
		return nil
	}
	return c
}

func isContactForm(form *goquery.Selection) bool {
	marker := strings.ToLower(form.AttrOr("action", "") + " " + form.AttrOr("id", "") + " " + form.AttrOr("class", ""))
	if strings.Contains(marker, "contact") || strings.Contains(marker, "message") {
		return true
	}
	hasEmail := form.Find(`input[type="email"], input[name*="email"]`).Length() > 0
	return hasEmail && form.Find("textarea").Length() > 0
}

func product(d *document) *crawler.Product {
	p := &crawler.Product{}
	seen := map[string]struct{}{}
	add := func(text string) {
		for _, m := range priceRe.FindAllStringSubmatch(text, -1) {
			if len(p.Prices) >= maxPrices {
				return
			}
			price, ok := parsePrice(m)
			if !ok {
				continue
			}
			if _, dup := seen[price.Raw]; dup {
				continue
			}
			seen[price.Raw] = struct{}{}
			p.Prices = append(p.Prices, price)
		}
	}

	d.doc.Find(`[itemprop="price"]`).Each(func(_ int, s *goquery.Selection) {
		if content, ok := s.Attr("content"); ok {
			cur := d.doc.Find(`[itemprop="priceCurrency"]`).First().AttrOr("content", "")
			if amount, err := strconv.ParseFloat(content, 64); err == nil && len(p.Prices) < maxPrices {
				raw := strings.TrimSpace(cur + " " + content)
				if _, dup := seen[raw]; !dup {
					seen[raw] = struct{}{}
					p.Prices = append(p.Prices, crawler.Price{Raw: raw, Amount: amount, Currency: cur})
				}
			}
			return
		}
		add(s.Text())
	})
	d.doc.Find(`[class*="price"], [id*="price"]`).Each(func(_ int, s *goquery.Selection) {
		add(normalizeSpace(s.Text()))
	})
	if len(p.Prices) == 0 {
		add(d.text)
	}

	if link, ok := d.doc.Find(`[itemprop="availability"]`).First().Attr("href"); ok {
		p.Availability = schemaAvailability(link)
	}
	if p.Availability == "" {
		lower := strings.ToLower(d.text)
		for _, ind := range availabilityIndicators {
			if strings.Contains(lower, ind.phrase) {
				p.Availability = ind.value
				break
			}
		}
	}
	if len(p.Prices) == 0 && p.Availability == "" {
		return nil
	}
	return p
}

func schemaAvailability(link string) string {
	switch {
	case strings.HasSuffix(link, "InStock"):
		return "in_stock"
	case strings.HasSuffix(link, "OutOfStock"), strings.HasSuffix(link, "SoldOut"):
		return "out_of_stock"
	case strings.HasSuffix(link, "PreOrder"):
		return "pre_order"
	case strings.HasSuffix(link, "Discontinued"):
		return "discontinued"
	default:
		return ""
	}
}

// parsePrice reads a priceRe submatch. Either groups 1-2 (symbol, amount) or
// groups 3-4 (amount, code) are set.
func parsePrice(m []string) (crawler.Price, bool) {
	var number, currency string
	if m[1] != "" {
		number, currency = m[2], currencySymbols[m[1]]
	} else {
		number, currency = m[3], m[4]
	}
	amount, ok := parseAmount(number)
	if !ok {
		return crawler.Price{}, false
	}
	return crawler.Price{Raw: strings.TrimSpace(m[0]), Amount: amount, Currency: currency}, true
}

// parseAmount accepts "1,299.99", "1.299,99", "1 299" and plain numbers. A
// trailing separator followed by one or two digits is decimal.
func parseAmount(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return 0, false
	}
	decimal := ""
	if i := strings.LastIndexAny(s, ".,"); i >= 0 && len(s)-i-1 <= 2 {
		decimal = s[i+1:]
		s = s[:i]
	}
	s = strings.NewReplacer(",", "", ".", "").Replace(s)
	if decimal != "" {
		s += "." + decimal
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (e *Extractor) metadata(d *document) *crawler.Metadata {
	doc := d.doc
	m := &crawler.Metadata{
		Title:       normalizeSpace(doc.Find("head title").First().Text()),
		Description: metaContent(doc, `meta[name="description"]`),
		Author:      metaContent(doc, `meta[name="author"]`),
	}
	if m.Title == "" {
		m.Title = normalizeSpace(doc.Find("title").First().Text())
	}
	if kw := metaContent(doc, `meta[name="keywords"]`); kw != "" {
		for _, k := range strings.Split(kw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				m.Keywords = append(m.Keywords, k)
			}
		}
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		if ref, err := d.base.Parse(strings.TrimSpace(href)); err == nil {
			m.Canonical = ref.String()
		}
	}
	doc.Find(`meta[property^="og:"]`).Each(func(_ int, s *goquery.Selection) {
		if m.OpenGraph == nil {
			m.OpenGraph = map[string]string{}
		}
		key := strings.TrimPrefix(s.AttrOr("property", ""), "og:")
		if v := strings.TrimSpace(s.AttrOr("content", "")); key != "" && v != "" {
			m.OpenGraph[key] = v
		}
	})
	doc.Find(`meta[name^="twitter:"]`).Each(func(_ int, s *goquery.Selection) {
		if m.Twitter == nil {
			m.Twitter = map[string]string{}
		}
		key := strings.TrimPrefix(s.AttrOr("name", ""), "twitter:")
		if v := strings.TrimSpace(s.AttrOr("content", "")); key != "" && v != "" {
			m.Twitter[key] = v
		}
	})

	if lang := strings.TrimSpace(doc.Find("html").AttrOr("lang", "")); lang != "" {
		m.Language = strings.ToLower(strings.SplitN(strings.ReplaceAll(lang, "_", "-"), "-", 2)[0])
	} else if e.lang != nil {
		m.Language = e.lang.detect(d.text)
	}
	return m
}

func metaContent(doc *goquery.Document, selector string) string {
	return strings.TrimSpace(doc.Find(selector).First().AttrOr("content", ""))
}

func images(d *document) crawler.ImageStats {
	stats := crawler.ImageStats{}
	d.doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		stats.Total++
		if strings.TrimSpace(s.AttrOr("alt", "")) == "" {
			stats.MissingAlt++
		}
	})
	return stats
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
