package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/pemistahl/lingua-go"
)

const (
	excerptLength = 280
	minLangText   = 40
)

// article is the main-content view of a page.
type article struct {
	byline    string
	excerpt   string
	text      string
	words     int
	sentences int
}

// readArticle runs readability over the page and falls back to the full body
// text when no main content is found.
func readArticle(html string, base *url.URL, bodyText string) article {
	out := article{text: bodyText}
	parser := readability.NewParser()
	parsed, err := parser.Parse(strings.NewReader(html), base)
	if err == nil {
		out.byline = strings.TrimSpace(parsed.Byline)
		out.excerpt = normalizeSpace(parsed.Excerpt)
		if doc, derr := goquery.NewDocumentFromReader(strings.NewReader(parsed.Content)); derr == nil {
			if text := normalizeSpace(doc.Text()); text != "" {
				out.text = text
			}
		}
	}
	if out.excerpt == "" {
		out.excerpt = truncate(out.text, excerptLength)
	}
	out.words = len(strings.Fields(out.text))
	out.sentences = strings.Count(out.text, ".") + strings.Count(out.text, "!") + strings.Count(out.text, "?")
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndex(cut, " "); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

// languageDetector wraps a lingua detector restricted to common web languages.
type languageDetector struct {
	detector lingua.LanguageDetector
}

func newLanguageDetector() *languageDetector {
	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(
			lingua.English,
			lingua.Spanish,
			lingua.French,
			lingua.German,
			lingua.Italian,
			lingua.Portuguese,
			lingua.Dutch,
			lingua.Japanese,
			lingua.Chinese,
		).
		Build()
	return &languageDetector{detector: detector}
}

// detect returns an ISO 639-1 code or "" when the text is too short or
// ambiguous.
func (l *languageDetector) detect(text string) string {
	if len([]rune(text)) < minLangText {
		return ""
	}
	if lang, ok := l.detector.DetectLanguageOf(text); ok {
		return strings.ToLower(lang.IsoCode639_1().String())
	}
	return ""
}
