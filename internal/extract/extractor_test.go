package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

const productPage = `<!doctype html>
<html lang="en-US"><head>
<title>Acme Anvil 3000 - Heavy Duty Anvil for Professionals</title>
<meta name="description" content="The Acme Anvil 3000 is forged steel, ships free, and outlasts every cartoon coyote you know.">
<meta name="keywords" content="anvil, steel, acme">
<meta property="og:title" content="Acme Anvil 3000">
<meta property="og:type" content="product">
<meta name="twitter:card" content="summary">
<link rel="canonical" href="/products/anvil-3000">
</head><body>
<h1>Acme Anvil 3000</h1>
<div itemscope itemtype="https://schema.org/Product">
  <span class="product-price">$1,299.99</span>
  <link itemprop="availability" href="https://schema.org/InStock">
  <button class="add-to-cart">Add to cart</button>
</div>
<img src="/anvil.jpg" alt="An anvil">
<img src="/spacer.gif">
<p>Questions? Email sales@acme.example or call +1 (555) 123-4567.</p>
<a href="/products/hammer">Hammer</a>
<a href="/products/hammer#reviews">Hammer reviews</a>
<a href="https://shop.acme.example/cart">Cart</a>
<a href="https://www.facebook.com/acme">Facebook</a>
<a href="mailto:support@acme.example">Support</a>
<a href="tel:+15551234567">Call</a>
<a href="javascript:void(0)">Nothing</a>
<a href="/manual.pdf">Manual</a>
</body></html>`

func newExtractor() *Extractor {
	return New(Config{}, nil)
}

func extractPage(t *testing.T, e *Extractor, dom string, opts Options) Result {
	t.Helper()
	return e.Extract(crawler.Snapshot{
		URL:      "https://www.acme.example/products/anvil-3000",
		FinalURL: "https://www.acme.example/products/anvil-3000",
		DOM:      dom,
	}, opts)
}

func TestExtractProductPage(t *testing.T) {
	t.Parallel()

	res := extractPage(t, newExtractor(), productPage, Options{})
	require.Equal(t, crawler.PageEcommerce, res.Classification)
	data := res.Data
	require.NotNil(t, data)

	require.NotNil(t, data.Product)
	require.NotEmpty(t, data.Product.Prices)
	require.Equal(t, "USD", data.Product.Prices[0].Currency)
	require.InDelta(t, 1299.99, data.Product.Prices[0].Amount, 1e-9)
	require.Equal(t, "in_stock", data.Product.Availability)

	require.NotNil(t, data.Contact)
	require.Equal(t, []string{"sales@acme.example", "support@acme.example"}, data.Contact.Emails)
	require.Contains(t, data.Contact.Phones, "+15551234567")
	require.Equal(t, []string{"https://www.facebook.com/acme"}, data.Contact.Social)

	meta := data.Metadata
	require.NotNil(t, meta)
	require.Equal(t, "Acme Anvil 3000 - Heavy Duty Anvil for Professionals", meta.Title)
	require.Equal(t, []string{"anvil", "steel", "acme"}, meta.Keywords)
	require.Equal(t, "https://www.acme.example/products/anvil-3000", meta.Canonical)
	require.Equal(t, "en", meta.Language)
	require.Equal(t, "Acme Anvil 3000", meta.OpenGraph["title"])
	require.Equal(t, "summary", meta.Twitter["card"])

	require.Equal(t, crawler.ImageStats{Total: 2, MissingAlt: 1}, data.Images)
}

func TestExtractLinksSameSiteOnly(t *testing.T) {
	t.Parallel()

	res := extractPage(t, newExtractor(), productPage, Options{})
	require.Equal(t, []string{
		"https://www.acme.example/products/hammer",
		"https://shop.acme.example/cart",
	}, res.Data.Links, "fragments collapse, subdomains are same-site, documents are skipped")
	require.Equal(t, 4, res.Data.LinkStats.Internal)
	require.Equal(t, 1, res.Data.LinkStats.External)

	withExternal := extractPage(t, newExtractor(), productPage, Options{AllowExternal: true})
	require.Contains(t, withExternal.Data.Links, "https://www.facebook.com/acme")
}

func TestExtractLinksCapped(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := range 80 {
		fmt.Fprintf(&b, `<a href="/p/%d">p%d</a>`, i, i)
	}
	b.WriteString("</body></html>")

	e := New(Config{LinksPerPage: 10}, nil)
	res := extractPage(t, e, b.String(), Options{})
	require.Len(t, res.Data.Links, 10)
	require.Equal(t, "https://www.acme.example/p/0", res.Data.Links[0])
	require.Equal(t, 80, res.Data.LinkStats.Internal)
}

func TestExtractMissingFieldsAreAbsent(t *testing.T) {
	t.Parallel()

	res := extractPage(t, newExtractor(), `<html><body><p>hi</p></body></html>`, Options{})
	require.Equal(t, crawler.PageOther, res.Classification)
	require.Nil(t, res.Data.Contact)
	require.Nil(t, res.Data.Product)
	require.Empty(t, res.Data.Links)
	require.NotNil(t, res.Data.Metadata)
	require.Empty(t, res.Data.Metadata.Title)
}

func TestExtractMalformedMarkupDoesNotFail(t *testing.T) {
	t.Parallel()

	res := extractPage(t, newExtractor(), `<html><body><div><a href="http://[::1">x</a><form><input`, Options{})
	require.NotNil(t, res.Data)
}

func TestClassifyBlog(t *testing.T) {
	t.Parallel()

	dom := `<html><head><meta property="og:type" content="article"></head><body>
<article><h1>Ten things about Go</h1>
<p>Published by <a rel="author" href="/authors/jane">the author</a> <time datetime="2024-01-01">Jan 1</time></p>
<p>Read more posts in our blog. 5 min read. Tags: go. Comments are open.</p>
</article></body></html>`
	res := extractPage(t, newExtractor(), dom, Options{})
	require.Equal(t, crawler.PageBlog, res.Classification)
}

func TestClassifyForm(t *testing.T) {
	t.Parallel()

	dom := `<html><body><h1>Register</h1>
<form action="/register"><label for="n">Name</label><input id="n" name="name">
<input type="email" name="email"><input type="password" name="password">
<select name="country"><option>US</option></select><input type="submit" value="Submit"></form>
</body></html>`
	res := extractPage(t, newExtractor(), dom, Options{})
	require.Equal(t, crawler.PageForm, res.Classification)
}

func TestClassifyDirectory(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString(`<html><body><h1>Browse the directory</h1><ul class="results">`)
	for i := range 12 {
		fmt.Fprintf(&b, `<li class="entry"><a href="/biz/%d">Business %d</a></li>`, i, i)
	}
	b.WriteString(`</ul></body></html>`)
	res := extractPage(t, newExtractor(), b.String(), Options{})
	require.Equal(t, crawler.PageDirectory, res.Classification)
}

func TestContactForm(t *testing.T) {
	t.Parallel()

	dom := `<html><body><form id="contact-us"><input type="email" name="email"><textarea name="msg"></textarea></form></body></html>`
	res := extractPage(t, newExtractor(), dom, Options{})
	require.NotNil(t, res.Data.Contact)
	require.True(t, res.Data.Contact.ContactForm)
}

func TestScoresAreBounded(t *testing.T) {
	t.Parallel()

	for _, dom := range []string{productPage, `<html><body></body></html>`} {
		s := extractPage(t, newExtractor(), dom, Options{}).Data.Scores
		for _, v := range []float64{s.SEO, s.Accessibility, s.Quality, s.Security, s.Performance} {
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 100.0)
		}
	}

	rich := extractPage(t, newExtractor(), productPage, Options{}).Data.Scores
	bare := extractPage(t, newExtractor(), `<html><body><img src="x"></body></html>`, Options{}).Data.Scores
	require.Greater(t, rich.SEO, bare.SEO)
	require.Greater(t, rich.Accessibility, bare.Accessibility)
}

func TestSecurityAndPerformanceScores(t *testing.T) {
	t.Parallel()

	clean := extractPage(t, newExtractor(), productPage, Options{}).Data
	require.Equal(t, 100.0, clean.Scores.Security)
	require.Equal(t, 100.0, clean.Scores.Performance)
	require.NotContains(t, clean.Recommendations, "Add a title tag for better SEO")

	var b strings.Builder
	b.WriteString(`<html><body><h1>Gallery</h1>`)
	b.WriteString(`<script src="http://cdn.other.example/tracker.js"></script>`)
	for i := range 5 {
		fmt.Fprintf(&b, `<img src="/big-%d.jpg" alt="big" width="2400" height="1600">`, i)
	}
	b.WriteString(`</body></html>`)
	heavy := extractPage(t, newExtractor(), b.String(), Options{}).Data

	require.InDelta(t, 66.7, heavy.Scores.Security, 0.01, "mixed content on an https page")
	require.InDelta(t, 75.0, heavy.Scores.Performance, 0.01, "too many large images")
	require.Contains(t, heavy.Recommendations, "Load every resource over HTTPS to remove mixed content")
	require.Contains(t, heavy.Recommendations, "Optimize large images to improve page load speed")
	require.Contains(t, heavy.Recommendations, "Add a title tag for better SEO")
	require.Contains(t, heavy.Recommendations, "Add a meta description for better search visibility")
	require.NotContains(t, heavy.Recommendations, "Serve the page over HTTPS")
}

func TestParseAmount(t *testing.T) {
	t.Parallel()

	cases := map[string]float64{
		"1,299.99": 1299.99,
		"1.299,99": 1299.99,
		"1 299":    1299,
		"19.9":     19.9,
		"42":       42,
	}
	for in, want := range cases {
		got, ok := parseAmount(in)
		require.True(t, ok, in)
		require.InDelta(t, want, got, 1e-9, in)
	}
	_, ok := parseAmount("")
	require.False(t, ok)
}

func TestLanguageDetectionFallback(t *testing.T) {
	t.Parallel()

	e := New(Config{DetectLanguage: true}, nil)
	dom := `<html><body><p>El rápido zorro marrón salta sobre el perro perezoso mientras los niños juegan en el parque cada tarde.</p></body></html>`
	res := extractPage(t, e, dom, Options{})
	require.Equal(t, "es", res.Data.Metadata.Language)
}

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.co.uk", registrableDomain("shop.example.co.uk"))
	require.Equal(t, "localhost", registrableDomain("localhost"))
	require.Equal(t, "127.0.0.1", registrableDomain("127.0.0.1"))
	require.Empty(t, registrableDomain(""))
}
