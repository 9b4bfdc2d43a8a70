package challenge

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// signature is the fixed detection rule set of one challenge type.
type signature struct {
	kind crawler.ChallengeType
	// dom selectors; the first match provides the finding location.
	dom []string
	// substrings of script src attributes.
	scripts []string
	// substrings of iframe src attributes.
	iframes []string
	// patterns over lowercased body text.
	text []*regexp.Regexp
	// response header or status markers.
	response func(status int, h http.Header) bool
	// slow responses corroborate invisible verification.
	timing bool
	// the widget never renders a visible element.
	invisible bool
}

func rx(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// signatures is ordered like crawler.ChallengeTypes; ties resolve to the
// earlier entry.
var signatures = [...]signature{
	{
		kind: crawler.ChallengeRecaptchaV2,
		dom: []string{
			".g-recaptcha",
			"#g-recaptcha",
			"div[data-sitekey]:not(.h-captcha)",
		},
		scripts: []string{"google.com/recaptcha/api.js", "recaptcha/api.js", "gstatic.com/recaptcha"},
		iframes: []string{"google.com/recaptcha/api2/anchor", "google.com/recaptcha", "gstatic.com/recaptcha"},
		text:    rx(`i'?m not a robot`, `verify you are not a robot`),
	},
	{
		kind:      crawler.ChallengeRecaptchaV3,
		dom:       []string{".grecaptcha-badge", "[data-callback*=\"recaptcha\"]"},
		scripts:   []string{"recaptcha/api.js?render=", "recaptcha/releases", "recaptcha/enterprise.js"},
		iframes:   []string{"google.com/recaptcha/api2/bframe"},
		text:      rx(`protected by recaptcha`),
		timing:    true,
		invisible: true,
	},
	{
		kind:    crawler.ChallengeHCaptcha,
		dom:     []string{".h-captcha", "#h-captcha", "[data-hcaptcha-response]", "div[class*=\"hcaptcha\"]"},
		scripts: []string{"hcaptcha.com/1/api.js", "js.hcaptcha.com"},
		iframes: []string{"hcaptcha.com"},
		text:    rx(`hcaptcha`),
	},
	{
		kind:    crawler.ChallengeFunCaptcha,
		dom:     []string{"#funcaptcha", ".funcaptcha", "#arkose", "[data-pkey]"},
		scripts: []string{"funcaptcha.com", "arkoselabs.com"},
		iframes: []string{"funcaptcha.com", "arkoselabs.com"},
		text:    rx(`funcaptcha`, `arkose\s+labs`),
	},
	{
		kind: crawler.ChallengeCloudflare,
		dom: []string{
			"#challenge-form",
			"#challenge-stage",
			"#cf-challenge-running",
			".cf-browser-verification",
			".cf-turnstile",
		},
		scripts: []string{"challenges.cloudflare.com", "/cdn-cgi/challenge-platform/"},
		iframes: []string{"challenges.cloudflare.com"},
		text:    rx(`checking (if the site connection is secure|your browser)`, `verify you are human`),
		response: func(status int, h http.Header) bool {
			if strings.EqualFold(h.Get("Cf-Mitigated"), "challenge") {
				return true
			}
			return (status == http.StatusForbidden || status == http.StatusServiceUnavailable) &&
				strings.EqualFold(h.Get("Server"), "cloudflare")
		},
		timing: true,
	},
	{
		kind: crawler.ChallengeGeneric,
		dom: []string{
			"input[name*=\"captcha\"]",
			"img[src*=\"captcha\"]",
			"canvas[id*=\"captcha\"]",
			"[id*=\"captcha\"]",
			"[class*=\"captcha\"]",
		},
		text: rx(`\bcaptcha\b`, `verification code`, `type the characters`, `enter the code`),
	},
}
