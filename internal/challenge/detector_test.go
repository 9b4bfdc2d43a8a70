package challenge

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

func newDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := New(DefaultConfig())
	require.NoError(t, err)
	return d
}

func snapshot(dom string) crawler.Snapshot {
	return crawler.Snapshot{
		URL:        "https://example.com/login",
		FinalURL:   "https://example.com/login",
		StatusCode: http.StatusOK,
		DOM:        dom,
	}
}

const recaptchaV2Page = `<html><head>
<script src="https://www.google.com/recaptcha/api.js" async defer></script>
</head><body>
<form action="/login"><div class="g-recaptcha" data-sitekey="abc"></div></form>
</body></html>`

func TestSignaturesCoverEveryChallengeType(t *testing.T) {
	t.Parallel()

	require.Len(t, signatures, len(crawler.ChallengeTypes))
	for i, kind := range crawler.ChallengeTypes {
		require.Equal(t, kind, signatures[i].kind, "signature order must follow the enumeration")
	}
}

func TestDetectRecaptchaV2Halts(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	findings, halt := d.Detect(snapshot(recaptchaV2Page))
	require.NotEmpty(t, findings)
	require.NotNil(t, halt)

	top := findings[0]
	require.Equal(t, crawler.ChallengeRecaptchaV2, top.Type)
	require.InDelta(t, 0.8, top.Confidence, 1e-9)
	require.Greater(t, top.Confidence, d.Config().HaltThreshold)
	require.True(t, top.Visible)
	require.Equal(t, ".g-recaptcha", top.Location.Selector)
	require.Contains(t, top.Signals, "script:google.com/recaptcha/api.js")
	require.Equal(t, "https://example.com/login", halt.URL)
	require.Equal(t, top, halt.Finding)
}

func TestScanIsIdempotent(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	snap := snapshot(recaptchaV2Page)
	require.Equal(t, d.Scan(snap), d.Scan(snap))
}

func TestScanCleanPage(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	findings, halt := d.Detect(snapshot(`<html><body><h1>Hello</h1><p>Plain article.</p></body></html>`))
	require.Empty(t, findings)
	require.Nil(t, halt)
	_, ok := Top(findings)
	require.False(t, ok)
}

func TestScanHCaptcha(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	dom := `<html><body>
<script src="https://js.hcaptcha.com/1/api.js"></script>
<div class="h-captcha" data-sitekey="xyz"></div>
</body></html>`
	findings := d.Scan(snapshot(dom))
	require.NotEmpty(t, findings)
	require.Equal(t, crawler.ChallengeHCaptcha, findings[0].Type)
	for _, f := range findings {
		require.NotEqual(t, crawler.ChallengeRecaptchaV2, f.Type, "data-sitekey on hCaptcha is not reCAPTCHA")
	}
}

func TestScanRecaptchaV3IsInvisible(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	dom := `<html><body>
<script src="https://www.google.com/recaptcha/api.js?render=site-key"></script>
<div class="grecaptcha-badge" style="width:256px"></div>
</body></html>`
	snap := snapshot(dom)
	findings := d.Scan(snap)
	require.NotEmpty(t, findings)
	top := findings[0]
	require.Equal(t, crawler.ChallengeRecaptchaV3, top.Type)
	require.False(t, top.Visible)
	require.InDelta(t, 0.64, top.Confidence, 1e-9)
	require.False(t, d.ShouldHalt(top))

	snap.Elapsed = 9 * time.Second
	slow, _ := Top(d.Scan(snap))
	require.InDelta(t, 0.76, slow.Confidence, 1e-9, "slow response corroborates invisible verification")
	require.True(t, d.ShouldHalt(slow))
}

func TestTimingAloneIsNotAChallenge(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	snap := snapshot(`<html><body><p>slow but fine</p></body></html>`)
	snap.Elapsed = time.Minute
	require.Empty(t, d.Scan(snap))
}

func TestScanCloudflareResponseHeaders(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	snap := snapshot(`<html><body><div id="challenge-stage"></div>
<p>Checking if the site connection is secure</p></body></html>`)
	snap.StatusCode = http.StatusForbidden
	snap.Headers = http.Header{"Cf-Mitigated": []string{"challenge"}}

	top, ok := Top(d.Scan(snap))
	require.True(t, ok)
	require.Equal(t, crawler.ChallengeCloudflare, top.Type)
	require.True(t, d.ShouldHalt(top))
}

func TestScanGenericCaptchaBelowHalt(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	dom := `<html><body><form><img src="/captcha.png"><input name="captcha_code"></form></body></html>`
	top, ok := Top(d.Scan(snapshot(dom)))
	require.True(t, ok)
	require.Equal(t, crawler.ChallengeGeneric, top.Type)
	require.False(t, d.ShouldHalt(top))
}

func TestHiddenWidgetIsNotVisible(t *testing.T) {
	t.Parallel()

	d := newDetector(t)
	dom := `<html><body><div style="display: none"><div class="g-recaptcha" data-sitekey="k"></div></div></body></html>`
	top, ok := Top(d.Scan(snapshot(dom)))
	require.True(t, ok)
	require.False(t, top.Visible)
}

func TestTiesPreferEnumerationOrder(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.TypeWeights = map[crawler.ChallengeType]float64{
		crawler.ChallengeRecaptchaV2: 1,
		crawler.ChallengeGeneric:     1,
	}
	cfg.SignalWeights = map[Signal]float64{SignalScript: 0, SignalText: 0}
	d, err := New(cfg)
	require.NoError(t, err)

	// Both v2 and generic see exactly one DOM signal.
	findings := d.Scan(snapshot(`<html><body><div class="g-recaptcha"></div></body></html>`))
	require.GreaterOrEqual(t, len(findings), 2)
	require.Equal(t, findings[0].Confidence, findings[1].Confidence)
	require.Equal(t, crawler.ChallengeRecaptchaV2, findings[0].Type)
	require.Equal(t, crawler.ChallengeGeneric, findings[1].Type)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.HaltThreshold = 1.5
	_, err := New(cfg)
	var cfgErr *crawler.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "challenge.halt_threshold", cfgErr.Field)

	cfg = DefaultConfig()
	cfg.SignalWeights = map[Signal]float64{SignalDOM: -0.1}
	_, err = New(cfg)
	require.ErrorAs(t, err, &cfgErr)
}
