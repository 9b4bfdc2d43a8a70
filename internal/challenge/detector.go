// Package challenge detects anti-automation challenges on rendered pages. It
// never interacts with a challenge; findings only feed the halt decision.
package challenge

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-orchestrator/internal/crawler"
)

// Signal names one group of corroborating evidence.
type Signal string

// Signal groups scored by the detector.
const (
	SignalDOM      Signal = "dom"
	SignalScript   Signal = "script"
	SignalIframe   Signal = "iframe"
	SignalText     Signal = "text"
	SignalResponse Signal = "response"
	SignalTiming   Signal = "timing"
)

// Config holds the tunable scoring parameters.
type Config struct {
	// MinConfidence drops findings below it; the page is then challenge-free.
	MinConfidence float64
	// HaltThreshold is the confidence at which a finding halts the job.
	HaltThreshold float64
	// SignalWeights is the contribution of each signal group when present.
	SignalWeights map[Signal]float64
	// TypeWeights scales the summed signal weights per challenge type.
	TypeWeights map[crawler.ChallengeType]float64
	// SlowResponse marks a timing anomaly for invisible verification variants.
	SlowResponse time.Duration
}

// DefaultConfig returns the built-in weights and thresholds.
func DefaultConfig() Config {
	return Config{
		MinConfidence: 0.3,
		HaltThreshold: 0.7,
		SignalWeights: map[Signal]float64{
			SignalDOM:      0.45,
			SignalScript:   0.35,
			SignalIframe:   0.3,
			SignalText:     0.2,
			SignalResponse: 0.35,
			SignalTiming:   0.15,
		},
		TypeWeights: map[crawler.ChallengeType]float64{
			crawler.ChallengeRecaptchaV2: 1.0,
			crawler.ChallengeRecaptchaV3: 0.8,
			crawler.ChallengeHCaptcha:    1.0,
			crawler.ChallengeFunCaptcha:  0.9,
			crawler.ChallengeCloudflare:  0.9,
			crawler.ChallengeGeneric:     0.7,
		},
		SlowResponse: 8 * time.Second,
	}
}

// Validate checks that every weight and threshold lies in [0,1].
func (c Config) Validate() error {
	check := func(field string, v float64) error {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return &crawler.ConfigurationError{Field: field, Reason: "must be within [0,1]"}
		}
		return nil
	}
	if err := check("challenge.min_confidence", c.MinConfidence); err != nil {
		return err
	}
	if err := check("challenge.halt_threshold", c.HaltThreshold); err != nil {
		return err
	}
	for signal, w := range c.SignalWeights {
		if err := check("challenge.signal_weights."+string(signal), w); err != nil {
			return err
		}
	}
	for kind, w := range c.TypeWeights {
		if err := check("challenge.type_weights."+string(kind), w); err != nil {
			return err
		}
	}
	if c.SlowResponse < 0 {
		return &crawler.ConfigurationError{Field: "challenge.slow_response", Reason: "must be >= 0"}
	}
	return nil
}

// withDefaults fills unset maps and weights from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	signals := make(map[Signal]float64, len(def.SignalWeights))
	for k, v := range def.SignalWeights {
		signals[k] = v
	}
	for k, v := range c.SignalWeights {
		signals[k] = v
	}
	types := make(map[crawler.ChallengeType]float64, len(def.TypeWeights))
	for k, v := range def.TypeWeights {
		types[k] = v
	}
	for k, v := range c.TypeWeights {
		types[k] = v
	}
	c.SignalWeights = signals
	c.TypeWeights = types
	return c
}

// Detector scans snapshots against the fixed signature table.
type Detector struct {
	cfg Config
}

// New validates cfg and builds a Detector. Missing weights take defaults.
func New(cfg Config) (*Detector, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (d *Detector) Config() Config {
	return d.cfg
}

type page struct {
	doc      *goquery.Document
	text     string
	scripts  []string
	iframes  []string
	snapshot crawler.Snapshot
}

// Scan returns every finding at or above MinConfidence, strongest first with
// ties in enumeration order. The result depends only on the snapshot.
func (d *Detector) Scan(snapshot crawler.Snapshot) []crawler.ChallengeFinding {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(snapshot.DOM))
	if err != nil {
		return nil
	}
	p := page{
		doc:      doc,
		text:     strings.ToLower(strings.Join(strings.Fields(doc.Find("body").Text()), " ")),
		scripts:  attrs(doc, "script[src]", "src"),
		iframes:  attrs(doc, "iframe[src]", "src"),
		snapshot: snapshot,
	}

	var findings []crawler.ChallengeFinding
	for i := range signatures {
		finding, ok := d.score(&signatures[i], &p)
		if ok && finding.Confidence >= d.cfg.MinConfidence {
			findings = append(findings, finding)
		}
	}
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Confidence > findings[j].Confidence
	})
	return findings
}

// Top returns the aggregate finding for a page: the first of a Scan result.
func Top(findings []crawler.ChallengeFinding) (crawler.ChallengeFinding, bool) {
	if len(findings) == 0 {
		return crawler.ChallengeFinding{}, false
	}
	return findings[0], true
}

// ShouldHalt reports whether finding reaches the halt threshold.
func (d *Detector) ShouldHalt(finding crawler.ChallengeFinding) bool {
	return finding.Confidence >= d.cfg.HaltThreshold
}

// Detect scans snapshot and returns the top finding, if any, and whether it
// must halt the job.
func (d *Detector) Detect(snapshot crawler.Snapshot) ([]crawler.ChallengeFinding, *crawler.ChallengeHalt) {
	findings := d.Scan(snapshot)
	top, ok := Top(findings)
	if !ok || !d.ShouldHalt(top) {
		return findings, nil
	}
	url := snapshot.FinalURL
	if url == "" {
		url = snapshot.URL
	}
	return findings, &crawler.ChallengeHalt{URL: url, Finding: top}
}

func (d *Detector) score(sig *signature, p *page) (crawler.ChallengeFinding, bool) {
	var (
		present  []Signal
		evidence []string
		location crawler.ChallengeLocation
		visible  bool
	)

	for _, sel := range sig.dom {
		found := p.doc.Find(sel).First()
		if found.Length() == 0 {
			continue
		}
		present = append(present, SignalDOM)
		evidence = append(evidence, "dom:"+sel)
		location = locate(sel, found)
		visible = !sig.invisible && isVisible(found)
		break
	}
	if hit, ok := containsAny(p.scripts, sig.scripts); ok {
		present = append(present, SignalScript)
		evidence = append(evidence, "script:"+hit)
	}
	if hit, ok := containsAny(p.iframes, sig.iframes); ok {
		present = append(present, SignalIframe)
		evidence = append(evidence, "iframe:"+hit)
		if location.Selector == "" {
			frame := p.doc.Find(fmt.Sprintf("iframe[src*=%q]", hit)).First()
			location = locate("iframe", frame)
			visible = !sig.invisible && isVisible(frame)
		}
	}
	for _, re := range sig.text {
		if re.MatchString(p.text) {
			present = append(present, SignalText)
			evidence = append(evidence, "text:"+re.String())
			break
		}
	}
	if sig.response != nil && sig.response(p.snapshot.StatusCode, p.snapshot.Headers) {
		present = append(present, SignalResponse)
		evidence = append(evidence, "response:"+strconv.Itoa(p.snapshot.StatusCode))
	}
	if len(present) == 0 {
		return crawler.ChallengeFinding{}, false
	}
	// Timing only corroborates other evidence; a slow page alone is not a challenge.
	if sig.timing && d.cfg.SlowResponse > 0 && p.snapshot.Elapsed >= d.cfg.SlowResponse {
		present = append(present, SignalTiming)
		evidence = append(evidence, "timing:"+p.snapshot.Elapsed.Round(time.Millisecond).String())
	}

	sum := 0.0
	for _, s := range present {
		sum += d.cfg.SignalWeights[s]
	}
	confidence := math.Min(sum, 1) * d.cfg.TypeWeights[sig.kind]
	confidence = math.Round(math.Min(math.Max(confidence, 0), 1)*1e4) / 1e4

	return crawler.ChallengeFinding{
		Type:       sig.kind,
		Confidence: confidence,
		Location:   location,
		Visible:    visible,
		Signals:    evidence,
	}, confidence > 0
}

func attrs(doc *goquery.Document, selector, attr string) []string {
	var out []string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(attr); ok && v != "" {
			out = append(out, strings.ToLower(v))
		}
	})
	return out
}

func containsAny(values, needles []string) (string, bool) {
	for _, needle := range needles {
		for _, v := range values {
			if strings.Contains(v, needle) {
				return needle, true
			}
		}
	}
	return "", false
}

func locate(selector string, s *goquery.Selection) crawler.ChallengeLocation {
	loc := crawler.ChallengeLocation{Selector: selector}
	if s.Length() == 0 {
		return loc
	}
	loc.Width = intAttr(s, "width")
	loc.Height = intAttr(s, "height")
	return loc
}

func intAttr(s *goquery.Selection, name string) int {
	v, ok := s.Attr(name)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if err != nil {
		return 0
	}
	return n
}

// isVisible applies static visibility hints to the element and its ancestors.
func isVisible(s *goquery.Selection) bool {
	if s.Length() == 0 {
		return false
	}
	if size, _ := s.Attr("data-size"); strings.EqualFold(size, "invisible") {
		return false
	}
	for cur := s; cur.Length() > 0; cur = cur.Parent() {
		if _, hidden := cur.Attr("hidden"); hidden {
			return false
		}
		if typ, _ := cur.Attr("type"); strings.EqualFold(typ, "hidden") {
			return false
		}
		style, _ := cur.Attr("style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}
