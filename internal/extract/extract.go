// Package extract pulls raw values out of fetched documents using CSS,
// XPath, regex, or schema (JSON-LD) selectors, with fallback iteration and
// fingerprint-based self-healing.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// Sentinel errors mapped to run error codes by the run processor.
var (
	ErrSelectorNotFound = errors.New("extract: selector not found")
	ErrSchemaNotFound   = errors.New("extract: schema not found")
)

// DefaultSimilarityThreshold is the minimum Jaccard similarity between the
// primary selector and an alternative before the alternative is tried.
const DefaultSimilarityThreshold = 0.60

// LegacySimilarityThreshold is the stricter bound used by the legacy healing
// path in the run processor.
const LegacySimilarityThreshold = 0.70

// anchorCheckLength is how many characters of the stored text anchor must be
// found in a freshly extracted value for it to count as validated.
const anchorCheckLength = 20

// anchorStoreLength bounds the anchor captured into a fingerprint.
const anchorStoreLength = 64

// Options tune one extraction invocation.
type Options struct {
	// SimilarityThreshold overrides DefaultSimilarityThreshold when > 0.
	SimilarityThreshold float64
	// Now supplies the heal timestamp; zero means time.Now.
	Now time.Time
}

func (o Options) threshold() float64 {
	if o.SimilarityThreshold > 0 {
		return o.SimilarityThreshold
	}
	return DefaultSimilarityThreshold
}

func (o Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now().UTC()
	}
	return o.Now
}

// Result is the outcome of a successful extraction. Healed is non-nil when an
// alternative selector produced the value; Fingerprint is always regenerated.
type Result struct {
	Raw          string
	Values       []string
	SelectorUsed string
	Healed       *model.HealEvent
	Fingerprint  *model.SelectorFingerprint
	Schema       *SchemaMeta
}

// Extract runs the configured method against the document. CSS and XPath get
// the full fallback-and-heal treatment; schema extraction falls back to the
// configured CSS fallback selectors when no structured data matches.
func Extract(html []byte, cfg model.ExtractionConfig, fp *model.SelectorFingerprint, opts Options) (*Result, error) {
	switch cfg.Method {
	case model.ExtractCSS, model.ExtractXPath:
		return extractWithHealing(html, cfg, fp, opts)
	case model.ExtractRegex:
		return extractRegex(html, cfg)
	case model.ExtractSchema:
		res, err := extractSchema(html, cfg, opts)
		if err == nil {
			return res, nil
		}
		if len(cfg.FallbackSelectors) == 0 {
			return nil, err
		}
		// Structured data missing; try the CSS fallbacks.
		cssCfg := cfg
		cssCfg.Method = model.ExtractCSS
		cssCfg.Selector = cfg.FallbackSelectors[0]
		cssCfg.FallbackSelectors = cfg.FallbackSelectors[1:]
		return extractWithHealing(html, cssCfg, fp, opts)
	default:
		return nil, fmt.Errorf("extract: unsupported method %q", cfg.Method)
	}
}

// extractWithHealing implements the primary/fallback/heal loop shared by CSS
// and XPath extraction.
func extractWithHealing(html []byte, cfg model.ExtractionConfig, fp *model.SelectorFingerprint, opts Options) (*Result, error) {
	values, err := querySelector(html, cfg.Method, cfg.Selector, cfg.Attribute, cfg.ExtractAll)
	if err == nil {
		raw, perr := postProcess(values[0], cfg.PostProcess)
		if perr != nil {
			return nil, perr
		}
		if fp != nil && fp.TextAnchor != "" && !anchorMatches(raw, fp.TextAnchor) {
			// Primary still selects something, but not the thing the
			// fingerprint remembers. Treat as a miss and let alternatives run.
			err = ErrSelectorNotFound
		} else {
			return &Result{
				Raw:          raw,
				Values:       applyAllPostProcess(values, cfg.PostProcess),
				SelectorUsed: cfg.Selector,
				Fingerprint:  BuildFingerprint(cfg.Selector, raw, cfg, opts.now()),
			}, nil
		}
	}
	if !errors.Is(err, ErrSelectorNotFound) {
		return nil, err
	}

	// Configured fallbacks are always tried; fingerprint-learned alternatives
	// must clear the similarity threshold first.
	type candidate struct {
		selector string
		gated    bool
	}
	candidates := make([]candidate, 0, len(cfg.FallbackSelectors))
	for _, s := range cfg.FallbackSelectors {
		candidates = append(candidates, candidate{selector: s})
	}
	if fp != nil {
		for _, s := range fp.AlternativeSelectors {
			candidates = append(candidates, candidate{selector: s, gated: true})
		}
	}

	threshold := opts.threshold()
	for _, c := range candidates {
		alt := c.selector
		if alt == "" || alt == cfg.Selector {
			continue
		}
		similarity := SelectorSimilarity(cfg.Selector, alt)
		if c.gated && similarity < threshold {
			continue
		}
		values, aerr := querySelector(html, cfg.Method, alt, cfg.Attribute, cfg.ExtractAll)
		if aerr != nil {
			continue
		}
		raw, perr := postProcess(values[0], cfg.PostProcess)
		if perr != nil {
			continue
		}
		return &Result{
			Raw:          raw,
			Values:       applyAllPostProcess(values, cfg.PostProcess),
			SelectorUsed: alt,
			Healed: &model.HealEvent{
				From:       cfg.Selector,
				To:         alt,
				Similarity: similarity,
				HealedAt:   opts.now(),
			},
			Fingerprint: BuildFingerprint(alt, raw, cfg, opts.now()),
		}, nil
	}

	return nil, ErrSelectorNotFound
}

// ValidateSelector compiles the selector for methods with a static grammar so
// a broken expression is rejected at rule save instead of failing every run.
// CSS and schema selectors are only checked against a live document.
func ValidateSelector(method model.ExtractionMethod, selector string) error {
	switch method {
	case model.ExtractXPath:
		if _, err := xpath.Compile(selector); err != nil {
			return fmt.Errorf("extract: xpath %q: %w", selector, err)
		}
	case model.ExtractRegex:
		if _, err := regexp.Compile(selector); err != nil {
			return fmt.Errorf("extract: regex %q: %w", selector, err)
		}
	}
	return nil
}

// querySelector evaluates one selector and returns the matched raw strings.
// Always at least one element on success.
func querySelector(html []byte, method model.ExtractionMethod, selector, attribute string, extractAll bool) ([]string, error) {
	switch method {
	case model.ExtractCSS:
		return queryCSS(html, selector, attribute, extractAll)
	case model.ExtractXPath:
		return queryXPath(html, selector, attribute, extractAll)
	default:
		return nil, fmt.Errorf("extract: method %q has no selector query", method)
	}
}

func queryCSS(html []byte, selector, attribute string, extractAll bool) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("extract: parse document: %w", err)
	}

	sel := doc.Find(selector)
	if sel.Length() == 0 {
		return nil, ErrSelectorNotFound
	}

	var values []string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var v string
		if attribute != "" {
			v, _ = s.Attr(attribute)
		} else {
			v = s.Text()
		}
		if strings.TrimSpace(v) != "" {
			values = append(values, v)
		}
		return extractAll || len(values) == 0
	})
	if len(values) == 0 {
		return nil, ErrSelectorNotFound
	}
	return values, nil
}

func queryXPath(html []byte, selector, attribute string, extractAll bool) ([]string, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("extract: parse document: %w", err)
	}

	nodes, err := htmlquery.QueryAll(doc, selector)
	if err != nil {
		return nil, fmt.Errorf("extract: xpath %q: %w", selector, err)
	}
	if len(nodes) == 0 {
		return nil, ErrSelectorNotFound
	}

	var values []string
	for _, n := range nodes {
		var v string
		if attribute != "" {
			v = htmlquery.SelectAttr(n, attribute)
		} else {
			v = htmlquery.InnerText(n)
		}
		if strings.TrimSpace(v) != "" {
			values = append(values, v)
			if !extractAll {
				break
			}
		}
	}
	if len(values) == 0 {
		return nil, ErrSelectorNotFound
	}
	return values, nil
}

func extractRegex(html []byte, cfg model.ExtractionConfig) (*Result, error) {
	re, err := regexp.Compile(cfg.Selector)
	if err != nil {
		return nil, fmt.Errorf("extract: regex %q: %w", cfg.Selector, err)
	}

	var values []string
	if cfg.ExtractAll {
		for _, m := range re.FindAllStringSubmatch(string(html), -1) {
			values = append(values, pickGroup(m))
		}
	} else {
		m := re.FindStringSubmatch(string(html))
		if m != nil {
			values = append(values, pickGroup(m))
		}
	}
	if len(values) == 0 {
		return nil, ErrSelectorNotFound
	}

	raw, err := postProcess(values[0], cfg.PostProcess)
	if err != nil {
		return nil, err
	}
	return &Result{
		Raw:          raw,
		Values:       applyAllPostProcess(values, cfg.PostProcess),
		SelectorUsed: cfg.Selector,
	}, nil
}

// pickGroup prefers the first capture group over the whole match.
func pickGroup(m []string) string {
	if len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return m[0]
}

var numberPattern = regexp.MustCompile(`[-+]?\d+(?:[.,\s]\d+)*`)

// postProcess applies the configured transformation chain to one value.
func postProcess(v string, steps []model.PostProcessStep) (string, error) {
	for _, step := range steps {
		switch step.Kind {
		case "trim":
			v = strings.TrimSpace(v)
		case "lowercase":
			v = strings.ToLower(v)
		case "uppercase":
			v = strings.ToUpper(v)
		case "replace":
			re, err := regexp.Compile(step.Pattern)
			if err != nil {
				return "", fmt.Errorf("extract: replace pattern %q: %w", step.Pattern, err)
			}
			v = re.ReplaceAllString(v, step.Replacement)
		case "extract_number":
			m := numberPattern.FindString(v)
			if m == "" {
				return "", ErrSelectorNotFound
			}
			v = m
		default:
			return "", fmt.Errorf("extract: unknown post-process step %q", step.Kind)
		}
	}
	return v, nil
}

func applyAllPostProcess(values []string, steps []model.PostProcessStep) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		p, err := postProcess(v, steps)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

// anchorMatches reports whether the normalized value contains the first 20
// characters of the normalized anchor. Case and whitespace insensitive.
func anchorMatches(value, anchor string) bool {
	nv := normalizeAnchor(value)
	na := normalizeAnchor(anchor)
	if len(na) > anchorCheckLength {
		na = na[:anchorCheckLength]
	}
	if na == "" {
		return true
	}
	return strings.Contains(nv, na)
}

func normalizeAnchor(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\u00a0' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
