package extract

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// SchemaSource identifies where a schema extraction found its value.
type SchemaSource string

const (
	SchemaSourceJSONLD SchemaSource = "jsonld"
	SchemaSourceMeta   SchemaSource = "meta"
)

// SchemaMeta carries the structured-data context around an extracted value:
// currency, price range, exact cents, and the availability URL when present.
type SchemaMeta struct {
	Currency        string
	PriceLow        *float64
	PriceHigh       *float64
	Cents           *int64
	Source          SchemaSource
	AvailabilityURL string
	Fingerprint     *model.SchemaFingerprint
}

// extractSchema evaluates the selector as a JMESPath query against every
// JSON-LD block on the page, falling back to well-known meta tags. The schema
// fingerprint (block count + shape hash) is computed regardless of which
// source produced the value so drift detection sees every page.
func extractSchema(html []byte, cfg model.ExtractionConfig, opts Options) (*Result, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("extract: parse document: %w", err)
	}

	blocks := jsonLDBlocks(doc)
	fingerprint := schemaFingerprint(blocks, opts)

	if raw, meta, ok := queryJSONLD(blocks, cfg.Selector); ok {
		meta.Fingerprint = fingerprint
		raw, err = postProcess(raw, cfg.PostProcess)
		if err != nil {
			return nil, err
		}
		return &Result{Raw: raw, SelectorUsed: cfg.Selector, Schema: meta}, nil
	}

	if raw, meta, ok := queryMetaTags(doc, cfg.Selector); ok {
		meta.Fingerprint = fingerprint
		raw, err = postProcess(raw, cfg.PostProcess)
		if err != nil {
			return nil, err
		}
		return &Result{Raw: raw, SelectorUsed: cfg.Selector, Schema: meta}, nil
	}

	return nil, ErrSchemaNotFound
}

// jsonLDBlocks parses every application/ld+json script, flattening top-level
// arrays and @graph containers into individual blocks.
func jsonLDBlocks(doc *goquery.Document) []map[string]any {
	var blocks []map[string]any
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var decoded any
		if err := json.Unmarshal([]byte(s.Text()), &decoded); err != nil {
			return
		}
		for _, b := range flattenJSONLD(decoded) {
			blocks = append(blocks, b)
		}
	})
	return blocks
}

func flattenJSONLD(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		if graph, ok := t["@graph"].([]any); ok {
			var out []map[string]any
			for _, g := range graph {
				out = append(out, flattenJSONLD(g)...)
			}
			return out
		}
		return []map[string]any{t}
	case []any:
		var out []map[string]any
		for _, e := range t {
			out = append(out, flattenJSONLD(e)...)
		}
		return out
	default:
		return nil
	}
}

// queryJSONLD evaluates the JMESPath expression against each block in
// document order; the first non-nil result wins and the winning block is
// scanned for price/availability context.
func queryJSONLD(blocks []map[string]any, expr string) (string, *SchemaMeta, bool) {
	if _, err := jmespath.Compile(expr); err != nil {
		return "", nil, false
	}

	for _, block := range blocks {
		v, err := jmespath.Search(expr, block)
		if err != nil || v == nil {
			continue
		}
		raw := stringifySchemaValue(v)
		if raw == "" {
			continue
		}
		meta := &SchemaMeta{Source: SchemaSourceJSONLD}
		fillPriceContext(block, raw, meta)
		return raw, meta, true
	}
	return "", nil, false
}

func stringifySchemaValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		if len(t) > 0 {
			return stringifySchemaValue(t[0])
		}
	}
	return ""
}

// fillPriceContext scans a JSON-LD block for offer metadata around the
// extracted value.
func fillPriceContext(block map[string]any, raw string, meta *SchemaMeta) {
	walkJSONLD(block, func(m map[string]any) {
		if c, ok := m["priceCurrency"].(string); ok && meta.Currency == "" {
			meta.Currency = c
		}
		if a, ok := m["availability"].(string); ok && meta.AvailabilityURL == "" {
			meta.AvailabilityURL = a
		}
		if low, ok := numericField(m, "lowPrice"); ok && meta.PriceLow == nil {
			meta.PriceLow = &low
		}
		if high, ok := numericField(m, "highPrice"); ok && meta.PriceHigh == nil {
			meta.PriceHigh = &high
		}
	})

	if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		cents := int64(math.Round(v * 100))
		meta.Cents = &cents
	}
}

func numericField(m map[string]any, key string) (float64, bool) {
	switch t := m[key].(type) {
	case float64:
		return t, true
	case string:
		if v, err := strconv.ParseFloat(t, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func walkJSONLD(v any, fn func(map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		fn(t)
		for _, child := range t {
			walkJSONLD(child, fn)
		}
	case []any:
		for _, child := range t {
			walkJSONLD(child, fn)
		}
	}
}

// metaPriceProperties are the meta-tag names consulted for price-like
// selectors, in precedence order.
var metaPriceProperties = []string{
	"og:price:amount",
	"product:price:amount",
	"price",
}

var metaCurrencyProperties = []string{
	"og:price:currency",
	"product:price:currency",
	"priceCurrency",
}

// queryMetaTags falls back to OpenGraph/microdata meta tags. Price-like
// selectors consult the well-known price properties; anything else is looked
// up verbatim as a property/name/itemprop.
func queryMetaTags(doc *goquery.Document, selector string) (string, *SchemaMeta, bool) {
	var candidates []string
	if strings.Contains(strings.ToLower(selector), "price") {
		candidates = metaPriceProperties
	}
	candidates = append(candidates, selector)

	for _, prop := range candidates {
		content, ok := metaContent(doc, prop)
		if !ok {
			continue
		}
		meta := &SchemaMeta{Source: SchemaSourceMeta}
		for _, cp := range metaCurrencyProperties {
			if c, ok := metaContent(doc, cp); ok {
				meta.Currency = c
				break
			}
		}
		if v, err := strconv.ParseFloat(strings.TrimSpace(content), 64); err == nil {
			cents := int64(math.Round(v * 100))
			meta.Cents = &cents
		}
		return content, meta, true
	}
	return "", nil, false
}

func metaContent(doc *goquery.Document, property string) (string, bool) {
	sel := fmt.Sprintf(`meta[property=%q], meta[name=%q], meta[itemprop=%q]`, property, property, property)
	var content string
	doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		content, _ = s.Attr("content")
		return content == ""
	})
	if strings.TrimSpace(content) == "" {
		return "", false
	}
	return strings.TrimSpace(content), true
}

// schemaFingerprint hashes the key structure of every JSON-LD block into a
// stable shape hash. Values are excluded so only structural drift changes the
// hash.
func schemaFingerprint(blocks []map[string]any, opts Options) *model.SchemaFingerprint {
	paths := make([]string, 0, 32)
	for i, block := range blocks {
		collectKeyPaths(block, fmt.Sprintf("%d", i), &paths)
	}
	sort.Strings(paths)

	h := sha256.Sum256([]byte(strings.Join(paths, "\n")))
	return &model.SchemaFingerprint{
		BlockCount: len(blocks),
		ShapeHash:  hex.EncodeToString(h[:])[:16],
		CapturedAt: opts.now(),
	}
}

func collectKeyPaths(v any, prefix string, paths *[]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := prefix + "." + k
			*paths = append(*paths, p)
			collectKeyPaths(child, p, paths)
		}
	case []any:
		for _, child := range t {
			collectKeyPaths(child, prefix+"[]", paths)
		}
	}
}
