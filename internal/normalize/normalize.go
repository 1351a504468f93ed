// Package normalize converts raw extracted strings into typed, comparable
// values. Dispatch is by rule type; parse failures are hard errors carrying
// the PARSE_ERROR run code.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/language"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// ErrParse marks unparseable input. Callers map it to the PARSE_ERROR run
// code.
var ErrParse = errors.New("normalize: parse error")

// DefaultScale is the rounding scale for prices when the config leaves it
// unset.
const DefaultScale = 2

// DefaultMaxSnippetLength bounds normalized text snippets.
const DefaultMaxSnippetLength = 500

// localeSeparators maps a canonical language tag to its decimal and thousand
// separators. Locales not listed fall back to en-US conventions.
type localeSeparators struct {
	decimal   string
	thousands []string
}

var localeTable = map[string]localeSeparators{
	"sk-SK": {decimal: ",", thousands: []string{" ", "\u00a0"}},
	"cs-CZ": {decimal: ",", thousands: []string{" ", "\u00a0"}},
	"de-DE": {decimal: ",", thousands: []string{"."}},
	"fr-FR": {decimal: ",", thousands: []string{" ", "\u00a0"}},
	"en-US": {decimal: ".", thousands: []string{","}},
	"en-GB": {decimal: ".", thousands: []string{","}},
}

var defaultSeparators = localeSeparators{decimal: ".", thousands: []string{","}}

// separatorsFor resolves separators for a locale tag, honoring explicit
// config overrides first.
func separatorsFor(cfg model.NormalizationConfig) localeSeparators {
	sep := defaultSeparators
	if cfg.Locale != "" {
		if tag, err := language.Parse(cfg.Locale); err == nil {
			if s, ok := localeTable[tag.String()]; ok {
				sep = s
			}
		}
	}
	if cfg.DecimalSeparator != "" {
		sep.decimal = cfg.DecimalSeparator
	}
	if len(cfg.ThousandSeparators) > 0 {
		sep.thousands = cfg.ThousandSeparators
	}
	return sep
}

// currencyTokens are symbols and codes stripped from price strings before
// numeric parsing. Mapped to ISO codes where unambiguous.
var currencyTokens = map[string]string{
	"€":   "EUR",
	"$":   "USD",
	"£":   "GBP",
	"zł":  "PLN",
	"Kč":  "CZK",
	"kr":  "SEK",
	"EUR": "EUR",
	"USD": "USD",
	"GBP": "GBP",
	"PLN": "PLN",
	"CZK": "CZK",
}

// Normalize dispatches on rule type.
func Normalize(ruleType model.RuleType, raw string, cfg model.NormalizationConfig) (*model.NormalizedValue, error) {
	switch ruleType {
	case model.RuleTypePrice:
		return Price(raw, cfg)
	case model.RuleTypeNumber:
		return Number(raw, cfg)
	case model.RuleTypeText:
		return Text(raw, cfg), nil
	case model.RuleTypeAvailability:
		return Availability(raw, cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported rule type %q", ErrParse, ruleType)
	}
}

// Price strips currency tokens and whitespace, resolves separators from the
// locale or explicit config, and rounds to the configured scale.
func Price(raw string, cfg model.NormalizationConfig) (*model.NormalizedValue, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: empty price", ErrParse)
	}

	currency := cfg.Currency
	for token, code := range currencyTokens {
		if strings.Contains(s, token) {
			s = strings.ReplaceAll(s, token, "")
			if currency == "" {
				currency = code
			}
		}
	}

	value, err := parseDecimal(s, separatorsFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: price %q: %v", ErrParse, raw, err)
	}

	scale := DefaultScale
	if cfg.Scale != nil {
		scale = *cfg.Scale
	}
	value = roundTo(value, scale)

	return &model.NormalizedValue{
		Kind:  model.ValueKindPrice,
		Price: &model.PriceValue{Value: value, Currency: currency},
	}, nil
}

// PriceFromCents builds a price value from schema metadata where the exact
// minor-unit amount is known. Cents take precedence in equality checks.
func PriceFromCents(cents int64, currency string) *model.NormalizedValue {
	c := cents
	return &model.NormalizedValue{
		Kind: model.ValueKindPrice,
		Price: &model.PriceValue{
			Value:    float64(cents) / 100,
			Currency: currency,
			Cents:    &c,
		},
	}
}

// Number removes thousand separators, applies the decimal swap, parses, and
// multiplies by scale when set.
func Number(raw string, cfg model.NormalizationConfig) (*model.NormalizedValue, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("%w: empty number", ErrParse)
	}

	value, err := parseDecimal(s, separatorsFor(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: number %q: %v", ErrParse, raw, err)
	}
	if cfg.Scale != nil && *cfg.Scale != 0 {
		value *= float64(*cfg.Scale)
	}

	return &model.NormalizedValue{Kind: model.ValueKindNumber, Number: &value}, nil
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Text optionally collapses whitespace, truncates to the snippet bound, and
// hashes with 32-bit djb2 for stable equality.
func Text(raw string, cfg model.NormalizationConfig) *model.NormalizedValue {
	s := strings.TrimSpace(raw)
	if cfg.CollapseWhitespace {
		s = whitespaceRun.ReplaceAllString(s, " ")
	}
	maxLen := cfg.MaxSnippetLength
	if maxLen <= 0 {
		maxLen = DefaultMaxSnippetLength
	}
	if len(s) > maxLen {
		// Back up to a rune boundary so the persisted snippet stays valid
		// UTF-8.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return &model.NormalizedValue{
		Kind: model.ValueKindText,
		Text: &model.TextValue{Snippet: s, Hash: djb2(s)},
	}
}

// defaultAvailabilityKeywords back the configured lists when they are empty.
var (
	defaultInStock    = []string{"in stock", "available", "skladom", "auf lager", "dostupné"}
	defaultOutOfStock = []string{"out of stock", "sold out", "unavailable", "vypredané", "ausverkauft", "nedostupné"}
	defaultPreorder   = []string{"preorder", "pre-order", "predobjednávka", "vorbestellung"}
	defaultLimited    = []string{"limited", "last pieces", "low stock", "posledné kusy"}
)

// Availability maps raw text to a stock status via keyword lists. First match
// wins in order out-of-stock, preorder, limited, in-stock so negations like
// "out of stock" never match the in-stock list.
func Availability(raw string, cfg model.NormalizationConfig) *model.NormalizedValue {
	s := strings.ToLower(strings.TrimSpace(raw))

	status := model.AvailabilityUnknown
	switch {
	case matchesAny(s, cfg.OutOfStockKeywords, defaultOutOfStock):
		status = model.AvailabilityOutOfStock
	case matchesAny(s, cfg.PreorderKeywords, defaultPreorder):
		status = model.AvailabilityPreorder
	case matchesAny(s, cfg.LimitedKeywords, defaultLimited):
		status = model.AvailabilityLimited
	case matchesAny(s, cfg.InStockKeywords, defaultInStock):
		status = model.AvailabilityInStock
	}

	return &model.NormalizedValue{
		Kind:         model.ValueKindAvailability,
		Availability: &model.AvailabilityValue{Status: status},
	}
}

func matchesAny(s string, configured, defaults []string) bool {
	keywords := configured
	if len(keywords) == 0 {
		keywords = defaults
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// parseDecimal strips thousand separators and whitespace, swaps the decimal
// separator to a dot, and parses the remainder as a float.
func parseDecimal(s string, sep localeSeparators) (float64, error) {
	for _, t := range sep.thousands {
		if t != "" && t != sep.decimal {
			s = strings.ReplaceAll(s, t, "")
		}
	}
	// NBSP and regular spaces never carry meaning inside a number.
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.ReplaceAll(s, " ", "")
	if sep.decimal != "." {
		s = strings.ReplaceAll(s, sep.decimal, ".")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("no digits")
	}
	return strconv.ParseFloat(s, 64)
}

func roundTo(v float64, scale int) float64 {
	if scale < 0 {
		scale = 0
	}
	f, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', scale, 64), 64)
	if err != nil {
		return v
	}
	return f
}

// djb2 computes the 32-bit djb2 hash used for text equality.
func djb2(s string) uint32 {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = h*33 + uint32(s[i])
	}
	return h
}
