package extract

import "strings"

// SelectorSimilarity computes Jaccard similarity between two CSS-style
// selectors over their token sets. Tokens are tag names, .classes, #ids, and
// [attr...] parts; combinators are ignored.
func SelectorSimilarity(a, b string) float64 {
	ta := selectorTokens(a)
	tb := selectorTokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1
	}
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	return float64(intersection) / float64(union)
}

// selectorTokens splits a selector into its simple-selector parts. Each
// compound selector contributes its tag, every .class, every #id, and every
// [attribute] expression as separate tokens.
func selectorTokens(selector string) map[string]struct{} {
	tokens := make(map[string]struct{})

	for _, part := range strings.FieldsFunc(selector, isCombinator) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		for _, tok := range splitCompound(part) {
			if tok != "" {
				tokens[strings.ToLower(tok)] = struct{}{}
			}
		}
	}
	return tokens
}

func isCombinator(r rune) bool {
	return r == ' ' || r == '>' || r == '+' || r == '~' || r == ','
}

// splitCompound breaks "div.price[data-x=1]#main" into
// ["div", ".price", "[data-x=1]", "#main"].
func splitCompound(s string) []string {
	var parts []string
	var cur strings.Builder
	inAttr := false

	flush := func() {
		if cur.Len() > 0 {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case r == '[':
			flush()
			inAttr = true
			cur.WriteRune(r)
		case r == ']':
			cur.WriteRune(r)
			flush()
			inAttr = false
		case !inAttr && (r == '.' || r == '#' || r == ':'):
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return parts
}
