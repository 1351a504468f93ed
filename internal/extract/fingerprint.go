package extract

import (
	"time"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// BuildFingerprint captures the shape of a working selector so future runs
// can validate the extracted value and heal after markup changes. The text
// anchor is a bounded prefix of the extracted value; alternatives carry the
// configured fallbacks so healing can outlive config edits.
func BuildFingerprint(selector, value string, cfg model.ExtractionConfig, now time.Time) *model.SelectorFingerprint {
	anchor := value
	if len(anchor) > anchorStoreLength {
		anchor = anchor[:anchorStoreLength]
	}

	var attrNames []string
	if cfg.Attribute != "" {
		attrNames = []string{cfg.Attribute}
	}

	var alternatives []string
	for _, alt := range cfg.FallbackSelectors {
		if alt != "" && alt != selector {
			alternatives = append(alternatives, alt)
		}
	}

	return &model.SelectorFingerprint{
		Selector:             selector,
		TextAnchor:           anchor,
		AttributeNames:       attrNames,
		AlternativeSelectors: alternatives,
		CapturedAt:           now,
	}
}

// MergeFingerprint carries the healing history of the previous fingerprint
// into a freshly built one.
func MergeFingerprint(prev, next *model.SelectorFingerprint) *model.SelectorFingerprint {
	if next == nil {
		return prev
	}
	if prev != nil && len(prev.HealingHistory) > 0 {
		next.HealingHistory = prev.HealingHistory
	}
	return next
}
