package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

const productPage = `<!DOCTYPE html>
<html><head><title>Widget</title></head>
<body>
  <div class="product">
    <h1 id="product-name">Deluxe Widget</h1>
    <span class="product-price" data-amount="19.95">19.95 EUR</span>
    <span class="stock-label">In Stock</span>
  </div>
  <ul class="related">
    <li class="product-price">9.99 EUR</li>
  </ul>
</body></html>`

func fixedOpts() Options {
	return Options{Now: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func TestExtractCSS(t *testing.T) {
	t.Parallel()

	t.Run("text content", func(t *testing.T) {
		t.Parallel()

		res, err := Extract([]byte(productPage), model.ExtractionConfig{
			Method:   model.ExtractCSS,
			Selector: ".product .product-price",
		}, nil, fixedOpts())
		require.NoError(t, err)
		assert.Equal(t, "19.95 EUR", res.Raw)
		assert.Equal(t, ".product .product-price", res.SelectorUsed)
		assert.Nil(t, res.Healed)
		require.NotNil(t, res.Fingerprint)
		assert.Equal(t, ".product .product-price", res.Fingerprint.Selector)
		assert.Equal(t, "19.95 EUR", res.Fingerprint.TextAnchor)
	})

	t.Run("attribute", func(t *testing.T) {
		t.Parallel()

		res, err := Extract([]byte(productPage), model.ExtractionConfig{
			Method:    model.ExtractCSS,
			Selector:  ".product-price",
			Attribute: "data-amount",
		}, nil, fixedOpts())
		require.NoError(t, err)
		assert.Equal(t, "19.95", res.Raw)
	})

	t.Run("extract all", func(t *testing.T) {
		t.Parallel()

		res, err := Extract([]byte(productPage), model.ExtractionConfig{
			Method:     model.ExtractCSS,
			Selector:   ".product-price",
			ExtractAll: true,
		}, nil, fixedOpts())
		require.NoError(t, err)
		assert.Equal(t, []string{"19.95 EUR", "9.99 EUR"}, res.Values)
	})

	t.Run("missing selector", func(t *testing.T) {
		t.Parallel()

		_, err := Extract([]byte(productPage), model.ExtractionConfig{
			Method:   model.ExtractCSS,
			Selector: ".does-not-exist",
		}, nil, fixedOpts())
		assert.ErrorIs(t, err, ErrSelectorNotFound)
	})
}

func TestExtractXPath(t *testing.T) {
	t.Parallel()

	res, err := Extract([]byte(productPage), model.ExtractionConfig{
		Method:   model.ExtractXPath,
		Selector: `//span[@class="product-price"]`,
	}, nil, fixedOpts())
	require.NoError(t, err)
	assert.Equal(t, "19.95 EUR", res.Raw)

	res, err = Extract([]byte(productPage), model.ExtractionConfig{
		Method:    model.ExtractXPath,
		Selector:  `//span[@class="product-price"]`,
		Attribute: "data-amount",
	}, nil, fixedOpts())
	require.NoError(t, err)
	assert.Equal(t, "19.95", res.Raw)
}

func TestExtractRegex(t *testing.T) {
	t.Parallel()

	res, err := Extract([]byte(productPage), model.ExtractionConfig{
		Method:   model.ExtractRegex,
		Selector: `data-amount="([\d.]+)"`,
	}, nil, fixedOpts())
	require.NoError(t, err)
	assert.Equal(t, "19.95", res.Raw)

	_, err = Extract([]byte(productPage), model.ExtractionConfig{
		Method:   model.ExtractRegex,
		Selector: `no-such-token-(\d+)`,
	}, nil, fixedOpts())
	assert.ErrorIs(t, err, ErrSelectorNotFound)
}

func TestPostProcess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps []model.PostProcessStep
		want  string
	}{
		{
			name:  "trim and lowercase",
			steps: []model.PostProcessStep{{Kind: "trim"}, {Kind: "lowercase"}},
			want:  "19.95 eur",
		},
		{
			name:  "replace",
			steps: []model.PostProcessStep{{Kind: "replace", Pattern: `\s*EUR`, Replacement: ""}},
			want:  "19.95",
		},
		{
			name:  "extract number",
			steps: []model.PostProcessStep{{Kind: "extract_number"}},
			want:  "19.95",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := Extract([]byte(productPage), model.ExtractionConfig{
				Method:      model.ExtractCSS,
				Selector:    ".product .product-price",
				PostProcess: tt.steps,
			}, nil, fixedOpts())
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Raw)
		})
	}

	t.Run("unknown step", func(t *testing.T) {
		t.Parallel()

		_, err := Extract([]byte(productPage), model.ExtractionConfig{
			Method:      model.ExtractCSS,
			Selector:    ".product .product-price",
			PostProcess: []model.PostProcessStep{{Kind: "explode"}},
		}, nil, fixedOpts())
		assert.Error(t, err)
	})
}

func TestExtractHealing(t *testing.T) {
	t.Parallel()

	t.Run("configured fallback heals", func(t *testing.T) {
		t.Parallel()

		res, err := Extract([]byte(productPage), model.ExtractionConfig{
			Method:            model.ExtractCSS,
			Selector:          ".price-current",
			FallbackSelectors: []string{".product .product-price"},
		}, nil, fixedOpts())
		require.NoError(t, err)
		assert.Equal(t, "19.95 EUR", res.Raw)
		assert.Equal(t, ".product .product-price", res.SelectorUsed)
		require.NotNil(t, res.Healed)
		assert.Equal(t, ".price-current", res.Healed.From)
		assert.Equal(t, ".product .product-price", res.Healed.To)
		require.NotNil(t, res.Fingerprint)
		assert.Equal(t, ".product .product-price", res.Fingerprint.Selector)
	})

	t.Run("fingerprint alternative gated by similarity", func(t *testing.T) {
		t.Parallel()

		fp := &model.SelectorFingerprint{
			Selector:             ".price-current",
			AlternativeSelectors: []string{".product .product-price"},
		}
		// Disjoint token sets score 0, below any threshold.
		_, err := Extract([]byte(productPage), model.ExtractionConfig{
			Method:   model.ExtractCSS,
			Selector: ".price-current",
		}, fp, fixedOpts())
		assert.ErrorIs(t, err, ErrSelectorNotFound)

		// A similar alternative passes the gate.
		fp = &model.SelectorFingerprint{
			Selector:             ".product .price-current",
			AlternativeSelectors: []string{".product .product-price"},
		}
		res, err := Extract([]byte(productPage), model.ExtractionConfig{
			Method:   model.ExtractCSS,
			Selector: ".product .price-current",
		}, fp, Options{SimilarityThreshold: 0.30, Now: fixedOpts().Now})
		require.NoError(t, err)
		require.NotNil(t, res.Healed)
		assert.Equal(t, ".product .product-price", res.SelectorUsed)
	})

	t.Run("anchor mismatch forces fallback", func(t *testing.T) {
		t.Parallel()

		fp := &model.SelectorFingerprint{
			Selector:   "#product-name",
			TextAnchor: "Completely Different Product",
		}
		_, err := Extract([]byte(productPage), model.ExtractionConfig{
			Method:   model.ExtractCSS,
			Selector: "#product-name",
		}, fp, fixedOpts())
		assert.ErrorIs(t, err, ErrSelectorNotFound)
	})

	t.Run("anchor match passes", func(t *testing.T) {
		t.Parallel()

		fp := &model.SelectorFingerprint{
			Selector:   "#product-name",
			TextAnchor: "deluxe WIDGET",
		}
		res, err := Extract([]byte(productPage), model.ExtractionConfig{
			Method:   model.ExtractCSS,
			Selector: "#product-name",
		}, fp, fixedOpts())
		require.NoError(t, err)
		assert.Equal(t, "Deluxe Widget", res.Raw)
		assert.Nil(t, res.Healed)
	})
}

func TestSelectorSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{name: "identical", a: "div.price", b: "div.price", want: 1},
		{name: "disjoint classes", a: ".price-current", b: ".product-price", want: 0},
		{name: "shared context", a: ".product .price-current", b: ".product .product-price", want: 1.0 / 3.0},
		{name: "tag with attr", a: `span[data-amount]`, b: `span[data-amount].sale`, want: 2.0 / 3.0},
		{name: "case insensitive tags", a: "DIV.price", b: "div.price", want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.InDelta(t, tt.want, SelectorSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestBuildFingerprint(t *testing.T) {
	t.Parallel()

	now := fixedOpts().Now
	fp := BuildFingerprint(".price", "19.95 EUR", model.ExtractionConfig{
		Attribute:         "data-amount",
		FallbackSelectors: []string{".price", ".product-price", ""},
	}, now)

	assert.Equal(t, ".price", fp.Selector)
	assert.Equal(t, "19.95 EUR", fp.TextAnchor)
	assert.Equal(t, []string{"data-amount"}, fp.AttributeNames)
	// Self and empty entries are dropped.
	assert.Equal(t, []string{".product-price"}, fp.AlternativeSelectors)
	assert.Equal(t, now, fp.CapturedAt)
}

func TestMergeFingerprint(t *testing.T) {
	t.Parallel()

	history := []model.HealEvent{{From: ".a", To: ".b", Similarity: 0.8}}
	prev := &model.SelectorFingerprint{Selector: ".a", HealingHistory: history}
	next := &model.SelectorFingerprint{Selector: ".b"}

	merged := MergeFingerprint(prev, next)
	assert.Equal(t, ".b", merged.Selector)
	assert.Equal(t, history, merged.HealingHistory)

	assert.Equal(t, prev, MergeFingerprint(prev, nil))
}

func TestValidateSelector(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		method   model.ExtractionMethod
		selector string
		wantErr  bool
	}{
		{name: "valid xpath", method: model.ExtractXPath, selector: `//span[@class="price"]/text()`},
		{name: "broken xpath", method: model.ExtractXPath, selector: `//span[@class=`, wantErr: true},
		{name: "valid regex", method: model.ExtractRegex, selector: `price:\s*(\d+)`},
		{name: "broken regex", method: model.ExtractRegex, selector: `price: (\d`, wantErr: true},
		{name: "css is not statically checked", method: model.ExtractCSS, selector: ":::"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateSelector(tt.method, tt.selector)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
