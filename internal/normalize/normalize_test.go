package normalize

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

func TestPrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		raw          string
		cfg          model.NormalizationConfig
		wantValue    float64
		wantCurrency string
		wantErr      bool
	}{
		{
			name:         "slovak euro with nbsp thousands",
			raw:          "1 299,99 €",
			cfg:          model.NormalizationConfig{Locale: "sk-SK"},
			wantValue:    1299.99,
			wantCurrency: "EUR",
		},
		{
			name:         "german euro with dot thousands",
			raw:          "1.299,99 €",
			cfg:          model.NormalizationConfig{Locale: "de-DE"},
			wantValue:    1299.99,
			wantCurrency: "EUR",
		},
		{
			name:         "us dollars",
			raw:          "$1,299.99",
			cfg:          model.NormalizationConfig{Locale: "en-US"},
			wantValue:    1299.99,
			wantCurrency: "USD",
		},
		{
			name:         "simple slovak price",
			raw:          "29,99 €",
			cfg:          model.NormalizationConfig{Locale: "sk-SK"},
			wantValue:    29.99,
			wantCurrency: "EUR",
		},
		{
			name:         "explicit separators override locale",
			raw:          "12'345.60",
			cfg:          model.NormalizationConfig{Locale: "de-DE", DecimalSeparator: ".", ThousandSeparators: []string{"'"}},
			wantValue:    12345.6,
			wantCurrency: "",
		},
		{
			name:         "config currency wins over symbol",
			raw:          "99.50 €",
			cfg:          model.NormalizationConfig{Currency: "CZK"},
			wantValue:    99.5,
			wantCurrency: "CZK",
		},
		{
			name:      "scale rounding",
			raw:       "19.999",
			cfg:       model.NormalizationConfig{},
			wantValue: 20.00,
		},
		{
			name:    "empty input",
			raw:     "   ",
			cfg:     model.NormalizationConfig{},
			wantErr: true,
		},
		{
			name:    "no digits",
			raw:     "call for price",
			cfg:     model.NormalizationConfig{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Price(tt.raw, tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrParse)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got.Price)
			assert.Equal(t, model.ValueKindPrice, got.Kind)
			assert.InDelta(t, tt.wantValue, got.Price.Value, 1e-9)
			assert.Equal(t, tt.wantCurrency, got.Price.Currency)
		})
	}
}

func TestPriceRoundTrip(t *testing.T) {
	t.Parallel()

	// Formatted-then-parsed prices must return the original value for the
	// supported locales.
	tests := []struct {
		locale    string
		formatted string
		want      float64
	}{
		{"sk-SK", "1 234,56 €", 1234.56},
		{"de-DE", "1.234,56 €", 1234.56},
		{"en-US", "$1,234.56", 1234.56},
	}

	for _, tt := range tests {
		t.Run(tt.locale, func(t *testing.T) {
			t.Parallel()

			got, err := Price(tt.formatted, model.NormalizationConfig{Locale: tt.locale})
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got.Price.Value, 0.01)
		})
	}
}

func TestPriceFromCents(t *testing.T) {
	t.Parallel()

	got := PriceFromCents(2999, "EUR")
	require.NotNil(t, got.Price)
	assert.InDelta(t, 29.99, got.Price.Value, 1e-9)
	assert.Equal(t, "EUR", got.Price.Currency)
	require.NotNil(t, got.Price.Cents)
	assert.Equal(t, int64(2999), *got.Price.Cents)

	other := PriceFromCents(2999, "EUR")
	assert.True(t, got.Equal(other))
}

func TestNumber(t *testing.T) {
	t.Parallel()

	scale := 100
	tests := []struct {
		name    string
		raw     string
		cfg     model.NormalizationConfig
		want    float64
		wantErr bool
	}{
		{name: "plain integer", raw: "42", want: 42},
		{name: "us thousands", raw: "1,234", cfg: model.NormalizationConfig{Locale: "en-US"}, want: 1234},
		{name: "german decimal", raw: "3,14", cfg: model.NormalizationConfig{Locale: "de-DE"}, want: 3.14},
		{name: "scale multiplier", raw: "0.5", cfg: model.NormalizationConfig{Scale: &scale}, want: 50},
		{name: "garbage", raw: "n/a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Number(tt.raw, tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrParse)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, got.Number)
			assert.InDelta(t, tt.want, *got.Number, 1e-9)
		})
	}
}

func TestText(t *testing.T) {
	t.Parallel()

	t.Run("collapses whitespace", func(t *testing.T) {
		t.Parallel()

		got := Text("  hello\n\t  world  ", model.NormalizationConfig{CollapseWhitespace: true})
		require.NotNil(t, got.Text)
		assert.Equal(t, "hello world", got.Text.Snippet)
		assert.NotZero(t, got.Text.Hash)
	})

	t.Run("truncates to snippet bound", func(t *testing.T) {
		t.Parallel()

		long := make([]byte, 600)
		for i := range long {
			long[i] = 'a'
		}
		got := Text(string(long), model.NormalizationConfig{})
		assert.Len(t, got.Text.Snippet, DefaultMaxSnippetLength)
	})

	t.Run("truncates on a rune boundary", func(t *testing.T) {
		t.Parallel()

		// "é" is two bytes; a 5-byte bound lands inside the second one.
		got := Text("aaéé", model.NormalizationConfig{MaxSnippetLength: 5})
		assert.Equal(t, "aaé", got.Text.Snippet)
		assert.True(t, utf8.ValidString(got.Text.Snippet))
	})

	t.Run("equal snippets hash equal", func(t *testing.T) {
		t.Parallel()

		a := Text("same content", model.NormalizationConfig{})
		b := Text("same content", model.NormalizationConfig{})
		assert.Equal(t, a.Text.Hash, b.Text.Hash)
		assert.True(t, a.Equal(b))

		c := Text("different content", model.NormalizationConfig{})
		assert.False(t, a.Equal(c))
	})
}

func TestAvailability(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		cfg  model.NormalizationConfig
		want model.AvailabilityStatus
	}{
		{name: "in stock", raw: "In Stock", want: model.AvailabilityInStock},
		{name: "out of stock beats in stock substring", raw: "Out of stock", want: model.AvailabilityOutOfStock},
		{name: "slovak sold out", raw: "Vypredané", want: model.AvailabilityOutOfStock},
		{name: "preorder", raw: "Pre-order now", want: model.AvailabilityPreorder},
		{name: "limited", raw: "Low stock - order soon", want: model.AvailabilityLimited},
		{name: "unknown", raw: "ships whenever", want: model.AvailabilityUnknown},
		{
			name: "configured keywords replace defaults",
			raw:  "na sklade",
			cfg:  model.NormalizationConfig{InStockKeywords: []string{"na sklade"}},
			want: model.AvailabilityInStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Availability(tt.raw, tt.cfg)
			require.NotNil(t, got.Availability)
			assert.Equal(t, tt.want, got.Availability.Status)
		})
	}
}

func TestNormalizeDispatch(t *testing.T) {
	t.Parallel()

	got, err := Normalize(model.RuleTypePrice, "29,99 €", model.NormalizationConfig{Locale: "sk-SK"})
	require.NoError(t, err)
	assert.Equal(t, model.ValueKindPrice, got.Kind)

	got, err = Normalize(model.RuleTypeText, "hello", model.NormalizationConfig{})
	require.NoError(t, err)
	assert.Equal(t, model.ValueKindText, got.Kind)

	_, err = Normalize(model.RuleType("bogus"), "x", model.NormalizationConfig{})
	assert.ErrorIs(t, err, ErrParse)
}
