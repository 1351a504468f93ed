package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

func TestDetectBlock(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		want    model.BlockKind
		blocked bool
		signal  string
	}{
		{
			name:    "clean page",
			status:  200,
			body:    "<html><body>Deluxe Widget 19.95</body></html>",
			blocked: false,
		},
		{
			name:    "cloudflare challenge text",
			status:  503,
			body:    "<html>Checking your browser before accessing shop.example</html>",
			want:    model.BlockKindCloudflare,
			blocked: true,
			signal:  "cloudflare_challenge_text",
		},
		{
			name:    "cloudflare challenge markup",
			status:  403,
			body:    `<div id="cf-browser-verification"></div>`,
			want:    model.BlockKindCloudflare,
			blocked: true,
			signal:  "cloudflare_challenge_markup",
		},
		{
			name:    "datadome header",
			status:  403,
			headers: map[string]string{"X-DataDome": "protected"},
			body:    "<html>denied</html>",
			want:    model.BlockKindDataDome,
			blocked: true,
			signal:  "datadome_header",
		},
		{
			name:    "datadome server header",
			status:  403,
			headers: map[string]string{"Server": "DataDome"},
			want:    model.BlockKindDataDome,
			blocked: true,
			signal:  "datadome_header",
		},
		{
			name:    "datadome cookie",
			status:  200,
			headers: map[string]string{"Set-Cookie": "datadome=abc123; Path=/"},
			want:    model.BlockKindDataDome,
			blocked: true,
			signal:  "datadome_cookie",
		},
		{
			name:    "datadome captcha url",
			status:  403,
			body:    `<script src="https://geo.captcha-delivery.com/captcha/"></script>`,
			want:    model.BlockKindDataDome,
			blocked: true,
			signal:  "datadome_captcha_url",
		},
		{
			name:    "captcha widget",
			status:  200,
			body:    `<div class="g-recaptcha" data-sitekey="x"></div>`,
			want:    model.BlockKindCaptcha,
			blocked: true,
			signal:  "captcha_widget",
		},
		{
			name:    "rate limited status",
			status:  429,
			body:    "slow down",
			want:    model.BlockKindRateLimit,
			blocked: true,
			signal:  "http_429",
		},
		{
			name:    "forbidden without challenge",
			status:  403,
			body:    "<html>nope</html>",
			want:    model.BlockKindGeneric,
			blocked: true,
			signal:  "http_403",
		},
		{
			name:    "plain 503 is not a block",
			status:  503,
			body:    "<html>scheduled maintenance</html>",
			blocked: false,
		},
		{
			name:    "legal geo block",
			status:  451,
			body:    "<html>unavailable for legal reasons</html>",
			want:    model.BlockKindGeo,
			blocked: true,
			signal:  "http_451",
		},
		{
			name:    "access denied text",
			status:  200,
			body:    "<html><h1>Access Denied</h1></html>",
			want:    model.BlockKindGeneric,
			blocked: true,
			signal:  "access_denied_text",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			kind, signals, blocked := DetectBlock(tc.status, tc.headers, []byte(tc.body))
			assert.Equal(t, tc.blocked, blocked)
			if tc.blocked {
				assert.Equal(t, tc.want, kind)
				assert.Contains(t, signals, tc.signal)
			}
		})
	}
}

func TestDetectBlockHeaderBeatsBody(t *testing.T) {
	t.Parallel()

	// A DataDome header wins even when the body also matches a captcha pattern.
	kind, signals, blocked := DetectBlock(403,
		map[string]string{"X-DataDome": "protected"},
		[]byte(`<div class="g-recaptcha"></div>`))

	assert.True(t, blocked)
	assert.Equal(t, model.BlockKindDataDome, kind)
	assert.Contains(t, signals, "datadome_header")
	assert.Contains(t, signals, "captcha_widget")
}

func TestBlockErrorCode(t *testing.T) {
	t.Parallel()

	cases := map[model.BlockKind]model.RunErrorCode{
		model.BlockKindCloudflare: model.ErrCloudflareBlock,
		model.BlockKindDataDome:   model.ErrDataDomeBlock,
		model.BlockKindCaptcha:    model.ErrBlockCaptchaSuspected,
		model.BlockKindRateLimit:  model.ErrRateLimitBlock,
		model.BlockKindGeo:        model.ErrGeoBlock,
		model.BlockKindGeneric:    model.ErrBotDetection,
	}
	for kind, want := range cases {
		assert.Equal(t, want, BlockErrorCode(kind), "kind %s", kind)
	}
}
