package fetch

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// blockPattern pairs a compiled body pattern with its classification and the
// signal name recorded on the attempt.
type blockPattern struct {
	re     *regexp.Regexp
	kind   model.BlockKind
	signal string
}

// Compiled once at init. Order matters: the first match wins, so the most
// specific vendors come before generic captcha and access-denied text.
var blockPatterns = []blockPattern{
	{regexp.MustCompile(`(?i)checking your browser`), model.BlockKindCloudflare, "cloudflare_challenge_text"},
	{regexp.MustCompile(`(?i)cf-browser-verification|cf_chl_|challenge-platform`), model.BlockKindCloudflare, "cloudflare_challenge_markup"},
	{regexp.MustCompile(`(?i)attention required!\s*\|\s*cloudflare`), model.BlockKindCloudflare, "cloudflare_attention_required"},
	{regexp.MustCompile(`(?i)geo\.captcha-delivery\.com`), model.BlockKindDataDome, "datadome_captcha_url"},
	{regexp.MustCompile(`(?i)datadome`), model.BlockKindDataDome, "datadome_text"},
	{regexp.MustCompile(`(?i)recaptcha|hcaptcha|g-recaptcha`), model.BlockKindCaptcha, "captcha_widget"},
	{regexp.MustCompile(`(?i)please (complete|solve) the (security check|captcha)`), model.BlockKindCaptcha, "captcha_prompt"},
	{regexp.MustCompile(`(?i)access denied`), model.BlockKindGeneric, "access_denied_text"},
	{regexp.MustCompile(`(?i)unusual traffic from your (computer )?network`), model.BlockKindGeneric, "unusual_traffic_text"},
}

// bodyScanLimit bounds how much of the body the patterns scan. Challenges
// live near the top of the document.
const bodyScanLimit = 64 * 1024

// DetectBlock classifies an anti-bot block from the HTTP status, response
// headers, and body. Returns the block kind, the matched signals, and whether
// a block was detected at all.
func DetectBlock(status int, headers map[string]string, body []byte) (model.BlockKind, []string, bool) {
	var signals []string
	kind := model.BlockKind("")

	// DataDome announces itself in headers before the body does.
	for name, value := range headers {
		lower := strings.ToLower(name)
		if lower == "x-datadome" || (lower == "server" && strings.EqualFold(value, "DataDome")) {
			kind = model.BlockKindDataDome
			signals = append(signals, "datadome_header")
			break
		}
		if lower == "set-cookie" && strings.Contains(strings.ToLower(value), "datadome") {
			kind = model.BlockKindDataDome
			signals = append(signals, "datadome_cookie")
			break
		}
	}

	scan := body
	if len(scan) > bodyScanLimit {
		scan = scan[:bodyScanLimit]
	}
	for _, p := range blockPatterns {
		if p.re.Match(scan) {
			signals = append(signals, p.signal)
			if kind == "" {
				kind = p.kind
			}
		}
	}

	switch status {
	case http.StatusTooManyRequests:
		signals = append(signals, "http_429")
		if kind == "" {
			kind = model.BlockKindRateLimit
		}
	case http.StatusForbidden:
		signals = append(signals, "http_403")
		if kind == "" {
			kind = model.BlockKindGeneric
		}
	case http.StatusServiceUnavailable:
		// 503 alone is not a block; only flag it when a challenge matched.
		if kind != "" {
			signals = append(signals, "http_503")
		}
	case 451:
		signals = append(signals, "http_451")
		if kind == "" {
			kind = model.BlockKindGeo
		}
	}

	return kind, signals, kind != ""
}

// BlockErrorCode maps a block kind to its run error code.
func BlockErrorCode(kind model.BlockKind) model.RunErrorCode {
	switch kind {
	case model.BlockKindCloudflare:
		return model.ErrCloudflareBlock
	case model.BlockKindDataDome:
		return model.ErrDataDomeBlock
	case model.BlockKindCaptcha:
		return model.ErrBlockCaptchaSuspected
	case model.BlockKindRateLimit:
		return model.ErrRateLimitBlock
	case model.BlockKindGeo:
		return model.ErrGeoBlock
	default:
		return model.ErrBotDetection
	}
}
