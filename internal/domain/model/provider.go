package model

// ProviderKind identifies a fetch provider adapter. Free providers carry zero
// unit cost; paid providers have a fixed per-request cost accounted in the
// fetch-attempt ledger.
type ProviderKind string

const (
	ProviderHTTP             ProviderKind = "http"
	ProviderMobileUA         ProviderKind = "mobile_ua"
	ProviderHeadless         ProviderKind = "headless"
	ProviderFlareSolverr     ProviderKind = "flaresolverr"
	ProviderBrightData       ProviderKind = "brightdata"
	ProviderScrapingBrowser  ProviderKind = "scraping_browser"
	ProviderTwoCaptchaProxy  ProviderKind = "twocaptcha_proxy"
	ProviderTwoCaptchaDatado ProviderKind = "twocaptcha_datadome"
)

// FreeProviderOrder is the default fallback order for free providers.
func FreeProviderOrder() []ProviderKind {
	return []ProviderKind{ProviderHTTP, ProviderMobileUA, ProviderHeadless, ProviderFlareSolverr}
}

// PaidProviderOrder is the default fallback order for paid providers.
func PaidProviderOrder() []ProviderKind {
	return []ProviderKind{
		ProviderBrightData,
		ProviderScrapingBrowser,
		ProviderTwoCaptchaProxy,
		ProviderTwoCaptchaDatado,
	}
}

// Paid returns true for providers with a non-zero per-request cost.
func (p ProviderKind) Paid() bool {
	switch p {
	case ProviderBrightData, ProviderScrapingBrowser, ProviderTwoCaptchaProxy, ProviderTwoCaptchaDatado:
		return true
	default:
		return false
	}
}

// Valid returns true if the provider kind is known.
func (p ProviderKind) Valid() bool {
	switch p {
	case ProviderHTTP, ProviderMobileUA, ProviderHeadless, ProviderFlareSolverr,
		ProviderBrightData, ProviderScrapingBrowser, ProviderTwoCaptchaProxy, ProviderTwoCaptchaDatado:
		return true
	default:
		return false
	}
}

// String returns the string representation of the provider kind.
func (p ProviderKind) String() string {
	return string(p)
}

// FetchOutcome classifies the result of one provider attempt.
type FetchOutcome string

const (
	OutcomeOK                   FetchOutcome = "ok"
	OutcomeBlocked              FetchOutcome = "blocked"
	OutcomeCaptchaRequired      FetchOutcome = "captcha_required"
	OutcomeEmpty                FetchOutcome = "empty"
	OutcomeTimeout              FetchOutcome = "timeout"
	OutcomeNetworkError         FetchOutcome = "network_error"
	OutcomeProviderError        FetchOutcome = "provider_error"
	OutcomeRateLimited          FetchOutcome = "rate_limited"
	OutcomePreferredUnavailable FetchOutcome = "preferred_unavailable"
	OutcomeInterstitialGeo      FetchOutcome = "interstitial_geo"
)

// Valid returns true if the outcome is a known classification.
func (o FetchOutcome) Valid() bool {
	switch o {
	case OutcomeOK, OutcomeBlocked, OutcomeCaptchaRequired, OutcomeEmpty, OutcomeTimeout,
		OutcomeNetworkError, OutcomeProviderError, OutcomeRateLimited,
		OutcomePreferredUnavailable, OutcomeInterstitialGeo:
		return true
	default:
		return false
	}
}

// Retryable reports whether the orchestrator should advance to the next
// provider after this outcome.
func (o FetchOutcome) Retryable() bool {
	switch o {
	case OutcomeBlocked, OutcomeCaptchaRequired, OutcomeEmpty, OutcomeTimeout,
		OutcomeNetworkError, OutcomeProviderError:
		return true
	default:
		return false
	}
}

// BlockKind classifies the anti-bot mechanism detected on a blocked response.
type BlockKind string

const (
	BlockKindCloudflare BlockKind = "cloudflare"
	BlockKindDataDome   BlockKind = "datadome"
	BlockKindCaptcha    BlockKind = "captcha"
	BlockKindRateLimit  BlockKind = "rate_limit"
	BlockKindGeo        BlockKind = "geo"
	BlockKindGeneric    BlockKind = "generic"
)
