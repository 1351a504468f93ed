package core

import "github.com/driftwatch/driftwatch/internal/domain/model"

// Fixed per-request provider costs in USD. The budget guard and the attempt
// ledger both read from this table; changing a price here changes accounting
// everywhere.
var providerCostUSD = map[model.ProviderKind]float64{
	model.ProviderHTTP:             0,
	model.ProviderMobileUA:         0,
	model.ProviderHeadless:         0,
	model.ProviderFlareSolverr:     0,
	model.ProviderBrightData:       0.0015,
	model.ProviderScrapingBrowser:  0.01,
	model.ProviderTwoCaptchaProxy:  0.003,
	model.ProviderTwoCaptchaDatado: 0.003,
}

// ProviderCostUSD returns the fixed per-request cost for a provider. Unknown
// providers cost nothing.
func ProviderCostUSD(kind model.ProviderKind) float64 {
	return providerCostUSD[kind]
}
