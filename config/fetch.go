package config

import "strings"

// FetchConfig contains fetch orchestration and provider configuration.
type FetchConfig struct {
	// TierPolicyEnabled is the global feature flag for domain-tier fetch policies.
	TierPolicyEnabled bool `env:"TIER_POLICY_ENABLED" envDefault:"false"`

	// CanaryWorkspaceIDs limits tier policies to a comma list of workspaces.
	// Empty means all workspaces when the flag is on.
	CanaryWorkspaceIDs string `env:"CANARY_WORKSPACE_IDS" envDefault:""`

	// Provider endpoints. Empty disables the provider.
	HeadlessURL        string `env:"HEADLESS_URL"`
	FlareSolverrURL    string `env:"FLARESOLVERR_URL"`
	ScrapingBrowserURL string `env:"SCRAPING_BROWSER_URL"`
	ScrapingBrowserKey string `env:"SCRAPING_BROWSER_KEY"`

	// ScreenshotURL is the render service's element-capture endpoint and
	// ScreenshotDir the local storage root. Both must be set for change
	// screenshots to be taken.
	ScreenshotURL string `env:"SCREENSHOT_URL"`
	ScreenshotDir string `env:"SCREENSHOT_DIR"`

	// BrightDataAPIKey and BrightDataZone are the paid provider credentials.
	BrightDataAPIKey string `env:"BRIGHTDATA_API_KEY"`
	BrightDataZone   string `env:"BRIGHTDATA_ZONE"`

	// TwoCaptcha solver credentials for captcha-interrupted fetches.
	TwoCaptchaAPIKey   string `env:"TWOCAPTCHA_API_KEY"`
	TwoCaptchaProxyURL string `env:"TWOCAPTCHA_PROXY_URL"`

	// MaxAttemptsPerRun caps provider attempts within one run.
	MaxAttemptsPerRun int `env:"FETCH_MAX_ATTEMPTS_PER_RUN" envDefault:"6"`

	// HardStopOnBudgetExceed aborts a run when a budget cap is hit instead of
	// degrading to free providers only.
	HardStopOnBudgetExceed bool `env:"FETCH_HARD_STOP_ON_BUDGET_EXCEED" envDefault:"false"`

	// Daily budget cap overrides in USD. Zero keeps the built-in default.
	WorkspaceDailyBudgetUSD float64 `env:"BUDGET_WORKSPACE_DAILY_USD" envDefault:"0"`
	DomainDailyBudgetUSD    float64 `env:"BUDGET_DOMAIN_DAILY_USD"    envDefault:"0"`
	RuleDailyBudgetUSD      float64 `env:"BUDGET_RULE_DAILY_USD"      envDefault:"0"`
}

// Sanitize applies guardrails to fetch configuration values.
func (f *FetchConfig) Sanitize() {
	f.HeadlessURL = strings.TrimSpace(f.HeadlessURL)
	f.FlareSolverrURL = strings.TrimSpace(f.FlareSolverrURL)
	f.ScrapingBrowserURL = strings.TrimSpace(f.ScrapingBrowserURL)
	f.ScrapingBrowserKey = strings.TrimSpace(f.ScrapingBrowserKey)
	f.ScreenshotURL = strings.TrimSpace(f.ScreenshotURL)
	f.ScreenshotDir = strings.TrimSpace(f.ScreenshotDir)
	f.BrightDataAPIKey = strings.TrimSpace(f.BrightDataAPIKey)
	f.BrightDataZone = strings.TrimSpace(f.BrightDataZone)
	f.TwoCaptchaAPIKey = strings.TrimSpace(f.TwoCaptchaAPIKey)
	f.TwoCaptchaProxyURL = strings.TrimSpace(f.TwoCaptchaProxyURL)
	if f.MaxAttemptsPerRun < 1 {
		f.MaxAttemptsPerRun = 1
	}
	if f.WorkspaceDailyBudgetUSD < 0 {
		f.WorkspaceDailyBudgetUSD = 0
	}
	if f.DomainDailyBudgetUSD < 0 {
		f.DomainDailyBudgetUSD = 0
	}
	if f.RuleDailyBudgetUSD < 0 {
		f.RuleDailyBudgetUSD = 0
	}
}

// CanaryWorkspaces splits the comma list into trimmed workspace ids.
func (f *FetchConfig) CanaryWorkspaces() []string {
	if strings.TrimSpace(f.CanaryWorkspaceIDs) == "" {
		return nil
	}
	parts := strings.Split(f.CanaryWorkspaceIDs, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if id := strings.TrimSpace(p); id != "" {
			out = append(out, id)
		}
	}
	return out
}
