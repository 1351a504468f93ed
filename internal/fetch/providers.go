package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// Default user agents for the direct HTTP providers.
const (
	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	mobileUserAgent  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_5 like Mac OS X) AppleWebKit/605.1.15 (Version/17.5 Mobile/15E148 Safari/604.1"
)

// maxBodyBytes bounds how much of a response body any adapter reads.
const maxBodyBytes = 4 * 1024 * 1024

// ProvidersConfig carries the endpoints and credentials for the non-direct
// providers. Providers with missing configuration report provider_error
// instead of being silently skipped so misconfiguration is visible in the
// attempt ledger.
type ProvidersConfig struct {
	HeadlessURL        string
	FlareSolverrURL    string
	BrightDataAPIKey   string
	BrightDataZone     string
	ScrapingBrowserURL string
	ScrapingBrowserKey string
	TwoCaptchaAPIKey   string
	TwoCaptchaProxyURL string
}

// Registry holds the configured provider adapters.
type Registry struct {
	providers map[model.ProviderKind]core.Provider
}

// NewRegistry wires every adapter. A nil client gets a pooled default.
func NewRegistry(cfg ProvidersConfig, client *http.Client) *Registry {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	providers := map[model.ProviderKind]core.Provider{
		model.ProviderHTTP:     &httpProvider{kind: model.ProviderHTTP, client: client},
		model.ProviderMobileUA: &httpProvider{kind: model.ProviderMobileUA, client: client, userAgent: mobileUserAgent},
		model.ProviderHeadless: &renderProvider{
			kind: model.ProviderHeadless, client: client, endpoint: cfg.HeadlessURL,
		},
		model.ProviderFlareSolverr: &flareSolverrProvider{
			client: client, endpoint: cfg.FlareSolverrURL,
		},
		model.ProviderBrightData: &brightDataProvider{
			kind: model.ProviderBrightData, client: client,
			apiKey: cfg.BrightDataAPIKey, zone: cfg.BrightDataZone,
		},
		model.ProviderScrapingBrowser: &renderProvider{
			kind: model.ProviderScrapingBrowser, client: client,
			endpoint: cfg.ScrapingBrowserURL, apiKey: cfg.ScrapingBrowserKey,
		},
		model.ProviderTwoCaptchaProxy: &twoCaptchaProvider{
			kind: model.ProviderTwoCaptchaProxy,
			apiKey: cfg.TwoCaptchaAPIKey, proxyURL: cfg.TwoCaptchaProxyURL,
		},
		model.ProviderTwoCaptchaDatado: &twoCaptchaProvider{
			kind: model.ProviderTwoCaptchaDatado, datadomeMode: true,
			apiKey: cfg.TwoCaptchaAPIKey, proxyURL: cfg.TwoCaptchaProxyURL,
		},
	}
	return &Registry{providers: providers}
}

// Get resolves a provider adapter, nil for unregistered kinds.
func (r *Registry) Get(kind model.ProviderKind) core.Provider {
	return r.providers[kind]
}

// httpProvider is the direct fetch adapter backing both the http and
// mobile_ua kinds.
type httpProvider struct {
	kind      model.ProviderKind
	client    *http.Client
	userAgent string
}

func (p *httpProvider) Kind() model.ProviderKind { return p.kind }

func (p *httpProvider) Fetch(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return failedResult(p.kind, model.OutcomeProviderError, start, err.Error()), nil
	}
	p.applyHeaders(httpReq, req.Profile)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return transportResult(p.kind, start, err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportResult(p.kind, start, err), nil
	}

	return classifyHTTPResponse(p.kind, start, resp, body), nil
}

func (p *httpProvider) applyHeaders(httpReq *http.Request, profile *model.FetchProfile) {
	ua := p.userAgent
	if profile != nil && profile.UserAgent != "" && p.kind == model.ProviderHTTP {
		ua = profile.UserAgent
	}
	if ua == "" {
		ua = desktopUserAgent
	}
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	if profile != nil {
		for k, v := range profile.Headers {
			httpReq.Header.Set(k, v)
		}
		if profile.Cookies != "" {
			httpReq.Header.Set("Cookie", profile.Cookies)
		}
	}
}

// renderProvider talks to a JS-rendering HTTP service (headless pool or
// scraping browser gateway) that accepts {url, wait_ms, user_agent} and
// answers {status, html, final_url}.
type renderProvider struct {
	kind     model.ProviderKind
	client   *http.Client
	endpoint string
	apiKey   string
}

func (p *renderProvider) Kind() model.ProviderKind { return p.kind }

type renderRequest struct {
	URL       string `json:"url"`
	WaitMs    int    `json:"wait_ms,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Country   string `json:"country,omitempty"`
}

type renderResponse struct {
	Status   int    `json:"status"`
	HTML     string `json:"html"`
	FinalURL string `json:"final_url"`
}

func (p *renderProvider) Fetch(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
	start := time.Now()
	if p.endpoint == "" {
		return failedResult(p.kind, model.OutcomeProviderError, start,
			fmt.Sprintf("%s endpoint not configured", p.kind)), nil
	}

	payload := renderRequest{URL: req.URL, Country: req.GeoCountry}
	if req.Profile != nil {
		payload.WaitMs = req.Profile.RenderWaitMs
		payload.UserAgent = req.Profile.UserAgent
	}

	var decoded renderResponse
	if result := p.postJSON(ctx, req.Timeout, start, payload, &decoded); result != nil {
		return result, nil
	}

	resp := &http.Response{StatusCode: decoded.Status, Header: http.Header{}}
	out := classifyHTTPResponse(p.kind, start, resp, []byte(decoded.HTML))
	out.FinalURL = decoded.FinalURL
	return out, nil
}

// postJSON sends the render request; non-nil return is a terminal failure.
func (p *renderProvider) postJSON(ctx context.Context, timeout time.Duration, start time.Time, payload, decoded any) *core.FetchResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return failedResult(p.kind, model.OutcomeProviderError, start, err.Error())
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return failedResult(p.kind, model.OutcomeProviderError, start, err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return transportResult(p.kind, start, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return failedResult(p.kind, model.OutcomeProviderError, start,
			fmt.Sprintf("render service returned %d", resp.StatusCode))
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportResult(p.kind, start, err)
	}
	if err := json.Unmarshal(raw, decoded); err != nil {
		return failedResult(p.kind, model.OutcomeProviderError, start, "render service returned invalid JSON")
	}
	return nil
}

// flareSolverrProvider drives a FlareSolverr instance with its request.get
// command protocol.
type flareSolverrProvider struct {
	client   *http.Client
	endpoint string
}

func (p *flareSolverrProvider) Kind() model.ProviderKind { return model.ProviderFlareSolverr }

type flareSolverrRequest struct {
	Cmd        string `json:"cmd"`
	URL        string `json:"url"`
	MaxTimeout int    `json:"maxTimeout"`
}

type flareSolverrResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		URL      string `json:"url"`
		Status   int    `json:"status"`
		Response string `json:"response"`
	} `json:"solution"`
}

func (p *flareSolverrProvider) Fetch(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
	start := time.Now()
	if p.endpoint == "" {
		return failedResult(model.ProviderFlareSolverr, model.OutcomeProviderError, start,
			"flaresolverr endpoint not configured"), nil
	}

	maxTimeout := int(req.Timeout.Milliseconds())
	if req.Profile != nil && req.Profile.FlareSolverrWaitSeconds > 0 {
		maxTimeout = req.Profile.FlareSolverrWaitSeconds * 1000
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	body, _ := json.Marshal(flareSolverrRequest{Cmd: "request.get", URL: req.URL, MaxTimeout: maxTimeout})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return failedResult(model.ProviderFlareSolverr, model.OutcomeProviderError, start, err.Error()), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return transportResult(model.ProviderFlareSolverr, start, err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportResult(model.ProviderFlareSolverr, start, err), nil
	}

	var decoded flareSolverrResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return failedResult(model.ProviderFlareSolverr, model.OutcomeProviderError, start,
			"flaresolverr returned invalid JSON"), nil
	}
	if decoded.Status != "ok" {
		return failedResult(model.ProviderFlareSolverr, model.OutcomeProviderError, start, decoded.Message), nil
	}

	httpResp := &http.Response{StatusCode: decoded.Solution.Status, Header: http.Header{}}
	out := classifyHTTPResponse(model.ProviderFlareSolverr, start, httpResp, []byte(decoded.Solution.Response))
	out.FinalURL = decoded.Solution.URL
	return out, nil
}

// brightDataProvider fetches through the Bright Data unlocker API.
type brightDataProvider struct {
	kind   model.ProviderKind
	client *http.Client
	apiKey string
	zone   string
}

const brightDataEndpoint = "https://api.brightdata.com/request"

func (p *brightDataProvider) Kind() model.ProviderKind { return p.kind }

func (p *brightDataProvider) Fetch(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
	start := time.Now()
	if p.apiKey == "" || p.zone == "" {
		return failedResult(p.kind, model.OutcomeProviderError, start,
			"brightdata credentials not configured"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	payload := map[string]any{"zone": p.zone, "url": req.URL, "format": "raw"}
	if req.GeoCountry != "" {
		payload["country"] = strings.ToLower(req.GeoCountry)
	}
	body, _ := json.Marshal(payload)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, brightDataEndpoint, bytes.NewReader(body))
	if err != nil {
		return failedResult(p.kind, model.OutcomeProviderError, start, err.Error()), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return transportResult(p.kind, start, err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportResult(p.kind, start, err), nil
	}

	out := classifyHTTPResponse(p.kind, start, resp, raw)
	out.Country = req.GeoCountry
	return out, nil
}

// twoCaptchaProvider fetches through a solver-backed proxy gateway. The
// datadome mode asks the gateway to solve DataDome interstitials explicitly.
type twoCaptchaProvider struct {
	kind         model.ProviderKind
	apiKey       string
	proxyURL     string
	datadomeMode bool
}

func (p *twoCaptchaProvider) Kind() model.ProviderKind { return p.kind }

func (p *twoCaptchaProvider) Fetch(ctx context.Context, req core.FetchRequest) (*core.FetchResult, error) {
	start := time.Now()
	if p.apiKey == "" || p.proxyURL == "" {
		return failedResult(p.kind, model.OutcomeProviderError, start,
			"twocaptcha credentials not configured"), nil
	}

	proxy, err := url.Parse(p.proxyURL)
	if err != nil {
		return failedResult(p.kind, model.OutcomeProviderError, start, "invalid proxy url"), nil
	}
	proxy.User = url.UserPassword(p.apiKey, solverModeParam(p.datadomeMode))

	// One-shot client: the proxy transport carries per-request credentials.
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:           http.ProxyURL(proxy),
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		},
		Timeout: req.Timeout,
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return failedResult(p.kind, model.OutcomeProviderError, start, err.Error()), nil
	}
	httpReq.Header.Set("User-Agent", desktopUserAgent)

	resp, err := client.Do(httpReq)
	if err != nil {
		return transportResult(p.kind, start, err), nil
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return transportResult(p.kind, start, err), nil
	}

	return classifyHTTPResponse(p.kind, start, resp, body), nil
}

func solverModeParam(datadome bool) string {
	if datadome {
		return "datadome"
	}
	return "default"
}

// classifyHTTPResponse turns a completed HTTP exchange into a FetchResult,
// running block detection over the status, headers, and body.
func classifyHTTPResponse(kind model.ProviderKind, start time.Time, resp *http.Response, body []byte) *core.FetchResult {
	headers := make(map[string]string, len(resp.Header))
	for name := range resp.Header {
		headers[name] = resp.Header.Get(name)
	}

	result := &core.FetchResult{
		Provider:   kind,
		HTTPStatus: resp.StatusCode,
		Headers:    headers,
		Latency:    time.Since(start),
		CostUSD:    core.ProviderCostUSD(kind),
	}

	blockKind, signals, blocked := DetectBlock(resp.StatusCode, headers, body)
	result.Signals = signals
	if blocked {
		result.BlockKind = blockKind
		switch blockKind {
		case model.BlockKindCaptcha:
			result.Outcome = model.OutcomeCaptchaRequired
		case model.BlockKindGeo:
			result.Outcome = model.OutcomeInterstitialGeo
		default:
			result.Outcome = model.OutcomeBlocked
		}
		return result
	}

	switch {
	case resp.StatusCode >= 400:
		result.Outcome = model.OutcomeProviderError
		result.Detail = fmt.Sprintf("http status %d", resp.StatusCode)
	case len(bytes.TrimSpace(body)) == 0:
		result.Outcome = model.OutcomeEmpty
	default:
		result.Outcome = model.OutcomeOK
		result.Body = body
	}
	return result
}

// transportResult classifies a client-side error into a FetchResult. The
// signal distinguishes DNS, TLS, and connection failures for the run error
// taxonomy.
func transportResult(kind model.ProviderKind, start time.Time, err error) *core.FetchResult {
	result := &core.FetchResult{
		Provider: kind,
		Latency:  time.Since(start),
		CostUSD:  core.ProviderCostUSD(kind),
		Detail:   err.Error(),
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	var tlsErr *tls.CertificateVerificationError

	switch {
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		result.Outcome = model.OutcomeTimeout
		result.Signals = []string{"timeout"}
	case errors.As(err, &dnsErr):
		result.Outcome = model.OutcomeNetworkError
		result.Signals = []string{"dns"}
	case errors.As(err, &tlsErr):
		result.Outcome = model.OutcomeNetworkError
		result.Signals = []string{"tls"}
	default:
		result.Outcome = model.OutcomeNetworkError
		result.Signals = []string{"connection"}
	}
	return result
}

func failedResult(kind model.ProviderKind, outcome model.FetchOutcome, start time.Time, detail string) *core.FetchResult {
	return &core.FetchResult{
		Provider: kind,
		Outcome:  outcome,
		Latency:  time.Since(start),
		CostUSD:  core.ProviderCostUSD(kind),
		Detail:   detail,
	}
}
