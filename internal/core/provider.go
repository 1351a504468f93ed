package core

import (
	"context"
	"time"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// FetchRequest carries everything a provider needs to fetch one URL. The
// orchestrator builds it from the source and its resolved fetch profile.
type FetchRequest struct {
	URL        string
	Hostname   string
	Profile    *model.FetchProfile
	Timeout    time.Duration
	GeoCountry string
}

// FetchResult is the outcome of one provider attempt. Body is nil unless the
// outcome is OK. CostUSD is the fixed per-request cost of the provider that
// produced the result.
type FetchResult struct {
	Provider   model.ProviderKind
	Outcome    model.FetchOutcome
	HTTPStatus int
	Body       []byte
	Headers    map[string]string
	FinalURL   string
	Latency    time.Duration
	CostUSD    float64
	BlockKind  model.BlockKind
	Signals    []string
	Country    string
	Detail     string
}

// Provider is one fetch strategy in the escalation ladder. Implementations
// classify their own responses; the orchestrator only reads the outcome.
type Provider interface {
	Kind() model.ProviderKind
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// ProviderRegistry resolves provider adapters by kind. Unregistered kinds
// return nil.
type ProviderRegistry interface {
	Get(kind model.ProviderKind) Provider
}

// ScreenshotRequest identifies the page element to capture for one run.
type ScreenshotRequest struct {
	URL      string
	Selector string
	RuleID   string
	RunID    string
}

// ScreenshotCapturer renders the selected element, stores the image, and
// returns the storage path recorded on the run.
type ScreenshotCapturer interface {
	Capture(ctx context.Context, req ScreenshotRequest) (string, error)
}
