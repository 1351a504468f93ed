package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/core"
	"github.com/driftwatch/driftwatch/internal/domain/model"
	"github.com/driftwatch/driftwatch/internal/fetch"
)

const priceBody = `<html><body><span class="price">24.95</span></body></html>`

type stubRunOrchestrator struct {
	mu       sync.Mutex
	result   *fetch.OrchestrationResult
	requests []fetch.OrchestrationRequest
}

func (s *stubRunOrchestrator) Fetch(_ context.Context, req fetch.OrchestrationRequest, _ fetch.OrchestratorConfig) (*fetch.OrchestrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return s.result, nil
}

func okFetch(body string) *fetch.OrchestrationResult {
	return &fetch.OrchestrationResult{
		Final: &core.FetchResult{
			Provider:   model.ProviderHTTP,
			Outcome:    model.OutcomeOK,
			HTTPStatus: 200,
			Body:       []byte(body),
		},
	}
}

func failedFetch(outcome model.FetchOutcome) *fetch.OrchestrationResult {
	return &fetch.OrchestrationResult{
		Final: &core.FetchResult{
			Provider: model.ProviderHTTP,
			Outcome:  outcome,
		},
	}
}

type runHarness struct {
	rules        *fakeRuleRepo
	states       *fakeStateRepo
	runs         *fakeRunRepo
	observations *fakeObservationRepo
	alerts       *fakeAlertRepo
	jobs         *fakeJobRepo
	orchestrator *stubRunOrchestrator
	processor    *RunProcessor
	now          time.Time
}

func priceRule() *model.Rule {
	return &model.Rule{
		ID:       "rule-1",
		SourceID: "src-1",
		Name:     "Deluxe Widget price",
		RuleType: model.RuleTypePrice,
		Extraction: model.ExtractionConfig{
			Method:   model.ExtractCSS,
			Selector: ".price",
		},
		Normalization: model.NormalizationConfig{Currency: "USD"},
		Schedule:      model.Schedule{IntervalSeconds: 3600},
		AlertPolicy: model.AlertPolicy{
			Conditions:         []model.AlertCondition{{ID: "c1", Kind: "value_changed"}},
			RequireConsecutive: 1,
			Channels:           []string{"ch-1"},
		},
		Enabled:     true,
		HealthScore: 70,
	}
}

func newRunHarness(t *testing.T, rule *model.Rule) *runHarness {
	t.Helper()

	h := &runHarness{
		rules:        newFakeRuleRepo(rule),
		states:       newFakeStateRepo(),
		runs:         newFakeRunRepo(),
		observations: newFakeObservationRepo(),
		alerts:       newFakeAlertRepo(),
		jobs:         newFakeJobRepo(),
		orchestrator: &stubRunOrchestrator{result: okFetch(priceBody)},
		now:          time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}

	source := &model.Source{
		ID:          "src-1",
		WorkspaceID: "ws-1",
		URL:         "https://shop.example/p/1",
		Domain:      "shop.example",
	}
	workspace := &model.Workspace{ID: "ws-1", Name: "acme", Timezone: "UTC"}

	h.processor = NewRunProcessor(RunProcessorOptions{
		Rules:        h.rules,
		States:       h.states,
		Runs:         h.runs,
		Observations: h.observations,
		Alerts:       h.alerts,
		Sources:      newFakeSourceRepo(source),
		Workspaces:   newFakeWorkspaceRepo(workspace),
		Profiles:     newFakeProfileRepo(),
		Jobs:         h.jobs,
		Orchestrator: h.orchestrator,
		Gate: NewAlertGate(AlertGateOptions{
			Alerts: h.alerts,
			Cache:  newMemCache(),
			Now:    func() time.Time { return h.now },
		}),
		Now: func() time.Time { return h.now },
	})
	return h
}

func (h *runHarness) process(t *testing.T) {
	t.Helper()
	err := h.processor.Process(context.Background(), model.RunJobPayload{
		RuleID:      "rule-1",
		Trigger:     model.TriggerSchedule,
		RequestedAt: h.now,
	})
	require.NoError(t, err)
}

func stablePriceState(value float64, version int64) *model.RuleState {
	return &model.RuleState{
		RuleID: "rule-1",
		LastStable: &model.NormalizedValue{
			Kind:  model.ValueKindPrice,
			Price: &model.PriceValue{Value: value, Currency: "USD"},
		},
		Version: version,
	}
}

func TestProcessFirstSighting(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	h.process(t)

	require.Len(t, h.observations.created, 1)
	obs := h.observations.created[0]
	assert.False(t, obs.ChangeDetected)
	assert.Equal(t, "24.95", obs.ExtractedRaw)
	require.NotNil(t, obs.ExtractedNormalized.Price)
	assert.InDelta(t, 24.95, obs.ExtractedNormalized.Price.Value, 1e-9)

	finish := h.runs.lastFinish()
	assert.Nil(t, finish.ErrorCode)
	require.NotNil(t, finish.ContentHash)
	assert.Len(t, *finish.ContentHash, 64)

	require.Len(t, h.rules.healthUpdates, 1)
	assert.Equal(t, 75, h.rules.healthUpdates[0].HealthScore)
	assert.Nil(t, h.rules.healthUpdates[0].LastErrorCode)

	assert.Zero(t, h.alerts.count())
}

func TestProcessConfirmedChangeCreatesAlert(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	h.states.states["rule-1"] = stablePriceState(19.95, 3)
	h.process(t)

	require.Len(t, h.observations.created, 1)
	obs := h.observations.created[0]
	assert.True(t, obs.ChangeDetected)
	require.NotNil(t, obs.DiffSummary)
	assert.Equal(t, "price:19.95:USD -> price:24.95:USD", *obs.DiffSummary)

	require.Equal(t, 1, h.alerts.count())
	dispatches := h.jobs.byType(model.JobTypeDispatch)
	require.Len(t, dispatches, 1)

	var payload model.DispatchJobPayload
	require.NoError(t, json.Unmarshal(dispatches[0].Payload, &payload))
	assert.Equal(t, "rule-1", payload.RuleID)
	assert.Equal(t, "ws-1", payload.WorkspaceID)
	assert.Equal(t, []string{"ch-1"}, payload.Channels)
	assert.NotEmpty(t, payload.DedupeKey)
}

func TestProcessRepeatChangeDeduped(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	h.states.states["rule-1"] = stablePriceState(19.95, 3)
	h.process(t)
	require.Equal(t, 1, h.alerts.count())
	require.Len(t, h.jobs.byType(model.JobTypeDispatch), 1)

	// The stable value flips back, then changes to 24.95 again the same day.
	h.states.states["rule-1"] = stablePriceState(19.95, h.states.states["rule-1"].Version)
	h.process(t)

	assert.Equal(t, 1, h.alerts.count())
	assert.Len(t, h.jobs.byType(model.JobTypeDispatch), 1)
}

func TestProcessCooldownSuppressesSecondAlert(t *testing.T) {
	t.Parallel()

	rule := priceRule()
	rule.AlertPolicy.CooldownSeconds = 900
	h := newRunHarness(t, rule)
	h.states.states["rule-1"] = stablePriceState(19.95, 3)
	h.process(t)
	require.Equal(t, 1, h.alerts.count())

	// A different value an hour later dodges the dedupe key but hits the
	// cooldown lock.
	h.now = h.now.Add(time.Hour)
	h.states.states["rule-1"] = stablePriceState(19.95, h.states.states["rule-1"].Version)
	h.orchestrator.result = okFetch(`<html><body><span class="price">29.95</span></body></html>`)
	h.process(t)

	assert.Equal(t, 1, h.alerts.count())
	assert.Len(t, h.jobs.byType(model.JobTypeDispatch), 1)
}

func TestProcessUnconfirmedChangeHoldsAlert(t *testing.T) {
	t.Parallel()

	rule := priceRule()
	rule.AlertPolicy.RequireConsecutive = 2
	h := newRunHarness(t, rule)
	h.states.states["rule-1"] = stablePriceState(19.95, 3)

	h.process(t)
	require.Len(t, h.observations.created, 1)
	assert.False(t, h.observations.created[0].ChangeDetected)
	assert.Zero(t, h.alerts.count())

	// Second consecutive sighting confirms the change.
	h.process(t)
	require.Len(t, h.observations.created, 2)
	assert.True(t, h.observations.created[1].ChangeDetected)
	assert.Equal(t, 1, h.alerts.count())
}

func TestProcessDisabledRuleSkipped(t *testing.T) {
	t.Parallel()

	rule := priceRule()
	rule.Enabled = false
	h := newRunHarness(t, rule)
	h.process(t)

	assert.Empty(t, h.runs.created)
	assert.Empty(t, h.orchestrator.requests)
}

func TestProcessBlockedFetch(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	result := failedFetch(model.OutcomeBlocked)
	result.Final.BlockKind = model.BlockKindDataDome
	result.Final.HTTPStatus = 403
	h.orchestrator.result = result
	h.process(t)

	finish := h.runs.lastFinish()
	require.NotNil(t, finish.ErrorCode)
	assert.Equal(t, model.ErrDataDomeBlock, *finish.ErrorCode)
	assert.True(t, finish.BlockDetected)

	require.Len(t, h.rules.healthUpdates, 1)
	assert.Equal(t, 50, h.rules.healthUpdates[0].HealthScore)
	assert.Empty(t, h.observations.created)
}

func TestProcessRateLimitedSchedulesRetry(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	result := failedFetch(model.OutcomeRateLimited)
	result.RetryAfter = 2 * time.Second
	h.orchestrator.result = result
	h.process(t)

	finish := h.runs.lastFinish()
	require.NotNil(t, finish.ErrorCode)
	assert.Equal(t, model.ErrRateLimitedDeferred, *finish.ErrorCode)

	retries := h.jobs.byType(model.JobTypeRun)
	require.Len(t, retries, 1)
	var payload model.RunJobPayload
	require.NoError(t, json.Unmarshal(retries[0].Payload, &payload))
	assert.Equal(t, model.TriggerRetry, payload.Trigger)
	assert.Equal(t, 1, payload.RateLimitRetryCount)
	require.NotNil(t, retries[0].ScheduledAt)
	assert.True(t, retries[0].ScheduledAt.After(h.now.Add(59*time.Second)))

	// Deferral carries no health penalty.
	require.Len(t, h.rules.healthUpdates, 1)
	assert.Equal(t, 70, h.rules.healthUpdates[0].HealthScore)
}

func TestProcessRateLimitedMaxRetries(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	h.orchestrator.result = failedFetch(model.OutcomeRateLimited)
	err := h.processor.Process(context.Background(), model.RunJobPayload{
		RuleID:              "rule-1",
		Trigger:             model.TriggerRetry,
		RequestedAt:         h.now,
		RateLimitRetryCount: MaxRateLimitRetries,
	})
	require.NoError(t, err)

	finish := h.runs.lastFinish()
	require.NotNil(t, finish.ErrorCode)
	assert.Equal(t, model.ErrRateLimitedMaxRetries, *finish.ErrorCode)
	assert.Empty(t, h.jobs.byType(model.JobTypeRun))
}

func TestProcessTimeoutRetriesOnce(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	h.orchestrator.result = failedFetch(model.OutcomeTimeout)
	h.process(t)

	finish := h.runs.lastFinish()
	require.NotNil(t, finish.ErrorCode)
	assert.Equal(t, model.ErrTimeoutRetryScheduled, *finish.ErrorCode)
	require.Len(t, h.jobs.byType(model.JobTypeRun), 1)

	err := h.processor.Process(context.Background(), model.RunJobPayload{
		RuleID:            "rule-1",
		Trigger:           model.TriggerRetry,
		RequestedAt:       h.now,
		TimeoutRetryCount: MaxTimeoutRetries,
	})
	require.NoError(t, err)

	finish = h.runs.lastFinish()
	require.NotNil(t, finish.ErrorCode)
	assert.Equal(t, model.ErrFetchTimeout, *finish.ErrorCode)
	assert.Len(t, h.jobs.byType(model.JobTypeRun), 1)
}

func TestProcessNetworkErrorSignals(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		signals []string
		want    model.RunErrorCode
	}{
		{name: "dns", signals: []string{"dns"}, want: model.ErrFetchDNS},
		{name: "tls", signals: []string{"tls"}, want: model.ErrFetchTLS},
		{name: "connection", signals: nil, want: model.ErrFetchConnection},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newRunHarness(t, priceRule())
			result := failedFetch(model.OutcomeNetworkError)
			result.Final.Signals = tc.signals
			h.orchestrator.result = result
			h.process(t)

			finish := h.runs.lastFinish()
			require.NotNil(t, finish.ErrorCode)
			assert.Equal(t, tc.want, *finish.ErrorCode)
		})
	}
}

func TestProcessSelectorNotFound(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	h.orchestrator.result = okFetch(`<html><body><span class="cost">24.95</span></body></html>`)
	h.process(t)

	finish := h.runs.lastFinish()
	require.NotNil(t, finish.ErrorCode)
	assert.Equal(t, model.ErrExtractSelectorNotFound, *finish.ErrorCode)
	require.NotNil(t, finish.RawSample)
	assert.Contains(t, *finish.RawSample, "cost")

	require.Len(t, h.rules.healthUpdates, 1)
	assert.Equal(t, 45, h.rules.healthUpdates[0].HealthScore)
}

func TestProcessHealedSelectorPersisted(t *testing.T) {
	t.Parallel()

	rule := priceRule()
	rule.Extraction.FallbackSelectors = []string{".product-price"}
	h := newRunHarness(t, rule)
	h.orchestrator.result = okFetch(`<html><body><span class="product-price">24.95</span></body></html>`)
	h.process(t)

	require.Len(t, h.rules.selectorUpdates, 1)
	assert.Equal(t, ".product-price", h.rules.selectorUpdates[0])
	require.Len(t, h.rules.healEvents, 1)
	assert.Equal(t, ".price", h.rules.healEvents[0].From)
	assert.Equal(t, ".product-price", h.rules.healEvents[0].To)
	require.Len(t, h.rules.fingerprints, 1)
}

func TestProcessSchemaDriftAlert(t *testing.T) {
	t.Parallel()

	rule := priceRule()
	rule.Extraction = model.ExtractionConfig{
		Method:   model.ExtractSchema,
		Selector: "offers.price",
	}
	rule.SchemaFingerprint = &model.SchemaFingerprint{BlockCount: 2, ShapeHash: "0000000000000000"}
	h := newRunHarness(t, rule)
	h.orchestrator.result = okFetch(`<html><head>
<script type="application/ld+json">
{"@type":"Product","offers":{"@type":"Offer","price":"24.95","priceCurrency":"USD"}}
</script>
</head><body></body></html>`)
	h.process(t)

	require.Len(t, h.rules.schemaFingerprints, 1)
	assert.NotEqual(t, "0000000000000000", h.rules.schemaFingerprints[0].ShapeHash)

	drift, err := h.alerts.GetByDedupeKey(context.Background(),
		"schema_drift:rule-1:"+h.rules.schemaFingerprints[0].ShapeHash)
	require.NoError(t, err)
	require.NotNil(t, drift)
	assert.Equal(t, model.AlertTypeSchemaDrift, drift.AlertType)

	// Same drift next run collides with the standing key and only refreshes it.
	h.now = h.now.Add(time.Hour)
	h.process(t)
	assert.Len(t, h.alerts.refreshed, 1)
}

func TestProcessSchemaCentsWinOverText(t *testing.T) {
	t.Parallel()

	rule := priceRule()
	rule.Extraction = model.ExtractionConfig{
		Method:   model.ExtractSchema,
		Selector: "offers.price",
	}
	h := newRunHarness(t, rule)
	h.orchestrator.result = okFetch(`<html><head>
<script type="application/ld+json">
{"@type":"Product","offers":{"@type":"Offer","price":"24.95","priceCurrency":"EUR"}}
</script>
</head><body></body></html>`)
	h.process(t)

	require.Len(t, h.observations.created, 1)
	value := h.observations.created[0].ExtractedNormalized
	require.NotNil(t, value.Price)
	require.NotNil(t, value.Price.Cents)
	assert.Equal(t, int64(2495), *value.Price.Cents)
	assert.Equal(t, "EUR", value.Price.Currency)
}

func TestProcessAutoThrottle(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	result := okFetch(priceBody)
	result.ThrottleAdvised = true
	h.orchestrator.result = result
	h.process(t)

	require.Len(t, h.rules.scheduleUpdates, 1)
	applied := h.rules.scheduleUpdates[0]
	assert.Equal(t, throttledIntervalSeconds, applied.Schedule.IntervalSeconds)
	assert.True(t, applied.CaptchaIntervalEnforced)
	require.NotNil(t, applied.OriginalSchedule)
	assert.Equal(t, 3600, applied.OriginalSchedule.IntervalSeconds)

	require.Len(t, h.rules.nextRunUpdates, 1)
	assert.Equal(t, h.now.Add(24*time.Hour), h.rules.nextRunUpdates[0].NextRunAt)

	// An already throttled rule is left alone.
	h.process(t)
	assert.Len(t, h.rules.scheduleUpdates, 1)
}

func TestProcessFallbackProviderTrimsReward(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	result := okFetch(priceBody)
	result.Final.Provider = model.ProviderMobileUA
	result.FallbackUsed = true
	h.orchestrator.result = result
	h.process(t)

	finish := h.runs.lastFinish()
	assert.Nil(t, finish.ErrorCode)
	assert.Equal(t, model.ProviderMobileUA, finish.FetchModeUsed)

	// +5 for the success, -2 because the first-choice provider did not win.
	require.Len(t, h.rules.healthUpdates, 1)
	assert.Equal(t, 73, h.rules.healthUpdates[0].HealthScore)
}

func TestProcessForcedModePinsProvider(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	mode := model.FetchModeHeadless
	err := h.processor.Process(context.Background(), model.RunJobPayload{
		RuleID:      "rule-1",
		Trigger:     model.TriggerManual,
		RequestedAt: h.now,
		ForceMode:   &mode,
	})
	require.NoError(t, err)

	require.Len(t, h.orchestrator.requests, 1)
	policy := h.orchestrator.requests[0].Policy
	require.NotNil(t, policy.PreferredProvider)
	assert.Equal(t, model.ProviderHeadless, *policy.PreferredProvider)
	assert.True(t, policy.StopAfterPreferredFailure)
}

func TestProcessDebugStoresRawSample(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	h.process(t)
	assert.Nil(t, h.runs.lastFinish().RawSample)

	err := h.processor.Process(context.Background(), model.RunJobPayload{
		RuleID:      "rule-1",
		Trigger:     model.TriggerManual,
		RequestedAt: h.now,
		Debug:       true,
	})
	require.NoError(t, err)

	finish := h.runs.lastFinish()
	assert.Nil(t, finish.ErrorCode)
	require.NotNil(t, finish.RawSample)
	assert.Contains(t, *finish.RawSample, "24.95")
}

type stubScreenshotCapturer struct {
	mu       sync.Mutex
	requests []core.ScreenshotRequest
	path     string
	err      error
}

func (s *stubScreenshotCapturer) Capture(_ context.Context, req core.ScreenshotRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return "", s.err
	}
	return s.path, nil
}

func TestProcessConfirmedChangeCapturesScreenshot(t *testing.T) {
	t.Parallel()

	rule := priceRule()
	rule.ScreenshotOnChange = true
	h := newRunHarness(t, rule)
	shots := &stubScreenshotCapturer{path: "shots/rule-1/run-1.jpg"}
	h.processor.screenshots = shots
	h.states.states["rule-1"] = stablePriceState(19.95, 3)
	h.process(t)

	require.Len(t, shots.requests, 1)
	assert.Equal(t, "https://shop.example/p/1", shots.requests[0].URL)
	assert.Equal(t, ".price", shots.requests[0].Selector)
	assert.Equal(t, "rule-1", shots.requests[0].RuleID)
	assert.Equal(t, "run-1", shots.requests[0].RunID)

	finish := h.runs.lastFinish()
	require.NotNil(t, finish.ScreenshotPath)
	assert.Equal(t, "shots/rule-1/run-1.jpg", *finish.ScreenshotPath)
}

func TestProcessScreenshotNeedsOptIn(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	shots := &stubScreenshotCapturer{path: "shots/rule-1/run-1.jpg"}
	h.processor.screenshots = shots
	h.states.states["rule-1"] = stablePriceState(19.95, 3)
	h.process(t)

	assert.Empty(t, shots.requests)
	assert.Nil(t, h.runs.lastFinish().ScreenshotPath)
}

func TestProcessScreenshotOnlyOnConfirmedChange(t *testing.T) {
	t.Parallel()

	rule := priceRule()
	rule.ScreenshotOnChange = true
	h := newRunHarness(t, rule)
	shots := &stubScreenshotCapturer{path: "shots/rule-1/run-1.jpg"}
	h.processor.screenshots = shots
	h.process(t)

	assert.Empty(t, shots.requests)
	assert.Nil(t, h.runs.lastFinish().ScreenshotPath)
}

func TestProcessScreenshotFailureDoesNotFailRun(t *testing.T) {
	t.Parallel()

	rule := priceRule()
	rule.ScreenshotOnChange = true
	h := newRunHarness(t, rule)
	h.processor.screenshots = &stubScreenshotCapturer{err: errors.New("render service down")}
	h.states.states["rule-1"] = stablePriceState(19.95, 3)
	h.process(t)

	finish := h.runs.lastFinish()
	assert.Nil(t, finish.ErrorCode)
	assert.Nil(t, finish.ScreenshotPath)
	assert.Equal(t, 1, h.alerts.count())
}

func TestProcessStateVersionRaceExhausted(t *testing.T) {
	t.Parallel()

	h := newRunHarness(t, priceRule())
	h.states.failSaves = model.StateCASMaxRetries
	h.process(t)

	finish := h.runs.lastFinish()
	require.NotNil(t, finish.ErrorCode)
	assert.Equal(t, model.ErrSystemWorkerCrash, *finish.ErrorCode)
	assert.Equal(t, model.StateCASMaxRetries, h.states.saveCalls)
	assert.Empty(t, h.observations.created)
}
