package model

import (
	"errors"
	"time"
)

// RunErrorCode is the closed taxonomy of run failures. Free-form diagnostics
// go in Run.ErrorDetail only.
type RunErrorCode string

const (
	// Transport.
	ErrFetchTimeout    RunErrorCode = "FETCH_TIMEOUT"
	ErrFetchDNS        RunErrorCode = "FETCH_DNS"
	ErrFetchConnection RunErrorCode = "FETCH_CONNECTION"
	ErrFetchTLS        RunErrorCode = "FETCH_TLS"
	ErrFetchHTTP4xx    RunErrorCode = "FETCH_HTTP_4XX"
	ErrFetchHTTP5xx    RunErrorCode = "FETCH_HTTP_5XX"

	// Anti-bot.
	ErrBlockCaptchaSuspected RunErrorCode = "BLOCK_CAPTCHA_SUSPECTED"
	ErrCloudflareBlock       RunErrorCode = "CLOUDFLARE_BLOCK"
	ErrDataDomeBlock         RunErrorCode = "DATADOME_BLOCK"
	ErrRateLimitBlock        RunErrorCode = "RATELIMIT_BLOCK"
	ErrGeoBlock              RunErrorCode = "GEO_BLOCK"
	ErrBotDetection          RunErrorCode = "BOT_DETECTION"

	// Extraction.
	ErrExtractSelectorNotFound RunErrorCode = "EXTRACT_SELECTOR_NOT_FOUND"
	ErrExtractSchemaNotFound   RunErrorCode = "EXTRACT_SCHEMA_NOT_FOUND"
	ErrParseError              RunErrorCode = "PARSE_ERROR"

	// Orchestration.
	ErrRateLimitedDeferred          RunErrorCode = "RATE_LIMITED_DEFERRED"
	ErrRateLimitedMaxRetries        RunErrorCode = "RATE_LIMITED_MAX_RETRIES"
	ErrTimeoutRetryScheduled        RunErrorCode = "TIMEOUT_RETRY_SCHEDULED"
	ErrPreferredProviderUnavailable RunErrorCode = "PREFERRED_PROVIDER_UNAVAILABLE"

	// Fatal.
	ErrSystemWorkerCrash RunErrorCode = "SYSTEM_WORKER_CRASH"
	ErrUnknown           RunErrorCode = "UNKNOWN"
)

// HealthPenalty returns the health-score deduction for this error code.
// Selector and schema errors hit hardest since they usually mean the rule
// itself is broken rather than the site being temporarily hostile.
func (c RunErrorCode) HealthPenalty() int {
	switch c {
	case ErrExtractSelectorNotFound, ErrExtractSchemaNotFound, ErrParseError:
		return 25
	case ErrBlockCaptchaSuspected, ErrCloudflareBlock, ErrDataDomeBlock, ErrBotDetection:
		return 20
	case ErrFetchHTTP4xx:
		return 15
	case ErrGeoBlock, ErrRateLimitBlock, ErrPreferredProviderUnavailable:
		return 10
	case ErrFetchTimeout, ErrRateLimitedMaxRetries:
		return 5
	case ErrRateLimitedDeferred, ErrTimeoutRetryScheduled:
		return 0
	default:
		return 5
	}
}

// Run is the immutable record of one rule execution. Runs are never updated
// after FinishedAt is set.
type Run struct {
	ID             string        `json:"id"                        db:"id"`
	RuleID         string        `json:"rule_id"                   db:"rule_id"`
	StartedAt      time.Time     `json:"started_at"                db:"started_at"`
	FinishedAt     *time.Time    `json:"finished_at,omitempty"     db:"finished_at"`
	FetchModeUsed  ProviderKind  `json:"fetch_mode_used"           db:"fetch_mode_used"`
	HTTPStatus     *int          `json:"http_status,omitempty"     db:"http_status"`
	ErrorCode      *RunErrorCode `json:"error_code,omitempty"      db:"error_code"`
	ErrorDetail    *string       `json:"error_detail,omitempty"    db:"error_detail"`
	BlockDetected  bool          `json:"block_detected"            db:"block_detected"`
	ContentHash    *string       `json:"content_hash,omitempty"    db:"content_hash"`
	ScreenshotPath *string       `json:"screenshot_path,omitempty" db:"screenshot_path"`
	RawSample      *string       `json:"raw_sample,omitempty"      db:"raw_sample"`
}

// RunTrigger identifies what caused a run job to be enqueued.
type RunTrigger string

const (
	TriggerSchedule RunTrigger = "schedule"
	TriggerManual   RunTrigger = "manual"
	TriggerWebhook  RunTrigger = "webhook"
	TriggerRetry    RunTrigger = "retry"
)

// Valid returns true if the trigger is known.
func (t RunTrigger) Valid() bool {
	switch t {
	case TriggerSchedule, TriggerManual, TriggerWebhook, TriggerRetry:
		return true
	default:
		return false
	}
}

// CreateRunRequest opens a run record before fetching starts.
type CreateRunRequest struct {
	RuleID        string       `json:"rule_id"`
	StartedAt     time.Time    `json:"started_at"`
	FetchModeUsed ProviderKind `json:"fetch_mode_used"`
}

// Validate validates the CreateRunRequest fields.
func (r *CreateRunRequest) Validate() error {
	if r.RuleID == "" {
		return errors.New("rule_id is required")
	}
	if r.StartedAt.IsZero() {
		return errors.New("started_at is required")
	}
	return nil
}

// FinishRunParams closes a run record. Fields left nil are not written.
type FinishRunParams struct {
	RunID          string
	FinishedAt     time.Time
	FetchModeUsed  ProviderKind
	HTTPStatus     *int
	ErrorCode      *RunErrorCode
	ErrorDetail    *string
	BlockDetected  bool
	ContentHash    *string
	ScreenshotPath *string
	RawSample      *string
}

// RawSampleMaxBytes bounds the raw body sample persisted on problem runs.
const RawSampleMaxBytes = 16 * 1024
