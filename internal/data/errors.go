package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// Workspace-scoped entity sentinels.
	ErrWorkspaceNotFound    = errors.New("workspace not found")
	ErrSourceNotFound       = errors.New("source not found")
	ErrFetchProfileNotFound = errors.New("fetch profile not found")
	ErrChannelNotFound      = errors.New("channel not found")

	// Rule pipeline sentinels.
	ErrRuleNotFound        = errors.New("rule not found")
	ErrRunNotFound         = errors.New("run not found")
	ErrObservationNotFound = errors.New("observation not found")
	ErrAlertNotFound       = errors.New("alert not found")

	// ErrStateVersionConflict indicates an optimistic concurrency failure on
	// rule state; the caller should re-read and retry.
	ErrStateVersionConflict = errors.New("rule state version conflict")
)
