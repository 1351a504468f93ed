package model

import (
	"errors"
	"time"
)

// ChangeKind classifies a confirmed change relative to the previous stable
// value.
type ChangeKind string

const (
	ChangeKindIncreased   ChangeKind = "increased"
	ChangeKindDecreased   ChangeKind = "decreased"
	ChangeKindChanged     ChangeKind = "changed"
	ChangeKindAppeared    ChangeKind = "appeared"
	ChangeKindDisappeared ChangeKind = "disappeared"
)

// Observation is one extracted and normalized value produced by a successful
// run. Exactly one observation exists per successful run.
type Observation struct {
	ID                  string           `json:"id"                     db:"id"`
	RunID               string           `json:"run_id"                 db:"run_id"`
	RuleID              string           `json:"rule_id"                db:"rule_id"`
	ExtractedRaw        string           `json:"extracted_raw"          db:"extracted_raw"`
	ExtractedNormalized *NormalizedValue `json:"extracted_normalized"   db:"extracted_normalized"`
	ChangeDetected      bool             `json:"change_detected"        db:"change_detected"`
	ChangeKind          *ChangeKind      `json:"change_kind,omitempty"  db:"change_kind"`
	DiffSummary         *string          `json:"diff_summary,omitempty" db:"diff_summary"`
	CreatedAt           time.Time        `json:"created_at"             db:"created_at"`
}

// CreateObservationRequest represents a request to persist an observation.
type CreateObservationRequest struct {
	RunID               string           `json:"run_id"`
	RuleID              string           `json:"rule_id"`
	ExtractedRaw        string           `json:"extracted_raw"`
	ExtractedNormalized *NormalizedValue `json:"extracted_normalized"`
	ChangeDetected      bool             `json:"change_detected"`
	ChangeKind          *ChangeKind      `json:"change_kind,omitempty"`
	DiffSummary         *string          `json:"diff_summary,omitempty"`
}

// Validate validates the CreateObservationRequest fields.
func (r *CreateObservationRequest) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id is required")
	}
	if r.RuleID == "" {
		return errors.New("rule_id is required")
	}
	if r.ExtractedNormalized == nil {
		return errors.New("extracted_normalized is required")
	}
	return nil
}

// DetectChangeKind classifies the transition from prev to next. Nil prev is
// an appearance; numeric kinds compare magnitudes, everything else is a plain
// change.
func DetectChangeKind(prev, next *NormalizedValue) ChangeKind {
	if prev == nil {
		return ChangeKindAppeared
	}
	if next == nil {
		return ChangeKindDisappeared
	}
	pv, pok := prev.Numeric()
	nv, nok := next.Numeric()
	if pok && nok {
		switch {
		case nv > pv:
			return ChangeKindIncreased
		case nv < pv:
			return ChangeKindDecreased
		}
	}
	return ChangeKindChanged
}
