package model

import "time"

// RuleState is the per-rule anti-flap memory. It is mutated only by the run
// processor under optimistic concurrency: readers capture Version and the
// update predicate requires it unchanged.
type RuleState struct {
	RuleID         string           `json:"rule_id"         db:"rule_id"`
	LastStable     *NormalizedValue `json:"last_stable"     db:"last_stable"`
	Candidate      *NormalizedValue `json:"candidate"       db:"candidate"`
	CandidateCount int              `json:"candidate_count" db:"candidate_count"`
	Version        int64            `json:"version"         db:"version"`
	UpdatedAt      time.Time        `json:"updated_at"      db:"updated_at"`
}

// StateCASMaxRetries bounds optimistic-concurrency retries on RuleState
// updates; exhaustion surfaces as a worker crash.
const StateCASMaxRetries = 3
