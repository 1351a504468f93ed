// Package change implements confirmed-change detection: the anti-flap state
// machine, alert condition evaluation, and dedupe key generation.
package change

import "github.com/driftwatch/driftwatch/internal/domain/model"

// Transition is the result of feeding one observation into the anti-flap
// state machine. The embedded fields are the next state; ConfirmedChange is
// true only on the observation that promotes a candidate to stable.
type Transition struct {
	LastStable      *model.NormalizedValue
	Candidate       *model.NormalizedValue
	CandidateCount  int
	ConfirmedChange bool
	FirstSighting   bool
}

// Apply runs one anti-flap step. A value differing from the stable one must
// repeat requireConsecutive times before it is promoted; any interruption
// resets the candidate. The input state is never mutated.
func Apply(state *model.RuleState, v *model.NormalizedValue, requireConsecutive int) Transition {
	if requireConsecutive <= 0 {
		requireConsecutive = model.DefaultRequireConsecutive
	}

	var lastStable, candidate *model.NormalizedValue
	var count int
	if state != nil {
		lastStable = state.LastStable
		candidate = state.Candidate
		count = state.CandidateCount
	}

	// First sighting establishes the baseline without counting as a change.
	if lastStable == nil {
		return Transition{LastStable: v, FirstSighting: true}
	}

	if v.Equal(lastStable) {
		return Transition{LastStable: lastStable}
	}

	if candidate != nil && v.Equal(candidate) {
		count++
	} else {
		candidate = v
		count = 1
	}

	if count >= requireConsecutive {
		return Transition{LastStable: v, ConfirmedChange: true}
	}

	return Transition{LastStable: lastStable, Candidate: candidate, CandidateCount: count}
}
