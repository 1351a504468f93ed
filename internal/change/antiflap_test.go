package change

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

func price(v float64) *model.NormalizedValue {
	return &model.NormalizedValue{
		Kind:  model.ValueKindPrice,
		Price: &model.PriceValue{Value: v, Currency: "EUR"},
	}
}

func stateOf(tr Transition) *model.RuleState {
	return &model.RuleState{
		LastStable:     tr.LastStable,
		Candidate:      tr.Candidate,
		CandidateCount: tr.CandidateCount,
	}
}

func TestApplyFirstSighting(t *testing.T) {
	t.Parallel()

	tr := Apply(nil, price(29.99), 2)
	assert.True(t, tr.FirstSighting)
	assert.False(t, tr.ConfirmedChange)
	require.NotNil(t, tr.LastStable)
	assert.True(t, tr.LastStable.Equal(price(29.99)))
	assert.Nil(t, tr.Candidate)
	assert.Zero(t, tr.CandidateCount)
}

func TestApplyStableRepeat(t *testing.T) {
	t.Parallel()

	state := &model.RuleState{LastStable: price(100)}
	tr := Apply(state, price(100), 2)
	assert.False(t, tr.ConfirmedChange)
	assert.True(t, tr.LastStable.Equal(price(100)))
	assert.Nil(t, tr.Candidate)
}

func TestApplyCandidateLifecycle(t *testing.T) {
	t.Parallel()

	state := &model.RuleState{LastStable: price(100)}

	// First divergent observation becomes the candidate.
	tr := Apply(state, price(85), 2)
	assert.False(t, tr.ConfirmedChange)
	assert.True(t, tr.LastStable.Equal(price(100)))
	require.NotNil(t, tr.Candidate)
	assert.True(t, tr.Candidate.Equal(price(85)))
	assert.Equal(t, 1, tr.CandidateCount)

	// Repeating it promotes on the second consecutive sighting.
	tr = Apply(stateOf(tr), price(85), 2)
	assert.True(t, tr.ConfirmedChange)
	assert.True(t, tr.LastStable.Equal(price(85)))
	assert.Nil(t, tr.Candidate)
	assert.Zero(t, tr.CandidateCount)
}

func TestApplyCandidateInterrupted(t *testing.T) {
	t.Parallel()

	state := &model.RuleState{LastStable: price(100)}

	tr := Apply(state, price(85), 3)
	tr = Apply(stateOf(tr), price(90), 3)
	// A different divergent value restarts the count.
	assert.False(t, tr.ConfirmedChange)
	assert.True(t, tr.Candidate.Equal(price(90)))
	assert.Equal(t, 1, tr.CandidateCount)

	// Reverting to the stable value clears the candidate entirely.
	tr = Apply(stateOf(tr), price(100), 3)
	assert.False(t, tr.ConfirmedChange)
	assert.True(t, tr.LastStable.Equal(price(100)))
	assert.Nil(t, tr.Candidate)
}

func TestApplyImmediateConfirmation(t *testing.T) {
	t.Parallel()

	// requireConsecutive=1 confirms on the first divergent observation.
	state := &model.RuleState{LastStable: price(100)}
	tr := Apply(state, price(85), 1)
	assert.True(t, tr.ConfirmedChange)
	assert.True(t, tr.LastStable.Equal(price(85)))
}

func TestApplyDefaultsRequireConsecutive(t *testing.T) {
	t.Parallel()

	state := &model.RuleState{LastStable: price(100)}
	tr := Apply(state, price(85), 0)
	// Zero falls back to the default of 2, so no immediate confirmation.
	assert.False(t, tr.ConfirmedChange)
	assert.Equal(t, 1, tr.CandidateCount)
}

func TestApplyConfirmationProperty(t *testing.T) {
	t.Parallel()

	// For a window of k consecutive equal divergent values the confirmation
	// fires exactly at the k-th observation.
	const k = 3
	state := &model.RuleState{LastStable: price(100)}

	values := []float64{85, 85, 85, 85}
	confirmedAt := -1
	tr := Transition{LastStable: state.LastStable}
	for i, v := range values {
		tr = Apply(stateOf(tr), price(v), k)
		if tr.ConfirmedChange && confirmedAt == -1 {
			confirmedAt = i
		}
	}
	assert.Equal(t, k-1, confirmedAt)
}
