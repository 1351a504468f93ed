package change

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupeKeyDeterministic(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	a := DedupeKey("rule-1", []string{"c2", "c1"}, price(29.99), time.UTC, now)
	b := DedupeKey("rule-1", []string{"c1", "c2"}, price(29.99), time.UTC, now)

	// Condition order does not matter.
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDedupeKeyDistinguishesInputs(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC)
	base := DedupeKey("rule-1", []string{"c1"}, price(29.99), time.UTC, now)

	assert.NotEqual(t, base, DedupeKey("rule-2", []string{"c1"}, price(29.99), time.UTC, now))
	assert.NotEqual(t, base, DedupeKey("rule-1", []string{"c2"}, price(29.99), time.UTC, now))
	assert.NotEqual(t, base, DedupeKey("rule-1", []string{"c1"}, price(19.99), time.UTC, now))
	assert.NotEqual(t, base, DedupeKey("rule-1", []string{"c1"}, price(29.99), time.UTC, now.AddDate(0, 0, 1)))
}

func TestDedupeKeyUsesWorkspaceTimezone(t *testing.T) {
	t.Parallel()

	bratislava, err := time.LoadLocation("Europe/Bratislava")
	require.NoError(t, err)

	// 23:30 UTC is already the next day in Bratislava (UTC+2 in summer).
	now := time.Date(2026, 8, 24, 23, 30, 0, 0, time.UTC)
	utcKey := DedupeKey("rule-1", []string{"c1"}, price(1), time.UTC, now)
	localKey := DedupeKey("rule-1", []string{"c1"}, price(1), bratislava, now)
	assert.NotEqual(t, utcKey, localKey)
}

func TestDedupeKeysMidnightOverlap(t *testing.T) {
	t.Parallel()

	t.Run("inside overlap window", func(t *testing.T) {
		t.Parallel()

		now := time.Date(2026, 8, 24, 2, 30, 0, 0, time.UTC)
		today, checkAlso := DedupeKeys("rule-1", []string{"c1"}, price(1), time.UTC, now)

		require.Len(t, checkAlso, 1)
		yesterdayKey := DedupeKey("rule-1", []string{"c1"}, price(1), time.UTC, now.AddDate(0, 0, -1))
		assert.Equal(t, yesterdayKey, checkAlso[0])
		assert.NotEqual(t, today, checkAlso[0])
	})

	t.Run("outside overlap window", func(t *testing.T) {
		t.Parallel()

		now := time.Date(2026, 8, 24, 4, 0, 0, 0, time.UTC)
		_, checkAlso := DedupeKeys("rule-1", []string{"c1"}, price(1), time.UTC, now)
		assert.Empty(t, checkAlso)
	})

	t.Run("today key matches DedupeKey", func(t *testing.T) {
		t.Parallel()

		now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
		today, _ := DedupeKeys("rule-1", []string{"c1"}, price(1), time.UTC, now)
		assert.Equal(t, DedupeKey("rule-1", []string{"c1"}, price(1), time.UTC, now), today)
	})
}

func TestSchemaDriftDedupeKey(t *testing.T) {
	t.Parallel()

	key := SchemaDriftDedupeKey("rule-1", "abc123def456")
	assert.Equal(t, "schema_drift:rule-1:abc123def456", key)
}
