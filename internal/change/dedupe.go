package change

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/internal/domain/model"
)

// MidnightOverlapWindow is how long after local midnight yesterday's dedupe
// bucket is still consulted. New alerts are always stored under today's key;
// the overlap only suppresses boundary duplicates.
const MidnightOverlapWindow = 4 * time.Hour

// DedupeKey derives the deterministic alert identity for one day bucket:
// sha256 over rule id, sorted condition ids, a truncated value hash, and the
// local date in the workspace timezone.
func DedupeKey(ruleID string, conditionIDs []string, value *model.NormalizedValue, loc *time.Location, now time.Time) string {
	return dedupeKeyForDay(ruleID, conditionIDs, value, localDay(now, loc))
}

// DedupeKeys returns today's key plus any additional keys that must be
// checked for duplicates. Within the overlap window after local midnight the
// second element carries yesterday's key.
func DedupeKeys(ruleID string, conditionIDs []string, value *model.NormalizedValue, loc *time.Location, now time.Time) (today string, checkAlso []string) {
	local := now.In(location(loc))
	today = dedupeKeyForDay(ruleID, conditionIDs, value, local.Format("2006-01-02"))

	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	if local.Sub(midnight) < MidnightOverlapWindow {
		yesterday := midnight.AddDate(0, 0, -1).Format("2006-01-02")
		checkAlso = []string{dedupeKeyForDay(ruleID, conditionIDs, value, yesterday)}
	}
	return today, checkAlso
}

// SchemaDriftDedupeKey is the standing key for a schema-drift alert. Keyed by
// shape hash so a recurring drift collides with its existing alert instead of
// creating a new one per day.
func SchemaDriftDedupeKey(ruleID, shapeHash string) string {
	return "schema_drift:" + ruleID + ":" + shapeHash
}

func dedupeKeyForDay(ruleID string, conditionIDs []string, value *model.NormalizedValue, day string) string {
	ids := make([]string, len(conditionIDs))
	copy(ids, conditionIDs)
	sort.Strings(ids)

	valueHash := sha256.Sum256([]byte(value.Canonical()))
	payload := strings.Join([]string{
		ruleID,
		strings.Join(ids, ","),
		hex.EncodeToString(valueHash[:])[:16],
		day,
	}, ":")

	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

func localDay(now time.Time, loc *time.Location) string {
	return now.In(location(loc)).Format("2006-01-02")
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
