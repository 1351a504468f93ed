package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/driftwatch/driftwatch/internal/domain/model"
	"github.com/driftwatch/driftwatch/internal/mocks"
)

func newTestLimiter(cache *fakeCache, now time.Time) (*RateLimiter, *time.Time) {
	current := now
	limiter := NewRateLimiter(RateLimiterOptions{
		Cache: cache,
		Now:   func() time.Time { return current },
	})
	return limiter, &current
}

func TestConsumeFreshBucket(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(newFakeCache(), time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	decision, err := limiter.Consume(context.Background(), "shop.example", model.ProviderHTTP)
	require.NoError(t, err)

	assert.True(t, decision.Allowed)
	assert.InDelta(t, DefaultBucketCapacity-1, decision.Remaining, 1e-9)
}

func TestConsumeDrainAndDeny(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(newFakeCache(), time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < int(DefaultBucketCapacity); i++ {
		decision, err := limiter.Consume(ctx, "shop.example", model.ProviderHTTP)
		require.NoError(t, err)
		require.True(t, decision.Allowed, "token %d should be granted", i+1)
	}

	decision, err := limiter.Consume(ctx, "shop.example", model.ProviderHTTP)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	// ceil(1 / 0.5 tokens per second) = 2 seconds.
	assert.Equal(t, 2*time.Second, decision.RetryAfter)
}

func TestConsumeRefillsOverTime(t *testing.T) {
	t.Parallel()

	limiter, now := newTestLimiter(newFakeCache(), time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < int(DefaultBucketCapacity); i++ {
		_, err := limiter.Consume(ctx, "shop.example", model.ProviderHTTP)
		require.NoError(t, err)
	}
	denied, err := limiter.Consume(ctx, "shop.example", model.ProviderHTTP)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	// 4 seconds at 0.5 tokens/s refills two tokens.
	*now = now.Add(4 * time.Second)
	decision, err := limiter.Consume(ctx, "shop.example", model.ProviderHTTP)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.InDelta(t, 1.0, decision.Remaining, 1e-9)
}

func TestConsumeBucketsAreIndependent(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestLimiter(newFakeCache(), time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < int(DefaultBucketCapacity); i++ {
		_, err := limiter.Consume(ctx, "shop.example", model.ProviderHTTP)
		require.NoError(t, err)
	}

	// Another provider and another domain still have full buckets.
	other, err := limiter.Consume(ctx, "shop.example", model.ProviderHeadless)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	domain, err := limiter.Consume(ctx, "other.example", model.ProviderHTTP)
	require.NoError(t, err)
	assert.True(t, domain.Allowed)
}

func TestConsumeFailsOpenOnCacheError(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	cache.getErr = errors.New("redis down")
	limiter, _ := newTestLimiter(cache, time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))

	decision, err := limiter.Consume(context.Background(), "shop.example", model.ProviderHTTP)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestConsumeRecoversFromCorruptState(t *testing.T) {
	t.Parallel()

	cache := newFakeCache()
	require.NoError(t, cache.Set(context.Background(),
		bucketKey("shop.example", model.ProviderHTTP), []byte("not json"), time.Minute))

	limiter, _ := newTestLimiter(cache, time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC))
	decision, err := limiter.Consume(context.Background(), "shop.example", model.ProviderHTTP)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.InDelta(t, DefaultBucketCapacity-1, decision.Remaining, 1e-9)
}

func TestConsumeWritesBucketBackWithLeaseTTL(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	cache := mocks.NewMockCacheRepository(ctrl)
	key := bucketKey("shop.example", model.ProviderHTTP)

	cache.EXPECT().Get(gomock.Any(), key).Return(nil, nil)
	cache.EXPECT().
		Set(gomock.Any(), key, gomock.Any(), DefaultBucketLeaseTTL).
		DoAndReturn(func(_ context.Context, _ string, raw []byte, _ time.Duration) error {
			var state bucketState
			require.NoError(t, json.Unmarshal(raw, &state))
			assert.InDelta(t, DefaultBucketCapacity-1, state.Tokens, 1e-9)
			assert.Equal(t, now, state.UpdatedAt)
			return nil
		})

	limiter := NewRateLimiter(RateLimiterOptions{
		Cache: cache,
		Now:   func() time.Time { return now },
	})
	decision, err := limiter.Consume(context.Background(), "shop.example", model.ProviderHTTP)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
