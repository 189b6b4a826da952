package otp_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rayhan/internal/otp"
)

func newTestStore(t *testing.T) (*otp.Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return otp.NewStore(rdb, otp.DefaultConfig()), mr
}

func TestRequestCodeIssuesSixDigits(t *testing.T) {
	store, _ := newTestStore(t)

	code, err := store.RequestCode(context.Background(), "998901234567", "register")
	require.NoError(t, err)
	assert.Len(t, code, 6)
	for _, r := range code {
		assert.True(t, r >= '0' && r <= '9')
	}
}

func TestRequestCodeCooldown(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	first, err := store.RequestCode(ctx, "998901234567", "register")
	require.NoError(t, err)

	_, err = store.RequestCode(ctx, "998901234567", "register")
	require.ErrorIs(t, err, otp.ErrCooldownActive)

	mr.FastForward(61 * time.Second)

	second, err := store.RequestCode(ctx, "998901234567", "register")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestRequestCodeCooldownScopedByPurpose(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.RequestCode(ctx, "998901234567", "register")
	require.NoError(t, err)

	// A different purpose for the same phone has its own cooldown flag.
	_, err = store.RequestCode(ctx, "998901234567", "reset_password")
	require.NoError(t, err)
}

func TestVerifyCodeWrongCodeLeavesStateUntouched(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	code, err := store.RequestCode(ctx, "998901234567", "register")
	require.NoError(t, err)

	assert.False(t, store.VerifyCode(ctx, "998901234567", "register", "000001"))
	assert.False(t, store.ConsumeVerified(ctx, "998901234567", "register"))

	// The stored code survives a failed attempt.
	assert.True(t, store.VerifyCode(ctx, "998901234567", "register", code))
}

func TestVerifyCodeSingleWinnerUnderRace(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	code, err := store.RequestCode(ctx, "998901234567", "register")
	require.NoError(t, err)

	const racers = 16
	var wg sync.WaitGroup
	results := make([]bool, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.VerifyCode(ctx, "998901234567", "register", code)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestConsumeVerifiedIsSingleUse(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	code, err := store.RequestCode(ctx, "998901234567", "register")
	require.NoError(t, err)
	require.True(t, store.VerifyCode(ctx, "998901234567", "register", code))

	assert.True(t, store.ConsumeVerified(ctx, "998901234567", "register"))
	assert.False(t, store.ConsumeVerified(ctx, "998901234567", "register"))
}

func TestVerifiedTicketExpires(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	code, err := store.RequestCode(ctx, "998901234567", "register")
	require.NoError(t, err)
	require.True(t, store.VerifyCode(ctx, "998901234567", "register", code))

	mr.FastForward(31 * time.Minute)

	assert.False(t, store.ConsumeVerified(ctx, "998901234567", "register"))
}

func TestRateLimitCapsRequestsAcrossPurposes(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	// The counter is per phone, not per purpose.
	for i := 0; i < 5; i++ {
		require.True(t, store.CheckRateLimit(ctx, "998901234567"), "request %d should be allowed", i+1)
	}

	// Sixth request within the window is rejected.
	assert.False(t, store.CheckRateLimit(ctx, "998901234567"))

	// Other phones are unaffected.
	assert.True(t, store.CheckRateLimit(ctx, "998907654321"))

	mr.FastForward(61 * time.Minute)
	assert.True(t, store.CheckRateLimit(ctx, "998901234567"))
}
