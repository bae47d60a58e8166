package dedup

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/carepath/internal/billing/domain"
)

func exerciseLedger(t *testing.T, ledger domain.EventLedger) {
	t.Helper()
	ctx := context.Background()
	eventID := "evt_" + uuid.New().String()

	state, err := ledger.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAcquired, state)

	state, err = ledger.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimInFlight, state)

	require.NoError(t, ledger.Release(ctx, eventID))
	state, err = ledger.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAcquired, state)

	require.NoError(t, ledger.Complete(ctx, eventID))
	state, err = ledger.Claim(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimDone, state)
}

func TestMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewMemoryLedger(0, 0))
}

func TestMemoryLedger_ExpiredClaimCanBeRetaken(t *testing.T) {
	ledger := NewMemoryLedger(time.Minute, time.Hour)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }
	ctx := context.Background()

	state, err := ledger.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAcquired, state)

	now = now.Add(2 * time.Minute)
	state, err = ledger.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAcquired, state)

	require.NoError(t, ledger.Complete(ctx, "evt_1"))
	now = now.Add(2 * time.Hour)
	state, err = ledger.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAcquired, state)
}

func TestMemoryLedger_ClaimPrunesExpiredEntries(t *testing.T) {
	ledger := NewMemoryLedger(time.Minute, time.Hour)
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := ledger.Claim(ctx, "evt_done")
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, "evt_done"))
	_, err = ledger.Claim(ctx, "evt_abandoned")
	require.NoError(t, err)

	now = now.Add(30 * time.Minute)
	_, err = ledger.Claim(ctx, "evt_recent")
	require.NoError(t, err)
	require.NoError(t, ledger.Complete(ctx, "evt_recent"))
	assert.NotContains(t, ledger.entries, "evt_abandoned")
	assert.Contains(t, ledger.entries, "evt_done")

	now = now.Add(45 * time.Minute)
	state, err := ledger.Claim(ctx, "evt_new")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimAcquired, state)

	assert.Len(t, ledger.entries, 2)
	assert.NotContains(t, ledger.entries, "evt_done")
	assert.Contains(t, ledger.entries, "evt_recent")
	assert.Contains(t, ledger.entries, "evt_new")
}

func TestRedisLedger(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping integration test")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })

	ledger := NewRedisLedger(client, time.Minute, time.Hour)
	require.NoError(t, ledger.Ping(context.Background()))
	exerciseLedger(t, ledger)
}
