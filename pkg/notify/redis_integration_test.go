//go:build integration

package notify

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against the server in LEDGER_TEST_REDIS_URL, e.g. redis://localhost:6379/15.
func TestRedisNotifier_Integration(t *testing.T) {
	url := os.Getenv("LEDGER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	list := "loanledger:test:" + uuid.NewString()
	n, err := DialRedis(ctx, url, list)
	require.NoError(t, err)
	defer n.Close()
	defer n.client.Del(ctx, list)

	ev := Event{Kind: EventLedgerForeclosed, LedgerID: uuid.New(), Amount: decimal.RequireFromString("1234.50")}
	require.NoError(t, n.Notify(ctx, ev))

	raw, err := n.client.LPop(ctx, list).Result()
	require.NoError(t, err)
	var got Event
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, ev.LedgerID, got.LedgerID)
	assert.Equal(t, EventLedgerForeclosed, got.Kind)
	assert.True(t, ev.Amount.Equal(got.Amount))
}
