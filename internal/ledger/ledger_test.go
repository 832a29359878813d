package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/chatsync/internal/models"
	"github.com/raphaelgruber/chatsync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateKey(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{"single digit day", time.Date(2026, time.October, 4, 12, 0, 0, 0, time.UTC), "Sun Oct 04 2026"},
		{"end of year", time.Date(2025, time.December, 31, 23, 59, 0, 0, time.UTC), "Wed Dec 31 2025"},
		{"local zone", time.Date(2026, time.January, 1, 0, 30, 0, 0, time.FixedZone("CET", 3600)), "Thu Jan 01 2026"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DateKey(tt.in))
		})
	}
}

func TestAddAndRead(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	l := New(kv, nil)
	date := "Wed Oct 14 2026"

	totals, err := l.ReadTotals(ctx, date)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTotals{}, totals)

	totals, err = l.AddTokens(ctx, date, 5, 2)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTotals{InputTokens: 5, OutputTokens: 2}, totals)

	totals, err = l.AddTokens(ctx, date, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTotals{InputTokens: 15, OutputTokens: 22}, totals)

	raw, err := kv.Get(ctx, "inputTokens-"+date)
	require.NoError(t, err)
	assert.Equal(t, "15", raw)
	raw, err = kv.Get(ctx, "outputTokens-"+date)
	require.NoError(t, err)
	assert.Equal(t, "22", raw)

	other, err := l.ReadTotals(ctx, "Thu Oct 15 2026")
	require.NoError(t, err)
	assert.Equal(t, models.TokenTotals{}, other)
}

func TestUnparseableValueCountsAsZero(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	require.NoError(t, kv.Set(ctx, "inputTokens-d", "NaN"))
	l := New(kv, nil)

	totals, err := l.AddTokens(ctx, "d", 3, 1)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTotals{InputTokens: 3, OutputTokens: 1}, totals)
}

func TestNegativeCountsIgnored(t *testing.T) {
	l := New(store.NewMemory(), nil)
	totals, err := l.AddTokens(context.Background(), "d", -4, 7)
	require.NoError(t, err)
	assert.Equal(t, models.TokenTotals{InputTokens: 0, OutputTokens: 7}, totals)
}
