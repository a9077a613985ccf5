package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testConfig() LimitConfig {
	return LimitConfig{
		MaxOrderUSD:      100,
		DailyCapUSD:      500,
		WalletMaxOrders:  10,
		WalletRateWindow: time.Hour,
	}
}

func TestWithinOrderCap(t *testing.T) {
	cfg := testConfig()

	assert.True(t, WithinOrderCap(decimal.NewFromInt(1), cfg))
	assert.True(t, WithinOrderCap(decimal.NewFromInt(100), cfg))
	assert.False(t, WithinOrderCap(decimal.NewFromFloat(100.01), cfg))
	assert.False(t, WithinOrderCap(decimal.Zero, cfg))
	assert.False(t, WithinOrderCap(decimal.NewFromInt(-5), cfg))
}

func TestWithinDailyCap(t *testing.T) {
	cfg := testConfig()

	assert.True(t, WithinDailyCap(decimal.NewFromInt(400), decimal.NewFromInt(100), cfg))
	assert.False(t, WithinDailyCap(decimal.NewFromInt(450), decimal.NewFromInt(51), cfg))
	assert.True(t, WithinDailyCap(decimal.Zero, decimal.NewFromInt(100), cfg))
}

func TestDailyRemaining(t *testing.T) {
	cfg := testConfig()

	assert.True(t, DailyRemaining(decimal.NewFromInt(420), cfg).Equal(decimal.NewFromInt(80)))
	assert.True(t, DailyRemaining(decimal.Zero, cfg).Equal(decimal.NewFromInt(500)))
	// Spend past the cap never reports negative headroom.
	assert.True(t, DailyRemaining(decimal.NewFromInt(600), cfg).Equal(decimal.Zero))
}

func TestWithinWalletRate(t *testing.T) {
	cfg := testConfig()

	assert.True(t, WithinWalletRate(0, cfg))
	assert.True(t, WithinWalletRate(9, cfg))
	assert.False(t, WithinWalletRate(10, cfg))
	assert.False(t, WithinWalletRate(11, cfg))
}

func TestStartOfDayUTC(t *testing.T) {
	est := time.FixedZone("EST", -5*3600)
	// 23:30 EST on Jan 3 is already Jan 4 in UTC.
	now := time.Date(2026, time.January, 3, 23, 30, 0, 0, est)

	start := StartOfDayUTC(now)
	assert.Equal(t, time.Date(2026, time.January, 4, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.UTC, start.Location())
}
