// Spend limits for the settlement path. These are read-then-decide checks
// against ledger aggregates: under very high concurrency two requests can
// both pass the same check, so the limits bound financial exposure rather
// than guarantee a hard cap.
package risk

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type LimitConfig struct {
	MaxOrderUSD      float64       `envconfig:"MAX_ORDER_USD" default:"100"`
	DailyCapUSD      float64       `envconfig:"DAILY_CAP_USD" default:"500"`
	WalletMaxOrders  int64         `envconfig:"WALLET_MAX_ORDERS" default:"10"`
	WalletRateWindow time.Duration `envconfig:"WALLET_RATE_WINDOW" default:"1h"`
}

func GetLimitConfig() LimitConfig {
	var config LimitConfig
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}

func (c LimitConfig) MaxOrder() decimal.Decimal {
	return decimal.NewFromFloat(c.MaxOrderUSD)
}

func (c LimitConfig) DailyCap() decimal.Decimal {
	return decimal.NewFromFloat(c.DailyCapUSD)
}

// WithinOrderCap checks the per-order bound.
func WithinOrderCap(amountUSD decimal.Decimal, cfg LimitConfig) bool {
	return amountUSD.IsPositive() && amountUSD.LessThanOrEqual(cfg.MaxOrder())
}

// WithinDailyCap checks whether the new amount still fits under the daily
// cap given what already settled today.
func WithinDailyCap(spentTodayUSD, amountUSD decimal.Decimal, cfg LimitConfig) bool {
	return spentTodayUSD.Add(amountUSD).LessThanOrEqual(cfg.DailyCap())
}

// DailyRemaining is the headroom left under the daily cap, floored at zero.
func DailyRemaining(spentTodayUSD decimal.Decimal, cfg LimitConfig) decimal.Decimal {
	remaining := cfg.DailyCap().Sub(spentTodayUSD)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// WithinWalletRate checks the per-wallet attempt count for the window.
func WithinWalletRate(recentOrders int64, cfg LimitConfig) bool {
	return recentOrders < cfg.WalletMaxOrders
}

// StartOfDayUTC is the instant daily-spend aggregation starts from.
func StartOfDayUTC(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day(), 0, 0, 0, 0, time.UTC)
}
