package controller

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// MockTrading short-circuits execution with a simulated fill. Demo
	// environments only.
	MockTrading bool `envconfig:"MOCK_TRADING" default:"false"`

	// CashoutReserveMON stays in the payout wallet to cover transfer gas.
	CashoutReserveMON float64 `envconfig:"CASHOUT_RESERVE_MON" default:"0.5"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
