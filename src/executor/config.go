package executor

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Slippage tolerance applied to the best quote before posting a FOK
	// order: buys bid up, sells accept down.
	SlippagePct float64 `envconfig:"SLIPPAGE_PCT" default:"0.05"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
