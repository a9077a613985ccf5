package verifier

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Accept payments down to expected × (1 - tolerance); covers MON price
	// drift between the client quote and server verification.
	UnderpayTolerance float64 `envconfig:"PAYMENT_UNDERPAY_TOLERANCE" default:"0.05"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
