package refunder

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// BatchSize bounds one run so externally scheduled invocations finish
	// inside their execution window.
	BatchSize int `envconfig:"REFUND_BATCH_SIZE" default:"3"`

	// Window bounds candidate recency. Older failures need manual review.
	Window time.Duration `envconfig:"REFUND_WINDOW" default:"24h"`

	// GasBufferMON is kept back from the refund wallet for transfer gas.
	GasBufferMON float64 `envconfig:"REFUND_GAS_BUFFER_MON" default:"0.1"`

	LoopPeriod time.Duration `envconfig:"REFUND_LOOP_PERIOD" default:"5m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
