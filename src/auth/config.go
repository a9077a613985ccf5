package auth

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	JWTSecret string        `envconfig:"JWT_SECRET" required:"true"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	// PlatformSecret authorizes the trusted-platform header path used by
	// first-party callers that hold no per-wallet token.
	PlatformSecret string `envconfig:"PLATFORM_SECRET" default:""`

	// CronSecret protects the refund trigger endpoint.
	CronSecret string `envconfig:"CRON_SECRET" required:"true"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
