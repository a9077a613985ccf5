package connectors

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Settlement chain (where MON payments arrive and refunds are sent).
	MonadRPCURL      string        `envconfig:"MONAD_RPC_URL" default:"https://rpc.monad.xyz"`
	MonadExplorerURL string        `envconfig:"MONAD_EXPLORER_URL" default:"https://monadscan.com"`
	DepositAddress   string        `envconfig:"DEPOSIT_ADDRESS"`
	ServerPrivateKey string        `envconfig:"SERVER_PRIVATE_KEY"`
	RPCTimeout       time.Duration `envconfig:"MONAD_RPC_TIMEOUT" default:"6s"`

	// CLOB venue (where orders execute).
	ClobBaseURL      string        `envconfig:"CLOB_BASE_URL" default:"https://clob.polymarket.com"`
	GammaBaseURL     string        `envconfig:"GAMMA_BASE_URL" default:"https://gamma-api.polymarket.com"`
	VenueExplorerURL string        `envconfig:"VENUE_EXPLORER_URL" default:"https://polygonscan.com"`
	ClobAPIKey       string        `envconfig:"CLOB_API_KEY"`
	ClobAPISecret    string        `envconfig:"CLOB_API_SECRET"`
	ClobPassphrase   string        `envconfig:"CLOB_API_PASSPHRASE"`
	ClobTimeout      time.Duration `envconfig:"CLOB_TIMEOUT" default:"8s"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
