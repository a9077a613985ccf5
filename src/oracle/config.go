package oracle

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DefiLlamaURL     string        `envconfig:"PRICE_SOURCE_DEFILLAMA" default:"https://coins.llama.fi/prices/current/coingecko:monad"`
	CoinGeckoURL     string        `envconfig:"PRICE_SOURCE_COINGECKO" default:"https://api.coingecko.com/api/v3/simple/price?ids=monad&vs_currencies=usd"`
	GeckoTerminalURL string        `envconfig:"PRICE_SOURCE_GECKOTERMINAL" default:"https://api.geckoterminal.com/api/v2/networks/monad/pools?page=1"`
	FetchTimeout     time.Duration `envconfig:"PRICE_FETCH_TIMEOUT" default:"4s"`
	CacheTTL         time.Duration `envconfig:"PRICE_CACHE_TTL" default:"60s"`
	StaleCacheTTL    time.Duration `envconfig:"PRICE_STALE_CACHE_TTL" default:"5m"`
	MaxDeviation     float64       `envconfig:"PRICE_MAX_DEVIATION" default:"0.15"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
