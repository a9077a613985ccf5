// Multi-source MON price oracle with caching and a circuit breaker.
// Sources are queried concurrently; when they disagree beyond the deviation
// bound the breaker opens and every monetary caller must refuse to act.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	SourceCache                 = "cache"
	SourceStaleCache            = "stale_cache"
	SourceMedian                = "median"
	SourceCircuitBreakerOpen    = "circuit_breaker_open"
	SourceCircuitBreakerDeviate = "circuit_breaker_deviation"
)

// ErrPriceUnavailable means the circuit breaker is open. Callers on a
// monetary path must abort, never substitute a guessed price.
var ErrPriceUnavailable = errors.New("MON price unavailable: all price sources failed or disagree, trade refused")

// PriceResult is the outcome of a GetPrice call. A nil Price means the
// circuit breaker is open.
type PriceResult struct {
	Price            *decimal.Decimal `json:"price"`
	Source           string           `json:"source"`
	Cached           bool             `json:"cached"`
	SourcesChecked   int              `json:"sources_checked"`
	SourcesResponded int              `json:"sources_responded"`
}

type priceSource struct {
	name    string
	url     string
	extract func([]byte) (float64, bool)
}

// PriceOracle aggregates independent MON/USD price sources. The cache is
// explicit injected state so instances never depend on package-global
// initialization order.
type PriceOracle struct {
	config  Config
	http    *resty.Client
	sources []priceSource

	mu       sync.Mutex
	cached   *decimal.Decimal
	cachedAt time.Time
}

func NewPriceOracle(config Config) *PriceOracle {
	httpClient := resty.New().
		SetTimeout(config.FetchTimeout)

	return &PriceOracle{
		config: config,
		http:   httpClient,
		sources: []priceSource{
			{name: "defillama", url: config.DefiLlamaURL, extract: extractDefiLlama},
			{name: "coingecko", url: config.CoinGeckoURL, extract: extractCoinGecko},
			{name: "geckoterminal", url: config.GeckoTerminalURL, extract: extractGeckoTerminal},
		},
	}
}

type sourcePrice struct {
	name  string
	price float64
}

// GetPrice returns the current MON/USD price, serving a fresh cache entry
// without querying. Zero responders fall back to a stale cache entry before
// opening the circuit; responders that disagree beyond the deviation bound
// open it outright rather than averaging away a real discrepancy.
func (o *PriceOracle) GetPrice(ctx context.Context) PriceResult {
	now := time.Now()

	o.mu.Lock()
	if o.cached != nil && now.Sub(o.cachedAt) < o.config.CacheTTL {
		cached := *o.cached
		o.mu.Unlock()
		return PriceResult{Price: &cached, Source: SourceCache, Cached: true}
	}
	o.mu.Unlock()

	results := o.fetchAll(ctx)

	if len(results) == 0 {
		o.mu.Lock()
		defer o.mu.Unlock()

		if o.cached != nil && now.Sub(o.cachedAt) < o.config.StaleCacheTTL {
			logger.WithField("component", "PriceOracle").
				Warn("All price sources failed, using stale cache")

			stale := *o.cached
			return PriceResult{
				Price:          &stale,
				Source:         SourceStaleCache,
				Cached:         true,
				SourcesChecked: len(o.sources),
			}
		}

		logger.WithField("component", "PriceOracle").
			Error("Circuit breaker open: all price sources failed")

		return PriceResult{
			Source:         SourceCircuitBreakerOpen,
			SourcesChecked: len(o.sources),
		}
	}

	if len(results) >= 2 {
		prices := make([]float64, 0, len(results))
		for _, r := range results {
			prices = append(prices, r.price)
		}
		sort.Float64s(prices)
		median := prices[len(prices)/2]

		for _, r := range results {
			deviation := (r.price - median) / median
			if deviation < 0 {
				deviation = -deviation
			}
			if deviation > o.config.MaxDeviation {
				logger.WithFields(map[string]interface{}{
					"component": "PriceOracle",
					"source":    r.name,
					"price":     r.price,
					"median":    median,
				}).Error("Circuit breaker open: price sources disagree")

				return PriceResult{
					Source:           SourceCircuitBreakerDeviate,
					SourcesChecked:   len(o.sources),
					SourcesResponded: len(results),
				}
			}
		}

		price := decimal.NewFromFloat(median)
		o.storeCache(price, now)

		return PriceResult{
			Price:            &price,
			Source:           SourceMedian,
			SourcesChecked:   len(o.sources),
			SourcesResponded: len(results),
		}
	}

	// Single responding source is accepted with a warning.
	only := results[0]
	logger.WithFields(map[string]interface{}{
		"component": "PriceOracle",
		"source":    only.name,
		"price":     only.price,
	}).Warn("Only one price source responded")

	price := decimal.NewFromFloat(only.price)
	o.storeCache(price, now)

	return PriceResult{
		Price:            &price,
		Source:           only.name,
		SourcesChecked:   len(o.sources),
		SourcesResponded: 1,
	}
}

// GetPriceOrFail is the variant every monetary caller must use. It returns
// ErrPriceUnavailable instead of substituting a guessed price.
func (o *PriceOracle) GetPriceOrFail(ctx context.Context) (decimal.Decimal, error) {
	result := o.GetPrice(ctx)
	if result.Price == nil {
		return decimal.Zero, ErrPriceUnavailable
	}
	return *result.Price, nil
}

func (o *PriceOracle) fetchAll(ctx context.Context) []sourcePrice {
	var (
		mu      sync.Mutex
		results []sourcePrice
		wg      sync.WaitGroup
	)

	for _, src := range o.sources {
		wg.Add(1)

		go func(src priceSource) {
			defer wg.Done()

			resp, err := o.http.R().
				SetContext(ctx).
				Get(src.url)

			if err != nil || resp.StatusCode() != 200 {
				logger.WithFields(map[string]interface{}{
					"component": "PriceOracle",
					"source":    src.name,
				}).WithError(err).Debug("Price source failed")
				return
			}

			price, ok := src.extract(resp.Body())
			if !ok || price <= 0 {
				return
			}

			mu.Lock()
			results = append(results, sourcePrice{name: src.name, price: price})
			mu.Unlock()
		}(src)
	}

	wg.Wait()
	return results
}

func (o *PriceOracle) storeCache(price decimal.Decimal, at time.Time) {
	o.mu.Lock()
	o.cached = &price
	o.cachedAt = at
	o.mu.Unlock()
}

func extractDefiLlama(body []byte) (float64, bool) {
	var payload struct {
		Coins map[string]struct {
			Price float64 `json:"price"`
		} `json:"coins"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, false
	}
	coin, ok := payload.Coins["coingecko:monad"]
	if !ok || coin.Price <= 0 {
		return 0, false
	}
	return coin.Price, true
}

func extractCoinGecko(body []byte) (float64, bool) {
	var payload map[string]map[string]float64
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, false
	}
	price := payload["monad"]["usd"]
	if price <= 0 {
		return 0, false
	}
	return price, true
}

func extractGeckoTerminal(body []byte) (float64, bool) {
	var payload struct {
		Data []struct {
			Attributes struct {
				BaseTokenPriceUSD string `json:"base_token_price_usd"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, false
	}
	if len(payload.Data) == 0 {
		return 0, false
	}
	price, err := strconv.ParseFloat(payload.Data[0].Attributes.BaseTokenPriceUSD, 64)
	if err != nil || price <= 0 {
		return 0, false
	}
	return price, true
}
