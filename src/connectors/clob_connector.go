// REST client for the CLOB venue plus its market-catalog (Gamma) API.
// Market-data calls retry on transient failures; order placement never
// retries, a FOK order must not be posted twice.
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

const (
	defaultRetryAttempts   = 3
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 4 * time.Second
)

// TokenInfo is the tradable-instrument resolution for one market.
type TokenInfo struct {
	Yes      string
	No       string
	TickSize string
	NegRisk  bool
}

// OrderParams describes one FOK market order. Price is nil for neg-risk
// markets, where the venue computes the marketable price itself.
type OrderParams struct {
	TokenID string
	Amount  decimal.Decimal
	Side    string
	Price   *decimal.Decimal
}

// OrderResponse is the venue's raw answer to an order post. The venue uses
// both errorMsg and error fields depending on the failure.
type OrderResponse struct {
	ErrorMsg          string   `json:"errorMsg"`
	Error             string   `json:"error"`
	Status            string   `json:"status"`
	OrderID           string   `json:"orderID"`
	TransactionHashes []string `json:"transactionsHashes"`
	MakingAmount      string   `json:"makingAmount"`
	TakingAmount      string   `json:"takingAmount"`
}

// ErrMessage returns whichever error field the venue populated.
func (r *OrderResponse) ErrMessage() string {
	if r.ErrorMsg != "" {
		return r.ErrorMsg
	}
	return r.Error
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type orderBook struct {
	Asks []bookLevel `json:"asks"`
	Bids []bookLevel `json:"bids"`
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}

	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

// ClobClient is the authenticated REST client for the order-book venue.
type ClobClient struct {
	apiKey      string
	apiSecret   string
	passphrase  string
	explorerURL string

	http  *resty.Client // order placement, no retry
	md    *resty.Client // market data, retried
	gamma *resty.Client
}

func NewClobClient(config Config) *ClobClient {
	ordersClient := resty.New().
		SetBaseURL(config.ClobBaseURL).
		SetTimeout(config.ClobTimeout)

	mdClient := resty.New().
		SetBaseURL(config.ClobBaseURL).
		SetTimeout(config.ClobTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	gammaClient := resty.New().
		SetBaseURL(config.GammaBaseURL).
		SetTimeout(config.ClobTimeout).
		SetRetryCount(defaultRetryAttempts - 1).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	return &ClobClient{
		apiKey:      config.ClobAPIKey,
		apiSecret:   config.ClobAPISecret,
		passphrase:  config.ClobPassphrase,
		explorerURL: config.VenueExplorerURL,
		http:        ordersClient,
		md:          mdClient,
		gamma:       gammaClient,
	}
}

// ExplorerTxURL renders a link to a venue-chain transaction.
func (c *ClobClient) ExplorerTxURL(txHash string) string {
	if txHash == "" {
		return ""
	}
	return fmt.Sprintf("%s/tx/%s", c.explorerURL, txHash)
}

func signRequest(secret, timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *ClobClient) authHeaders(method, path, body string) map[string]string {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	return map[string]string{
		"POLY-API-KEY":    c.apiKey,
		"POLY-PASSPHRASE": c.passphrase,
		"POLY-TIMESTAMP":  timestamp,
		"POLY-SIGNATURE":  signRequest(c.apiSecret, timestamp, method, path, body),
	}
}

// ResolveToken looks up the outcome token ids for a market, trying slug
// first (condition-id search can return stale entries), then condition id.
func (c *ClobClient) ResolveToken(ctx context.Context, conditionID, slug string) (*TokenInfo, error) {
	type gammaMarket struct {
		Question              string      `json:"question"`
		ClobTokenIds          string      `json:"clobTokenIds"`
		OrderPriceMinTickSize json.Number `json:"orderPriceMinTickSize"`
		NegRisk               bool        `json:"negRisk"`
	}

	queries := []map[string]string{}
	if slug != "" {
		queries = append(queries, map[string]string{"slug": slug, "limit": "1"})
	}
	queries = append(queries, map[string]string{"condition_id": conditionID, "limit": "1"})

	for _, query := range queries {
		resp, err := c.gamma.R().
			SetContext(ctx).
			SetQueryParams(query).
			Get("/markets")

		if err != nil || resp.StatusCode() != 200 {
			continue
		}

		var markets []gammaMarket
		if err := json.Unmarshal(resp.Body(), &markets); err != nil || len(markets) == 0 {
			continue
		}

		var tokenIDs []string
		if err := json.Unmarshal([]byte(markets[0].ClobTokenIds), &tokenIDs); err != nil || len(tokenIDs) < 2 {
			continue
		}

		tickSize := markets[0].OrderPriceMinTickSize.String()
		if tickSize == "" || tickSize == "0" {
			tickSize = "0.01"
		}

		logger.WithFields(map[string]interface{}{
			"component": "ClobClient",
			"question":  markets[0].Question,
		}).Debug("Market resolved via catalog")

		return &TokenInfo{
			Yes:      tokenIDs[0],
			No:       tokenIDs[1],
			TickSize: tickSize,
			NegRisk:  markets[0].NegRisk,
		}, nil
	}

	return nil, errors.New("market not found in catalog")
}

// BestPrice returns the lowest ask for buys or the highest bid for sells,
// falling back to the last trade price on an empty book.
func (c *ClobClient) BestPrice(ctx context.Context, tokenID, side string) (decimal.Decimal, error) {
	resp, err := c.md.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		Get("/book")

	if err == nil && resp.StatusCode() == 200 {
		var book orderBook
		if err := json.Unmarshal(resp.Body(), &book); err == nil {
			levels := book.Asks
			if side == OrderSideSell {
				levels = book.Bids
			}
			if len(levels) > 0 {
				if price, err := decimal.NewFromString(levels[0].Price); err == nil && price.IsPositive() {
					return price, nil
				}
			}
		}
	}

	// Empty or unreachable book: last trade price.
	resp, err = c.md.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		Get("/last-trade-price")

	if err != nil {
		return decimal.Zero, fmt.Errorf("order book unavailable: %w", err)
	}
	if resp.StatusCode() != 200 {
		return decimal.Zero, fmt.Errorf("order book unavailable: HTTP %d", resp.StatusCode())
	}

	var last struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(resp.Body(), &last); err != nil {
		return decimal.Zero, err
	}

	price, err := decimal.NewFromString(last.Price)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, errors.New("no usable price for token")
	}
	return price, nil
}

// PostMarketOrder places a Fill-or-Kill market order. The caller decides
// whether the response counts as a fill; this method only fails on
// transport-level problems.
func (c *ClobClient) PostMarketOrder(
	ctx context.Context,
	params OrderParams,
	tickSize string,
	negRisk bool,
) (*OrderResponse, error) {

	payload := map[string]interface{}{
		"tokenID":   params.TokenID,
		"amount":    params.Amount.String(),
		"side":      params.Side,
		"orderType": "FOK",
		"tickSize":  tickSize,
		"negRisk":   negRisk,
		"clientID":  uuid.NewString(),
	}
	if params.Price != nil {
		payload["price"] = params.Price.String()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	const path = "/order"

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.authHeaders("POST", path, string(body))).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(path)

	if err != nil {
		return nil, fmt.Errorf("order post failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("order post HTTP %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(resp.Body(), &orderResp); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	return &orderResp, nil
}

// CollateralBalance reads the available execution capital (USDC) from the
// venue. The error path matters: callers must fail closed, never assume
// sufficient balance.
func (c *ClobClient) CollateralBalance(ctx context.Context) (decimal.Decimal, error) {
	const path = "/balance-allowance"

	resp, err := c.md.R().
		SetContext(ctx).
		SetHeaders(c.authHeaders("GET", path, "")).
		SetQueryParam("asset_type", "COLLATERAL").
		Get(path)

	if err != nil {
		return decimal.Zero, fmt.Errorf("balance check failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return decimal.Zero, fmt.Errorf("balance check HTTP %d", resp.StatusCode())
	}

	var payload struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return decimal.Zero, err
	}

	raw, err := decimal.NewFromString(payload.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unparseable balance %q", payload.Balance)
	}

	// Venue reports collateral in 1e6 base units.
	return raw.Div(decimal.New(1, 6)), nil
}
