// Trade execution against the CLOB venue: instrument resolution, slippage
// protection, tick rounding, and Fill-or-Kill placement. A FOK order fills
// completely at acceptable terms or not at all; the realized fill price can
// still differ from the quote.
package executor

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"

	"betbridge/src/connectors"
)

// Order statuses the venue reports for an accepted FOK order. Anything else
// is treated as a failure.
var acceptedStatuses = map[string]bool{
	"matched": true,
	"delayed": true,
}

var (
	maxBuyPrice = decimal.NewFromFloat(0.99)
	half        = decimal.NewFromFloat(0.5)
)

type venueClient interface {
	ResolveToken(ctx context.Context, conditionID, slug string) (*connectors.TokenInfo, error)
	BestPrice(ctx context.Context, tokenID, side string) (decimal.Decimal, error)
	PostMarketOrder(ctx context.Context, params connectors.OrderParams, tickSize string, negRisk bool) (*connectors.OrderResponse, error)
	ExplorerTxURL(txHash string) string
}

// BuyRequest sizes the order in quote currency (USD to spend).
type BuyRequest struct {
	ConditionID  string
	OutcomeIndex int
	AmountUSD    decimal.Decimal
	MarketSlug   string

	// Optional direct resolution, skips the catalog lookup.
	TokenID  string
	TickSize string
	NegRisk  *bool
}

// SellRequest sizes the order in units of the held instrument.
type SellRequest struct {
	TokenID  string
	Shares   decimal.Decimal
	TickSize string
	NegRisk  bool
}

// Fill is the realized execution result.
type Fill struct {
	OrderID     string
	VenueTxHash string
	Price       decimal.Decimal
	Shares      decimal.Decimal
	AmountUSD   decimal.Decimal
	ExplorerURL string
	TokenID     string
	TickSize    string
	NegRisk     bool
}

// TradeExecutor places FOK market orders with slippage control.
type TradeExecutor struct {
	venue  venueClient
	config Config
}

func NewTradeExecutor(venue venueClient, config Config) *TradeExecutor {
	return &TradeExecutor{venue: venue, config: config}
}

// ExecuteBuy resolves the outcome token and spends req.AmountUSD on it.
func (e *TradeExecutor) ExecuteBuy(ctx context.Context, req BuyRequest) (*Fill, error) {
	if req.AmountUSD.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("order amount must be positive")
	}

	tokenID := req.TokenID
	tickSize := req.TickSize
	var negRisk bool

	if tokenID != "" {
		if tickSize == "" {
			tickSize = "0.01"
		}
		if req.NegRisk != nil {
			negRisk = *req.NegRisk
		}
	} else {
		tokens, err := e.venue.ResolveToken(ctx, req.ConditionID, req.MarketSlug)
		if err != nil {
			return nil, err
		}
		tokenID = tokens.Yes
		if req.OutcomeIndex != 0 {
			tokenID = tokens.No
		}
		tickSize = tokens.TickSize
		negRisk = tokens.NegRisk
	}

	params := connectors.OrderParams{
		TokenID: tokenID,
		Amount:  req.AmountUSD,
		Side:    connectors.OrderSideBuy,
	}

	// Standard markets get an explicit limit computed from the best ask;
	// neg-risk markets delegate pricing to the venue client.
	if !negRisk {
		bestAsk, err := e.venue.BestPrice(ctx, tokenID, connectors.OrderSideBuy)
		if err != nil {
			return nil, fmt.Errorf("price discovery failed: %w", err)
		}

		limit := buyLimitPrice(bestAsk, e.config.SlippagePct, tickSize)
		params.Price = &limit

		logger.WithFields(map[string]interface{}{
			"component": "TradeExecutor",
			"best_ask":  bestAsk,
			"limit":     limit,
			"tick_size": tickSize,
		}).Debug("Buy limit computed with slippage")
	}

	fill, err := e.post(ctx, params, tickSize, negRisk)
	if err != nil {
		return nil, err
	}

	// For a buy, makingAmount is USDC spent and takingAmount shares received.
	making := parseAmount(fill.MakingAmount)
	taking := parseAmount(fill.TakingAmount)

	price := half
	if params.Price != nil {
		price = *params.Price
	}
	if taking.IsPositive() {
		price = making.Div(taking)
	}

	spent := req.AmountUSD
	if making.IsPositive() {
		spent = making
	}

	return e.buildFill(fill, price, taking, spent, tokenID, tickSize, negRisk), nil
}

// ExecuteSell mirrors the buy path with the slippage direction inverted:
// the limit accepts a lower price, floored at one tick.
func (e *TradeExecutor) ExecuteSell(ctx context.Context, req SellRequest) (*Fill, error) {
	if req.Shares.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("shares must be positive")
	}

	tickSize := req.TickSize
	if tickSize == "" {
		tickSize = "0.01"
	}

	params := connectors.OrderParams{
		TokenID: req.TokenID,
		Amount:  req.Shares,
		Side:    connectors.OrderSideSell,
	}

	if !req.NegRisk {
		bestBid, err := e.venue.BestPrice(ctx, req.TokenID, connectors.OrderSideSell)
		if err != nil {
			return nil, fmt.Errorf("price discovery failed: %w", err)
		}

		limit := sellLimitPrice(bestBid, e.config.SlippagePct, tickSize)
		params.Price = &limit

		logger.WithFields(map[string]interface{}{
			"component": "TradeExecutor",
			"best_bid":  bestBid,
			"limit":     limit,
			"tick_size": tickSize,
		}).Debug("Sell limit computed with slippage")
	}

	fill, err := e.post(ctx, params, tickSize, req.NegRisk)
	if err != nil {
		return nil, err
	}

	// For a sell, makingAmount is shares sold and takingAmount USDC received.
	making := parseAmount(fill.MakingAmount)
	taking := parseAmount(fill.TakingAmount)

	price := decimal.Zero
	if making.IsPositive() {
		price = taking.Div(making)
	}

	sold := req.Shares
	if making.IsPositive() {
		sold = making
	}

	return e.buildFill(fill, price, sold, taking, req.TokenID, tickSize, req.NegRisk), nil
}

func (e *TradeExecutor) post(
	ctx context.Context,
	params connectors.OrderParams,
	tickSize string,
	negRisk bool,
) (*connectors.OrderResponse, error) {

	resp, err := e.venue.PostMarketOrder(ctx, params, tickSize, negRisk)
	if err != nil {
		return nil, err
	}

	if msg := resp.ErrMessage(); msg != "" {
		return nil, fmt.Errorf("venue rejected order: %s", msg)
	}
	if resp.Status != "" && !acceptedStatuses[resp.Status] {
		return nil, fmt.Errorf("venue order status: %s", resp.Status)
	}

	return resp, nil
}

func (e *TradeExecutor) buildFill(
	resp *connectors.OrderResponse,
	price decimal.Decimal,
	shares decimal.Decimal,
	amountUSD decimal.Decimal,
	tokenID string,
	tickSize string,
	negRisk bool,
) *Fill {

	var txHash string
	if len(resp.TransactionHashes) > 0 {
		txHash = resp.TransactionHashes[0]
	}

	return &Fill{
		OrderID:     resp.OrderID,
		VenueTxHash: txHash,
		Price:       price,
		Shares:      shares,
		AmountUSD:   amountUSD,
		ExplorerURL: e.venue.ExplorerTxURL(txHash),
		TokenID:     tokenID,
		TickSize:    tickSize,
		NegRisk:     negRisk,
	}
}

// buyLimitPrice bids the best ask up by the slippage tolerance, capped at
// 0.99, rounded up to the instrument's tick.
func buyLimitPrice(best decimal.Decimal, slippage float64, tickSize string) decimal.Decimal {
	tick := parseTick(tickSize)

	limit := best.Mul(decimal.NewFromFloat(1 + slippage))
	if limit.GreaterThan(maxBuyPrice) {
		limit = maxBuyPrice
	}

	return limit.Div(tick).Ceil().Mul(tick)
}

// sellLimitPrice accepts the best bid down by the slippage tolerance,
// rounded down to the tick and floored at one tick.
func sellLimitPrice(best decimal.Decimal, slippage float64, tickSize string) decimal.Decimal {
	tick := parseTick(tickSize)

	limit := best.Mul(decimal.NewFromFloat(1 - slippage)).
		Div(tick).Floor().Mul(tick)

	if limit.LessThan(tick) {
		return tick
	}
	return limit
}

func parseTick(tickSize string) decimal.Decimal {
	tick, err := decimal.NewFromString(tickSize)
	if err != nil || !tick.IsPositive() {
		return decimal.NewFromFloat(0.01)
	}
	return tick
}

func parseAmount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return amount
}
