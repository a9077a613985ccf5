package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"betbridge/src/executor"
	"betbridge/src/model"
	"betbridge/src/repository"
	"betbridge/src/risk"
	"betbridge/src/verifier"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Outcome codes for settlement attempts. Handlers map these to HTTP
// statuses; everything below controller level speaks outcomes, not codes.
const (
	OutcomeSuccess             = "success"
	OutcomeValidationError     = "validation_error"
	OutcomeLimitExceeded       = "limit_exceeded"
	OutcomeReplayDetected      = "replay_detected"
	OutcomePaymentRejected     = "payment_verification_failed"
	OutcomeCapitalUnavailable  = "capital_check_unavailable"
	OutcomeInsufficientCapital = "insufficient_capital"
	OutcomeExecutionFailed     = "execution_failed"
	OutcomeInternalError       = "internal_error"
)

type orderLedger interface {
	Create(ctx context.Context, order *model.Order) error
	FindByPaymentTxHash(ctx context.Context, paymentTxHash string) (*model.Order, error)
	DeleteFailed(ctx context.Context, id uint) error
	MarkSuccess(ctx context.Context, id uint, venueTxHash, venueOrderID string, filledSize, fillPrice decimal.Decimal) error
	MarkExecutionFailed(ctx context.Context, id uint, errorMsg string) error
	DailySpendUSD(ctx context.Context, since time.Time) (decimal.Decimal, error)
	CountRecentByWallet(ctx context.Context, wallet string, since time.Time) (int64, error)
	FindFailedByWallet(ctx context.Context, wallet string, limit int) ([]model.Order, error)
}

type positionLedger interface {
	Upsert(ctx context.Context, wallet, tokenID, marketSlug string, shares, fillPrice, costUSD decimal.Decimal) error
	FindByWalletAndToken(ctx context.Context, wallet, tokenID string) (*model.Position, error)
	Reduce(ctx context.Context, id uint, soldShares, proceedsUSD decimal.Decimal) error
}

type paymentChecker interface {
	Verify(ctx context.Context, paymentTxHash string, expectedAmountUSD decimal.Decimal) verifier.Result
}

type tradeRunner interface {
	ExecuteBuy(ctx context.Context, req executor.BuyRequest) (*executor.Fill, error)
	ExecuteSell(ctx context.Context, req executor.SellRequest) (*executor.Fill, error)
}

type capitalSource interface {
	CollateralBalance(ctx context.Context) (decimal.Decimal, error)
}

type payoutSender interface {
	ServerBalanceMON(ctx context.Context) (decimal.Decimal, error)
	SendMON(ctx context.Context, toAddress string, amountMON decimal.Decimal) (string, error)
	ExplorerTxURL(txHash string) string
}

type monPricer interface {
	GetPriceOrFail(ctx context.Context) (decimal.Decimal, error)
}

// BuyParams is the parsed body of a settlement request.
type BuyParams struct {
	PaymentTxHash string
	WalletAddress string
	MarketSlug    string
	ConditionID   string
	Side          string
	AmountUSD     decimal.Decimal

	// Optional venue hints; skip the catalog lookup when supplied.
	TokenID  string
	TickSize string
	NegRisk  *bool
}

// BuyResult carries the outcome plus the machine-readable hints callers
// use to decide whether to poll, retry, or stop.
type BuyResult struct {
	Outcome         string
	Message         string
	Retryable       bool
	OrphanedPayment bool
	Mock            bool
	Order           *model.Order
	Fill            *executor.Fill
}

// StatusReport is the readiness probe payload.
type StatusReport struct {
	Ready             bool            `json:"ready"`
	CapitalUSD        decimal.Decimal `json:"capital_usd"`
	CapitalError      string          `json:"capital_error,omitempty"`
	DailySpentUSD     decimal.Decimal `json:"daily_spent_usd"`
	DailyRemainingUSD decimal.Decimal `json:"daily_remaining_usd"`
	MaxOrderUSD       decimal.Decimal `json:"max_order_usd"`
	FailedOrders      []model.Order   `json:"failed_orders,omitempty"`
}

// TradeController sequences the buy settlement pipeline: limits, replay
// check, payment verification, ledger insert, capital check, execution.
type TradeController struct {
	orders    orderLedger
	positions positionLedger
	payments  paymentChecker
	trader    tradeRunner
	capital   capitalSource
	limits    risk.LimitConfig
	config    Config
}

func NewTradeController(
	payments paymentChecker,
	trader tradeRunner,
	capital capitalSource,
	limits risk.LimitConfig,
	config Config,
) *TradeController {
	return &TradeController{
		orders:    repository.NewOrderRepository(),
		positions: repository.NewPositionRepository(),
		payments:  payments,
		trader:    trader,
		capital:   capital,
		limits:    limits,
		config:    config,
	}
}

// WithLedgers overrides the repositories, used by tests.
func (c *TradeController) WithLedgers(orders orderLedger, positions positionLedger) *TradeController {
	c.orders = orders
	c.positions = positions
	return c
}

// ExecuteBuy runs the settlement state machine. Every exit after the
// pending insert leaves a durable terminal row so the refund worker can
// find captured payments that never executed.
func (c *TradeController) ExecuteBuy(ctx context.Context, params BuyParams) BuyResult {
	log := logger.WithFields(map[string]interface{}{
		"component":  "TradeController",
		"payment_tx": params.PaymentTxHash,
		"market":     params.MarketSlug,
		"side":       params.Side,
	})
	log.Info("settlement request received")

	// Gate 1: field validation, no side effects.
	if msg := c.validate(params); msg != "" {
		return BuyResult{Outcome: OutcomeValidationError, Message: msg}
	}

	// Gate 2: spend limits, still no side effects.
	if result, ok := c.checkLimits(ctx, params, log); !ok {
		return result
	}

	// Gate 3: demo short-circuit. No payment consumed, nothing persisted.
	if c.config.MockTrading {
		log.Warn("mock trading enabled, returning simulated fill")
		return c.mockFill(params)
	}

	// Gate 4: a payment reference is mandatory past this point.
	if params.PaymentTxHash == "" {
		return BuyResult{Outcome: OutcomeValidationError, Message: "paymentTxHash is required"}
	}

	// Gate 5: replay check.
	if result, ok := c.checkReplay(ctx, params.PaymentTxHash, log); !ok {
		return result
	}

	// Gate 6: verify the payment on chain. Nothing persisted yet, a failed
	// verification costs the caller nothing.
	verification := c.payments.Verify(ctx, params.PaymentTxHash, params.AmountUSD)
	if !verification.Verified {
		log.WithField("reason", verification.Error).Warn("payment verification failed")
		return BuyResult{Outcome: OutcomePaymentRejected, Message: verification.Error}
	}

	wallet := params.WalletAddress
	if wallet == "" {
		wallet = verification.PayerAddress
	}

	// Gate 7: insert pending. The unique payment_tx_hash constraint is the
	// lock; a concurrent request with the same payment loses here.
	order := &model.Order{
		PaymentTxHash:      params.PaymentTxHash,
		WalletAddress:      wallet,
		MarketSlug:         params.MarketSlug,
		ConditionID:        params.ConditionID,
		TokenID:            params.TokenID,
		Side:               params.Side,
		RequestedAmountUSD: params.AmountUSD,
		VerifiedAmountUSD:  verification.ComputedUSD,
		MonPaid:            verification.PaidMON,
		MonPriceUSD:        verification.MonPriceUSD,
		Status:             model.OrderStatusPending,
	}

	if err := c.orders.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrDuplicatePayment) {
			log.Warn("payment hash raced by a concurrent request")
			return BuyResult{
				Outcome: OutcomeReplayDetected,
				Message: "payment already being settled by another request",
			}
		}
		log.WithError(err).Error("failed to insert pending order")
		return BuyResult{Outcome: OutcomeInternalError, Message: "failed to record order"}
	}

	// Gate 8: capital check, fail-closed. The pending row already exists,
	// so both failure shapes must leave a terminal row behind.
	balance, err := c.capital.CollateralBalance(ctx)
	if err != nil {
		log.WithError(err).Error("capital check unreachable")
		c.failOrder(ctx, order, "capital check unavailable: "+err.Error(), log)
		return BuyResult{
			Outcome:         OutcomeCapitalUnavailable,
			Message:         "execution capital check unavailable, retry with a new payment",
			Retryable:       true,
			OrphanedPayment: true,
			Order:           order,
		}
	}
	if balance.LessThan(params.AmountUSD) {
		log.WithFields(map[string]interface{}{
			"balance_usd": balance,
			"needed_usd":  params.AmountUSD,
		}).Error("insufficient execution capital")
		c.failOrder(ctx, order, fmt.Sprintf("insufficient execution capital: have $%s, need $%s",
			balance.StringFixed(2), params.AmountUSD.StringFixed(2)), log)
		return BuyResult{
			Outcome:         OutcomeInsufficientCapital,
			Message:         "insufficient execution capital",
			OrphanedPayment: true,
			Order:           order,
		}
	}

	// Gate 9: execute.
	fill, err := c.trader.ExecuteBuy(ctx, executor.BuyRequest{
		ConditionID:  params.ConditionID,
		OutcomeIndex: outcomeIndex(params.Side),
		AmountUSD:    params.AmountUSD,
		MarketSlug:   params.MarketSlug,
		TokenID:      params.TokenID,
		TickSize:     params.TickSize,
		NegRisk:      params.NegRisk,
	})
	if err != nil {
		log.WithError(err).Error("trade execution failed, payment is orphaned")
		c.failOrder(ctx, order, err.Error(), log)
		return BuyResult{
			Outcome:         OutcomeExecutionFailed,
			Message:         err.Error(),
			OrphanedPayment: true,
			Order:           order,
		}
	}

	if err := c.orders.MarkSuccess(ctx, order.ID, fill.VenueTxHash, fill.OrderID, fill.Shares, fill.Price); err != nil {
		// The trade is placed; surface the fill even if the status write
		// lagged. The row stays pending and is visible for reconciliation.
		log.WithError(err).Error("failed to mark order success after fill")
	} else {
		order.Status = model.OrderStatusSuccess
		order.VenueTxHash = fill.VenueTxHash
		order.VenueOrderID = fill.OrderID
		order.FilledSize = fill.Shares
		order.FillPrice = fill.Price
	}

	if err := c.positions.Upsert(ctx, wallet, fill.TokenID, params.MarketSlug, fill.Shares, fill.Price, fill.AmountUSD); err != nil {
		log.WithError(err).Error("failed to update position after fill")
	}

	log.WithFields(map[string]interface{}{
		"order_id":   order.ID,
		"fill_price": fill.Price,
		"shares":     fill.Shares,
	}).Info("settlement complete")

	return BuyResult{Outcome: OutcomeSuccess, Order: order, Fill: fill}
}

func (c *TradeController) validate(params BuyParams) string {
	if params.MarketSlug == "" && params.ConditionID == "" && params.TokenID == "" {
		return "market identifier is required"
	}
	side := strings.ToLower(params.Side)
	if side != "yes" && side != "no" {
		return "side must be Yes or No"
	}
	if !params.AmountUSD.IsPositive() {
		return "amount must be positive"
	}
	if !risk.WithinOrderCap(params.AmountUSD, c.limits) {
		return fmt.Sprintf("amount exceeds per-order cap of $%s", c.limits.MaxOrder().StringFixed(0))
	}
	return ""
}

func (c *TradeController) checkLimits(ctx context.Context, params BuyParams, log *logger.Entry) (BuyResult, bool) {
	spent, err := c.orders.DailySpendUSD(ctx, risk.StartOfDayUTC(time.Now()))
	if err != nil {
		log.WithError(err).Error("daily spend check failed")
		return BuyResult{Outcome: OutcomeInternalError, Message: "spend limit check failed"}, false
	}
	if !risk.WithinDailyCap(spent, params.AmountUSD, c.limits) {
		log.WithField("spent_usd", spent).Warn("daily cap reached")
		return BuyResult{
			Outcome: OutcomeLimitExceeded,
			Message: fmt.Sprintf("daily spend cap reached: $%s of $%s used",
				spent.StringFixed(2), c.limits.DailyCap().StringFixed(0)),
		}, false
	}

	if params.WalletAddress != "" {
		recent, err := c.orders.CountRecentByWallet(ctx, params.WalletAddress, time.Now().Add(-c.limits.WalletRateWindow))
		if err != nil {
			log.WithError(err).Error("wallet rate check failed")
			return BuyResult{Outcome: OutcomeInternalError, Message: "rate limit check failed"}, false
		}
		if !risk.WithinWalletRate(recent, c.limits) {
			log.WithField("recent_orders", recent).Warn("wallet rate limit reached")
			return BuyResult{Outcome: OutcomeLimitExceeded, Message: "too many orders from this wallet, slow down"}, false
		}
	}

	return BuyResult{}, true
}

func (c *TradeController) checkReplay(ctx context.Context, paymentTxHash string, log *logger.Entry) (BuyResult, bool) {
	existing, err := c.orders.FindByPaymentTxHash(ctx, paymentTxHash)
	if err != nil {
		log.WithError(err).Error("replay lookup failed")
		return BuyResult{Outcome: OutcomeInternalError, Message: "order lookup failed"}, false
	}
	if existing == nil {
		return BuyResult{}, true
	}

	switch existing.Status {
	case model.OrderStatusSuccess:
		log.WithField("order_id", existing.ID).Warn("payment already settled an order")
		return BuyResult{
			Outcome: OutcomeReplayDetected,
			Message: "payment already used",
			Order:   existing,
		}, false
	case model.OrderStatusPending:
		log.WithField("order_id", existing.ID).Warn("payment settlement already in flight")
		return BuyResult{
			Outcome: OutcomeReplayDetected,
			Message: "payment settlement in progress",
			Order:   existing,
		}, false
	case model.OrderStatusExecutionFailed:
		// The one path where the same payment may retry: drop the stale
		// failed row and run the pipeline again.
		log.WithField("order_id", existing.ID).Info("retrying failed settlement with same payment")
		if err := c.orders.DeleteFailed(ctx, existing.ID); err != nil {
			log.WithError(err).Error("failed to clear stale failed order")
			return BuyResult{Outcome: OutcomeInternalError, Message: "failed to clear previous attempt"}, false
		}
		return BuyResult{}, true
	}

	return BuyResult{Outcome: OutcomeInternalError, Message: "order in unknown state"}, false
}

// failOrder moves a pending order to execution_failed. This write must not
// be skipped on any post-insert failure path.
func (c *TradeController) failOrder(ctx context.Context, order *model.Order, reason string, log *logger.Entry) {
	if err := c.orders.MarkExecutionFailed(ctx, order.ID, reason); err != nil {
		log.WithError(err).WithField("order_id", order.ID).
			Error("CRITICAL: failed to record execution failure, payment may be invisible to refund worker")
		return
	}
	order.Status = model.OrderStatusExecutionFailed
	order.ErrorMsg = reason
}

func (c *TradeController) mockFill(params BuyParams) BuyResult {
	price := decimal.NewFromFloat(0.5)
	return BuyResult{
		Outcome: OutcomeSuccess,
		Mock:    true,
		Fill: &executor.Fill{
			OrderID:   "mock-" + uuid.NewString(),
			Price:     price,
			Shares:    params.AmountUSD.Div(price),
			AmountUSD: params.AmountUSD,
			TokenID:   params.TokenID,
		},
	}
}

// Status reports readiness and the caller's unresolved failed orders.
func (c *TradeController) Status(ctx context.Context, wallet string) StatusReport {
	report := StatusReport{
		Ready:       true,
		MaxOrderUSD: c.limits.MaxOrder(),
	}

	balance, err := c.capital.CollateralBalance(ctx)
	if err != nil {
		report.Ready = false
		report.CapitalError = err.Error()
	} else {
		report.CapitalUSD = balance
	}

	spent, err := c.orders.DailySpendUSD(ctx, risk.StartOfDayUTC(time.Now()))
	if err == nil {
		report.DailySpentUSD = spent
		report.DailyRemainingUSD = risk.DailyRemaining(spent, c.limits)
	}

	if wallet != "" {
		failed, err := c.orders.FindFailedByWallet(ctx, wallet, 10)
		if err == nil {
			report.FailedOrders = failed
		}
	}

	return report
}

func outcomeIndex(side string) int {
	if strings.EqualFold(side, model.SideNo) {
		return 1
	}
	return 0
}
