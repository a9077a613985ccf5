package controller

import (
	"context"

	"betbridge/src/executor"
	"betbridge/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// Payout statuses for the cashout leg of a sell. "pending" is not an
// error, the proceeds simply wait for the payout wallet to be funded.
const (
	PayoutSent             = "sent"
	PayoutPartial          = "partial"
	PayoutPending          = "pending"
	PayoutPriceUnavailable = "priceUnavailable"
)

type SellParams struct {
	WalletAddress string
	TokenID       string
	Shares        decimal.Decimal

	TickSize string
	NegRisk  bool
}

type SellResult struct {
	Outcome string
	Message string

	Fill        *executor.Fill
	ProceedsUSD decimal.Decimal

	PayoutStatus string
	PayoutMON    decimal.Decimal
	PayoutTxHash string
	ExplorerURL  string
	PayoutError  string
}

// SellController settles sells: execute on the venue, reduce the position,
// then pay proceeds out in MON at the oracle price.
type SellController struct {
	orders    orderLedger
	positions positionLedger
	trader    tradeRunner
	payouts   payoutSender
	oracle    monPricer
	config    Config
}

func NewSellController(
	trader tradeRunner,
	payouts payoutSender,
	oracle monPricer,
	config Config,
) *SellController {
	return &SellController{
		orders:    repository.NewOrderRepository(),
		positions: repository.NewPositionRepository(),
		trader:    trader,
		payouts:   payouts,
		oracle:    oracle,
		config:    config,
	}
}

// WithLedgers overrides the repositories, used by tests.
func (c *SellController) WithLedgers(orders orderLedger, positions positionLedger) *SellController {
	c.orders = orders
	c.positions = positions
	return c
}

// ExecuteSell sells shares from the wallet's position and cashes the
// proceeds out in MON. Position accounting always runs once the venue
// fill lands; payout failures only degrade the payout status.
func (c *SellController) ExecuteSell(ctx context.Context, params SellParams) SellResult {
	log := logger.WithFields(map[string]interface{}{
		"component": "SellController",
		"wallet":    params.WalletAddress,
		"token_id":  params.TokenID,
	})
	log.Info("sell request received")

	if params.WalletAddress == "" || params.TokenID == "" {
		return SellResult{Outcome: OutcomeValidationError, Message: "wallet and tokenId are required"}
	}
	if !params.Shares.IsPositive() {
		return SellResult{Outcome: OutcomeValidationError, Message: "shares must be positive"}
	}

	position, err := c.positions.FindByWalletAndToken(ctx, params.WalletAddress, params.TokenID)
	if err != nil {
		log.WithError(err).Error("position lookup failed")
		return SellResult{Outcome: OutcomeInternalError, Message: "position lookup failed"}
	}
	if position == nil {
		return SellResult{Outcome: OutcomeValidationError, Message: "no open position for this token"}
	}
	if position.Shares.LessThan(params.Shares) {
		return SellResult{Outcome: OutcomeValidationError, Message: "not enough shares in position"}
	}

	fill, err := c.trader.ExecuteSell(ctx, executor.SellRequest{
		TokenID:  params.TokenID,
		Shares:   params.Shares,
		TickSize: params.TickSize,
		NegRisk:  params.NegRisk,
	})
	if err != nil {
		log.WithError(err).Error("sell execution failed")
		return SellResult{Outcome: OutcomeExecutionFailed, Message: err.Error()}
	}

	// Share accounting is unconditional from here on. Payout trouble must
	// never leave the position overstated.
	if err := c.positions.Reduce(ctx, position.ID, fill.Shares, fill.AmountUSD); err != nil {
		log.WithError(err).Error("failed to reduce position after sell fill")
	}

	result := SellResult{
		Outcome:     OutcomeSuccess,
		Fill:        fill,
		ProceedsUSD: fill.AmountUSD,
	}
	c.cashout(ctx, params.WalletAddress, fill.AmountUSD, &result, log)

	log.WithFields(map[string]interface{}{
		"proceeds_usd":  result.ProceedsUSD,
		"payout_status": result.PayoutStatus,
		"payout_mon":    result.PayoutMON,
	}).Info("sell settled")

	return result
}

// cashout converts proceeds to MON and pays them to the wallet. A reserve
// stays behind to cover transfer gas.
func (c *SellController) cashout(
	ctx context.Context,
	wallet string,
	proceedsUSD decimal.Decimal,
	result *SellResult,
	log *logger.Entry,
) {

	price, err := c.oracle.GetPriceOrFail(ctx)
	if err != nil {
		// Fail closed on price, never guess a payout amount.
		log.WithError(err).Error("payout skipped, MON price unavailable")
		result.PayoutStatus = PayoutPriceUnavailable
		result.PayoutError = err.Error()
		return
	}

	owedMON := proceedsUSD.Div(price)
	result.PayoutMON = owedMON

	balance, err := c.payouts.ServerBalanceMON(ctx)
	if err != nil {
		log.WithError(err).Error("payout wallet balance unavailable")
		result.PayoutStatus = PayoutPending
		result.PayoutError = err.Error()
		return
	}

	reserve := decimal.NewFromFloat(c.config.CashoutReserveMON)
	available := balance.Sub(reserve)
	if !available.IsPositive() {
		log.WithField("balance_mon", balance).Warn("payout wallet unfunded, payout deferred")
		result.PayoutStatus = PayoutPending
		return
	}

	sendMON := owedMON
	status := PayoutSent
	if available.LessThan(owedMON) {
		sendMON = available
		status = PayoutPartial
		log.WithFields(map[string]interface{}{
			"owed_mon":      owedMON,
			"available_mon": available,
		}).Warn("partial payout, wallet short of full amount")
	}

	txHash, err := c.payouts.SendMON(ctx, wallet, sendMON)
	if err != nil {
		log.WithError(err).Error("payout transfer failed")
		result.PayoutStatus = PayoutPending
		result.PayoutError = err.Error()
		return
	}

	result.PayoutStatus = status
	result.PayoutMON = sendMON
	result.PayoutTxHash = txHash
	result.ExplorerURL = c.payouts.ExplorerTxURL(txHash)
}
