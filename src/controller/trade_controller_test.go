package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"betbridge/src/executor"
	"betbridge/src/model"
	"betbridge/src/repository"
	"betbridge/src/risk"
	"betbridge/src/verifier"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockOrderLedger struct {
	existing  *model.Order
	findErr   error
	createErr error

	created      *model.Order
	deleted      []uint
	successID    uint
	failedID     uint
	failedReason string

	dailySpend decimal.Decimal
	spendErr   error
	recent     int64
	recentErr  error
	failed     []model.Order
}

func (m *mockOrderLedger) Create(ctx context.Context, order *model.Order) error {
	if m.createErr != nil {
		return m.createErr
	}
	order.ID = 42
	m.created = order
	return nil
}

func (m *mockOrderLedger) FindByPaymentTxHash(ctx context.Context, hash string) (*model.Order, error) {
	return m.existing, m.findErr
}

func (m *mockOrderLedger) DeleteFailed(ctx context.Context, id uint) error {
	m.deleted = append(m.deleted, id)
	m.existing = nil
	return nil
}

func (m *mockOrderLedger) MarkSuccess(ctx context.Context, id uint, venueTxHash, venueOrderID string, filledSize, fillPrice decimal.Decimal) error {
	m.successID = id
	return nil
}

func (m *mockOrderLedger) MarkExecutionFailed(ctx context.Context, id uint, errorMsg string) error {
	m.failedID = id
	m.failedReason = errorMsg
	return nil
}

func (m *mockOrderLedger) DailySpendUSD(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	return m.dailySpend, m.spendErr
}

func (m *mockOrderLedger) CountRecentByWallet(ctx context.Context, wallet string, since time.Time) (int64, error) {
	return m.recent, m.recentErr
}

func (m *mockOrderLedger) FindFailedByWallet(ctx context.Context, wallet string, limit int) ([]model.Order, error) {
	return m.failed, nil
}

type mockPositionLedger struct {
	upserts  int
	position *model.Position
	reduced  []decimal.Decimal
}

func (m *mockPositionLedger) Upsert(ctx context.Context, wallet, tokenID, marketSlug string, shares, fillPrice, costUSD decimal.Decimal) error {
	m.upserts++
	return nil
}

func (m *mockPositionLedger) FindByWalletAndToken(ctx context.Context, wallet, tokenID string) (*model.Position, error) {
	return m.position, nil
}

func (m *mockPositionLedger) Reduce(ctx context.Context, id uint, soldShares, proceedsUSD decimal.Decimal) error {
	m.reduced = append(m.reduced, soldShares)
	return nil
}

type mockPayments struct {
	result verifier.Result
	calls  int
}

func (m *mockPayments) Verify(ctx context.Context, hash string, expected decimal.Decimal) verifier.Result {
	m.calls++
	return m.result
}

type mockTrader struct {
	fill    *executor.Fill
	buyErr  error
	sellErr error
	buys    int
}

func (m *mockTrader) ExecuteBuy(ctx context.Context, req executor.BuyRequest) (*executor.Fill, error) {
	m.buys++
	return m.fill, m.buyErr
}

func (m *mockTrader) ExecuteSell(ctx context.Context, req executor.SellRequest) (*executor.Fill, error) {
	return m.fill, m.sellErr
}

type mockCapital struct {
	balance decimal.Decimal
	err     error
}

func (m *mockCapital) CollateralBalance(ctx context.Context) (decimal.Decimal, error) {
	return m.balance, m.err
}

func testLimits() risk.LimitConfig {
	return risk.LimitConfig{
		MaxOrderUSD:      100,
		DailyCapUSD:      500,
		WalletMaxOrders:  10,
		WalletRateWindow: time.Hour,
	}
}

func verifiedPayment(paidMON, computedUSD float64) verifier.Result {
	return verifier.Result{
		Verified:     true,
		PayerAddress: "0xpayer",
		PaidMON:      decimal.NewFromFloat(paidMON),
		MonPriceUSD:  decimal.NewFromInt(10),
		ComputedUSD:  decimal.NewFromFloat(computedUSD),
	}
}

func buildController(
	orders *mockOrderLedger,
	positions *mockPositionLedger,
	payments *mockPayments,
	trader *mockTrader,
	capital *mockCapital,
) *TradeController {
	ctrl := &TradeController{
		payments: payments,
		trader:   trader,
		capital:  capital,
		limits:   testLimits(),
		config:   Config{},
	}
	return ctrl.WithLedgers(orders, positions)
}

func validBuy() BuyParams {
	return BuyParams{
		PaymentTxHash: "0xpayment",
		WalletAddress: "0xwallet",
		MarketSlug:    "will-it-rain",
		ConditionID:   "0xcond",
		Side:          model.SideYes,
		AmountUSD:     decimal.NewFromInt(30),
	}
}

func TestExecuteBuySettlesVerifiedPayment(t *testing.T) {
	orders := &mockOrderLedger{}
	positions := &mockPositionLedger{}
	payments := &mockPayments{result: verifiedPayment(3, 30)}
	trader := &mockTrader{fill: &executor.Fill{
		OrderID:     "ord-1",
		VenueTxHash: "0xfill",
		Price:       decimal.NewFromFloat(0.5),
		Shares:      decimal.NewFromInt(60),
		AmountUSD:   decimal.NewFromInt(30),
		TokenID:     "tok-yes",
	}}
	capital := &mockCapital{balance: decimal.NewFromInt(1000)}

	ctrl := buildController(orders, positions, payments, trader, capital)
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	require.NotNil(t, orders.created)
	assert.Equal(t, uint(42), orders.successID)
	assert.Equal(t, model.OrderStatusSuccess, result.Order.Status)
	assert.Equal(t, 1, positions.upserts)
	require.NotNil(t, result.Fill)
	assert.Equal(t, "ord-1", result.Fill.OrderID)
}

func TestExecuteBuyValidation(t *testing.T) {
	ctrl := buildController(&mockOrderLedger{}, &mockPositionLedger{},
		&mockPayments{}, &mockTrader{}, &mockCapital{})

	t.Run("rejects amount over the per-order cap", func(t *testing.T) {
		params := validBuy()
		params.AmountUSD = decimal.NewFromInt(150)
		result := ctrl.ExecuteBuy(context.Background(), params)
		assert.Equal(t, OutcomeValidationError, result.Outcome)
		assert.Contains(t, result.Message, "per-order cap")
	})

	t.Run("rejects unknown side", func(t *testing.T) {
		params := validBuy()
		params.Side = "Maybe"
		result := ctrl.ExecuteBuy(context.Background(), params)
		assert.Equal(t, OutcomeValidationError, result.Outcome)
	})

	t.Run("requires a payment reference", func(t *testing.T) {
		params := validBuy()
		params.PaymentTxHash = ""
		result := ctrl.ExecuteBuy(context.Background(), params)
		assert.Equal(t, OutcomeValidationError, result.Outcome)
		assert.Contains(t, result.Message, "paymentTxHash")
	})
}

func TestExecuteBuyDailyCapBlocks(t *testing.T) {
	orders := &mockOrderLedger{dailySpend: decimal.NewFromInt(480)}
	payments := &mockPayments{result: verifiedPayment(3, 30)}

	ctrl := buildController(orders, &mockPositionLedger{}, payments, &mockTrader{}, &mockCapital{})
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomeLimitExceeded, result.Outcome)
	assert.Equal(t, 0, payments.calls, "limit rejections must not consume the payment")
	assert.Nil(t, orders.created)
}

func TestExecuteBuyWalletRateLimitBlocks(t *testing.T) {
	orders := &mockOrderLedger{recent: 10}

	ctrl := buildController(orders, &mockPositionLedger{}, &mockPayments{}, &mockTrader{}, &mockCapital{})
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomeLimitExceeded, result.Outcome)
}

func TestExecuteBuyReplayOnSettledPayment(t *testing.T) {
	receipt := &model.Order{
		ID:            7,
		PaymentTxHash: "0xpayment",
		Status:        model.OrderStatusSuccess,
		VenueTxHash:   "0xoldfill",
	}
	orders := &mockOrderLedger{existing: receipt}
	payments := &mockPayments{result: verifiedPayment(3, 30)}

	ctrl := buildController(orders, &mockPositionLedger{}, payments, &mockTrader{}, &mockCapital{})
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomeReplayDetected, result.Outcome)
	// The first order's execution receipt rides along with the conflict.
	require.NotNil(t, result.Order)
	assert.Equal(t, "0xoldfill", result.Order.VenueTxHash)
	assert.Equal(t, 0, payments.calls)
}

func TestExecuteBuyReplayOnPendingPayment(t *testing.T) {
	orders := &mockOrderLedger{existing: &model.Order{
		ID:     8,
		Status: model.OrderStatusPending,
	}}

	ctrl := buildController(orders, &mockPositionLedger{}, &mockPayments{}, &mockTrader{}, &mockCapital{})
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomeReplayDetected, result.Outcome)
}

func TestExecuteBuyRetriesAfterExecutionFailure(t *testing.T) {
	orders := &mockOrderLedger{existing: &model.Order{
		ID:     9,
		Status: model.OrderStatusExecutionFailed,
	}}
	payments := &mockPayments{result: verifiedPayment(3, 30)}
	trader := &mockTrader{fill: &executor.Fill{OrderID: "ord-2", Price: decimal.NewFromFloat(0.5), Shares: decimal.NewFromInt(60), AmountUSD: decimal.NewFromInt(30)}}
	capital := &mockCapital{balance: decimal.NewFromInt(1000)}

	ctrl := buildController(orders, &mockPositionLedger{}, payments, trader, capital)
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, []uint{9}, orders.deleted, "stale failed row must be cleared before retry")
	require.NotNil(t, orders.created)
}

func TestExecuteBuyRejectsUnverifiedPayment(t *testing.T) {
	orders := &mockOrderLedger{}
	payments := &mockPayments{result: verifier.Result{Error: "insufficient payment: 2.7000 MON (~$27.00) < $28.50 required"}}

	ctrl := buildController(orders, &mockPositionLedger{}, payments, &mockTrader{}, &mockCapital{})
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomePaymentRejected, result.Outcome)
	assert.Contains(t, result.Message, "insufficient payment")
	assert.Nil(t, orders.created, "failed verification must persist nothing")
}

func TestExecuteBuyDuplicateInsertRace(t *testing.T) {
	orders := &mockOrderLedger{createErr: repository.ErrDuplicatePayment}
	payments := &mockPayments{result: verifiedPayment(3, 30)}

	ctrl := buildController(orders, &mockPositionLedger{}, payments, &mockTrader{}, &mockCapital{})
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomeReplayDetected, result.Outcome)
}

func TestExecuteBuyCapitalCheckFailsClosed(t *testing.T) {
	orders := &mockOrderLedger{}
	payments := &mockPayments{result: verifiedPayment(3, 30)}
	trader := &mockTrader{}
	capital := &mockCapital{err: errors.New("venue unreachable")}

	ctrl := buildController(orders, &mockPositionLedger{}, payments, trader, capital)
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomeCapitalUnavailable, result.Outcome)
	assert.True(t, result.Retryable)
	assert.Equal(t, uint(42), orders.failedID, "pending row must become a durable terminal row")
	assert.Equal(t, 0, trader.buys, "never assume sufficient balance")
}

func TestExecuteBuyInsufficientCapital(t *testing.T) {
	orders := &mockOrderLedger{}
	payments := &mockPayments{result: verifiedPayment(3, 30)}
	capital := &mockCapital{balance: decimal.NewFromInt(5)}

	ctrl := buildController(orders, &mockPositionLedger{}, payments, &mockTrader{}, capital)
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomeInsufficientCapital, result.Outcome)
	assert.Equal(t, uint(42), orders.failedID)
	assert.Contains(t, orders.failedReason, "insufficient execution capital")
}

func TestExecuteBuyExecutionFailureOrphansPayment(t *testing.T) {
	orders := &mockOrderLedger{}
	payments := &mockPayments{result: verifiedPayment(3, 30)}
	trader := &mockTrader{buyErr: errors.New("insufficient liquidity")}
	capital := &mockCapital{balance: decimal.NewFromInt(1000)}

	ctrl := buildController(orders, &mockPositionLedger{}, payments, trader, capital)
	result := ctrl.ExecuteBuy(context.Background(), validBuy())

	assert.Equal(t, OutcomeExecutionFailed, result.Outcome)
	assert.True(t, result.OrphanedPayment)
	assert.Equal(t, uint(42), orders.failedID)
	assert.Equal(t, "insufficient liquidity", orders.failedReason)
	assert.Equal(t, model.OrderStatusExecutionFailed, result.Order.Status)
}

func TestExecuteBuyMockModeShortCircuits(t *testing.T) {
	orders := &mockOrderLedger{}
	payments := &mockPayments{}
	ctrl := buildController(orders, &mockPositionLedger{}, payments, &mockTrader{}, &mockCapital{})
	ctrl.config.MockTrading = true

	params := validBuy()
	params.PaymentTxHash = ""
	result := ctrl.ExecuteBuy(context.Background(), params)

	assert.Equal(t, OutcomeSuccess, result.Outcome)
	assert.True(t, result.Mock)
	assert.Equal(t, 0, payments.calls)
	assert.Nil(t, orders.created, "mock fills must not touch the ledger")
}

func TestStatusReportsReadinessAndLimits(t *testing.T) {
	orders := &mockOrderLedger{
		dailySpend: decimal.NewFromInt(120),
		failed:     []model.Order{{ID: 3, Status: model.OrderStatusExecutionFailed}},
	}
	capital := &mockCapital{balance: decimal.NewFromInt(900)}

	ctrl := buildController(orders, &mockPositionLedger{}, &mockPayments{}, &mockTrader{}, capital)
	report := ctrl.Status(context.Background(), "0xwallet")

	assert.True(t, report.Ready)
	assert.True(t, report.CapitalUSD.Equal(decimal.NewFromInt(900)))
	assert.True(t, report.DailyRemainingUSD.Equal(decimal.NewFromInt(380)))
	assert.Len(t, report.FailedOrders, 1)
}

func TestStatusNotReadyWhenCapitalUnavailable(t *testing.T) {
	capital := &mockCapital{err: errors.New("venue unreachable")}

	ctrl := buildController(&mockOrderLedger{}, &mockPositionLedger{}, &mockPayments{}, &mockTrader{}, capital)
	report := ctrl.Status(context.Background(), "")

	assert.False(t, report.Ready)
	assert.Contains(t, report.CapitalError, "unreachable")
}
