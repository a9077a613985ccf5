package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"betbridge/src/database"
	"betbridge/src/model"
)

// ErrDuplicatePayment is returned by Create when the payment hash already
// settled (or is settling) another order. The unique index on
// payment_tx_hash is the only replay guard in the buy path.
var ErrDuplicatePayment = errors.New("payment hash already used by another order")

// OrderRepository handles read/write operations for settlement orders.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new repository instance using the main read/write database.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		db: database.MainDB,
	}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *OrderRepository) WithDB(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a new order. Returns ErrDuplicatePayment when the unique
// constraint on payment_tx_hash rejects the row.
func (r *OrderRepository) Create(
	ctx context.Context,
	order *model.Order,
) error {

	logger.WithFields(map[string]interface{}{
		"repo":        "OrderRepository",
		"op":          "Create",
		"payment_tx":  order.PaymentTxHash,
		"market_slug": order.MarketSlug,
		"side":        order.Side,
	}).Debug("Creating new order")

	err := r.db.WithContext(ctx).Create(order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicatePayment
		}

		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create order")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "OrderRepository",
		"op":       "Create",
		"order_id": order.ID,
	}).Info("Order created successfully")

	return nil
}

// FindByPaymentTxHash fetches the order settling the given payment hash.
// Returns (nil, nil) if no order references that payment.
func (r *OrderRepository) FindByPaymentTxHash(
	ctx context.Context,
	paymentTxHash string,
) (*model.Order, error) {

	var order model.Order

	err := r.db.WithContext(ctx).
		Where("payment_tx_hash = ?", paymentTxHash).
		First(&order).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":       "OrderRepository",
			"op":         "FindByPaymentTxHash",
			"payment_tx": paymentTxHash,
		}).WithError(err).Error("Failed to fetch order by payment hash")

		return nil, err
	}

	return &order, nil
}

// DeleteFailed removes an execution_failed order so the same payment hash
// can be retried. Pending and success rows are never deleted; the WHERE
// clause enforces that even under races.
func (r *OrderRepository) DeleteFailed(
	ctx context.Context,
	id uint,
) error {

	res := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, model.OrderStatusExecutionFailed).
		Delete(&model.Order{})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "DeleteFailed",
			"id":   id,
		}).WithError(res.Error).Error("Failed to delete failed order")

		return res.Error
	}

	if res.RowsAffected == 0 {
		return errors.New("order not deletable: not in execution_failed state")
	}

	logger.WithFields(map[string]interface{}{
		"repo": "OrderRepository",
		"op":   "DeleteFailed",
		"id":   id,
	}).Info("Stale failed order deleted for retry")

	return nil
}

// MarkSuccess records the execution receipt and moves the order to its
// terminal success state.
func (r *OrderRepository) MarkSuccess(
	ctx context.Context,
	id uint,
	venueTxHash string,
	venueOrderID string,
	filledSize decimal.Decimal,
	fillPrice decimal.Decimal,
) error {

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":         model.OrderStatusSuccess,
			"venue_tx_hash":  venueTxHash,
			"venue_order_id": venueOrderID,
			"filled_size":    filledSize,
			"fill_price":     fillPrice,
			"updated_at":     time.Now(),
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "MarkSuccess",
			"id":   id,
		}).WithError(err).Error("Failed to mark order success")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "OrderRepository",
		"op":         "MarkSuccess",
		"id":         id,
		"fill_price": fillPrice,
	}).Info("Order marked success")

	return nil
}

// MarkExecutionFailed moves the order to its terminal failure state and
// stores the error so the refund worker can discover the captured payment.
func (r *OrderRepository) MarkExecutionFailed(
	ctx context.Context,
	id uint,
	errorMsg string,
) error {

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.OrderStatusExecutionFailed,
			"error_msg":  errorMsg,
			"updated_at": time.Now(),
		}).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "MarkExecutionFailed",
			"id":   id,
		}).WithError(err).Error("Failed to mark order execution_failed")

		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "OrderRepository",
		"op":     "MarkExecutionFailed",
		"id":     id,
		"reason": errorMsg,
	}).Warn("Order marked execution_failed")

	return nil
}

// DailySpendUSD sums the requested USD amounts of orders that actually
// executed since the given instant. Only success rows count toward the
// daily spend cap.
func (r *OrderRepository) DailySpendUSD(
	ctx context.Context,
	since time.Time,
) (decimal.Decimal, error) {

	var row struct {
		Total decimal.Decimal
	}

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Select("COALESCE(SUM(requested_amount_usd), 0) AS total").
		Where("status = ? AND created_at >= ?", model.OrderStatusSuccess, since).
		Scan(&row).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "DailySpendUSD",
		}).WithError(err).Error("Failed to sum daily spend")

		return decimal.Zero, err
	}

	return row.Total, nil
}

// CountRecentByWallet counts settlement attempts a wallet made since the
// given instant, terminal or not. Used by the per-wallet rate limit.
func (r *OrderRepository) CountRecentByWallet(
	ctx context.Context,
	wallet string,
	since time.Time,
) (int64, error) {

	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("wallet_address = ? AND created_at >= ?", wallet, since).
		Count(&count).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "CountRecentByWallet",
			"wallet": wallet,
		}).WithError(err).Error("Failed to count recent orders for wallet")

		return 0, err
	}

	return count, nil
}

// FindFailedByWallet returns a wallet's unresolved execution_failed orders,
// newest first. Surfaced by the status probe so callers can see orphaned
// payments awaiting refund.
func (r *OrderRepository) FindFailedByWallet(
	ctx context.Context,
	wallet string,
	limit int,
) ([]model.Order, error) {

	if limit <= 0 {
		limit = 10
	}

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Where("wallet_address = ? AND status = ?", wallet, model.OrderStatusExecutionFailed).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "OrderRepository",
			"op":     "FindFailedByWallet",
			"wallet": wallet,
		}).WithError(err).Error("Failed to fetch failed orders for wallet")

		return nil, err
	}

	return orders, nil
}

// FindRefundCandidates selects up to limit refundable orders with a locking
// read that skips rows already claimed by a concurrent worker run. Must be
// called inside a transaction (use WithDB with the tx handle) so the row
// locks hold until the run commits.
func (r *OrderRepository) FindRefundCandidates(
	ctx context.Context,
	limit int,
	window time.Duration,
) ([]model.Order, error) {

	var orders []model.Order

	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", model.OrderStatusExecutionFailed).
		Where("refund_status IS NULL OR refund_status = ?", model.RefundStatusFailed).
		Where("mon_paid > 0").
		Where("wallet_address <> ''").
		Where("created_at >= ?", time.Now().Add(-window)).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "FindRefundCandidates",
		}).WithError(err).Error("Failed to select refund candidates")

		return nil, err
	}

	logger.WithFields(map[string]interface{}{
		"repo":       "OrderRepository",
		"op":         "FindRefundCandidates",
		"candidates": len(orders),
	}).Debug("Refund candidates selected")

	return orders, nil
}

// MarkRefundProcessing claims an order before the transfer is attempted, so
// a crash mid-transfer leaves the row claimed rather than re-picked.
func (r *OrderRepository) MarkRefundProcessing(
	ctx context.Context,
	id uint,
) error {

	now := time.Now()

	return r.refundUpdate(ctx, id, map[string]interface{}{
		"refund_status":       model.RefundStatusProcessing,
		"refund_attempted_at": now,
		"updated_at":          now,
	})
}

// MarkRefunded records the payout reference after a successful transfer.
func (r *OrderRepository) MarkRefunded(
	ctx context.Context,
	id uint,
	refundTxHash string,
	amount decimal.Decimal,
) error {

	return r.refundUpdate(ctx, id, map[string]interface{}{
		"refund_status":     model.RefundStatusRefunded,
		"refund_tx_hash":    refundTxHash,
		"refund_mon_amount": amount,
		"updated_at":        time.Now(),
	})
}

// MarkRefundFailed records the transfer error and leaves the order eligible
// for a future run.
func (r *OrderRepository) MarkRefundFailed(
	ctx context.Context,
	id uint,
	reason string,
) error {

	now := time.Now()

	return r.refundUpdate(ctx, id, map[string]interface{}{
		"refund_status":       model.RefundStatusFailed,
		"refund_error":        reason,
		"refund_attempted_at": now,
		"updated_at":          now,
	})
}

func (r *OrderRepository) refundUpdate(
	ctx context.Context,
	id uint,
	updates map[string]interface{},
) error {

	err := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		Updates(updates).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "OrderRepository",
			"op":   "refundUpdate",
			"id":   id,
		}).WithError(err).Error("Failed to update refund state")

		return err
	}

	return nil
}
