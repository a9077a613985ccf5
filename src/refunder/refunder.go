// Package refunder compensates orphaned payments: orders that captured MON
// but never executed a trade. It is the only component that needs true
// row-level mutual exclusion, because concurrent scheduled runs operate on
// a set of rows rather than a single unique key.
package refunder

import (
	"context"
	"time"

	"betbridge/src/database"
	"betbridge/src/model"
	"betbridge/src/repository"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type monTransfer interface {
	ServerBalanceMON(ctx context.Context) (decimal.Decimal, error)
	SendMON(ctx context.Context, toAddress string, amountMON decimal.Decimal) (string, error)
}

// Outcome is the per-order result of one refund attempt.
type Outcome struct {
	OrderID      uint            `json:"order_id"`
	Wallet       string          `json:"wallet"`
	AmountMON    decimal.Decimal `json:"amount_mon"`
	Status       string          `json:"status"`
	RefundTxHash string          `json:"refund_tx_hash,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// RunReport summarizes one worker run.
type RunReport struct {
	Processed int       `json:"processed"`
	Refunded  int       `json:"refunded"`
	Failed    int       `json:"failed"`
	Results   []Outcome `json:"results"`
}

// RefundWorker scans the ledger for captured-but-unexecuted payments and
// sends each wallet back exactly what it paid. Refunds are never re-priced.
type RefundWorker struct {
	orders *repository.OrderRepository
	chain  monTransfer
	config Config
}

func NewRefundWorker(chain monTransfer, config Config) *RefundWorker {
	return &RefundWorker{
		orders: repository.NewOrderRepository(),
		chain:  chain,
		config: config,
	}
}

// RunOnce processes at most one batch. Candidates are claimed inside a
// transaction with a locking read that skips rows held by a concurrent
// run; transfers happen after the claim commits so a crash mid-transfer
// leaves rows marked processing instead of silently re-picked.
func (w *RefundWorker) RunOnce(ctx context.Context) (*RunReport, error) {
	log := logger.WithField("component", "RefundWorker")
	report := &RunReport{Results: []Outcome{}}

	balance, err := w.chain.ServerBalanceMON(ctx)
	if err != nil {
		// Balance unknown means nothing gets selected. Fail closed.
		log.WithError(err).Error("refund wallet balance unavailable, skipping run")
		return report, nil
	}

	gasBuffer := decimal.NewFromFloat(w.config.GasBufferMON)
	if balance.LessThanOrEqual(gasBuffer) {
		log.WithField("balance_mon", balance).Info("refund wallet unfunded, skipping run")
		return report, nil
	}

	candidates, err := w.claimBatch(ctx)
	if err != nil {
		log.WithError(err).Error("failed to claim refund candidates")
		return report, err
	}
	if len(candidates) == 0 {
		log.Debug("no refund candidates")
		return report, nil
	}

	available := balance.Sub(gasBuffer)

	for _, order := range candidates {
		outcome := w.refundOne(ctx, order, available, log)
		report.Results = append(report.Results, outcome)
		report.Processed++

		if outcome.Status == model.RefundStatusRefunded {
			report.Refunded++
			available = available.Sub(order.MonPaid)
		} else {
			report.Failed++
		}
	}

	log.WithFields(map[string]interface{}{
		"processed": report.Processed,
		"refunded":  report.Refunded,
		"failed":    report.Failed,
	}).Info("refund run complete")

	return report, nil
}

// claimBatch selects and marks candidates inside one transaction. The
// SKIP LOCKED read plus the processing mark is the claim; once committed
// no concurrent run will pick the same rows.
func (w *RefundWorker) claimBatch(ctx context.Context) ([]model.Order, error) {
	var candidates []model.Order

	err := database.MainDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txOrders := w.orders.WithDB(tx)

		found, err := txOrders.FindRefundCandidates(ctx, w.config.BatchSize, w.config.Window)
		if err != nil {
			return err
		}

		for _, order := range found {
			if err := txOrders.MarkRefundProcessing(ctx, order.ID); err != nil {
				return err
			}
		}

		candidates = found
		return nil
	})

	return candidates, err
}

func (w *RefundWorker) refundOne(
	ctx context.Context,
	order model.Order,
	available decimal.Decimal,
	log *logger.Entry,
) Outcome {

	outcome := Outcome{
		OrderID:   order.ID,
		Wallet:    order.WalletAddress,
		AmountMON: order.MonPaid,
	}

	orderLog := log.WithFields(map[string]interface{}{
		"order_id":   order.ID,
		"wallet":     order.WalletAddress,
		"amount_mon": order.MonPaid,
	})

	if available.LessThan(order.MonPaid) {
		orderLog.WithField("available_mon", available).
			Warn("refund wallet short for this order, deferring")
		outcome.Status = model.RefundStatusFailed
		outcome.Error = "insufficient refund balance"
		if err := w.orders.MarkRefundFailed(ctx, order.ID, outcome.Error); err != nil {
			orderLog.WithError(err).Error("failed to record deferred refund")
		}
		return outcome
	}

	txHash, err := w.chain.SendMON(ctx, order.WalletAddress, order.MonPaid)
	if err != nil {
		orderLog.WithError(err).Error("refund transfer failed")
		outcome.Status = model.RefundStatusFailed
		outcome.Error = err.Error()
		if markErr := w.orders.MarkRefundFailed(ctx, order.ID, err.Error()); markErr != nil {
			orderLog.WithError(markErr).Error("failed to record refund failure")
		}
		return outcome
	}

	outcome.Status = model.RefundStatusRefunded
	outcome.RefundTxHash = txHash

	if err := w.orders.MarkRefunded(ctx, order.ID, txHash, order.MonPaid); err != nil {
		// Transfer went out but the ledger write failed. The row stays in
		// processing, which blocks a double refund; reconcile manually.
		orderLog.WithError(err).WithField("refund_tx", txHash).
			Error("CRITICAL: refund sent but not recorded")
	}

	orderLog.WithField("refund_tx", txHash).Info("payment refunded")
	return outcome
}

// StartLoop runs the worker on a ticker until the context is cancelled.
// Deployments with an external scheduler hit the HTTP trigger instead.
func (w *RefundWorker) StartLoop(ctx context.Context) error {
	ticker := time.NewTicker(w.config.LoopPeriod)
	defer ticker.Stop()

	logger.WithFields(map[string]interface{}{
		"component":   "RefundWorker",
		"loop_period": w.config.LoopPeriod.String(),
	}).Info("refund loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("refund loop stopped")
			return nil
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				logger.WithError(err).Error("refund run failed")
			}
		}
	}
}
