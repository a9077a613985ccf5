package repository

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"betbridge/src/database"
	"betbridge/src/model"
)

// PositionRepository handles the per-wallet outcome-token holdings.
type PositionRepository struct {
	db *gorm.DB
}

func NewPositionRepository() *PositionRepository {
	return &PositionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *PositionRepository) WithDB(db *gorm.DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// FindByWalletAndToken fetches the open position, (nil, nil) when none.
func (r *PositionRepository) FindByWalletAndToken(
	ctx context.Context,
	wallet string,
	tokenID string,
) (*model.Position, error) {

	var position model.Position

	err := r.db.WithContext(ctx).
		Where("wallet_address = ? AND token_id = ? AND shares > 0", wallet, tokenID).
		First(&position).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "PositionRepository",
			"op":     "FindByWalletAndToken",
			"wallet": wallet,
		}).WithError(err).Error("Failed to fetch position")

		return nil, err
	}

	return &position, nil
}

// Upsert adds a fill to a wallet's position: creates the row on the first
// buy, otherwise accumulates shares and cost basis and recomputes the
// average entry price.
func (r *PositionRepository) Upsert(
	ctx context.Context,
	wallet string,
	tokenID string,
	marketSlug string,
	shares decimal.Decimal,
	fillPrice decimal.Decimal,
	costUSD decimal.Decimal,
) error {

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var position model.Position

		err := tx.
			Where("wallet_address = ? AND token_id = ?", wallet, tokenID).
			First(&position).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			position = model.Position{
				WalletAddress: wallet,
				TokenID:       tokenID,
				MarketSlug:    marketSlug,
				Shares:        shares,
				AvgPrice:      fillPrice,
				CostBasisUSD:  costUSD,
			}
			return tx.Create(&position).Error
		}
		if err != nil {
			return err
		}

		newShares := position.Shares.Add(shares)
		newCost := position.CostBasisUSD.Add(costUSD)

		avg := fillPrice
		if newShares.IsPositive() {
			avg = newCost.Div(newShares)
		}

		return tx.Model(&position).Updates(map[string]interface{}{
			"shares":         newShares,
			"avg_price":      avg,
			"cost_basis_usd": newCost,
		}).Error
	})
}

// Reduce subtracts sold shares and proceeds from the position, deleting the
// row when it falls to dust. Share accounting runs regardless of whether the
// payout for the sale succeeds.
func (r *PositionRepository) Reduce(
	ctx context.Context,
	id uint,
	soldShares decimal.Decimal,
	proceedsUSD decimal.Decimal,
) error {

	dust := decimal.NewFromFloat(0.001)

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var position model.Position

		if err := tx.First(&position, id).Error; err != nil {
			return err
		}

		remaining := position.Shares.Sub(soldShares)

		if remaining.LessThanOrEqual(dust) {
			return tx.Delete(&model.Position{}, id).Error
		}

		return tx.Model(&model.Position{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"shares":         remaining,
				"cost_basis_usd": position.CostBasisUSD.Sub(proceedsUSD),
			}).Error
	})
}
