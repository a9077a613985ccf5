package repository

import (
	"context"
	"errors"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"betbridge/src/database"
	"betbridge/src/model"
)

// WalletPINRepository persists the bcrypt PIN hashes behind the sell-flow auth.
type WalletPINRepository struct {
	db *gorm.DB
}

func NewWalletPINRepository() *WalletPINRepository {
	return &WalletPINRepository{db: database.MainDB}
}

func (r *WalletPINRepository) WithDB(db *gorm.DB) *WalletPINRepository {
	return &WalletPINRepository{db: db}
}

// FindByWallet returns (nil, nil) when the wallet never set up a PIN.
func (r *WalletPINRepository) FindByWallet(
	ctx context.Context,
	wallet string,
) (*model.WalletPIN, error) {

	var pin model.WalletPIN

	err := r.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		First(&pin).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}

		logger.WithFields(map[string]interface{}{
			"repo":   "WalletPINRepository",
			"op":     "FindByWallet",
			"wallet": wallet,
		}).WithError(err).Error("Failed to fetch wallet PIN")

		return nil, err
	}

	return &pin, nil
}

// Create stores the hash for a wallet that has no PIN yet.
func (r *WalletPINRepository) Create(
	ctx context.Context,
	pin *model.WalletPIN,
) error {

	err := r.db.WithContext(ctx).Create(pin).Error
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "WalletPINRepository",
			"op":     "Create",
			"wallet": pin.WalletAddress,
		}).WithError(err).Error("Failed to store wallet PIN")

		return err
	}

	return nil
}
