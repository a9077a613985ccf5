package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is the open holding of one outcome token for one wallet.
// It is reduced or deleted when a sell settles, independent of whether the
// MON payout for that sell succeeded.
type Position struct {
	ID uint `gorm:"primaryKey" json:"id"`

	WalletAddress string `gorm:"size:60;not null;uniqueIndex:idx_positions_wallet_token" json:"wallet_address"`
	TokenID       string `gorm:"size:100;not null;uniqueIndex:idx_positions_wallet_token" json:"token_id"`
	MarketSlug    string `gorm:"size:200;default:''" json:"market_slug"`

	Shares       decimal.Decimal `gorm:"type:numeric;not null" json:"shares"`
	AvgPrice     decimal.Decimal `gorm:"type:numeric;not null" json:"avg_price"`
	CostBasisUSD decimal.Decimal `gorm:"type:numeric;not null" json:"cost_basis_usd"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}
