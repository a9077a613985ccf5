package model

import "time"

// WalletPIN stores the bcrypt hash of the PIN a wallet set up for the
// web sell flow. Verifying the PIN issues the wallet-bound bearer token.
type WalletPIN struct {
	ID uint `gorm:"primaryKey" json:"id"`

	WalletAddress string `gorm:"size:60;not null;uniqueIndex" json:"wallet_address"`
	PINHash       string `gorm:"size:100;not null" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WalletPIN) TableName() string {
	return "wallet_pins"
}
