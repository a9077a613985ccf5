package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending         = "pending"
	OrderStatusSuccess         = "success"
	OrderStatusExecutionFailed = "execution_failed"
)

const (
	RefundStatusProcessing = "processing"
	RefundStatusRefunded   = "refunded"
	RefundStatusFailed     = "failed"
)

const (
	SideYes = "Yes"
	SideNo  = "No"
)

// Order is one settlement attempt: a MON payment on the settlement chain
// spent against a CLOB market order. The unique payment_tx_hash is the
// replay guard: one payment settles at most one order.
type Order struct {
	ID uint `gorm:"primaryKey" json:"id"`

	PaymentTxHash string `gorm:"size:80;not null;uniqueIndex" json:"payment_tx_hash"`
	WalletAddress string `gorm:"size:60;index;not null;default:''" json:"wallet_address"`

	MarketSlug  string `gorm:"size:200;not null" json:"market_slug"`
	ConditionID string `gorm:"size:80;not null" json:"condition_id"`
	TokenID     string `gorm:"size:100;default:''" json:"token_id"`
	Side        string `gorm:"size:10;not null" json:"side"`

	RequestedAmountUSD decimal.Decimal `gorm:"type:numeric;not null" json:"requested_amount_usd"`
	VerifiedAmountUSD  decimal.Decimal `gorm:"type:numeric" json:"verified_amount_usd"`
	MonPaid            decimal.Decimal `gorm:"type:numeric;default:0" json:"mon_paid"`
	MonPriceUSD        decimal.Decimal `gorm:"type:numeric;default:0" json:"mon_price_usd"`

	Status string `gorm:"size:50;not null;default:pending;index" json:"status"`

	// Execution results, set only when Status reaches success.
	VenueTxHash  string          `gorm:"size:80;default:''" json:"venue_tx_hash"`
	VenueOrderID string          `gorm:"size:100;default:''" json:"venue_order_id"`
	FilledSize   decimal.Decimal `gorm:"type:numeric;default:0" json:"filled_size"`
	FillPrice    decimal.Decimal `gorm:"type:numeric;default:0" json:"fill_price"`

	ErrorMsg string `gorm:"type:text;default:''" json:"error_msg,omitempty"`

	// Refund sub-record. Non-nil RefundStatus is only valid while Status is
	// execution_failed and MonPaid > 0.
	RefundStatus      *string          `gorm:"size:20;index" json:"refund_status,omitempty"`
	RefundTxHash      string           `gorm:"size:80;default:''" json:"refund_tx_hash,omitempty"`
	RefundMonAmount   *decimal.Decimal `gorm:"type:numeric" json:"refund_mon_amount,omitempty"`
	RefundAttemptedAt *time.Time       `json:"refund_attempted_at,omitempty"`
	RefundError       string           `gorm:"type:text;default:''" json:"refund_error,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName allows you to control the exact table name for orders.
func (Order) TableName() string {
	return "orders"
}

// IsTerminal reports whether the order has left the pending state.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusSuccess || o.Status == OrderStatusExecutionFailed
}
