package models

import "time"

const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusCancelled = "CANCELLED"
)

const (
	PaymentMethodCash     = "CASH"
	PaymentMethodCard     = "CARD"
	PaymentMethodTransfer = "TRANSFER"
)

// Payment aggregates one or more orders. Amount is the sum of the orders'
// totals when they were attached.
type Payment struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	VenueID   uint           `gorm:"not null;index" json:"venue_id"`
	Amount    int64          `gorm:"not null" json:"amount"`
	Status    string         `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	Method    string         `gorm:"type:varchar(20);not null" json:"method"`
	CreatedBy string         `gorm:"type:varchar(80);not null" json:"created_by"`
	Links     []PaymentOrder `gorm:"foreignKey:PaymentID" json:"-"`
	OrderIDs  []uint         `gorm:"-" json:"order_ids"`
	PaidAt    *time.Time     `json:"paid_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// IsLive reports whether the payment still holds its orders.
func (p *Payment) IsLive() bool {
	return p.Status == PaymentStatusPending || p.Status == PaymentStatusCompleted
}

// PaymentOrder records that an order was part of a payment. Rows of
// cancelled payments are kept for audit.
type PaymentOrder struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	PaymentID uint      `gorm:"not null;uniqueIndex:idx_payment_order" json:"payment_id"`
	OrderID   uint      `gorm:"not null;uniqueIndex:idx_payment_order;index" json:"order_id"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}
