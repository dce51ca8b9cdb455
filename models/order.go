package models

import "time"

const (
	OrderStatusPending    = "PENDING"
	OrderStatusInProgress = "IN_PROGRESS"
	OrderStatusReady      = "READY"
	OrderStatusDelivered  = "DELIVERED"
	OrderStatusCancelled  = "CANCELLED"
)

// Order belongs to one venue, one table session and one participant.
// TotalPrice is maintained on every detail mutation, never derived at read time.
type Order struct {
	ID             uint          `gorm:"primaryKey" json:"id"`
	VenueID        uint          `gorm:"not null;index" json:"venue_id"`
	TableSessionID uint          `gorm:"not null;index" json:"table_session_id"`
	ParticipantID  uint          `gorm:"not null;index" json:"participant_id"`
	Number         int           `gorm:"not null" json:"number"`
	BusinessDay    string        `gorm:"type:varchar(10);not null;index" json:"business_day"`
	Status         string        `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	TotalPrice     int64         `gorm:"not null;default:0" json:"total_price"`
	PaymentID      *uint         `gorm:"index" json:"payment_id,omitempty"`
	Details        []OrderDetail `gorm:"foreignKey:OrderID" json:"details"`
	CreatedAt      time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"not null" json:"updated_at"`
}

// IsTerminal reports whether the order can no longer change.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusDelivered || o.Status == OrderStatusCancelled
}

// ComputeTotal sums unit price times quantity over the details that are not removed.
func (o *Order) ComputeTotal() int64 {
	var total int64
	for _, d := range o.Details {
		if d.Removed {
			continue
		}
		total += d.Subtotal()
	}
	return total
}

// OrderSequence hands out per-venue, per-day order numbers.
type OrderSequence struct {
	VenueID uint   `gorm:"primaryKey;autoIncrement:false"`
	Day     string `gorm:"primaryKey;type:varchar(10)"`
	Last    int    `gorm:"not null;default:0"`
}
