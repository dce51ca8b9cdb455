package models

import "time"

// OrderDetail is one line of an order. UnitPrice is the product price at
// the time the line was added. Removal only sets Removed.
type OrderDetail struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	OrderID             uint      `gorm:"not null;index" json:"order_id"`
	ProductID           uint      `gorm:"not null;index" json:"product_id"`
	Product             Product   `gorm:"foreignKey:ProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Quantity            int       `gorm:"not null" json:"quantity"`
	UnitPrice           int64     `gorm:"not null" json:"unit_price"`
	SpecialInstructions string    `gorm:"type:text" json:"special_instructions,omitempty"`
	Removed             bool      `gorm:"not null;default:false;index" json:"removed"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt           time.Time `gorm:"not null" json:"updated_at"`
}

func (d *OrderDetail) Subtotal() int64 {
	return d.UnitPrice * int64(d.Quantity)
}
