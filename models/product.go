package models

import "time"

// Product is a catalog entry of a venue. Price is in minor currency units.
type Product struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	VenueID     uint      `gorm:"not null;index" json:"venue_id"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	Price       int64     `gorm:"not null" json:"price"`
	Stock       int       `gorm:"not null;default:0" json:"stock"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}
