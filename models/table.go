package models

import "time"

type Table struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	VenueID     uint      `gorm:"not null;index" json:"venue_id"`
	Venue       Venue     `gorm:"foreignKey:VenueID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	TableNumber string    `gorm:"type:varchar(50);not null" json:"table_number"`
	Seats       int       `gorm:"not null;default:4" json:"seats"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}
