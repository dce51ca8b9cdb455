package models

import (
	"time"
)

const (
	NotificationQueued = "queued"
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

// Notification is an outbound email (staff or table invitation) and its delivery state.
type Notification struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	VenueID   *uint     `gorm:"index" json:"venue_id,omitempty"`
	Recipient string    `gorm:"type:varchar(255);not null" json:"recipient"`
	Title     string    `gorm:"type:varchar(150);not null" json:"title"`
	Message   string    `gorm:"type:text;not null" json:"message"`
	Status    string    `gorm:"type:varchar(15);not null;default:'queued'" json:"status"`
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	LastError string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
