package models

import "time"

// RefreshToken stores the hash of an opaque refresh credential together with
// the scope snapshot the access token is re-issued with.
type RefreshToken struct {
	ID             uint       `gorm:"primaryKey"`
	TokenHash      string     `gorm:"type:varchar(64);uniqueIndex;not null"`
	Subject        string     `gorm:"type:varchar(80);not null;index"`
	UserID         *uint      `gorm:"index"`
	Role           string     `gorm:"type:varchar(20);not null"`
	VenueID        *uint      `gorm:"index"`
	TableSessionID *uint      `gorm:"index"`
	ParticipantID  *uint      `gorm:"index"`
	ExpiresAt      time.Time  `gorm:"not null"`
	UsedAt         *time.Time `gorm:"default:null"`
	RevokedAt      *time.Time `gorm:"index"`
	CreatedAt      time.Time  `gorm:"not null"`
}
