package models

import "time"

// Participant is a diner acting inside exactly one table session. Subject is
// the identity subject carried in credentials: "user:<id>" for registered
// users and "guest:<uuid>" for guests.
type Participant struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	VenueID        uint      `gorm:"not null;index" json:"venue_id"`
	TableSessionID uint      `gorm:"not null;index" json:"table_session_id"`
	UserID         *uint     `gorm:"index" json:"user_id,omitempty"`
	Subject        string    `gorm:"type:varchar(80);not null;index" json:"subject"`
	Nickname       string    `gorm:"type:varchar(60);not null" json:"nickname"`
	Role           string    `gorm:"type:varchar(20);not null;default:'guest'" json:"role"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

// SessionParticipant is one entry of a session's ordered participant set.
type SessionParticipant struct {
	ID             uint      `gorm:"primaryKey" json:"-"`
	TableSessionID uint      `gorm:"not null;uniqueIndex:idx_session_participant" json:"table_session_id"`
	ParticipantID  uint      `gorm:"not null;uniqueIndex:idx_session_participant" json:"participant_id"`
	JoinedAt       time.Time `gorm:"not null" json:"joined_at"`
}
