package models

import "time"

// TableSession is the dining window at one table. EndTime is nil while open.
//
// OpenTableID mirrors TableID while the session is open and is cleared on
// close; its unique index keeps a second open session for the same table
// out of the database even if two writers race past the application check.
type TableSession struct {
	ID                uint                 `gorm:"primaryKey" json:"id"`
	VenueID           uint                 `gorm:"not null;index" json:"venue_id"`
	TableID           uint                 `gorm:"not null;index" json:"table_id"`
	Table             Table                `gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"table"`
	OpenTableID       *uint                `gorm:"uniqueIndex" json:"-"`
	StartTime         time.Time            `gorm:"not null;index" json:"start_time"`
	EndTime           *time.Time           `gorm:"index" json:"end_time,omitempty"`
	HostParticipantID *uint                `gorm:"index" json:"host_participant_id,omitempty"`
	Participants      []SessionParticipant `gorm:"foreignKey:TableSessionID" json:"participants,omitempty"`
	Orders            []Order              `gorm:"foreignKey:TableSessionID" json:"orders,omitempty"`
	CreatedAt         time.Time            `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time            `gorm:"not null" json:"updated_at"`
}

// IsOpen reports whether the session still accepts participants and orders.
func (s *TableSession) IsOpen() bool {
	return s.EndTime == nil
}

// ParticipantIDs returns the participant set in join order.
func (s *TableSession) ParticipantIDs() []uint {
	ids := make([]uint, 0, len(s.Participants))
	for _, p := range s.Participants {
		ids = append(ids, p.ParticipantID)
	}
	return ids
}
