package models

import "time"

type User struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Email     string    `gorm:"type:varchar(255);unique;not null" json:"email"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Staff roles. A user holds one of these only through an Employment at a venue.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleWaiter  = "waiter"
	RoleChef    = "chef"
)

// Diner roles carried by participants.
const (
	RoleClient = "client"
	RoleGuest  = "guest"
)

// IsStaffRole reports whether role may drive orders and payments for a whole venue.
func IsStaffRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleWaiter, RoleChef:
		return true
	}
	return false
}

// Employment binds a user to a venue with a staff role.
type Employment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	VenueID   uint      `gorm:"not null;uniqueIndex:idx_employment_venue_user" json:"venue_id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_employment_venue_user" json:"user_id"`
	User      User      `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"user"`
	Role      string    `gorm:"type:varchar(20);not null" json:"role"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
