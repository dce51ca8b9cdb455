package models

import "gorm.io/gorm"

// ActiveOnly restricts a query to rows whose soft-delete flag is still set.
// It applies to venues, tables and products.
func ActiveOnly(db *gorm.DB) *gorm.DB {
	return db.Where("active = ?", true)
}

// NotRemoved restricts an order detail query to lines that were not removed.
func NotRemoved(db *gorm.DB) *gorm.DB {
	return db.Where("removed = ?", false)
}

// InVenue scopes a query to one tenant.
func InVenue(venueID uint) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("venue_id = ?", venueID)
	}
}

// All lists every model for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&Venue{},
		&User{},
		&Employment{},
		&Table{},
		&Product{},
		&TableSession{},
		&Participant{},
		&SessionParticipant{},
		&Order{},
		&OrderDetail{},
		&OrderSequence{},
		&Payment{},
		&PaymentOrder{},
		&RefreshToken{},
		&Notification{},
	}
}
