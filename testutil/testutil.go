// Package testutil builds isolated in-memory databases and seed rows for tests.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/config"
	"github.com/yeremiapane/dinein/models"
)

// NewDB opens a fresh named in-memory sqlite database and migrates it.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := config.InitDB(config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, config.AutoMigrate(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func Venue(t testing.TB, db *gorm.DB, name string) models.Venue {
	t.Helper()
	v := models.Venue{Name: name, Active: true}
	require.NoError(t, db.Create(&v).Error)
	return v
}

func Table(t testing.TB, db *gorm.DB, venueID uint, number string) models.Table {
	t.Helper()
	tbl := models.Table{VenueID: venueID, TableNumber: number, Seats: 4, Active: true}
	require.NoError(t, db.Create(&tbl).Error)
	return tbl
}

func Product(t testing.TB, db *gorm.DB, venueID uint, name string, price int64, stock int) models.Product {
	t.Helper()
	p := models.Product{VenueID: venueID, Name: name, Price: price, Stock: stock, Active: true}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func User(t testing.TB, db *gorm.DB, name, email, password string) models.User {
	t.Helper()
	hashed, err := auth.HashPassword(password)
	require.NoError(t, err)
	u := models.User{Name: name, Email: email, Password: hashed}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func Employ(t testing.TB, db *gorm.DB, venueID, userID uint, role string) models.Employment {
	t.Helper()
	e := models.Employment{VenueID: venueID, UserID: userID, Role: role}
	require.NoError(t, db.Create(&e).Error)
	return e
}

// Staff returns a staff SessionContext for venueID.
func Staff(venueID uint, role string) auth.SessionContext {
	uid := uint(9000 + venueID)
	return auth.SessionContext{
		Subject: auth.UserSubject(uid),
		UserID:  &uid,
		Role:    role,
		VenueID: &venueID,
	}
}

// StockOf reads a product's current stock.
func StockOf(t testing.TB, db *gorm.DB, productID uint) int {
	t.Helper()
	var p models.Product
	require.NoError(t, db.First(&p, productID).Error)
	return p.Stock
}
