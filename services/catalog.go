package services

import (
	"errors"

	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/models"
)

// Catalog is the product lookup and stock ledger the order engine depends on.
// Both calls run on the caller's transaction.
type Catalog interface {
	FindProductInTenant(tx *gorm.DB, venueID, productID uint) (*models.Product, error)
	AdjustStock(tx *gorm.DB, productID uint, delta int) error
}

// GormCatalog keeps stock on the products table.
type GormCatalog struct{}

func NewCatalog() *GormCatalog {
	return &GormCatalog{}
}

// FindProductInTenant returns an active product of the venue. A product of
// another venue is reported exactly like a missing one.
func (GormCatalog) FindProductInTenant(tx *gorm.DB, venueID, productID uint) (*models.Product, error) {
	var product models.Product
	err := tx.Scopes(models.ActiveOnly, models.InVenue(venueID)).First(&product, productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.ErrNotFound.New(productID, "product not found")
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// AdjustStock adds delta to the product's stock in one conditional update,
// so the row lock taken by the update is the only serialization point and
// the counter can never be driven below zero.
func (GormCatalog) AdjustStock(tx *gorm.DB, productID uint, delta int) error {
	if delta == 0 {
		return nil
	}
	res := tx.Model(&models.Product{}).
		Where("id = ? AND stock + ? >= 0", productID, delta).
		Update("stock", gorm.Expr("stock + ?", delta))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var product models.Product
	err := tx.Select("id", "name", "stock").First(&product, productID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound.New(productID, "product not found")
	}
	if err != nil {
		return err
	}
	return apperr.ErrInsufficientStock.New(productID, "product %q has %d left", product.Name, product.Stock)
}
