// Package tenant resolves the venue a request acts for. Every scoped service
// operation takes the resolved Context as an argument.
package tenant

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/models"
)

// Context is the current venue.
type Context struct {
	VenueID uint
}

// Scope restricts a query to the venue.
func (t Context) Scope(db *gorm.DB) *gorm.DB {
	return models.InVenue(t.VenueID)(db)
}

type Resolver struct {
	db *gorm.DB
}

func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns the venue carried by sc. A credential without a venue
// fails with MissingSessionContext; an absent or deactivated venue is NotFound.
func (r *Resolver) Resolve(ctx context.Context, sc auth.SessionContext) (Context, error) {
	if sc.VenueID == nil {
		return Context{}, apperr.ErrMissingSessionContext.New(nil, "credential is not scoped to a venue")
	}
	return r.Venue(ctx, *sc.VenueID)
}

// Venue resolves an explicit venue id.
func (r *Resolver) Venue(ctx context.Context, venueID uint) (Context, error) {
	var venue models.Venue
	err := r.db.WithContext(ctx).Scopes(models.ActiveOnly).First(&venue, venueID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Context{}, apperr.ErrNotFound.New(venueID, "venue not found")
	}
	if err != nil {
		return Context{}, err
	}
	return Context{VenueID: venue.ID}, nil
}
