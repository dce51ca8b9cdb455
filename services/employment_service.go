package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/tenant"
	"github.com/yeremiapane/dinein/utils"
)

type EmploymentService struct {
	db       *gorm.DB
	notifier Notifier
}

func NewEmploymentService(db *gorm.DB, notifier Notifier) *EmploymentService {
	return &EmploymentService{db: db, notifier: notifierOrLog(notifier)}
}

// FindUserByEmail looks a registered user up by email, case-insensitively.
func (s *EmploymentService) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("LOWER(email) = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil {
		return nil, notFound(err, "user", email)
	}
	return &user, nil
}

// Hire employs the user registered under email at the venue with a staff
// role and mails them an invitation. Only admins and managers of the venue
// can hire.
func (s *EmploymentService) Hire(ctx context.Context, tc tenant.Context, caller auth.SessionContext, email, role string) (*models.Employment, error) {
	if caller.Role != models.RoleAdmin && caller.Role != models.RoleManager {
		return nil, apperr.ErrForbidden.New(tc.VenueID, "only admins and managers can hire")
	}
	if caller.VenueID == nil || *caller.VenueID != tc.VenueID {
		return nil, apperr.ErrNotFound.New(tc.VenueID, "venue not found")
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !models.IsStaffRole(role) {
		return nil, apperr.ErrValidation.New(nil, "unknown staff role %q", role)
	}

	user, err := s.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	employment := models.Employment{VenueID: tc.VenueID, UserID: user.ID, Role: role}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Employment{}).
			Where("venue_id = ? AND user_id = ?", tc.VenueID, user.ID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return apperr.ErrDuplicateEmployment.WithID(user.ID)
		}
		if err := tx.Create(&employment).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.ErrDuplicateEmployment.WithID(user.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	employment.User = *user

	utils.InfoLogger.WithFields(logrus.Fields{
		"venue_id": tc.VenueID,
		"user_id":  user.ID,
		"role":     role,
	}).Info("staff hired")

	s.notifier.Notify(ctx, &tc.VenueID, user.Email,
		"You have been added to the team",
		fmt.Sprintf("Hi %s, you can now sign in as %s.", user.Name, role))
	return &employment, nil
}

// RoleAt returns the user's staff role at the venue, or "" when the user is
// not employed there.
func (s *EmploymentService) RoleAt(ctx context.Context, venueID, userID uint) (string, error) {
	var employment models.Employment
	err := s.db.WithContext(ctx).Where("venue_id = ? AND user_id = ?", venueID, userID).First(&employment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return employment.Role, nil
}
