package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/tenant"
	"github.com/yeremiapane/dinein/utils"
)

// AuthService signs registered users in and renews credentials.
type AuthService struct {
	issuer      *auth.Issuer
	employments *EmploymentService
	tenants     *tenant.Resolver
}

func NewAuthService(issuer *auth.Issuer, employments *EmploymentService, tenants *tenant.Resolver) *AuthService {
	return &AuthService{issuer: issuer, employments: employments, tenants: tenants}
}

// Login checks email and password. With a venue, the role is the user's
// staff role there, or client when they are not employed at it.
func (s *AuthService) Login(ctx context.Context, email, password string, venueID *uint) (*auth.Credentials, *auth.SessionContext, error) {
	user, err := s.employments.FindUserByEmail(ctx, email)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil, apperr.ErrInvalidCredential.New(nil, "invalid email or password")
		}
		return nil, nil, err
	}
	if !auth.CheckPassword(user.Password, password) {
		return nil, nil, apperr.ErrInvalidCredential.New(nil, "invalid email or password")
	}

	userID := user.ID
	sc := auth.SessionContext{
		Subject: auth.UserSubject(user.ID),
		UserID:  &userID,
		Role:    models.RoleClient,
	}
	if venueID != nil {
		tc, err := s.tenants.Venue(ctx, *venueID)
		if err != nil {
			return nil, nil, err
		}
		role, err := s.employments.RoleAt(ctx, tc.VenueID, user.ID)
		if err != nil {
			return nil, nil, err
		}
		if role != "" {
			sc.Role = role
		}
		sc.VenueID = &tc.VenueID
	}

	creds, err := s.issuer.Issue(ctx, sc)
	if err != nil {
		return nil, nil, err
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"role":    sc.Role,
	}).Info("user signed in")
	return creds, &sc, nil
}

// Refresh exchanges a refresh credential for a new access token.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*auth.Credentials, error) {
	if refreshToken == "" {
		return nil, apperr.ErrValidation.New(nil, "refresh_token is required")
	}
	return s.issuer.Renew(ctx, refreshToken)
}
