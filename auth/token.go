package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yeremiapane/dinein/apperr"
)

const issuer = "dinein"

// Claims is the signed form of a SessionContext.
type Claims struct {
	UserID         *uint  `json:"uid,omitempty"`
	Role           string `json:"role"`
	VenueID        *uint  `json:"vid,omitempty"`
	TableSessionID *uint  `json:"tsid,omitempty"`
	ParticipantID  *uint  `json:"pid,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies access credentials. Verification never
// touches storage.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenService(secret string, ttl time.Duration) *TokenService {
	return &TokenService{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// SetClock replaces the time source; used by tests.
func (s *TokenService) SetClock(now func() time.Time) {
	s.now = now
}

// Sign issues a credential for sc that expires after the configured lifetime.
func (s *TokenService) Sign(sc SessionContext) (string, time.Time, error) {
	if err := sc.Validate(); err != nil {
		return "", time.Time{}, err
	}
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)

	claims := Claims{
		UserID:         sc.UserID,
		Role:           sc.Role,
		VenueID:        sc.VenueID,
		TableSessionID: sc.TableSessionID,
		ParticipantID:  sc.ParticipantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sc.Subject,
			Issuer:    issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify decodes a credential into a SessionContext. Malformed tokens, bad
// signatures and broken invariants fail with ErrInvalidCredential, stale
// tokens with ErrExpired.
func (s *TokenService) Verify(tokenString string) (SessionContext, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionContext{}, apperr.ErrExpired
		}
		return SessionContext{}, apperr.ErrInvalidCredential
	}

	sc := SessionContext{
		Subject:        claims.Subject,
		UserID:         claims.UserID,
		Role:           claims.Role,
		VenueID:        claims.VenueID,
		TableSessionID: claims.TableSessionID,
		ParticipantID:  claims.ParticipantID,
	}
	if err := sc.Validate(); err != nil {
		return SessionContext{}, err
	}
	return sc, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
