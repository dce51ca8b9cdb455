package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/models"
)

// RefreshStore keeps long-lived opaque refresh credentials. Issuing a new
// credential revokes every earlier one of the same subject. Validating
// marks a credential used without revoking it, and a used credential keeps
// validating for a short grace window so that a client can retry a refresh
// whose response it lost. The window is a convenience, not a hardening.
type RefreshStore struct {
	db    *gorm.DB
	ttl   time.Duration
	grace time.Duration
	now   func() time.Time
}

func NewRefreshStore(db *gorm.DB, ttl, grace time.Duration) *RefreshStore {
	return &RefreshStore{db: db, ttl: ttl, grace: grace, now: time.Now}
}

// SetClock replaces the time source; used by tests.
func (s *RefreshStore) SetClock(now func() time.Time) {
	s.now = now
}

// Issue revokes the subject's earlier refresh credentials and returns a new
// one carrying sc as its scope snapshot.
func (s *RefreshStore) Issue(ctx context.Context, sc SessionContext) (string, error) {
	if err := sc.Validate(); err != nil {
		return "", err
	}
	raw, err := randomToken()
	if err != nil {
		return "", err
	}
	now := s.now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.RefreshToken{}).
			Where("subject = ? AND revoked_at IS NULL", sc.Subject).
			Update("revoked_at", now).Error; err != nil {
			return err
		}
		return tx.Create(&models.RefreshToken{
			TokenHash:      hashToken(raw),
			Subject:        sc.Subject,
			UserID:         sc.UserID,
			Role:           sc.Role,
			VenueID:        sc.VenueID,
			TableSessionID: sc.TableSessionID,
			ParticipantID:  sc.ParticipantID,
			ExpiresAt:      now.Add(s.ttl),
			CreatedAt:      now,
		}).Error
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

// Validate checks a refresh credential and returns the scope it was issued for.
func (s *RefreshStore) Validate(ctx context.Context, raw string) (SessionContext, error) {
	var sc SessionContext
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rt models.RefreshToken
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", hashToken(raw)).
			First(&rt).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrInvalidCredential
		}
		if err != nil {
			return err
		}

		switch {
		case rt.RevokedAt != nil:
			return apperr.ErrInvalidCredential.New(nil, "refresh credential revoked")
		case !now.Before(rt.ExpiresAt):
			return apperr.ErrExpired
		case rt.UsedAt != nil && now.Sub(*rt.UsedAt) > s.grace:
			return apperr.ErrInvalidCredential.New(nil, "refresh credential already used")
		}

		if rt.UsedAt == nil {
			if err := tx.Model(&rt).Update("used_at", now).Error; err != nil {
				return err
			}
		}

		sc = SessionContext{
			Subject:        rt.Subject,
			UserID:         rt.UserID,
			Role:           rt.Role,
			VenueID:        rt.VenueID,
			TableSessionID: rt.TableSessionID,
			ParticipantID:  rt.ParticipantID,
		}
		return nil
	})
	if err != nil {
		return SessionContext{}, err
	}
	return sc, nil
}

// RevokeSession revokes every live refresh credential scoped to the table
// session, so a closed session cannot be renewed into.
func (s *RefreshStore) RevokeSession(ctx context.Context, tableSessionID uint) error {
	return s.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("table_session_id = ? AND revoked_at IS NULL", tableSessionID).
		Update("revoked_at", s.now()).Error
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
