package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/hub"
	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/tenant"
	"github.com/yeremiapane/dinein/utils"
)

// SessionService owns the table session lifecycle: enter, join, close.
type SessionService struct {
	db       *gorm.DB
	issuer   *auth.Issuer
	events   EventPublisher
	notifier Notifier
	baseURL  string
	now      func() time.Time
}

func NewSessionService(db *gorm.DB, issuer *auth.Issuer, events EventPublisher, notifier Notifier, baseURL string) *SessionService {
	return &SessionService{
		db:       db,
		issuer:   issuer,
		events:   publisherOrNop(events),
		notifier: notifierOrLog(notifier),
		baseURL:  strings.TrimRight(baseURL, "/"),
		now:      time.Now,
	}
}

// SetClock replaces the time source; used by tests.
func (s *SessionService) SetClock(now func() time.Time) {
	s.now = now
}

// EnterResult is the opened or joined session together with the caller's
// participant and the capability re-issued for it.
type EnterResult struct {
	Session     *models.TableSession `json:"session"`
	Participant *models.Participant  `json:"participant"`
	Credentials *auth.Credentials    `json:"credentials"`
}

// SessionFilter selects sessions for the read projections. Zero fields are ignored.
type SessionFilter struct {
	HostParticipantID uint
	ParticipantID     uint
	TableID           uint
	From              *time.Time
	To                *time.Time
	OpenOnly          bool
}

// Enter opens a new session at tableID with the caller as host. A nil
// caller enters as a guest. Fails with TableAlreadyOccupied while another
// session at the table is open.
func (s *SessionService) Enter(ctx context.Context, tableID uint, caller *auth.SessionContext, nickname string) (*EnterResult, error) {
	var session models.TableSession
	var participant models.Participant

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		table, err := s.lockTable(tx, tableID, caller)
		if err != nil {
			return err
		}

		var open int64
		if err := tx.Model(&models.TableSession{}).
			Where("table_id = ? AND end_time IS NULL", table.ID).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return apperr.ErrTableAlreadyOccupied.WithID(table.ID)
		}

		session = models.TableSession{
			VenueID:     table.VenueID,
			TableID:     table.ID,
			OpenTableID: uintPtr(table.ID),
			StartTime:   s.now(),
		}
		if err := tx.Create(&session).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.ErrTableAlreadyOccupied.WithID(table.ID)
			}
			return err
		}

		participant = newParticipant(session, caller, nickname)
		if err := tx.Create(&participant).Error; err != nil {
			return err
		}
		if _, err := s.addParticipant(tx, &session, participant.ID); err != nil {
			return err
		}
		session.HostParticipantID = uintPtr(participant.ID)
		return tx.Model(&session).Update("host_participant_id", participant.ID).Error
	})
	if err != nil {
		return nil, err
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"table_session_id": session.ID,
		"table_id":         tableID,
		"participant_id":   participant.ID,
	}).Info("table session opened")

	return s.finishEntry(ctx, caller, session.ID, &participant)
}

// JoinTable joins the open session at tableID, reusing the caller's
// participant when they already belong to it.
func (s *SessionService) JoinTable(ctx context.Context, tableID uint, caller *auth.SessionContext, nickname string) (*EnterResult, error) {
	var session models.TableSession
	var participant models.Participant
	var joined bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		table, err := s.lockTable(tx, tableID, caller)
		if err != nil {
			return err
		}

		err = tx.Clauses(forUpdate).
			Where("table_id = ? AND end_time IS NULL", table.ID).
			First(&session).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.ErrNotFound.New(table.ID, "table has no open session")
		}
		if err != nil {
			return err
		}

		found := false
		if caller != nil {
			err := tx.Where("table_session_id = ? AND subject = ?", session.ID, caller.Subject).
				First(&participant).Error
			if err == nil {
				found = true
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
		}
		if !found {
			participant = newParticipant(session, caller, nickname)
			if err := tx.Create(&participant).Error; err != nil {
				return err
			}
		}

		joined, err = s.addParticipant(tx, &session, participant.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if joined {
		s.events.Publish(session.ID, hub.EventParticipantJoined, participant)
	}
	return s.finishEntry(ctx, caller, session.ID, &participant)
}

// AddParticipant appends participantID to the session's participant set.
// Adding a member again is a no-op.
func (s *SessionService) AddParticipant(ctx context.Context, tc tenant.Context, sessionID, participantID uint) error {
	var joined bool
	var participant models.Participant

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var session models.TableSession
		if err := tx.Clauses(forUpdate).Scopes(tc.Scope).First(&session, sessionID).Error; err != nil {
			return notFound(err, "table session", sessionID)
		}
		if err := tx.Scopes(tc.Scope).First(&participant, participantID).Error; err != nil {
			return notFound(err, "participant", participantID)
		}
		if participant.TableSessionID != session.ID {
			return apperr.ErrValidation.New(participantID, "participant belongs to another table session")
		}

		var err error
		joined, err = s.addParticipant(tx, &session, participantID)
		return err
	})
	if err != nil {
		return err
	}
	if joined {
		s.events.Publish(sessionID, hub.EventParticipantJoined, participant)
	}
	return nil
}

// addParticipant runs under the session row lock. It reports whether the
// participant was newly added.
func (s *SessionService) addParticipant(tx *gorm.DB, session *models.TableSession, participantID uint) (bool, error) {
	if !session.IsOpen() {
		return false, apperr.ErrSessionClosed.WithID(session.ID)
	}

	var existing int64
	if err := tx.Model(&models.SessionParticipant{}).
		Where("table_session_id = ? AND participant_id = ?", session.ID, participantID).
		Count(&existing).Error; err != nil {
		return false, err
	}
	if existing > 0 {
		return false, nil
	}

	err := tx.Create(&models.SessionParticipant{
		TableSessionID: session.ID,
		ParticipantID:  participantID,
		JoinedAt:       s.now(),
	}).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	return err == nil, err
}

// Close ends the session. Only the host or staff may close it, and a closed
// session stays closed. Orders already placed are left as they are.
func (s *SessionService) Close(ctx context.Context, tc tenant.Context, caller auth.SessionContext, sessionID uint) (*models.TableSession, error) {
	var session models.TableSession

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate).Scopes(tc.Scope).First(&session, sessionID).Error; err != nil {
			return notFound(err, "table session", sessionID)
		}
		if !session.IsOpen() {
			return apperr.ErrSessionClosed.WithID(session.ID)
		}
		if !caller.IsStaff() && !isHost(caller, &session) {
			return apperr.ErrForbidden.New(session.ID, "only the host or staff can close a table session")
		}

		end := s.now()
		session.EndTime = &end
		session.OpenTableID = nil
		return tx.Model(&session).Updates(map[string]interface{}{
			"end_time":      end,
			"open_table_id": nil,
		}).Error
	})
	if err != nil {
		return nil, err
	}

	// Refresh credentials must not outlive the session.
	if err := s.issuer.Refresh.RevokeSession(ctx, session.ID); err != nil {
		utils.ErrorLogger.WithFields(logrus.Fields{
			"table_session_id": session.ID,
		}).Errorf("revoking session refresh credentials: %v", err)
	}

	utils.InfoLogger.WithFields(logrus.Fields{
		"table_session_id": session.ID,
		"closed_by":        caller.Subject,
	}).Info("table session closed")

	s.events.Publish(session.ID, hub.EventSessionClosed, map[string]interface{}{
		"table_session_id": session.ID,
		"end_time":         session.EndTime,
	})
	return &session, nil
}

// Invite mails a join link for the session's table to email. Delivery is
// asynchronous and never fails the call.
func (s *SessionService) Invite(ctx context.Context, tc tenant.Context, caller auth.SessionContext, sessionID uint, email string) error {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return apperr.ErrValidation.New(nil, "a valid email is required")
	}

	var session models.TableSession
	if err := s.db.WithContext(ctx).Scopes(tc.Scope).Preload("Table").First(&session, sessionID).Error; err != nil {
		return notFound(err, "table session", sessionID)
	}
	if !session.IsOpen() {
		return apperr.ErrSessionClosed.WithID(session.ID)
	}
	if !caller.IsStaff() && !inSession(caller, session.ID) {
		return apperr.ErrForbidden.New(session.ID, "only members of the table session can invite")
	}

	link := fmt.Sprintf("%s/tables/%d/join", s.baseURL, session.TableID)
	s.notifier.Notify(ctx, &session.VenueID, email,
		fmt.Sprintf("You are invited to table %s", session.Table.TableNumber),
		fmt.Sprintf("Join the table and order together: %s", link))
	return nil
}

// Get returns a session of the venue with its participant set.
func (s *SessionService) Get(ctx context.Context, tc tenant.Context, sessionID uint) (*models.TableSession, error) {
	var session models.TableSession
	err := s.db.WithContext(ctx).Scopes(tc.Scope).
		Preload("Table").
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at, id") }).
		First(&session, sessionID).Error
	if err != nil {
		return nil, notFound(err, "table session", sessionID)
	}
	return &session, nil
}

// Current returns the session the caller's credential is scoped to.
func (s *SessionService) Current(ctx context.Context, tc tenant.Context, caller auth.SessionContext) (*models.TableSession, error) {
	if !caller.HasTableSession() {
		return nil, apperr.ErrMissingSessionContext
	}
	return s.Get(ctx, tc, *caller.TableSessionID)
}

// Find lists the venue's sessions matching f, newest first.
func (s *SessionService) Find(ctx context.Context, tc tenant.Context, f SessionFilter) ([]models.TableSession, error) {
	q := s.db.WithContext(ctx).Scopes(tc.Scope).Preload("Table").Preload("Participants")
	if f.HostParticipantID != 0 {
		q = q.Where("host_participant_id = ?", f.HostParticipantID)
	}
	if f.ParticipantID != 0 {
		q = q.Where("id IN (?)", s.db.Model(&models.SessionParticipant{}).
			Select("table_session_id").
			Where("participant_id = ?", f.ParticipantID))
	}
	if f.TableID != 0 {
		q = q.Where("table_id = ?", f.TableID)
	}
	if f.From != nil {
		q = q.Where("start_time >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("start_time < ?", *f.To)
	}
	if f.OpenOnly {
		q = q.Where("end_time IS NULL")
	}

	var sessions []models.TableSession
	if err := q.Order("start_time DESC, id DESC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// IsOpen reports whether the session exists and is still open.
func (s *SessionService) IsOpen(ctx context.Context, sessionID uint) error {
	var session models.TableSession
	if err := s.db.WithContext(ctx).Select("id", "end_time").First(&session, sessionID).Error; err != nil {
		return notFound(err, "table session", sessionID)
	}
	if !session.IsOpen() {
		return apperr.ErrSessionClosed.WithID(sessionID)
	}
	return nil
}

// lockTable locks an active table of an active venue. Staff of another
// venue see the table as missing.
func (s *SessionService) lockTable(tx *gorm.DB, tableID uint, caller *auth.SessionContext) (*models.Table, error) {
	var table models.Table
	if err := tx.Clauses(forUpdate).Scopes(models.ActiveOnly).First(&table, tableID).Error; err != nil {
		return nil, notFound(err, "table", tableID)
	}
	var venues int64
	if err := tx.Model(&models.Venue{}).Scopes(models.ActiveOnly).Where("id = ?", table.VenueID).Count(&venues).Error; err != nil {
		return nil, err
	}
	if venues == 0 {
		return nil, apperr.ErrNotFound.New(tableID, "table not found")
	}
	if caller != nil && caller.IsStaff() && caller.VenueID != nil && *caller.VenueID != table.VenueID {
		return nil, apperr.ErrNotFound.New(tableID, "table not found")
	}
	return &table, nil
}

// finishEntry re-issues the caller's capability scoped to the session.
func (s *SessionService) finishEntry(ctx context.Context, caller *auth.SessionContext, sessionID uint, participant *models.Participant) (*EnterResult, error) {
	base := auth.SessionContext{Subject: participant.Subject, UserID: participant.UserID, Role: participant.Role}
	if caller != nil {
		base = *caller
	}
	scoped := base.WithTableSession(participant.VenueID, sessionID, participant.ID, participant.Role)

	creds, err := s.issuer.Issue(ctx, scoped)
	if err != nil {
		return nil, err
	}
	session, err := s.Get(ctx, tenant.Context{VenueID: participant.VenueID}, sessionID)
	if err != nil {
		return nil, err
	}
	return &EnterResult{Session: session, Participant: participant, Credentials: creds}, nil
}

func newParticipant(session models.TableSession, caller *auth.SessionContext, nickname string) models.Participant {
	p := models.Participant{
		VenueID:        session.VenueID,
		TableSessionID: session.ID,
		Nickname:       strings.TrimSpace(nickname),
	}
	switch {
	case caller == nil:
		p.Subject = auth.GuestSubject(uuid.NewString())
		p.Role = models.RoleGuest
	case caller.UserID != nil:
		p.Subject = caller.Subject
		p.UserID = caller.UserID
		p.Role = models.RoleClient
	default:
		p.Subject = caller.Subject
		p.Role = models.RoleGuest
	}
	if p.Nickname == "" {
		p.Nickname = "Guest"
		if p.Role == models.RoleClient {
			p.Nickname = "Diner"
		}
	}
	return p
}

func isHost(caller auth.SessionContext, session *models.TableSession) bool {
	return inSession(caller, session.ID) &&
		session.HostParticipantID != nil &&
		*caller.ParticipantID == *session.HostParticipantID
}

func inSession(caller auth.SessionContext, sessionID uint) bool {
	return caller.HasTableSession() && *caller.TableSessionID == sessionID
}
