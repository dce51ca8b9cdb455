package auth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/models"
)

// SessionContext is who is acting, for which venue, and inside which table
// session. It is rebuilt from the credential on every request and is never
// mutated: a change of scope produces a new value and a new credential.
type SessionContext struct {
	Subject        string `json:"sub"`
	UserID         *uint  `json:"user_id,omitempty"`
	Role           string `json:"role"`
	VenueID        *uint  `json:"venue_id,omitempty"`
	TableSessionID *uint  `json:"table_session_id,omitempty"`
	ParticipantID  *uint  `json:"participant_id,omitempty"`
}

// UserSubject is the identity subject of a registered user.
func UserSubject(userID uint) string {
	return "user:" + strconv.FormatUint(uint64(userID), 10)
}

// GuestSubject is the identity subject of a guest with the given key.
func GuestSubject(key string) string {
	return "guest:" + key
}

// Validate checks the structural invariants of a context: a subject and a
// role are always present, and table-session scope comes with a participant
// and a venue.
func (sc SessionContext) Validate() error {
	if sc.Subject == "" || sc.Role == "" {
		return apperr.ErrInvalidCredential.New(nil, "credential has no subject or role")
	}
	if sc.TableSessionID != nil {
		if sc.ParticipantID == nil {
			return apperr.ErrInvalidCredential.New(nil, "table session without participant")
		}
		if sc.VenueID == nil {
			return apperr.ErrInvalidCredential.New(nil, "table session without venue")
		}
	}
	if sc.ParticipantID != nil && sc.TableSessionID == nil {
		return apperr.ErrInvalidCredential.New(nil, "participant without table session")
	}
	return nil
}

func (sc SessionContext) IsStaff() bool {
	return models.IsStaffRole(sc.Role)
}

func (sc SessionContext) HasTableSession() bool {
	return sc.TableSessionID != nil && sc.ParticipantID != nil
}

// WithTableSession returns a copy scoped to a table session. This is the
// capability that gets re-issued after entering or joining a table.
func (sc SessionContext) WithTableSession(venueID, sessionID, participantID uint, role string) SessionContext {
	next := sc
	next.VenueID = &venueID
	next.TableSessionID = &sessionID
	next.ParticipantID = &participantID
	if !sc.IsStaff() {
		next.Role = role
	}
	return next
}

func (sc SessionContext) String() string {
	s := fmt.Sprintf("%s/%s", sc.Subject, sc.Role)
	if sc.VenueID != nil {
		s += fmt.Sprintf(" venue=%d", *sc.VenueID)
	}
	if sc.TableSessionID != nil {
		s += fmt.Sprintf(" session=%d participant=%d", *sc.TableSessionID, *sc.ParticipantID)
	}
	return s
}

type ctxKey struct{}

// NewContext attaches sc to ctx.
func NewContext(ctx context.Context, sc SessionContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, sc)
}

// FromContext returns the SessionContext attached by NewContext.
func FromContext(ctx context.Context) (SessionContext, bool) {
	sc, ok := ctx.Value(ctxKey{}).(SessionContext)
	return sc, ok
}
