package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/middlewares"
	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/utils"
)

type SessionController struct {
	Sessions *services.SessionService
}

func NewSessionController(svc *services.SessionService) *SessionController {
	return &SessionController{Sessions: svc}
}

type entryRequest struct {
	Nickname string `json:"nickname"`
}

type enterFunc func(ctx context.Context, tableID uint, caller *auth.SessionContext, nickname string) (*services.EnterResult, error)

// Enter -> POST /tables/:table_id/enter
func (sc *SessionController) Enter(c *gin.Context) {
	sc.entry(c, sc.Sessions.Enter, http.StatusCreated, "Table session opened")
}

// Join -> POST /tables/:table_id/join
func (sc *SessionController) Join(c *gin.Context) {
	sc.entry(c, sc.Sessions.JoinTable, http.StatusOK, "Joined table session")
}

func (sc *SessionController) entry(c *gin.Context, enter enterFunc, code int, message string) {
	tableID, ok := paramID(c, "table_id")
	if !ok {
		return
	}
	var body entryRequest
	// The body is optional.
	if c.Request.ContentLength > 0 && !bindJSON(c, &body) {
		return
	}

	res, err := enter(c.Request.Context(), tableID, middlewares.CallerOrNil(c), body.Nickname)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, code, message, res)
}

// Current -> GET /sessions/current
func (sc *SessionController) Current(c *gin.Context) {
	session, err := sc.Sessions.Current(c.Request.Context(), middlewares.TenantFrom(c), caller(c))
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Current table session", session)
}

// Close -> POST /sessions/:session_id/close
func (sc *SessionController) Close(c *gin.Context) {
	id, ok := paramID(c, "session_id")
	if !ok {
		return
	}

	session, err := sc.Sessions.Close(c.Request.Context(), middlewares.TenantFrom(c), caller(c), id)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "Table session closed", session)
}

type inviteRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// Invite -> POST /sessions/:session_id/invite
func (sc *SessionController) Invite(c *gin.Context) {
	id, ok := paramID(c, "session_id")
	if !ok {
		return
	}
	var body inviteRequest
	if !bindJSON(c, &body) {
		return
	}

	if err := sc.Sessions.Invite(c.Request.Context(), middlewares.TenantFrom(c), caller(c), id, body.Email); err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusAccepted, "Invitation queued", nil)
}

// List -> GET /sessions?host=&participant=&table=&from=&to=&open=
func (sc *SessionController) List(c *gin.Context) {
	var f services.SessionFilter
	var ok bool
	if f.HostParticipantID, ok = queryID(c, "host"); !ok {
		return
	}
	if f.ParticipantID, ok = queryID(c, "participant"); !ok {
		return
	}
	if f.TableID, ok = queryID(c, "table"); !ok {
		return
	}
	if f.From, ok = queryTime(c, "from"); !ok {
		return
	}
	if f.To, ok = queryTime(c, "to"); !ok {
		return
	}
	f.OpenOnly = c.Query("open") == "true"

	sessions, err := sc.Sessions.Find(c.Request.Context(), middlewares.TenantFrom(c), f)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of table sessions", sessions)
}
