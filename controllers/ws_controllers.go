package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/hub"
	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/utils"
)

type WSController struct {
	Registry *hub.Registry
	Sessions *services.SessionService
	upgrader websocket.Upgrader
}

// NewWSController accepts upgrades from the given origins; "*" accepts any.
func NewWSController(registry *hub.Registry, sessions *services.SessionService, origins []string) *WSController {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &WSController{
		Registry: registry,
		Sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed["*"] || allowed[origin]
			},
		},
	}
}

// Subscribe -> GET /ws?token=...
// Streams the events of the table session named in the credential.
func (wc *WSController) Subscribe(c *gin.Context) {
	sc := caller(c)
	if !sc.HasTableSession() {
		utils.RespondServiceError(c, apperr.ErrMissingSessionContext)
		return
	}
	sessionID := *sc.TableSessionID
	if err := wc.Sessions.IsOpen(c.Request.Context(), sessionID); err != nil {
		utils.RespondServiceError(c, err)
		return
	}

	conn, err := wc.Registry.Subscribe(sessionID, sc.Subject)
	if err != nil {
		utils.RespondServiceError(c, err)
		return
	}

	ws, err := wc.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		wc.Registry.Unsubscribe(conn)
		utils.ErrorLogger.WithFields(logrus.Fields{
			"table_session_id": sessionID,
			"subject":          sc.Subject,
		}).Warnf("websocket upgrade failed: %v", err)
		return
	}

	wc.Registry.Pump(ws, conn)
}
