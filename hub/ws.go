package hub

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/dinein/utils"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 4096
)

// Pump moves messages between the websocket and c until either side ends.
// It blocks until the connection is closed.
func (r *Registry) Pump(ws *websocket.Conn, c *Conn) {
	go r.writePump(ws, c)
	r.readPump(ws, c)
}

// readPump only consumes control frames and client chatter; clients never
// publish through the socket.
func (r *Registry) readPump(ws *websocket.Conn, c *Conn) {
	defer func() {
		r.Unsubscribe(c)
		_ = ws.Close()
	}()

	ws.SetReadLimit(readLimit)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		c.Touch(time.Now())
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.InfoLogger.WithFields(logrus.Fields{
					"connection_id": c.ID,
					"error":         err,
				}).Debug("websocket read ended")
			}
			return
		}
		c.Touch(time.Now())
	}
}

func (r *Registry) writePump(ws *websocket.Conn, c *Conn) {
	ping := time.NewTicker(pingInterval)
	hard := time.NewTimer(time.Until(c.ConnectedAt.Add(r.opts.HardTimeout)))
	defer func() {
		ping.Stop()
		hard.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case msg := <-c.Messages():
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(msg); err != nil {
				r.Unsubscribe(c)
				return
			}
			c.Touch(time.Now())
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				r.Unsubscribe(c)
				return
			}
		case <-hard.C:
			r.Unsubscribe(c)
			r.writeClose(ws, "connection lifetime reached")
			return
		case <-c.Done():
			r.writeClose(ws, "")
			return
		}
	}
}

func (r *Registry) writeClose(ws *websocket.Conn, reason string) {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
}
