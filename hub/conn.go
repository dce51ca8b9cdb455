package hub

import (
	"sync"
	"sync/atomic"
	"time"
)

// Conn is one subscriber of a table session. The registry owns it: only the
// registry removes a Conn, and removal closes Done.
type Conn struct {
	ID             string
	TableSessionID uint
	Subject        string
	ConnectedAt    time.Time

	send         chan Message
	done         chan struct{}
	closeOnce    sync.Once
	lastActivity atomic.Int64
}

func newConn(id string, sessionID uint, subject string, buffer int, now time.Time) *Conn {
	c := &Conn{
		ID:             id,
		TableSessionID: sessionID,
		Subject:        subject,
		ConnectedAt:    now,
		send:           make(chan Message, buffer),
		done:           make(chan struct{}),
	}
	c.Touch(now)
	return c
}

// Messages is the outbound queue drained by the transport.
func (c *Conn) Messages() <-chan Message {
	return c.send
}

// Done is closed once the registry has dropped the connection.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Touch records activity seen on the transport (a completed write or a pong).
func (c *Conn) Touch(t time.Time) {
	c.lastActivity.Store(t.UnixNano())
}

func (c *Conn) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// offer queues msg without blocking. It reports false when the buffer is
// full or the connection is already closed.
func (c *Conn) offer(msg Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
