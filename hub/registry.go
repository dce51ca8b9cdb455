// Package hub fans table session events out to live subscribers.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/dinein/apperr"
	"github.com/yeremiapane/dinein/utils"
)

// Options bounds the registry.
type Options struct {
	MaxSubscribers int
	IdleTimeout    time.Duration
	HardTimeout    time.Duration
	SweepInterval  time.Duration
	SendBuffer     int
}

// DefaultOptions returns the limits used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxSubscribers: 32,
		IdleTimeout:    90 * time.Second,
		HardTimeout:    4 * time.Hour,
		SweepInterval:  30 * time.Second,
		SendBuffer:     64,
	}
}

// Registry maps table session ids to their live connections. It is safe for
// concurrent Subscribe, Unsubscribe, Publish and Sweep.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint]map[string]*Conn
	opts     Options
	now      func() time.Time
}

func NewRegistry(opts Options) *Registry {
	def := DefaultOptions()
	if opts.MaxSubscribers <= 0 {
		opts.MaxSubscribers = def.MaxSubscribers
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = def.IdleTimeout
	}
	if opts.HardTimeout <= 0 {
		opts.HardTimeout = def.HardTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = def.SweepInterval
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = def.SendBuffer
	}
	return &Registry{
		sessions: make(map[uint]map[string]*Conn),
		opts:     opts,
		now:      time.Now,
	}
}

// SetClock replaces the time source; used by tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *Registry) Options() Options {
	return r.opts
}

// Subscribe registers a connection for a table session and queues the
// connection acknowledgement.
func (r *Registry) Subscribe(tableSessionID uint, subject string) (*Conn, error) {
	r.mu.Lock()
	conns := r.sessions[tableSessionID]
	if len(conns) >= r.opts.MaxSubscribers {
		r.mu.Unlock()
		return nil, apperr.ErrTooManySubscribers.New(tableSessionID,
			"table session already has %d subscribers", len(conns))
	}
	if conns == nil {
		conns = make(map[string]*Conn)
		r.sessions[tableSessionID] = conns
	}
	now := r.now()
	c := newConn(uuid.NewString(), tableSessionID, subject, r.opts.SendBuffer, now)
	conns[c.ID] = c
	count := len(conns)
	r.mu.Unlock()

	c.offer(Message{
		Event:          EventConnectionAck,
		TableSessionID: tableSessionID,
		Data:           map[string]interface{}{"connection_id": c.ID, "subscribers": count},
		SentAt:         now,
	})

	utils.InfoLogger.WithFields(logrus.Fields{
		"table_session_id": tableSessionID,
		"connection_id":    c.ID,
		"subscribers":      count,
	}).Debug("subscriber joined")
	return c, nil
}

// Unsubscribe removes c. It is a no-op for a connection already removed.
func (r *Registry) Unsubscribe(c *Conn) {
	r.remove(c)
}

// Publish queues an event on every connection of the table session. A full
// buffer marks the connection dead and it is removed; other connections are
// unaffected.
func (r *Registry) Publish(tableSessionID uint, event string, payload interface{}) {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.sessions[tableSessionID]))
	for _, c := range r.sessions[tableSessionID] {
		conns = append(conns, c)
	}
	now := r.now()
	r.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	msg := Message{Event: event, TableSessionID: tableSessionID, Data: payload, SentAt: now}
	var dead []*Conn
	for _, c := range conns {
		if !c.offer(msg) {
			dead = append(dead, c)
		}
	}
	for _, c := range dead {
		utils.InfoLogger.WithFields(logrus.Fields{
			"table_session_id": tableSessionID,
			"connection_id":    c.ID,
			"event":            event,
		}).Warn("dropping subscriber with a full buffer")
		r.remove(c)
	}
}

// Sweep evicts idle and expired connections, drops sessions left without
// connections and sends a keep-alive to the survivors. It returns the
// number of evicted connections.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	now := r.now()
	var evicted []*Conn
	var alive []*Conn
	for sessionID, conns := range r.sessions {
		for id, c := range conns {
			if now.Sub(c.LastActivity()) > r.opts.IdleTimeout || now.Sub(c.ConnectedAt) > r.opts.HardTimeout {
				delete(conns, id)
				evicted = append(evicted, c)
				continue
			}
			alive = append(alive, c)
		}
		if len(conns) == 0 {
			delete(r.sessions, sessionID)
		}
	}
	r.mu.Unlock()

	for _, c := range evicted {
		c.close()
	}

	for _, c := range alive {
		ok := c.offer(Message{Event: EventKeepAlive, TableSessionID: c.TableSessionID, SentAt: now})
		if !ok {
			r.remove(c)
			evicted = append(evicted, c)
		}
	}

	if len(evicted) > 0 {
		utils.InfoLogger.WithField("evicted", len(evicted)).Info("subscriber sweep")
	}
	return len(evicted)
}

// Run sweeps on the configured interval until ctx is done.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return
		case <-ticker.C:
			r.sweepSafely()
		}
	}
}

func (r *Registry) sweepSafely() {
	defer func() {
		if rec := recover(); rec != nil {
			utils.ErrorLogger.Errorf("subscriber sweep panicked: %v", rec)
		}
	}()
	r.Sweep()
}

// Count returns the number of live connections of a table session.
func (r *Registry) Count(tableSessionID uint) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[tableSessionID])
}

// Sessions returns the number of table sessions with at least one connection.
func (r *Registry) Sessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) remove(c *Conn) {
	r.mu.Lock()
	if conns, ok := r.sessions[c.TableSessionID]; ok {
		if _, ok := conns[c.ID]; ok {
			delete(conns, c.ID)
			if len(conns) == 0 {
				delete(r.sessions, c.TableSessionID)
			}
		}
	}
	r.mu.Unlock()
	c.close()
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[uint]map[string]*Conn)
	r.mu.Unlock()

	for _, conns := range sessions {
		for _, c := range conns {
			c.close()
		}
	}
}
