package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/dinein/auth"
	"github.com/yeremiapane/dinein/models"
	"github.com/yeremiapane/dinein/services"
	"github.com/yeremiapane/dinein/tenant"
	"github.com/yeremiapane/dinein/testutil"
)

type published struct {
	Session uint
	Event   string
}

type recorder struct {
	mu     sync.Mutex
	events []published
}

func (r *recorder) Publish(sessionID uint, event string, _ interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{Session: sessionID, Event: event})
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type mail struct {
	To    string
	Title string
}

type mailbox struct {
	mu   sync.Mutex
	sent []mail
}

func (m *mailbox) Notify(_ context.Context, _ *uint, to, title, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail{To: to, Title: title})
}

type fixture struct {
	db          *gorm.DB
	events      *recorder
	mail        *mailbox
	issuer      *auth.Issuer
	sessions    *services.SessionService
	orders      *services.OrderService
	payments    *services.PaymentService
	employments *services.EmploymentService
	venue       models.Venue
	table       models.Table
	tc          tenant.Context
	ctx         context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	events := &recorder{}
	box := &mailbox{}
	issuer := auth.NewIssuer(
		auth.NewTokenService("test-secret", time.Hour),
		auth.NewRefreshStore(db, time.Hour, 30*time.Second),
	)
	venue := testutil.Venue(t, db, "Warung")

	return &fixture{
		db:          db,
		events:      events,
		mail:        box,
		issuer:      issuer,
		sessions:    services.NewSessionService(db, issuer, events, box, "http://dinein.test"),
		orders:      services.NewOrderService(db, services.NewCatalog(), events),
		payments:    services.NewPaymentService(db, events),
		employments: services.NewEmploymentService(db, box),
		venue:       venue,
		table:       testutil.Table(t, db, venue.ID, "T1"),
		tc:          tenant.Context{VenueID: venue.ID},
		ctx:         context.Background(),
	}
}

// scope decodes the capability handed back by Enter or Join.
func (f *fixture) scope(t *testing.T, res *services.EnterResult) auth.SessionContext {
	t.Helper()
	sc, err := f.issuer.Tokens.Verify(res.Credentials.AccessToken)
	require.NoError(t, err)
	return sc
}

// seat opens a session at the fixture table and returns the host's scope.
func (f *fixture) seat(t *testing.T) (*services.EnterResult, auth.SessionContext) {
	t.Helper()
	res, err := f.sessions.Enter(f.ctx, f.table.ID, nil, "Host")
	require.NoError(t, err)
	return res, f.scope(t, res)
}

// join adds a guest to the open session at the fixture table.
func (f *fixture) join(t *testing.T, nickname string) auth.SessionContext {
	t.Helper()
	res, err := f.sessions.JoinTable(f.ctx, f.table.ID, nil, nickname)
	require.NoError(t, err)
	return f.scope(t, res)
}

func (f *fixture) staff(role string) auth.SessionContext {
	return testutil.Staff(f.venue.ID, role)
}

func (f *fixture) order(t *testing.T, sc auth.SessionContext, lines ...services.OrderLine) *models.Order {
	t.Helper()
	o, err := f.orders.CreateOrder(f.ctx, f.tc, sc, lines)
	require.NoError(t, err)
	return o
}

func (f *fixture) reload(t *testing.T, orderID uint) models.Order {
	t.Helper()
	var o models.Order
	require.NoError(t, f.db.Preload("Details").First(&o, orderID).Error)
	return o
}

func line(productID uint, qty int) services.OrderLine {
	return services.OrderLine{ProductID: productID, Quantity: qty}
}

func tenantOf(v models.Venue) tenant.Context {
	return tenant.Context{VenueID: v.ID}
}
